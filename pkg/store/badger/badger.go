package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/umbra-labs/shieldpool-go/pkg/store"
	"github.com/umbra-labs/shieldpool-go/pkg/types"
)

// Key prefixes for namespacing. Leaf keys embed the asset id and index
// as big-endian words so badger's key order is the log order.
const (
	keyPrefixLeaf        = "leaf:"
	keyPrefixLeafCount   = "leafcount:"
	keyPrefixNullifier   = "nullifier:"
	keyPrefixAsset       = "asset:"
	keyVerifyingKey      = "metadata:verifying_key"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerStore is a production-ready store implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees; every
// append lands with an fsync before the call returns.
type BadgerStore struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerStore creates a new Badger-backed store.
// The database is opened at the specified path with SyncWrites enabled
// for durability. A background goroutine is started for garbage
// collection.
func NewBadgerStore(dataPath string, logger *zap.Logger) (*BadgerStore, error) {
	// Convert to absolute path
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	// Configure Badger for production use
	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true // Ensure durability (fsync on every write)
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1 // We don't need versioning within Badger

	// Open database
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bs := &BadgerStore{
		db:     db,
		logger: logger,
	}

	// Initialize schema version
	if err := bs.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Start background GC
	ctx, cancel := context.WithCancel(context.Background())
	bs.gcCancel = cancel
	bs.gcWg.Add(1)
	go bs.runGC(ctx)

	logger.Sugar().Infow("Badger store initialized", "path", absPath)

	return bs, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerStore) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			// First time setup - set schema version
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		// Validate existing schema version
		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerStore) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Run value log GC with 0.5 discard ratio
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// leafKey builds the key for one leaf record
func leafKey(assetID types.AssetID, index uint32) []byte {
	key := make([]byte, 0, len(keyPrefixLeaf)+8)
	key = append(key, keyPrefixLeaf...)
	key = binary.BigEndian.AppendUint32(key, uint32(assetID))
	key = binary.BigEndian.AppendUint32(key, index)
	return key
}

// leafPrefix builds the iteration prefix for one asset's leaf log
func leafPrefix(assetID types.AssetID) []byte {
	key := make([]byte, 0, len(keyPrefixLeaf)+4)
	key = append(key, keyPrefixLeaf...)
	key = binary.BigEndian.AppendUint32(key, uint32(assetID))
	return key
}

// leafCountKey builds the key for one asset's leaf counter
func leafCountKey(assetID types.AssetID) []byte {
	key := make([]byte, 0, len(keyPrefixLeafCount)+4)
	key = append(key, keyPrefixLeafCount...)
	key = binary.BigEndian.AppendUint32(key, uint32(assetID))
	return key
}

// nullifierKey builds the key for one spent-nullifier record
func nullifierKey(assetID types.AssetID, nullifierHash types.Nullifier) []byte {
	key := make([]byte, 0, len(keyPrefixNullifier)+4+32)
	key = append(key, keyPrefixNullifier...)
	key = binary.BigEndian.AppendUint32(key, uint32(assetID))
	key = append(key, nullifierHash[:]...)
	return key
}

// nullifierPrefix builds the iteration prefix for one asset's spent set
func nullifierPrefix(assetID types.AssetID) []byte {
	key := make([]byte, 0, len(keyPrefixNullifier)+4)
	key = append(key, keyPrefixNullifier...)
	key = binary.BigEndian.AppendUint32(key, uint32(assetID))
	return key
}

// assetKey builds the key for one asset definition
func assetKey(assetID types.AssetID) []byte {
	key := make([]byte, 0, len(keyPrefixAsset)+4)
	key = append(key, keyPrefixAsset...)
	key = binary.BigEndian.AppendUint32(key, uint32(assetID))
	return key
}

// readLeafCount reads an asset's leaf counter inside a transaction
func readLeafCount(txn *badgerdb.Txn, assetID types.AssetID) (uint32, error) {
	item, err := txn.Get(leafCountKey(assetID))
	if err == badgerdb.ErrKeyNotFound {
		return 0, nil // No leaves yet
	}
	if err != nil {
		return 0, err
	}

	var count uint32
	err = item.Value(func(val []byte) error {
		if len(val) != 4 {
			return fmt.Errorf("invalid leaf count data length: %d", len(val))
		}
		count = binary.BigEndian.Uint32(val)
		return nil
	})
	return count, err
}

// AppendLeaf persists a leaf record and advances the counter in one
// transaction
func (b *BadgerStore) AppendLeaf(leaf *store.LeafRecord) error {
	if leaf == nil {
		return fmt.Errorf("cannot append nil LeafRecord")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return store.ErrClosed
	}

	// Serialize to JSON
	data, err := store.MarshalLeafRecord(leaf)
	if err != nil {
		return fmt.Errorf("failed to marshal LeafRecord: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		count, err := readLeafCount(txn, leaf.AssetID)
		if err != nil {
			return fmt.Errorf("failed to read leaf count: %w", err)
		}
		if leaf.Index != count {
			return errors.Wrapf(store.ErrLeafIndexConflict, "asset %d: got index %d, next is %d", leaf.AssetID, leaf.Index, count)
		}

		if err := txn.Set(leafKey(leaf.AssetID, leaf.Index), data); err != nil {
			return fmt.Errorf("failed to write leaf record: %w", err)
		}

		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, count+1)
		return txn.Set(leafCountKey(leaf.AssetID), buf)
	})
}

// Leaves returns all leaf records for an asset in index order
func (b *BadgerStore) Leaves(assetID types.AssetID) ([]*store.LeafRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, store.ErrClosed
	}

	result := []*store.LeafRecord{}

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = leafPrefix(assetID)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Big-endian index keys make badger's key order the log order
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var data []byte
			err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...) // Copy value
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			// A leaf record that fails to decode poisons replay, so it
			// is an error rather than a skip
			leaf, err := store.UnmarshalLeafRecord(data)
			if err != nil {
				return fmt.Errorf("corrupt leaf record at key %x: %w", item.Key(), err)
			}

			result = append(result, leaf)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list leaf records: %w", err)
	}

	return result, nil
}

// LeafCount returns the number of leaves recorded for an asset
func (b *BadgerStore) LeafCount(assetID types.AssetID) (uint32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, store.ErrClosed
	}

	var count uint32
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		count, err = readLeafCount(txn, assetID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read leaf count: %w", err)
	}

	return count, nil
}

// PutNullifier persists a spent-nullifier record exactly once
func (b *BadgerStore) PutNullifier(rec *store.NullifierRecord) error {
	if rec == nil {
		return fmt.Errorf("cannot put nil NullifierRecord")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return store.ErrClosed
	}

	// Serialize to JSON
	data, err := store.MarshalNullifierRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal NullifierRecord: %w", err)
	}

	key := nullifierKey(rec.AssetID, rec.NullifierHash)

	return b.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return errors.Wrapf(store.ErrNullifierExists, "asset %d: nullifier %s", rec.AssetID, rec.NullifierHash.Hex())
		}
		if err != badgerdb.ErrKeyNotFound {
			return fmt.Errorf("failed to check nullifier: %w", err)
		}

		return txn.Set(key, data)
	})
}

// HasNullifier reports whether a nullifier hash is recorded for an asset
func (b *BadgerStore) HasNullifier(assetID types.AssetID, nullifierHash types.Nullifier) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, store.ErrClosed
	}

	var found bool
	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(nullifierKey(assetID, nullifierHash))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check nullifier: %w", err)
	}

	return found, nil
}

// Nullifiers returns all spent records for an asset
func (b *BadgerStore) Nullifiers(assetID types.AssetID) ([]*store.NullifierRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, store.ErrClosed
	}

	result := []*store.NullifierRecord{}

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = nullifierPrefix(assetID)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var data []byte
			err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...) // Copy value
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			// The spent set guards against double-spends, so a corrupt
			// record is an error rather than a skip
			rec, err := store.UnmarshalNullifierRecord(data)
			if err != nil {
				return fmt.Errorf("corrupt nullifier record at key %x: %w", item.Key(), err)
			}

			result = append(result, rec)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list nullifier records: %w", err)
	}

	return result, nil
}

// PutVerifyingKey installs the verifying key exactly once
func (b *BadgerStore) PutVerifyingKey(vk []byte) error {
	if len(vk) == 0 {
		return fmt.Errorf("cannot install empty verifying key")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return store.ErrClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keyVerifyingKey))
		if err == nil {
			return store.ErrVerifyingKeyExists
		}
		if err != badgerdb.ErrKeyNotFound {
			return fmt.Errorf("failed to check verifying key: %w", err)
		}

		return txn.Set([]byte(keyVerifyingKey), vk)
	})
}

// VerifyingKey returns the installed key bytes, or nil if none
func (b *BadgerStore) VerifyingKey() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, store.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyVerifyingKey))
		if err == badgerdb.ErrKeyNotFound {
			return nil // Not installed is not an error
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...) // Copy value
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load verifying key: %w", err)
	}

	return data, nil
}

// PutAsset inserts or replaces an asset definition
func (b *BadgerStore) PutAsset(asset *types.RegisteredAsset) error {
	if asset == nil {
		return fmt.Errorf("cannot put nil RegisteredAsset")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return store.ErrClosed
	}

	// Serialize to JSON
	data, err := store.MarshalAsset(asset)
	if err != nil {
		return fmt.Errorf("failed to marshal RegisteredAsset: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(assetKey(asset.ID), data)
	})
}

// Assets returns all persisted asset definitions sorted by id
func (b *BadgerStore) Assets() ([]*types.RegisteredAsset, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, store.ErrClosed
	}

	result := []*types.RegisteredAsset{}

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixAsset)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var data []byte
			err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...) // Copy value
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			asset, err := store.UnmarshalAsset(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal RegisteredAsset, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}

			result = append(result, asset)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	// Sort by id (ascending)
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Close shuts down the store
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	// Stop GC goroutine
	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	// Close database
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger store closed")
	return nil
}

// HealthCheck verifies the store is operational
func (b *BadgerStore) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return store.ErrClosed
	}

	// Try a simple read operation to verify database is accessible
	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
