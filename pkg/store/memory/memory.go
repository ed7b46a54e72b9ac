package memory

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/umbra-labs/shieldpool-go/pkg/store"
	"github.com/umbra-labs/shieldpool-go/pkg/types"
)

// MemoryStore is an in-memory implementation of IPoolStore.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryStore struct {
	mu sync.RWMutex

	// Commitment logs: assetID -> leaf records in index order
	leaves map[types.AssetID][]*store.LeafRecord

	// Spent sets: assetID -> nullifier hash -> record
	nullifiers map[types.AssetID]map[types.Nullifier]*store.NullifierRecord

	// Verifying key bytes, nil until installed
	vk []byte

	// Asset catalog: assetID -> definition
	assets map[types.AssetID]*types.RegisteredAsset

	// Closed flag
	closed bool
}

// NewMemoryStore creates a new in-memory store.
// Prints a loud warning since this should only be used for testing.
func NewMemoryStore() *MemoryStore {
	fmt.Println("⚠️  WARNING: Using in-memory store - ALL POOL STATE WILL BE LOST ON RESTART")
	fmt.Println("⚠️  This should ONLY be used for testing. Set SHIELDPOOL_STORE_BACKEND=badger for production")

	return &MemoryStore{
		leaves:     make(map[types.AssetID][]*store.LeafRecord),
		nullifiers: make(map[types.AssetID]map[types.Nullifier]*store.NullifierRecord),
		assets:     make(map[types.AssetID]*types.RegisteredAsset),
	}
}

// AppendLeaf persists a leaf record at the next dense index.
func (m *MemoryStore) AppendLeaf(leaf *store.LeafRecord) error {
	if leaf == nil {
		return fmt.Errorf("cannot append nil LeafRecord")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return store.ErrClosed
	}

	log := m.leaves[leaf.AssetID]
	if leaf.Index != uint32(len(log)) {
		return errors.Wrapf(store.ErrLeafIndexConflict, "asset %d: got index %d, next is %d", leaf.AssetID, leaf.Index, len(log))
	}

	cp := *leaf
	m.leaves[leaf.AssetID] = append(log, &cp)
	return nil
}

// Leaves returns all leaf records for an asset in index order.
func (m *MemoryStore) Leaves(assetID types.AssetID) ([]*store.LeafRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, store.ErrClosed
	}

	log := m.leaves[assetID]
	result := make([]*store.LeafRecord, 0, len(log))
	for _, leaf := range log {
		cp := *leaf
		result = append(result, &cp)
	}
	return result, nil
}

// LeafCount returns the number of leaves recorded for an asset.
func (m *MemoryStore) LeafCount(assetID types.AssetID) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, store.ErrClosed
	}

	return uint32(len(m.leaves[assetID])), nil
}

// PutNullifier persists a spent-nullifier record.
func (m *MemoryStore) PutNullifier(rec *store.NullifierRecord) error {
	if rec == nil {
		return fmt.Errorf("cannot put nil NullifierRecord")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return store.ErrClosed
	}

	set, ok := m.nullifiers[rec.AssetID]
	if !ok {
		set = make(map[types.Nullifier]*store.NullifierRecord)
		m.nullifiers[rec.AssetID] = set
	}

	if _, exists := set[rec.NullifierHash]; exists {
		return errors.Wrapf(store.ErrNullifierExists, "asset %d: nullifier %s", rec.AssetID, rec.NullifierHash.Hex())
	}

	cp := *rec
	set[rec.NullifierHash] = &cp
	return nil
}

// HasNullifier reports whether a nullifier hash is recorded for an asset.
func (m *MemoryStore) HasNullifier(assetID types.AssetID, nullifierHash types.Nullifier) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, store.ErrClosed
	}

	_, ok := m.nullifiers[assetID][nullifierHash]
	return ok, nil
}

// Nullifiers returns all spent records for an asset.
func (m *MemoryStore) Nullifiers(assetID types.AssetID) ([]*store.NullifierRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, store.ErrClosed
	}

	set := m.nullifiers[assetID]
	result := make([]*store.NullifierRecord, 0, len(set))
	for _, rec := range set {
		cp := *rec
		result = append(result, &cp)
	}
	return result, nil
}

// PutVerifyingKey installs the verifying key exactly once.
func (m *MemoryStore) PutVerifyingKey(vk []byte) error {
	if len(vk) == 0 {
		return fmt.Errorf("cannot install empty verifying key")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return store.ErrClosed
	}

	if m.vk != nil {
		return store.ErrVerifyingKeyExists
	}

	m.vk = append([]byte{}, vk...)
	return nil
}

// VerifyingKey returns the installed key bytes, or nil if none.
func (m *MemoryStore) VerifyingKey() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, store.ErrClosed
	}

	if m.vk == nil {
		return nil, nil // Not installed is not an error
	}
	return append([]byte{}, m.vk...), nil
}

// PutAsset inserts or replaces an asset definition.
func (m *MemoryStore) PutAsset(asset *types.RegisteredAsset) error {
	if asset == nil {
		return fmt.Errorf("cannot put nil RegisteredAsset")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return store.ErrClosed
	}

	m.assets[asset.ID] = copyAsset(asset)
	return nil
}

// Assets returns all persisted asset definitions sorted by id.
func (m *MemoryStore) Assets() ([]*types.RegisteredAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, store.ErrClosed
	}

	result := make([]*types.RegisteredAsset, 0, len(m.assets))
	for _, asset := range m.assets {
		result = append(result, copyAsset(asset))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Close shuts down the store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the store is operational.
func (m *MemoryStore) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return store.ErrClosed
	}

	return nil
}

// copyAsset deep copies an asset definition
func copyAsset(a *types.RegisteredAsset) *types.RegisteredAsset {
	cp := *a
	if a.Denomination != nil {
		d := hexutil.Big(*new(big.Int).Set((*big.Int)(a.Denomination)))
		cp.Denomination = &d
	}
	return &cp
}
