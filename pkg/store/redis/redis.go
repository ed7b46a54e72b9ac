package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/umbra-labs/shieldpool-go/pkg/store"
	"github.com/umbra-labs/shieldpool-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixLeafList    = "shieldpool:leaves:"
	keyPrefixNullifier   = "shieldpool:nullifier:"
	keyPrefixAsset       = "shieldpool:asset:"
	keyVerifyingKey      = "shieldpool:metadata:verifying_key"
	keySchemaVersion     = "shieldpool:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Key sets for listing operations (Redis doesn't support prefix iteration natively)
	keySetNullifiers = "shieldpool:nullifiers:index:"
	keySetAssets     = "shieldpool:assets:index"
)

// RedisStore is a production-ready store implementation using Redis.
// Provides durable, distributed storage suitable for cloud-native
// deployments. The leaf log is a Redis list per asset, which keeps the
// log order without extra bookkeeping.
type RedisStore struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant setups).
	// If set, this prefix is prepended to all keys, e.g., "myapp:" would result in
	// keys like "myapp:shieldpool:leaves:1". If empty, keys use the default
	// "shieldpool:" prefix.
	KeyPrefix string
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	// Create Redis client options
	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	// Create Redis client
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rs := &RedisStore{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	// Initialize schema version
	if err := rs.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.KeyPrefix != "" {
		logger.Sugar().Infow("Redis store initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	} else {
		logger.Sugar().Infow("Redis store initialized", "address", cfg.Address, "db", cfg.DB)
	}

	return rs, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisStore) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

// leafListKey builds the list key holding one asset's leaf log
func (r *RedisStore) leafListKey(assetID types.AssetID) string {
	return r.prefixKey(fmt.Sprintf("%s%d", keyPrefixLeafList, assetID))
}

// nullifierRecordKey builds the key for one spent-nullifier record
func (r *RedisStore) nullifierRecordKey(assetID types.AssetID, nullifierHash types.Nullifier) string {
	return r.prefixKey(fmt.Sprintf("%s%d:%s", keyPrefixNullifier, assetID, nullifierHash.Hex()))
}

// nullifierIndexKey builds the index set key for one asset's spent set
func (r *RedisStore) nullifierIndexKey(assetID types.AssetID) string {
	return r.prefixKey(fmt.Sprintf("%s%d", keySetNullifiers, assetID))
}

// initSchema initializes or validates the schema version
func (r *RedisStore) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	// Check if schema version exists
	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		// First time setup - set schema version
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	// Validate existing schema version
	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// AppendLeaf persists a leaf record at the tail of the asset's log.
// The watch transaction enforces the dense-index contract even if a
// second writer appends concurrently.
func (r *RedisStore) AppendLeaf(leaf *store.LeafRecord) error {
	if leaf == nil {
		return fmt.Errorf("cannot append nil LeafRecord")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return store.ErrClosed
	}

	ctx := context.Background()

	// Serialize to JSON
	data, err := store.MarshalLeafRecord(leaf)
	if err != nil {
		return fmt.Errorf("failed to marshal LeafRecord: %w", err)
	}

	listKey := r.leafListKey(leaf.AssetID)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		length, err := tx.LLen(ctx, listKey).Result()
		if err != nil {
			return err
		}
		if leaf.Index != uint32(length) {
			return errors.Wrapf(store.ErrLeafIndexConflict, "asset %d: got index %d, next is %d", leaf.AssetID, leaf.Index, length)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, listKey, data)
			return nil
		})
		return err
	}, listKey)

	if err != nil {
		if errors.Is(err, store.ErrLeafIndexConflict) {
			return err
		}
		return fmt.Errorf("failed to append leaf record: %w", err)
	}

	return nil
}

// Leaves returns all leaf records for an asset in index order
func (r *RedisStore) Leaves(assetID types.AssetID) ([]*store.LeafRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, store.ErrClosed
	}

	ctx := context.Background()

	values, err := r.client.LRange(ctx, r.leafListKey(assetID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaf log: %w", err)
	}

	result := make([]*store.LeafRecord, 0, len(values))
	for i, val := range values {
		// A leaf record that fails to decode poisons replay, so it is
		// an error rather than a skip
		leaf, err := store.UnmarshalLeafRecord([]byte(val))
		if err != nil {
			return nil, fmt.Errorf("corrupt leaf record at position %d: %w", i, err)
		}
		result = append(result, leaf)
	}

	return result, nil
}

// LeafCount returns the number of leaves recorded for an asset
func (r *RedisStore) LeafCount(assetID types.AssetID) (uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, store.ErrClosed
	}

	ctx := context.Background()

	length, err := r.client.LLen(ctx, r.leafListKey(assetID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read leaf count: %w", err)
	}

	return uint32(length), nil
}

// PutNullifier persists a spent-nullifier record exactly once
func (r *RedisStore) PutNullifier(rec *store.NullifierRecord) error {
	if rec == nil {
		return fmt.Errorf("cannot put nil NullifierRecord")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return store.ErrClosed
	}

	ctx := context.Background()

	// Serialize to JSON
	data, err := store.MarshalNullifierRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal NullifierRecord: %w", err)
	}

	key := r.nullifierRecordKey(rec.AssetID, rec.NullifierHash)
	indexKey := r.nullifierIndexKey(rec.AssetID)

	// SETNX is the insert-once gate; the index set add is idempotent
	var setNX *redis.BoolCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setNX = pipe.SetNX(ctx, key, data, 0)
		pipe.SAdd(ctx, indexKey, rec.NullifierHash.Hex())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save NullifierRecord: %w", err)
	}

	if !setNX.Val() {
		return errors.Wrapf(store.ErrNullifierExists, "asset %d: nullifier %s", rec.AssetID, rec.NullifierHash.Hex())
	}

	return nil
}

// HasNullifier reports whether a nullifier hash is recorded for an asset
func (r *RedisStore) HasNullifier(assetID types.AssetID, nullifierHash types.Nullifier) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false, store.ErrClosed
	}

	ctx := context.Background()

	n, err := r.client.Exists(ctx, r.nullifierRecordKey(assetID, nullifierHash)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check nullifier: %w", err)
	}

	return n > 0, nil
}

// Nullifiers returns all spent records for an asset
func (r *RedisStore) Nullifiers(assetID types.AssetID) ([]*store.NullifierRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, store.ErrClosed
	}

	ctx := context.Background()
	indexKey := r.nullifierIndexKey(assetID)

	// Get all nullifier hashes from the index set
	hashes, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list nullifier hashes: %w", err)
	}

	if len(hashes) == 0 {
		return []*store.NullifierRecord{}, nil
	}

	// Build keys for all records
	keys := make([]string, len(hashes))
	for i, hash := range hashes {
		keys[i] = r.prefixKey(fmt.Sprintf("%s%d:%s", keyPrefixNullifier, assetID, hash))
	}

	// Fetch all values using MGET
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch NullifierRecords: %w", err)
	}

	// Parse all records
	result := make([]*store.NullifierRecord, 0, len(values))
	for i, val := range values {
		if val == nil {
			// Key was in index but doesn't exist - clean up index
			r.client.SRem(ctx, indexKey, hashes[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for NullifierRecord", "key", keys[i])
			continue
		}

		// The spent set guards against double-spends, so a corrupt
		// record is an error rather than a skip
		rec, err := store.UnmarshalNullifierRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("corrupt nullifier record at key %s: %w", keys[i], err)
		}

		result = append(result, rec)
	}

	return result, nil
}

// PutVerifyingKey installs the verifying key exactly once
func (r *RedisStore) PutVerifyingKey(vk []byte) error {
	if len(vk) == 0 {
		return fmt.Errorf("cannot install empty verifying key")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return store.ErrClosed
	}

	ctx := context.Background()

	ok, err := r.client.SetNX(ctx, r.prefixKey(keyVerifyingKey), vk, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to install verifying key: %w", err)
	}
	if !ok {
		return store.ErrVerifyingKeyExists
	}

	return nil
}

// VerifyingKey returns the installed key bytes, or nil if none
func (r *RedisStore) VerifyingKey() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, store.ErrClosed
	}

	ctx := context.Background()

	data, err := r.client.Get(ctx, r.prefixKey(keyVerifyingKey)).Bytes()
	if err == redis.Nil {
		return nil, nil // Not installed is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load verifying key: %w", err)
	}

	return data, nil
}

// PutAsset inserts or replaces an asset definition
func (r *RedisStore) PutAsset(asset *types.RegisteredAsset) error {
	if asset == nil {
		return fmt.Errorf("cannot put nil RegisteredAsset")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return store.ErrClosed
	}

	ctx := context.Background()

	// Serialize to JSON
	data, err := store.MarshalAsset(asset)
	if err != nil {
		return fmt.Errorf("failed to marshal RegisteredAsset: %w", err)
	}

	key := r.prefixKey(fmt.Sprintf("%s%d", keyPrefixAsset, asset.ID))
	indexKey := r.prefixKey(keySetAssets)

	// Store using pipeline
	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, indexKey, uint32(asset.ID)) // Add to index set

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save RegisteredAsset: %w", err)
	}

	return nil
}

// Assets returns all persisted asset definitions sorted by id
func (r *RedisStore) Assets() ([]*types.RegisteredAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, store.ErrClosed
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetAssets)

	// Get all asset ids from the index set
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list asset ids: %w", err)
	}

	if len(ids) == 0 {
		return []*types.RegisteredAsset{}, nil
	}

	// Build keys for all assets
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.prefixKey(fmt.Sprintf("%s%s", keyPrefixAsset, id))
	}

	// Fetch all values using MGET
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch RegisteredAssets: %w", err)
	}

	// Parse all assets
	var result []*types.RegisteredAsset
	for i, val := range values {
		if val == nil {
			// Key was in index but doesn't exist - clean up index
			r.client.SRem(ctx, indexKey, ids[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for RegisteredAsset", "key", keys[i])
			continue
		}

		asset, err := store.UnmarshalAsset([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal RegisteredAsset, skipping",
				"key", keys[i], "error", err)
			continue
		}

		result = append(result, asset)
	}

	// Sort by id (ascending)
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	if result == nil {
		result = []*types.RegisteredAsset{}
	}

	return result, nil
}

// Close shuts down the store
func (r *RedisStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	// Close Redis client
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis store closed")
	return nil
}

// HealthCheck verifies the store is operational
func (r *RedisStore) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return store.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Ping Redis to check connectivity
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	// Verify schema version exists
	schemaKey := r.prefixKey(keySchemaVersion)
	_, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
