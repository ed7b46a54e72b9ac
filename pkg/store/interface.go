package store

import (
	"github.com/pkg/errors"

	"github.com/umbra-labs/shieldpool-go/pkg/types"
)

// Sentinel errors shared by all implementations so callers can match on
// them regardless of backend.
var (
	// ErrClosed is returned by any operation after Close
	ErrClosed = errors.New("store is closed")

	// ErrLeafIndexConflict is returned when an appended leaf does not
	// carry the next dense index for its asset
	ErrLeafIndexConflict = errors.New("leaf index conflict")

	// ErrNullifierExists is returned when persisting a nullifier record
	// that is already present
	ErrNullifierExists = errors.New("nullifier already recorded")

	// ErrVerifyingKeyExists is returned when installing a verifying key
	// while one is already installed
	ErrVerifyingKeyExists = errors.New("verifying key already installed")
)

// IPoolStore defines the interface for persisting pool state across
// restarts. All implementations must be thread-safe as node operations
// are concurrent.
//
// The interface supports:
// - The per-asset commitment log (append, ordered read, count)
// - The per-asset spent-nullifier set (insert-once, membership, listing)
// - The verifying key (install-once)
// - The asset catalog (upsert, listing)
// - Lifecycle management (close, health check)
//
// The commitment log is the source of truth for recovery: replaying it
// in order from empty rebuilds the accumulator and its recent roots.
type IPoolStore interface {
	// Commitment Log

	// AppendLeaf persists a leaf record. The record's index must be
	// exactly the current leaf count for its asset; anything else fails
	// with ErrLeafIndexConflict and writes nothing.
	AppendLeaf(leaf *LeafRecord) error

	// Leaves returns every leaf record for an asset ordered by index.
	// Returns an empty slice if the asset has no leaves, error only on
	// storage failure.
	Leaves(assetID types.AssetID) ([]*LeafRecord, error)

	// LeafCount returns the number of leaves recorded for an asset.
	LeafCount(assetID types.AssetID) (uint32, error)

	// Nullifier Set

	// PutNullifier persists a spent-nullifier record. Fails with
	// ErrNullifierExists if the nullifier hash is already recorded for
	// the asset; the original record is preserved.
	PutNullifier(rec *NullifierRecord) error

	// HasNullifier reports whether a nullifier hash is recorded for an
	// asset. Returns error only on storage failure.
	HasNullifier(assetID types.AssetID, nullifierHash types.Nullifier) (bool, error)

	// Nullifiers returns every spent record for an asset in unspecified
	// order. Returns an empty slice if none exist, error only on
	// storage failure.
	Nullifiers(assetID types.AssetID) ([]*NullifierRecord, error)

	// Verifying Key

	// PutVerifyingKey installs the verifying key. A key can be
	// installed exactly once; later attempts fail with
	// ErrVerifyingKeyExists even if the bytes are identical.
	PutVerifyingKey(vk []byte) error

	// VerifyingKey returns the installed key bytes, or nil if no key
	// has been installed yet. Error only on storage failure.
	VerifyingKey() ([]byte, error)

	// Asset Catalog

	// PutAsset inserts or replaces an asset definition keyed by id.
	PutAsset(asset *types.RegisteredAsset) error

	// Assets returns all persisted asset definitions sorted by id.
	// Returns an empty slice if none exist, error only on storage
	// failure.
	Assets() ([]*types.RegisteredAsset, error)

	// Lifecycle Management

	// Close cleanly shuts down the store.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return ErrClosed.
	Close() error

	// HealthCheck verifies the store is operational.
	// Returns nil if healthy, error describing the problem if not.
	// Should be called during node startup to fail fast.
	HealthCheck() error
}
