// Package nullifier tracks the spent-nullifier set of a shielded pool.
// A nullifier hash enters the set exactly once, when its withdrawal
// commits, and never leaves. Exact membership is the double-spend
// defense, so there is no probabilistic shortcut here.
//
// The registry is not safe for concurrent use; the pool serializes access.
package nullifier

import (
	"github.com/pkg/errors"
)

// ErrAlreadySpent is returned when marking a nullifier hash that is
// already in the spent set
var ErrAlreadySpent = errors.New("nullifier already spent")

// Registry is the in-memory spent set with constant-time lookups
type Registry struct {
	spent map[[32]byte]int64
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		spent: make(map[[32]byte]int64),
	}
}

// MarkSpent adds a nullifier hash to the spent set, recording the unix
// timestamp of the spend. Marking is permanent and not idempotent.
func (r *Registry) MarkSpent(nullifierHash [32]byte, spentAt int64) error {
	if _, ok := r.spent[nullifierHash]; ok {
		return errors.Wrapf(ErrAlreadySpent, "nullifier hash %x", nullifierHash)
	}
	r.spent[nullifierHash] = spentAt
	return nil
}

// IsSpent reports whether the nullifier hash is in the spent set
func (r *Registry) IsSpent(nullifierHash [32]byte) bool {
	_, ok := r.spent[nullifierHash]
	return ok
}

// SpentAt returns the spend timestamp for a nullifier hash, if spent
func (r *Registry) SpentAt(nullifierHash [32]byte) (int64, bool) {
	ts, ok := r.spent[nullifierHash]
	return ts, ok
}

// Count returns the size of the spent set
func (r *Registry) Count() int {
	return len(r.spent)
}
