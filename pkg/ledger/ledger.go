// Package ledger maintains the append-only commitment log backing a
// shielded pool. Every accepted deposit occupies the next dense index,
// and a commitment may appear at most once. The ledger is the replay
// source for rebuilding the accumulator after a restart.
//
// The ledger is not safe for concurrent use; the pool serializes access.
package ledger

import (
	"github.com/pkg/errors"
)

var (
	// ErrCommitmentExists is returned when appending a commitment that is
	// already present in the log
	ErrCommitmentExists = errors.New("commitment already exists")

	// ErrIndexOutOfRange is returned when reading an index that has not
	// been assigned yet
	ErrIndexOutOfRange = errors.New("commitment index out of range")
)

// Ledger is the in-memory commitment log with constant-time membership
// lookups
type Ledger struct {
	commitments [][32]byte
	index       map[[32]byte]uint32
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		index: make(map[[32]byte]uint32),
	}
}

// Append records a commitment at the next dense index and returns the
// index it was assigned
func (l *Ledger) Append(commitment [32]byte) (uint32, error) {
	if _, ok := l.index[commitment]; ok {
		return 0, errors.Wrapf(ErrCommitmentExists, "commitment %x", commitment)
	}

	idx := uint32(len(l.commitments))
	l.commitments = append(l.commitments, commitment)
	l.index[commitment] = idx
	return idx, nil
}

// Contains reports whether the commitment has been recorded
func (l *Ledger) Contains(commitment [32]byte) bool {
	_, ok := l.index[commitment]
	return ok
}

// IndexOf returns the index a commitment was assigned, if any
func (l *Ledger) IndexOf(commitment [32]byte) (uint32, bool) {
	idx, ok := l.index[commitment]
	return idx, ok
}

// At returns the commitment stored at the given index
func (l *Ledger) At(index uint32) ([32]byte, error) {
	if index >= uint32(len(l.commitments)) {
		return [32]byte{}, errors.Wrapf(ErrIndexOutOfRange, "index %d, count %d", index, len(l.commitments))
	}
	return l.commitments[index], nil
}

// Count returns the number of recorded commitments, which is also the
// next index to be assigned
func (l *Ledger) Count() uint32 {
	return uint32(len(l.commitments))
}

// Snapshot returns a copy of the commitment log in insertion order
func (l *Ledger) Snapshot() [][32]byte {
	out := make([][32]byte, len(l.commitments))
	copy(out, l.commitments)
	return out
}
