// Package merkle maintains the anonymity set: a fixed-depth incremental
// Merkle tree over deposit commitments, hashed with MiMC so membership can
// be proven inside the withdrawal circuit. Each insertion recomputes only
// the path to the root (O(depth) hashes); empty subtrees are represented by
// precomputed per-level zero constants and need no storage. The engine also
// retains a bounded history of recent roots so a proof generated against a
// slightly stale root remains redeemable.
//
// The tree is not safe for concurrent use; the pool serializes access.
package merkle

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/umbra-labs/shieldpool-go/pkg/hasher"
)

const (
	// DefaultDepth is the canonical tree depth: capacity 2^20 leaves.
	// The withdrawal circuit is compiled for this depth.
	DefaultDepth = 20

	// DefaultHistorySize is the number of recent roots retained. Deposits
	// landing between proof generation and submission advance the root;
	// the window keeps such proofs valid.
	DefaultHistorySize = 30

	// maxDepth keeps leaf indices inside uint32.
	maxDepth = 31
)

var (
	// ErrTreeFull is returned when the tree already holds 2^depth leaves.
	ErrTreeFull = errors.New("merkle tree is full")

	// ErrIndexOutOfOrder is returned when an insertion index does not
	// extend the leaf sequence densely. The caller treats this as a fatal
	// desynchronization between ledger and tree.
	ErrIndexOutOfOrder = errors.New("leaf index out of order")

	// ErrLeafOutOfRange is returned when a path is requested for a leaf
	// that has not been inserted.
	ErrLeafOutOfRange = errors.New("leaf index out of range")
)

type nodeKey struct {
	level uint8
	index uint32
}

// Tree is the incremental Merkle tree engine.
type Tree struct {
	depth    int
	capacity uint32

	// zeros[i] is the hash of an empty subtree of height i;
	// zeros[depth] is the empty-tree root.
	zeros [][32]byte

	// nodes holds every written node keyed by (level, index). Absent
	// nodes are empty subtrees, read from zeros.
	nodes map[nodeKey][32]byte

	leafCount uint32

	// history is a ring of the last historySize roots.
	history   [][32]byte
	histNext  int
	histCount int
}

// NewTree creates an empty tree. The empty-tree root seeds the history, so
// it is a known root from genesis.
func NewTree(depth, historySize int) (*Tree, error) {
	if depth < 1 || depth > maxDepth {
		return nil, fmt.Errorf("depth must be in [1, %d], got %d", maxDepth, depth)
	}
	if historySize < 1 {
		return nil, fmt.Errorf("history size must be positive, got %d", historySize)
	}

	t := &Tree{
		depth:    depth,
		capacity: uint32(1) << uint(depth),
		zeros:    hasher.ZeroHashes(depth),
		nodes:    make(map[nodeKey][32]byte),
		history:  make([][32]byte, historySize),
	}
	t.pushRoot(t.zeros[depth])
	return t, nil
}

// node returns the stored node at (level, index), or the level's zero
// constant if the subtree is still empty.
func (t *Tree) node(level uint8, index uint32) [32]byte {
	if n, ok := t.nodes[nodeKey{level: level, index: index}]; ok {
		return n
	}
	return t.zeros[level]
}

func (t *Tree) pushRoot(root [32]byte) {
	t.history[t.histNext] = root
	t.histNext = (t.histNext + 1) % len(t.history)
	if t.histCount < len(t.history) {
		t.histCount++
	}
}

// Insert places leaf at the given index and recomputes the path to the
// root. The index must equal the current leaf count: leaves are append-only
// and dense. The new root is returned and appended to the history.
func (t *Tree) Insert(index uint32, leaf [32]byte) ([32]byte, error) {
	if t.leafCount >= t.capacity {
		return [32]byte{}, ErrTreeFull
	}
	if index != t.leafCount {
		return [32]byte{}, errors.Wrapf(ErrIndexOutOfOrder, "expected index %d, got %d", t.leafCount, index)
	}
	if err := hasher.CheckCanonical(leaf); err != nil {
		return [32]byte{}, errors.Wrap(err, "leaf")
	}

	cur := leaf
	idx := index
	for level := 0; level < t.depth; level++ {
		t.nodes[nodeKey{level: uint8(level), index: idx}] = cur
		if idx&1 == 0 {
			cur = hasher.HashPair(cur, t.node(uint8(level), idx^1))
		} else {
			cur = hasher.HashPair(t.node(uint8(level), idx^1), cur)
		}
		idx >>= 1
	}
	t.nodes[nodeKey{level: uint8(t.depth), index: 0}] = cur

	t.leafCount++
	t.pushRoot(cur)
	return cur, nil
}

// Root returns the current root.
func (t *Tree) Root() [32]byte {
	return t.history[(t.histNext-1+len(t.history))%len(t.history)]
}

// History returns the retained roots, oldest first, most recent last.
func (t *Tree) History() [][32]byte {
	out := make([][32]byte, 0, t.histCount)
	start := (t.histNext - t.histCount + len(t.history)) % len(t.history)
	for i := 0; i < t.histCount; i++ {
		out = append(out, t.history[(start+i)%len(t.history)])
	}
	return out
}

// IsKnownRoot reports whether candidate is the current root or any retained
// historical root. The all-zero value is never a known root.
func (t *Tree) IsKnownRoot(candidate [32]byte) bool {
	if candidate == ([32]byte{}) {
		return false
	}
	for i := 1; i <= t.histCount; i++ {
		if t.history[(t.histNext-i+len(t.history))%len(t.history)] == candidate {
			return true
		}
	}
	return false
}

// LeafCount returns the number of inserted leaves.
func (t *Tree) LeafCount() uint32 {
	return t.leafCount
}

// Depth returns the fixed tree depth.
func (t *Tree) Depth() int {
	return t.depth
}

// Capacity returns the maximum number of leaves, 2^depth.
func (t *Tree) Capacity() uint32 {
	return t.capacity
}

// Path returns the membership path for the leaf at index.
func (t *Tree) Path(index uint32) (*Path, error) {
	if index >= t.leafCount {
		return nil, errors.Wrapf(ErrLeafOutOfRange, "leaf index %d out of bounds (tree has %d leaves)", index, t.leafCount)
	}

	siblings := make([][32]byte, t.depth)
	bits := make([]uint8, t.depth)
	idx := index
	for level := 0; level < t.depth; level++ {
		siblings[level] = t.node(uint8(level), idx^1)
		bits[level] = uint8(idx & 1)
		idx >>= 1
	}

	return &Path{
		LeafIndex: index,
		Leaf:      t.node(0, index),
		Siblings:  siblings,
		Bits:      bits,
	}, nil
}

// VerifyPath recomputes the root from a path and compares it to the
// expected root. This is the native mirror of the in-circuit membership
// check, used by provers to sanity-check a path before proving.
func VerifyPath(path *Path, root [32]byte) bool {
	if path == nil || len(path.Siblings) != len(path.Bits) {
		return false
	}

	cur := path.Leaf
	for level, sibling := range path.Siblings {
		if path.Bits[level] == 0 {
			cur = hasher.HashPair(cur, sibling)
		} else {
			cur = hasher.HashPair(sibling, cur)
		}
	}
	return cur == root
}
