// Package hasher provides the fixed 2-to-1 hash used throughout the pool:
// MiMC over the BN254 scalar field, byte-for-byte compatible with the
// in-circuit MiMC gadget. All values cross package boundaries as canonical
// 32-byte big-endian field encodings.
package hasher

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/pkg/errors"
)

// ErrNonCanonical is returned for 32-byte values that are not the canonical
// big-endian encoding of a BN254 scalar (value >= field modulus).
var ErrNonCanonical = errors.New("not a canonical field element")

// CheckCanonical verifies that b encodes a scalar strictly below the field
// modulus.
func CheckCanonical(b [32]byte) error {
	if _, err := fr.BigEndian.Element(&b); err != nil {
		return ErrNonCanonical
	}
	return nil
}

// Element decodes a canonical 32-byte encoding into a field element.
func Element(b [32]byte) (fr.Element, error) {
	e, err := fr.BigEndian.Element(&b)
	if err != nil {
		return fr.Element{}, ErrNonCanonical
	}
	return e, nil
}

// Reduce maps arbitrary bytes into the field and returns the canonical
// encoding. Used for values that originate outside the field, e.g. a
// Keccak-256 chain identifier.
func Reduce(b []byte) [32]byte {
	var e fr.Element
	e.SetBytes(b)
	return e.Bytes()
}

// RandomScalar samples a uniformly random field element and returns its
// canonical encoding.
func RandomScalar() ([32]byte, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return [32]byte{}, errors.Wrap(err, "sampling field element")
	}
	return e.Bytes(), nil
}

// sum hashes canonical 32-byte blocks. Inputs must already be canonical;
// MiMC rejects anything else, and every caller in this package guarantees
// canonicality by construction.
func sum(blocks ...[32]byte) [32]byte {
	h := mimc.NewMiMC()
	for i := range blocks {
		_, _ = h.Write(blocks[i][:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashPair computes the 2-to-1 tree hash MiMC(left, right). Both inputs
// must be canonical encodings (tree nodes and zero constants always are).
func HashPair(left, right [32]byte) [32]byte {
	return sum(left, right)
}

// CommitmentHash computes MiMC(nullifier, secret), the deposit commitment
// for a note.
func CommitmentHash(nullifier, secret [32]byte) [32]byte {
	return sum(nullifier, secret)
}

// NullifierHash computes MiMC(nullifier), the value published at
// withdrawal time.
func NullifierHash(nullifier [32]byte) [32]byte {
	return sum(nullifier)
}

// ZeroHashes returns the per-level empty-subtree constants for a tree of
// the given depth: index 0 is the empty leaf (the zero element), index i+1
// is HashPair of two level-i constants, index depth is the empty root.
func ZeroHashes(depth int) [][32]byte {
	zeros := make([][32]byte, depth+1)
	for i := 0; i < depth; i++ {
		zeros[i+1] = HashPair(zeros[i], zeros[i])
	}
	return zeros
}
