package hasher

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

// randomScalarT returns a random canonical scalar, failing the test on error
func randomScalarT(t *testing.T) [32]byte {
	t.Helper()
	s, err := RandomScalar()
	require.NoError(t, err)
	return s
}

// TestCheckCanonical tests canonical encoding acceptance and rejection
func TestCheckCanonical(t *testing.T) {
	mod := fr.Modulus()

	var zero [32]byte
	require.NoError(t, CheckCanonical(zero))

	var modBytes [32]byte
	mod.FillBytes(modBytes[:])
	require.ErrorIs(t, CheckCanonical(modBytes), ErrNonCanonical)

	var one [32]byte
	one[31] = 1
	require.NoError(t, CheckCanonical(one))

	// modulus - 1 is the largest canonical value
	var maxCanonical [32]byte
	maxInt := new(big.Int).Sub(mod, big.NewInt(1))
	maxInt.FillBytes(maxCanonical[:])
	require.NoError(t, CheckCanonical(maxCanonical))

	var allOnes [32]byte
	for i := range allOnes {
		allOnes[i] = 0xff
	}
	require.ErrorIs(t, CheckCanonical(allOnes), ErrNonCanonical)
}

// TestReduce tests that arbitrary bytes reduce to canonical scalars
func TestReduce(t *testing.T) {
	var allOnes [32]byte
	for i := range allOnes {
		allOnes[i] = 0xff
	}
	reduced := Reduce(allOnes[:])
	require.NoError(t, CheckCanonical(reduced))
	require.NotEqual(t, allOnes, reduced)

	// Already-canonical input is a fixed point
	s := randomScalarT(t)
	require.Equal(t, s, Reduce(s[:]))

	// Short input is interpreted big-endian
	short := Reduce([]byte{0x01})
	var one [32]byte
	one[31] = 1
	require.Equal(t, one, short)
}

// TestRandomScalar tests that generated scalars are canonical and distinct
func TestRandomScalar(t *testing.T) {
	seen := make(map[[32]byte]bool)
	for i := 0; i < 64; i++ {
		s, err := RandomScalar()
		require.NoError(t, err)
		require.NoError(t, CheckCanonical(s))
		require.False(t, seen[s], "random scalars must not repeat")
		seen[s] = true
	}
}

// TestElement tests conversion between encodings and field elements
func TestElement(t *testing.T) {
	s := randomScalarT(t)

	e, err := Element(s)
	require.NoError(t, err)
	got := e.Bytes()
	require.Equal(t, s, got)

	var bad [32]byte
	fr.Modulus().FillBytes(bad[:])
	_, err = Element(bad)
	require.ErrorIs(t, err, ErrNonCanonical)
}

// TestHashPairProperties tests determinism, asymmetry and canonical output
func TestHashPairProperties(t *testing.T) {
	a, b := randomScalarT(t), randomScalarT(t)

	h1 := HashPair(a, b)
	h2 := HashPair(a, b)
	require.Equal(t, h1, h2)
	require.NoError(t, CheckCanonical(h1))

	// Order matters for a two-to-one compression
	require.NotEqual(t, HashPair(a, b), HashPair(b, a))

	require.NotEqual(t, HashPair(a, b), HashPair(a, randomScalarT(t)))
}

// TestCommitmentAndNullifierHash tests the note hashing scheme
func TestCommitmentAndNullifierHash(t *testing.T) {
	nullifier, secret := randomScalarT(t), randomScalarT(t)

	commitment := CommitmentHash(nullifier, secret)
	require.NoError(t, CheckCanonical(commitment))
	require.Equal(t, commitment, CommitmentHash(nullifier, secret))

	nh := NullifierHash(nullifier)
	require.NoError(t, CheckCanonical(nh))
	require.Equal(t, nh, NullifierHash(nullifier))

	// The nullifier hash must not equal the commitment, and swapping the
	// preimage components must change the commitment
	require.NotEqual(t, commitment, nh)
	require.NotEqual(t, commitment, CommitmentHash(secret, nullifier))

	// Distinct notes yield distinct commitments and nullifier hashes
	other := randomScalarT(t)
	require.NotEqual(t, commitment, CommitmentHash(other, secret))
	require.NotEqual(t, nh, NullifierHash(other))
}

// TestZeroHashes tests the empty-subtree ladder
func TestZeroHashes(t *testing.T) {
	const depth = 20

	zeros := ZeroHashes(depth)
	require.Len(t, zeros, depth+1)
	require.Equal(t, [32]byte{}, zeros[0])

	for i := 0; i < depth; i++ {
		require.Equal(t, HashPair(zeros[i], zeros[i]), zeros[i+1])
		require.NoError(t, CheckCanonical(zeros[i+1]))
	}

	// Ladder must be strictly progressing
	require.NotEqual(t, zeros[1], zeros[2])
}

// TestReduceOfRandomBytes tests that reduction handles raw entropy
func TestReduceOfRandomBytes(t *testing.T) {
	for i := 0; i < 32; i++ {
		buf := make([]byte, 32)
		_, err := rand.Read(buf)
		require.NoError(t, err)
		require.NoError(t, CheckCanonical(Reduce(buf)))
	}
}
