package zkp_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/umbra-labs/shieldpool-go/internal/prooftest"
	"github.com/umbra-labs/shieldpool-go/pkg/hasher"
	"github.com/umbra-labs/shieldpool-go/pkg/merkle"
	"github.com/umbra-labs/shieldpool-go/pkg/zkp"
)

var (
	testRecipient = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testRelayer   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// TestWithdrawalProofRoundTrip tests proving and verifying a withdrawal
// against a populated accumulator
func TestWithdrawalProofRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping proof generation in short mode")
	}
	a := prooftest.Load(t)

	tree, err := merkle.NewTree(zkp.TreeDepth, merkle.DefaultHistorySize)
	require.NoError(t, err)

	note := prooftest.NewNote(t)
	_, err = tree.Insert(0, note.Commitment)
	require.NoError(t, err)

	// A second deposit so the proved root covers a non-trivial tree
	other := prooftest.NewNote(t)
	root, err := tree.Insert(1, other.Commitment)
	require.NoError(t, err)

	inputs, err := zkp.NewPublicInputs(root, note.NullifierHash, testRecipient, big.NewInt(1000), big.NewInt(0), testRelayer, nil)
	require.NoError(t, err)

	proof := prooftest.ProveWithdrawal(t, a, tree, 0, note, inputs)

	gate, err := zkp.NewGate(a.VKBytes)
	require.NoError(t, err)
	require.NoError(t, gate.Verify(proof, inputs))

	// Verification is stateless, so a second call must succeed too
	require.NoError(t, gate.Verify(proof, inputs))
}

// TestProofBindsStatement tests that altering any single statement field
// invalidates an otherwise valid proof
func TestProofBindsStatement(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping proof generation in short mode")
	}
	a := prooftest.Load(t)

	tree, err := merkle.NewTree(zkp.TreeDepth, merkle.DefaultHistorySize)
	require.NoError(t, err)

	note := prooftest.NewNote(t)
	staleRoot, err := tree.Insert(0, note.Commitment)
	require.NoError(t, err)

	other := prooftest.NewNote(t)
	root, err := tree.Insert(1, other.Commitment)
	require.NoError(t, err)

	dest, err := hasher.RandomScalar()
	require.NoError(t, err)

	inputs, err := zkp.NewPublicInputs(root, note.NullifierHash, testRecipient, big.NewInt(1000), big.NewInt(25), testRelayer, &dest)
	require.NoError(t, err)

	proof := prooftest.ProveWithdrawal(t, a, tree, 0, note, inputs)

	gate, err := zkp.NewGate(a.VKBytes)
	require.NoError(t, err)
	require.NoError(t, gate.Verify(proof, inputs))

	otherDest, err := hasher.RandomScalar()
	require.NoError(t, err)

	mutations := []struct {
		name   string
		mutate func(p zkp.PublicInputs) zkp.PublicInputs
	}{
		{"Swapped recipient", func(p zkp.PublicInputs) zkp.PublicInputs {
			p.Recipient = common.HexToAddress("0x3333333333333333333333333333333333333333")
			return p
		}},
		{"Raised fee", func(p zkp.PublicInputs) zkp.PublicInputs {
			p.Fee = big.NewInt(1001)
			return p
		}},
		{"Changed refund", func(p zkp.PublicInputs) zkp.PublicInputs {
			p.Refund = big.NewInt(26)
			return p
		}},
		{"Swapped relayer", func(p zkp.PublicInputs) zkp.PublicInputs {
			p.Relayer = common.HexToAddress("0x4444444444444444444444444444444444444444")
			return p
		}},
		{"Different root", func(p zkp.PublicInputs) zkp.PublicInputs {
			p.Root = staleRoot
			return p
		}},
		{"Different nullifier hash", func(p zkp.PublicInputs) zkp.PublicInputs {
			p.NullifierHash = other.NullifierHash
			return p
		}},
		{"Different destination hash", func(p zkp.PublicInputs) zkp.PublicInputs {
			p.DestChainHash = otherDest
			return p
		}},
		{"Cleared destination hash", func(p zkp.PublicInputs) zkp.PublicInputs {
			p.DestChainHash = [32]byte{}
			return p
		}},
	}

	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			mutated := tc.mutate(*inputs)
			err := gate.Verify(proof, &mutated)
			require.ErrorIs(t, err, zkp.ErrProofVerificationFailed)
		})
	}

	// The untouched statement must still verify with the same proof
	require.NoError(t, gate.Verify(proof, inputs))
}

// TestVerifyRejectsBadProofBytes tests deserialization failures
func TestVerifyRejectsBadProofBytes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping circuit setup in short mode")
	}
	a := prooftest.Load(t)

	gate, err := zkp.NewGate(a.VKBytes)
	require.NoError(t, err)

	root, err := hasher.RandomScalar()
	require.NoError(t, err)
	nh, err := hasher.RandomScalar()
	require.NoError(t, err)
	inputs, err := zkp.NewPublicInputs(root, nh, testRecipient, nil, nil, testRelayer, nil)
	require.NoError(t, err)

	require.ErrorIs(t, gate.Verify(nil, inputs), zkp.ErrProofVerificationFailed)
	require.ErrorIs(t, gate.Verify([]byte{}, inputs), zkp.ErrProofVerificationFailed)
	require.ErrorIs(t, gate.Verify([]byte("not a proof"), inputs), zkp.ErrProofVerificationFailed)
}

// TestVerifyDistinguishesMalformedStatement tests that schema errors are
// reported as malformed inputs, not as verification failures
func TestVerifyDistinguishesMalformedStatement(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping circuit setup in short mode")
	}
	a := prooftest.Load(t)

	gate, err := zkp.NewGate(a.VKBytes)
	require.NoError(t, err)

	require.ErrorIs(t, gate.Verify([]byte("proof"), nil), zkp.ErrMalformedPublicInputs)

	nh, err := hasher.RandomScalar()
	require.NoError(t, err)
	var badRoot [32]byte
	for i := range badRoot {
		badRoot[i] = 0xff
	}
	bad := &zkp.PublicInputs{
		Root:          badRoot,
		NullifierHash: nh,
		Recipient:     testRecipient,
		Fee:           big.NewInt(0),
		Refund:        big.NewInt(0),
		Relayer:       testRelayer,
	}

	err = gate.Verify([]byte("proof"), bad)
	require.ErrorIs(t, err, zkp.ErrMalformedPublicInputs)
	require.False(t, errors.Is(err, zkp.ErrProofVerificationFailed))
}

// TestProveRejectsWrongSecret tests that an unsatisfied witness cannot
// produce a proof
func TestProveRejectsWrongSecret(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping proof generation in short mode")
	}
	a := prooftest.Load(t)

	tree, err := merkle.NewTree(zkp.TreeDepth, merkle.DefaultHistorySize)
	require.NoError(t, err)

	note := prooftest.NewNote(t)
	root, err := tree.Insert(0, note.Commitment)
	require.NoError(t, err)

	inputs, err := zkp.NewPublicInputs(root, note.NullifierHash, testRecipient, nil, nil, testRelayer, nil)
	require.NoError(t, err)

	path, err := tree.Path(0)
	require.NoError(t, err)

	wrongSecret, err := hasher.RandomScalar()
	require.NoError(t, err)

	prover := zkp.NewProver(a.CCS, a.PK)
	_, err = prover.Prove(&zkp.WithdrawalWitness{
		Inputs:    inputs,
		Nullifier: note.Nullifier,
		Secret:    wrongSecret,
		Path:      path,
	})
	require.Error(t, err)
}

// TestProveRejectsShortPath tests depth enforcement on the witness path
func TestProveRejectsShortPath(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping circuit setup in short mode")
	}
	a := prooftest.Load(t)

	root, err := hasher.RandomScalar()
	require.NoError(t, err)
	nh, err := hasher.RandomScalar()
	require.NoError(t, err)
	inputs, err := zkp.NewPublicInputs(root, nh, testRecipient, nil, nil, testRelayer, nil)
	require.NoError(t, err)

	prover := zkp.NewProver(a.CCS, a.PK)
	_, err = prover.Prove(&zkp.WithdrawalWitness{
		Inputs: inputs,
		Path: &merkle.Path{
			Siblings: make([][32]byte, 4),
			Bits:     make([]uint8, 4),
		},
	})
	require.Error(t, err)

	_, err = prover.Prove(nil)
	require.Error(t, err)
}
