// Package prooftest provides shared Groth16 artifacts for tests that
// exercise real proofs. Circuit compilation and key generation take
// several seconds, so they run exactly once per test binary and every
// test shares the result.
package prooftest

import (
	"sync"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"

	"github.com/umbra-labs/shieldpool-go/pkg/hasher"
	"github.com/umbra-labs/shieldpool-go/pkg/merkle"
	"github.com/umbra-labs/shieldpool-go/pkg/zkp"
)

// Artifacts bundles the compiled circuit and the generated key pair
type Artifacts struct {
	CCS     constraint.ConstraintSystem
	PK      groth16.ProvingKey
	VK      groth16.VerifyingKey
	VKBytes []byte
}

var (
	once      sync.Once
	artifacts *Artifacts
	loadErr   error
)

// Load returns the shared artifacts, compiling and running setup on
// first use
func Load(t *testing.T) *Artifacts {
	t.Helper()

	once.Do(func() {
		ccs, err := zkp.Compile()
		if err != nil {
			loadErr = err
			return
		}
		pk, vk, err := zkp.Setup(ccs)
		if err != nil {
			loadErr = err
			return
		}
		vkBytes, err := zkp.MarshalVerifyingKey(vk)
		if err != nil {
			loadErr = err
			return
		}
		artifacts = &Artifacts{CCS: ccs, PK: pk, VK: vk, VKBytes: vkBytes}
	})

	if loadErr != nil {
		t.Fatalf("failed to prepare proof artifacts: %v", loadErr)
	}
	return artifacts
}

// Note is a test note together with its derived values
type Note struct {
	Nullifier     [32]byte
	Secret        [32]byte
	Commitment    [32]byte
	NullifierHash [32]byte
}

// NewNote generates a random note
func NewNote(t *testing.T) *Note {
	t.Helper()

	nullifier, err := hasher.RandomScalar()
	if err != nil {
		t.Fatalf("failed to generate nullifier: %v", err)
	}
	secret, err := hasher.RandomScalar()
	if err != nil {
		t.Fatalf("failed to generate secret: %v", err)
	}

	return &Note{
		Nullifier:     nullifier,
		Secret:        secret,
		Commitment:    hasher.CommitmentHash(nullifier, secret),
		NullifierHash: hasher.NullifierHash(nullifier),
	}
}

// ProveWithdrawal generates a valid proof for a note whose commitment
// sits at the given index of the tree. The statement must already carry
// the root the path verifies against.
func ProveWithdrawal(t *testing.T, a *Artifacts, tree *merkle.Tree, leafIndex uint32, note *Note, inputs *zkp.PublicInputs) []byte {
	t.Helper()

	path, err := tree.Path(leafIndex)
	if err != nil {
		t.Fatalf("failed to build path for leaf %d: %v", leafIndex, err)
	}
	return ProveWithPath(t, a, path, note, inputs)
}

// ProveWithPath generates a valid proof from an already-built membership
// path, as served to real provers.
func ProveWithPath(t *testing.T, a *Artifacts, path *merkle.Path, note *Note, inputs *zkp.PublicInputs) []byte {
	t.Helper()

	prover := zkp.NewProver(a.CCS, a.PK)
	proof, err := prover.Prove(&zkp.WithdrawalWitness{
		Inputs:    inputs,
		Nullifier: note.Nullifier,
		Secret:    note.Secret,
		Path:      path,
	})
	if err != nil {
		t.Fatalf("failed to prove withdrawal: %v", err)
	}
	return proof
}
