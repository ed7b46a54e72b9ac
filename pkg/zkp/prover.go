package zkp

import (
	"bytes"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/pkg/errors"

	"github.com/umbra-labs/shieldpool-go/pkg/merkle"
)

// WithdrawalWitness carries everything needed to prove one withdrawal:
// the public statement, the note secrets, and the authentication path of
// the note's commitment in the accumulator.
type WithdrawalWitness struct {
	Inputs    *PublicInputs
	Nullifier [32]byte
	Secret    [32]byte
	Path      *merkle.Path
}

// Prover generates withdrawal proofs. Client tooling and tests prove;
// the node only verifies.
type Prover struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
}

// NewProver creates a prover over a compiled circuit and proving key
func NewProver(ccs constraint.ConstraintSystem, pk groth16.ProvingKey) *Prover {
	return &Prover{ccs: ccs, pk: pk}
}

// Prove generates a serialized proof for the witness
func (p *Prover) Prove(w *WithdrawalWitness) ([]byte, error) {
	if w == nil || w.Inputs == nil || w.Path == nil {
		return nil, errors.New("incomplete withdrawal witness")
	}
	if err := w.Inputs.Validate(); err != nil {
		return nil, err
	}
	if len(w.Path.Siblings) != TreeDepth || len(w.Path.Bits) != TreeDepth {
		return nil, errors.Errorf("path has depth %d, circuit requires %d", len(w.Path.Siblings), TreeDepth)
	}

	assignment := w.Inputs.assignment()
	assignment.Nullifier = new(big.Int).SetBytes(w.Nullifier[:])
	assignment.Secret = new(big.Int).SetBytes(w.Secret[:])
	for i := 0; i < TreeDepth; i++ {
		assignment.PathElements[i] = new(big.Int).SetBytes(w.Path.Siblings[i][:])
		assignment.PathIndexBits[i] = int(w.Path.Bits[i])
	}

	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, errors.Wrap(err, "failed to build full witness")
	}

	proof, err := groth16.Prove(p.ccs, p.pk, fullWitness)
	if err != nil {
		return nil, errors.Wrap(err, "proving failed")
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to serialize proof")
	}
	return buf.Bytes(), nil
}
