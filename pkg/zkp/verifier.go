package zkp

import (
	"bytes"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/pkg/errors"
)

// ErrProofVerificationFailed is returned when a proof fails the pairing
// checks, or cannot be deserialized into proof group elements. Not
// retryable without a new proof.
var ErrProofVerificationFailed = errors.New("proof verification failed")

// Gate verifies withdrawal proofs against a fixed verifying key. It
// holds no mutable state: verification reads nothing and writes nothing,
// and the result is deterministic for identical inputs.
type Gate struct {
	vk groth16.VerifyingKey
}

// NewGate deserializes a compressed verifying key into a ready gate
func NewGate(vkBytes []byte) (*Gate, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return nil, errors.Wrap(err, "failed to deserialize verifying key")
	}
	return &Gate{vk: vk}, nil
}

// Verify checks a serialized proof against the statement. A nil error
// means the proof is valid for exactly these public inputs.
func (g *Gate) Verify(proofBytes []byte, inputs *PublicInputs) error {
	if inputs == nil {
		return errors.Wrap(ErrMalformedPublicInputs, "missing statement")
	}
	if err := inputs.Validate(); err != nil {
		return err
	}
	if len(proofBytes) == 0 {
		return errors.Wrap(ErrProofVerificationFailed, "empty proof")
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return errors.Wrap(ErrProofVerificationFailed, "proof deserialization failed")
	}

	witness, err := frontend.NewWitness(inputs.assignment(), ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errors.Wrap(err, "failed to build public witness")
	}

	if err := groth16.Verify(proof, g.vk, witness); err != nil {
		return errors.Wrap(ErrProofVerificationFailed, err.Error())
	}
	return nil
}
