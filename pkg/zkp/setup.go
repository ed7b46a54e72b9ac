package zkp

import (
	"bytes"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/pkg/errors"
)

// Compile builds the R1CS constraint system for the withdrawal circuit
func Compile() (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &WithdrawalCircuit{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile withdrawal circuit")
	}
	return ccs, nil
}

// Setup runs Groth16 key generation over the compiled circuit. The keys
// come from a single-party setup, which is sufficient for development;
// production deployments install ceremony-produced keys instead.
func Setup(ccs constraint.ConstraintSystem) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "groth16 setup failed")
	}
	return pk, vk, nil
}

// MarshalVerifyingKey serializes a verifying key in compressed form
func MarshalVerifyingKey(vk groth16.VerifyingKey) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to serialize verifying key")
	}
	return buf.Bytes(), nil
}

// UnmarshalVerifyingKey deserializes a compressed verifying key
func UnmarshalVerifyingKey(b []byte) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(b)); err != nil {
		return nil, errors.Wrap(err, "failed to deserialize verifying key")
	}
	return vk, nil
}

// MarshalProvingKey serializes a proving key in compressed form
func MarshalProvingKey(pk groth16.ProvingKey) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := pk.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to serialize proving key")
	}
	return buf.Bytes(), nil
}

// UnmarshalProvingKey deserializes a compressed proving key
func UnmarshalProvingKey(b []byte) (groth16.ProvingKey, error) {
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(bytes.NewReader(b)); err != nil {
		return nil, errors.Wrap(err, "failed to deserialize proving key")
	}
	return pk, nil
}
