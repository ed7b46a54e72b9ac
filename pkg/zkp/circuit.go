// Package zkp contains the withdrawal statement circuit, the Groth16
// verification gate, and the proving and key-generation helpers around
// them. The statement proved is: "I know a note (nullifier, secret) whose
// commitment sits in the accumulator under the claimed root, and the
// published nullifier hash is derived from that note", with the
// recipient, fee, refund, relayer and destination bound into the proof
// so they cannot be swapped after proving.
package zkp

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/umbra-labs/shieldpool-go/pkg/merkle"
)

// TreeDepth is the accumulator depth the circuit is constrained over.
// Proofs are only valid against trees of exactly this depth.
const TreeDepth = merkle.DefaultDepth

// WithdrawalCircuit is the arithmetic circuit for a shielded withdrawal.
// Field order of the public section defines the canonical statement
// vector, so it must never be reordered.
type WithdrawalCircuit struct {
	Root          frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`
	Fee           frontend.Variable `gnark:",public"`
	Refund        frontend.Variable `gnark:",public"`
	Relayer       frontend.Variable `gnark:",public"`
	DestChainHash frontend.Variable `gnark:",public"`

	Nullifier     frontend.Variable
	Secret        frontend.Variable
	PathElements  [TreeDepth]frontend.Variable
	PathIndexBits [TreeDepth]frontend.Variable
}

// Define declares the withdrawal constraints
func (c *WithdrawalCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// commitment = H(nullifier, secret)
	h.Write(c.Nullifier, c.Secret)
	commitment := h.Sum()

	// The published nullifier hash must derive from the same nullifier
	h.Reset()
	h.Write(c.Nullifier)
	api.AssertIsEqual(c.NullifierHash, h.Sum())

	// Walk the authentication path from the commitment up to the root.
	// A zero bit means the current node is the left child.
	cur := commitment
	for i := 0; i < TreeDepth; i++ {
		bit := c.PathIndexBits[i]
		api.AssertIsBoolean(bit)

		left := api.Select(bit, c.PathElements[i], cur)
		right := api.Select(bit, cur, c.PathElements[i])

		h.Reset()
		h.Write(left, right)
		cur = h.Sum()
	}
	api.AssertIsEqual(c.Root, cur)

	// Bind the remaining public inputs into the constraint system so a
	// proof cannot be replayed with different transfer parameters
	api.Mul(c.Recipient, c.Recipient)
	api.Mul(c.Fee, c.Fee)
	api.Mul(c.Refund, c.Refund)
	api.Mul(c.Relayer, c.Relayer)
	api.Mul(c.DestChainHash, c.DestChainHash)

	return nil
}
