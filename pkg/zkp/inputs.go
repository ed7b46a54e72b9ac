package zkp

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/umbra-labs/shieldpool-go/pkg/hasher"
)

const (
	// FieldWidth is the byte width of every statement vector element
	FieldWidth = 32

	// NumPublicInputs is the full width of the canonical statement vector
	NumPublicInputs = 7

	// minPublicInputs is the wire form with the destination hash omitted
	minPublicInputs = 6
)

// ErrMalformedPublicInputs is returned when a statement vector violates
// the canonical schema: wrong element count, wrong element width, a
// non-canonical field encoding, or an identifier outside its declared
// range. Distinct from a cryptographic verification failure.
var ErrMalformedPublicInputs = errors.New("malformed public inputs")

// PublicInputs is the decoded withdrawal statement in canonical order:
// root, nullifier hash, recipient, fee, refund, relayer, destination
// chain hash. A zero destination hash means the withdrawal settles on
// the local chain.
type PublicInputs struct {
	Root          [32]byte
	NullifierHash [32]byte
	Recipient     common.Address
	Fee           *big.Int
	Refund        *big.Int
	Relayer       common.Address
	DestChainHash [32]byte
}

// NewPublicInputs assembles and validates a statement from request
// fields. Nil fee or refund is treated as zero; a nil destination hash
// means no cross-chain intent.
func NewPublicInputs(
	root [32]byte,
	nullifierHash [32]byte,
	recipient common.Address,
	fee *big.Int,
	refund *big.Int,
	relayer common.Address,
	destChainHash *[32]byte,
) (*PublicInputs, error) {
	p := &PublicInputs{
		Root:          root,
		NullifierHash: nullifierHash,
		Recipient:     recipient,
		Fee:           normalizeAmount(fee),
		Refund:        normalizeAmount(refund),
		Relayer:       relayer,
	}
	if destChainHash != nil {
		p.DestChainHash = *destChainHash
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// FromVector decodes a raw statement vector as produced by an external
// prover. The vector must carry six or seven fixed-width elements in
// canonical order; a missing seventh element decodes as a zero
// destination hash.
func FromVector(fields [][]byte) (*PublicInputs, error) {
	if len(fields) != minPublicInputs && len(fields) != NumPublicInputs {
		return nil, errors.Wrapf(ErrMalformedPublicInputs, "expected %d or %d elements, got %d", minPublicInputs, NumPublicInputs, len(fields))
	}

	decoded := make([][32]byte, len(fields))
	for i, field := range fields {
		if len(field) != FieldWidth {
			return nil, errors.Wrapf(ErrMalformedPublicInputs, "element %d has width %d, want %d", i, len(field), FieldWidth)
		}
		copy(decoded[i][:], field)
	}

	recipient, err := fieldToAddress(decoded[2])
	if err != nil {
		return nil, errors.Wrap(err, "recipient")
	}
	relayer, err := fieldToAddress(decoded[5])
	if err != nil {
		return nil, errors.Wrap(err, "relayer")
	}

	p := &PublicInputs{
		Root:          decoded[0],
		NullifierHash: decoded[1],
		Recipient:     recipient,
		Fee:           new(big.Int).SetBytes(decoded[3][:]),
		Refund:        new(big.Int).SetBytes(decoded[4][:]),
		Relayer:       relayer,
	}
	if len(fields) == NumPublicInputs {
		p.DestChainHash = decoded[6]
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks every element of the statement for canonical encoding
func (p *PublicInputs) Validate() error {
	if err := hasher.CheckCanonical(p.Root); err != nil {
		return errors.Wrap(ErrMalformedPublicInputs, "root is not a canonical field element")
	}
	if err := hasher.CheckCanonical(p.NullifierHash); err != nil {
		return errors.Wrap(ErrMalformedPublicInputs, "nullifier hash is not a canonical field element")
	}
	if err := checkAmount(p.Fee); err != nil {
		return errors.Wrap(err, "fee")
	}
	if err := checkAmount(p.Refund); err != nil {
		return errors.Wrap(err, "refund")
	}
	if err := hasher.CheckCanonical(p.DestChainHash); err != nil {
		return errors.Wrap(ErrMalformedPublicInputs, "destination chain hash is not a canonical field element")
	}
	return nil
}

// Vector encodes the statement as the canonical seven-element vector of
// fixed-width field encodings
func (p *PublicInputs) Vector() ([][32]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var fee, refund [32]byte
	p.Fee.FillBytes(fee[:])
	p.Refund.FillBytes(refund[:])

	return [][32]byte{
		p.Root,
		p.NullifierHash,
		addressToField(p.Recipient),
		fee,
		refund,
		addressToField(p.Relayer),
		p.DestChainHash,
	}, nil
}

// HasDestination reports whether the statement carries a cross-chain
// destination
func (p *PublicInputs) HasDestination() bool {
	return p.DestChainHash != [32]byte{}
}

// assignment builds the public section of a circuit witness
func (p *PublicInputs) assignment() *WithdrawalCircuit {
	return &WithdrawalCircuit{
		Root:          new(big.Int).SetBytes(p.Root[:]),
		NullifierHash: new(big.Int).SetBytes(p.NullifierHash[:]),
		Recipient:     new(big.Int).SetBytes(p.Recipient[:]),
		Fee:           new(big.Int).Set(p.Fee),
		Refund:        new(big.Int).Set(p.Refund),
		Relayer:       new(big.Int).SetBytes(p.Relayer[:]),
		DestChainHash: new(big.Int).SetBytes(p.DestChainHash[:]),
	}
}

// normalizeAmount maps nil to zero and detaches the caller's value
func normalizeAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// checkAmount enforces that an amount is a canonical field element
func checkAmount(v *big.Int) error {
	if v == nil {
		return errors.Wrap(ErrMalformedPublicInputs, "amount is nil")
	}
	if v.Sign() < 0 {
		return errors.Wrap(ErrMalformedPublicInputs, "amount is negative")
	}
	if v.Cmp(fr.Modulus()) >= 0 {
		return errors.Wrap(ErrMalformedPublicInputs, "amount exceeds the field modulus")
	}
	return nil
}

// addressToField left-pads a 20-byte address into a field encoding
func addressToField(a common.Address) [32]byte {
	var f [32]byte
	copy(f[12:], a[:])
	return f
}

// fieldToAddress extracts an address from a left-padded field encoding.
// The twelve leading bytes must be zero.
func fieldToAddress(f [32]byte) (common.Address, error) {
	for _, b := range f[:12] {
		if b != 0 {
			return common.Address{}, errors.Wrap(ErrMalformedPublicInputs, "identifier exceeds address width")
		}
	}
	return common.BytesToAddress(f[12:]), nil
}
