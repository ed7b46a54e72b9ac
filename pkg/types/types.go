package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AssetID identifies a registered shielded asset. IDs are assigned
// sequentially by the asset registry starting at 1; 0 is never valid.
type AssetID uint32

// Commitment is the canonical 32-byte big-endian encoding of a BN254
// scalar-field element published at deposit time. It hides the note's
// secrets and becomes a leaf of the anonymity-set tree.
type Commitment [32]byte

// Nullifier is the canonical 32-byte encoding of the nullifier hash
// published at withdrawal time. Once recorded it permanently marks the
// underlying deposit as spent.
type Nullifier [32]byte

// Root is a Merkle root over the commitment tree.
type Root [32]byte

// decode32 parses a 0x-prefixed hex string into a 32-byte value.
func decode32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// CommitmentFromHex parses a 0x-prefixed 32-byte hex string.
func CommitmentFromHex(s string) (Commitment, error) {
	b, err := decode32(s)
	if err != nil {
		return Commitment{}, fmt.Errorf("invalid commitment: %w", err)
	}
	return Commitment(b), nil
}

// NullifierFromHex parses a 0x-prefixed 32-byte hex string.
func NullifierFromHex(s string) (Nullifier, error) {
	b, err := decode32(s)
	if err != nil {
		return Nullifier{}, fmt.Errorf("invalid nullifier: %w", err)
	}
	return Nullifier(b), nil
}

// RootFromHex parses a 0x-prefixed 32-byte hex string.
func RootFromHex(s string) (Root, error) {
	b, err := decode32(s)
	if err != nil {
		return Root{}, fmt.Errorf("invalid root: %w", err)
	}
	return Root(b), nil
}

func (c Commitment) Hex() string   { return hexutil.Encode(c[:]) }
func (c Commitment) Bytes() []byte { return c[:] }
func (c Commitment) IsZero() bool  { return c == Commitment{} }

func (c Commitment) MarshalText() ([]byte, error) { return []byte(c.Hex()), nil }

func (c *Commitment) UnmarshalText(text []byte) error {
	v, err := CommitmentFromHex(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (n Nullifier) Hex() string   { return hexutil.Encode(n[:]) }
func (n Nullifier) Bytes() []byte { return n[:] }
func (n Nullifier) IsZero() bool  { return n == Nullifier{} }

func (n Nullifier) MarshalText() ([]byte, error) { return []byte(n.Hex()), nil }

func (n *Nullifier) UnmarshalText(text []byte) error {
	v, err := NullifierFromHex(string(text))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

func (r Root) Hex() string   { return hexutil.Encode(r[:]) }
func (r Root) Bytes() []byte { return r[:] }
func (r Root) IsZero() bool  { return r == Root{} }

func (r Root) MarshalText() ([]byte, error) { return []byte(r.Hex()), nil }

func (r *Root) UnmarshalText(text []byte) error {
	v, err := RootFromHex(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// DepositMeta records who deposited a commitment and when. It is stored
// alongside the leaf for diagnostics and audit; it never participates in
// proof verification.
type DepositMeta struct {
	Depositor common.Address `json:"depositor"`
	AssetID   AssetID        `json:"asset_id"`
	Timestamp int64          `json:"timestamp"` // Unix seconds at admission
}

// RegisteredAsset describes an asset admitted to the shielded pool.
// Each active asset is served by its own pool instance (own tree, own
// nullifier set) with a fixed per-deposit denomination.
type RegisteredAsset struct {
	ID           AssetID      `json:"id"`
	Symbol       string       `json:"symbol"`
	Denomination *hexutil.Big `json:"denomination"` // fixed deposit size, base units
	Active       bool         `json:"active"`
}
