package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Wire types for the HTTP API. Field-element values travel as 0x-prefixed
// 32-byte hex; amounts as 0x-prefixed big integers; proofs as hex blobs.

// DepositRequestV1 admits a commitment into an asset's pool.
type DepositRequestV1 struct {
	AssetID    AssetID        `json:"asset_id"`
	Commitment Commitment     `json:"commitment"`
	Depositor  common.Address `json:"depositor"`
}

// DepositResponseV1 reports the assigned leaf and the republished root.
type DepositResponseV1 struct {
	RequestID string `json:"request_id"`
	LeafIndex uint32 `json:"leaf_index"`
	NewRoot   Root   `json:"new_root"`
}

// WithdrawRequestV1 carries a proof plus the public inputs it is bound to.
// DestChainHash is omitted for a local withdrawal.
type WithdrawRequestV1 struct {
	AssetID       AssetID        `json:"asset_id"`
	Proof         hexutil.Bytes  `json:"proof"`
	Root          Root           `json:"root"`
	NullifierHash Nullifier      `json:"nullifier_hash"`
	Recipient     common.Address `json:"recipient"`
	Fee           *hexutil.Big   `json:"fee"`
	Refund        *hexutil.Big   `json:"refund"`
	Relayer       common.Address `json:"relayer"`
	DestChainHash *common.Hash   `json:"dest_chain_hash,omitempty"`
}

// WithdrawResponseV1 reports the committed withdrawal.
type WithdrawResponseV1 struct {
	RequestID     string         `json:"request_id"`
	NullifierHash Nullifier      `json:"nullifier_hash"`
	Recipient     common.Address `json:"recipient"`
	Amount        *hexutil.Big   `json:"amount"`
	Fee           *hexutil.Big   `json:"fee"`
	Refund        *hexutil.Big   `json:"refund"`
}

// RootResponseV1 is the current root of one asset's tree.
type RootResponseV1 struct {
	AssetID   AssetID `json:"asset_id"`
	Root      Root    `json:"root"`
	LeafCount uint32  `json:"leaf_count"`
}

// RootsResponseV1 is the retained root history, oldest first.
type RootsResponseV1 struct {
	AssetID AssetID `json:"asset_id"`
	Roots   []Root  `json:"roots"`
}

// SpentResponseV1 answers a nullifier freshness query.
type SpentResponseV1 struct {
	AssetID       AssetID   `json:"asset_id"`
	NullifierHash Nullifier `json:"nullifier_hash"`
	Spent         bool      `json:"spent"`
}

// PathResponseV1 is the Merkle path for one leaf, used by provers.
// Bits[i] is 1 when the leaf's ancestor at level i sits on the right.
type PathResponseV1 struct {
	AssetID   AssetID         `json:"asset_id"`
	LeafIndex uint32          `json:"leaf_index"`
	Root      Root            `json:"root"`
	Siblings  []hexutil.Bytes `json:"siblings"`
	Bits      []uint8         `json:"bits"`
}

// AssetsResponseV1 lists registered assets.
type AssetsResponseV1 struct {
	Assets []*RegisteredAsset `json:"assets"`
}

// RegisterAssetRequestV1 registers a new asset (admin).
type RegisterAssetRequestV1 struct {
	Symbol       string       `json:"symbol"`
	Denomination *hexutil.Big `json:"denomination"`
}

// RegisterAssetResponseV1 reports the assigned asset ID.
type RegisterAssetResponseV1 struct {
	ID AssetID `json:"id"`
}

// InstallVerifyingKeyRequestV1 installs the Groth16 verifying key (admin,
// one-time).
type InstallVerifyingKeyRequestV1 struct {
	VerifyingKey hexutil.Bytes `json:"verifying_key"`
}

// ErrorResponseV1 is the JSON error envelope. Code is a stable machine
// string from the error taxonomy.
type ErrorResponseV1 struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
