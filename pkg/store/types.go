package store

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/umbra-labs/shieldpool-go/pkg/types"
)

// LeafRecord is one entry of the durable commitment log. Records are
// append-only and densely indexed per asset; the log replayed in index
// order reconstructs the accumulator exactly.
type LeafRecord struct {
	// AssetID selects which pool the leaf belongs to
	AssetID types.AssetID `json:"assetId"`

	// Index is the dense leaf position assigned on deposit
	Index uint32 `json:"index"`

	// Commitment is the deposited leaf value
	Commitment types.Commitment `json:"commitment"`

	// Depositor is the transparent address the deposit came from.
	// Kept for operational audit; it is never linked to a withdrawal.
	Depositor common.Address `json:"depositor"`

	// Timestamp is the unix time the deposit was admitted
	Timestamp int64 `json:"timestamp"`
}

// NullifierRecord is one entry of the durable spent set. A record is
// written exactly once, at withdrawal commit, and never removed.
type NullifierRecord struct {
	// AssetID selects which pool the nullifier was spent against
	AssetID types.AssetID `json:"assetId"`

	// NullifierHash is the published spend marker
	NullifierHash types.Nullifier `json:"nullifierHash"`

	// Recipient is the transparent address the withdrawal paid out to
	Recipient common.Address `json:"recipient"`

	// SpentAt is the unix time the withdrawal committed
	SpentAt int64 `json:"spentAt"`
}
