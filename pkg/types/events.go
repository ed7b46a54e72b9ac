package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DepositEvent is emitted after a commitment has been admitted, inserted
// into the tree, and durably recorded.
type DepositEvent struct {
	AssetID    AssetID
	Commitment Commitment
	LeafIndex  uint32
	NewRoot    Root
	Depositor  common.Address
	Timestamp  int64
}

// WithdrawalEvent is emitted after a withdrawal has committed. It carries
// the nullifier hash and the amount-bearing public inputs, never the
// spending secrets.
type WithdrawalEvent struct {
	AssetID       AssetID
	NullifierHash Nullifier
	Recipient     common.Address
	Relayer       common.Address
	Amount        *big.Int // denomination minus fee, released to recipient
	Fee           *big.Int
	Refund        *big.Int
	Root          Root
	DestChainHash common.Hash // zero when the withdrawal stays local
	Timestamp     int64
}
