package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/umbra-labs/shieldpool-go/pkg/types"
	"github.com/umbra-labs/shieldpool-go/pkg/zkp"
)

// Verifier is the proof gate the orchestrator consults before a commit.
// Satisfied by zkp.Gate; tests substitute a stub.
type Verifier interface {
	Verify(proof []byte, inputs *zkp.PublicInputs) error
}

// TransferBackend authorizes the asset release that follows a committed
// withdrawal: denomination minus fee to the recipient, fee to the relayer,
// refund passed through as a gas rebate. Implementations integrate with
// the custody layer; the pool only records the authorization.
type TransferBackend interface {
	Release(assetID types.AssetID, recipient common.Address, amount *big.Int, relayer common.Address, fee *big.Int, refund *big.Int) error
}

// Router delivers the cross-chain transfer instruction for withdrawals
// that carry a destination chain hash.
type Router interface {
	Dispatch(assetID types.AssetID, destChainHash common.Hash, recipient common.Address, amount *big.Int) error
}

// EventSink receives pool lifecycle events after they commit.
type EventSink interface {
	DepositAdmitted(e *types.DepositEvent)
	WithdrawalCommitted(e *types.WithdrawalEvent)
}

// LogTransferBackend writes transfer authorizations to the log and
// nothing else. It stands in for the custody integration on development
// nodes and in tests.
type LogTransferBackend struct {
	logger *zap.SugaredLogger
}

func NewLogTransferBackend(logger *zap.Logger) *LogTransferBackend {
	return &LogTransferBackend{logger: logger.Sugar()}
}

func (b *LogTransferBackend) Release(assetID types.AssetID, recipient common.Address, amount *big.Int, relayer common.Address, fee *big.Int, refund *big.Int) error {
	b.logger.Infow("Transfer authorized",
		"asset_id", assetID,
		"recipient", recipient.Hex(),
		"amount", amount.String(),
		"relayer", relayer.Hex(),
		"fee", fee.String(),
		"refund", refund.String())
	return nil
}

// LogRouter logs cross-chain dispatch instructions instead of sending
// them anywhere.
type LogRouter struct {
	logger *zap.SugaredLogger
}

func NewLogRouter(logger *zap.Logger) *LogRouter {
	return &LogRouter{logger: logger.Sugar()}
}

func (r *LogRouter) Dispatch(assetID types.AssetID, destChainHash common.Hash, recipient common.Address, amount *big.Int) error {
	r.logger.Infow("Cross-chain transfer dispatched",
		"asset_id", assetID,
		"dest_chain_hash", destChainHash.Hex(),
		"recipient", recipient.Hex(),
		"amount", amount.String())
	return nil
}

// LogEventSink logs events. Production deployments replace it with a
// publisher feeding indexers and relayers.
type LogEventSink struct {
	logger *zap.SugaredLogger
}

func NewLogEventSink(logger *zap.Logger) *LogEventSink {
	return &LogEventSink{logger: logger.Sugar()}
}

func (s *LogEventSink) DepositAdmitted(e *types.DepositEvent) {
	s.logger.Infow("Deposit event",
		"asset_id", e.AssetID,
		"commitment", e.Commitment.Hex(),
		"leaf_index", e.LeafIndex,
		"new_root", e.NewRoot.Hex())
}

func (s *LogEventSink) WithdrawalCommitted(e *types.WithdrawalEvent) {
	s.logger.Infow("Withdrawal event",
		"asset_id", e.AssetID,
		"nullifier_hash", e.NullifierHash.Hex(),
		"recipient", e.Recipient.Hex(),
		"amount", e.Amount.String(),
		"fee", e.Fee.String())
}
