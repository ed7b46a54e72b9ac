// Package pool orchestrates the shielded pool state machine. Each Pool
// instance serves one asset: an append-only commitment ledger, the
// incremental Merkle tree over it, the spent-nullifier registry, and the
// proof gate, advanced in lockstep under a single writer lock.
//
// A deposit admits a commitment, assigns the next leaf index, extends the
// durable leaf log, and republishes the new root into the history window.
// A withdrawal walks the checks in order (root known, nullifier unspent,
// proof valid) and then commits as one unit: durable nullifier record,
// in-memory registry, transfer authorization, optional cross-chain
// dispatch, event. Rejection at any check leaves zero observable
// mutation. A failure that can no longer be rolled back, such as a
// storage write landing without its in-memory twin, halts the pool so no
// further state can be built on top of the inconsistency.
package pool

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/umbra-labs/shieldpool-go/pkg/assets"
	"github.com/umbra-labs/shieldpool-go/pkg/hasher"
	"github.com/umbra-labs/shieldpool-go/pkg/ledger"
	"github.com/umbra-labs/shieldpool-go/pkg/merkle"
	"github.com/umbra-labs/shieldpool-go/pkg/nullifier"
	"github.com/umbra-labs/shieldpool-go/pkg/store"
	"github.com/umbra-labs/shieldpool-go/pkg/types"
	"github.com/umbra-labs/shieldpool-go/pkg/zkp"
)

// Config assembles one pool. Asset, Store, and Logger are required;
// Backend, Router, and Sink default to the logging implementations;
// Verifier may stay nil until a verifying key is installed.
type Config struct {
	Asset       *types.RegisteredAsset
	Depth       int // 0 means merkle.DefaultDepth
	HistorySize int // 0 means merkle.DefaultHistorySize
	Store       store.IPoolStore
	Verifier    Verifier
	Backend     TransferBackend
	Router      Router
	Sink        EventSink
	Logger      *zap.Logger
}

// Pool is the state machine for one asset.
type Pool struct {
	asset        *types.RegisteredAsset
	denomination *big.Int
	st           store.IPoolStore
	log          *ledger.Ledger
	tree         *merkle.Tree
	spent        *nullifier.Registry
	backend      TransferBackend
	router       Router
	sink         EventSink
	logger       *zap.SugaredLogger

	mu        sync.RWMutex
	verifier  Verifier
	haltCause error
}

// DepositReceipt reports an admitted deposit.
type DepositReceipt struct {
	LeafIndex uint32
	NewRoot   types.Root
}

// WithdrawReceipt reports a committed withdrawal.
type WithdrawReceipt struct {
	NullifierHash types.Nullifier
	Recipient     common.Address
	Amount        *big.Int // released to the recipient
	Fee           *big.Int
	Refund        *big.Int
}

// New builds a pool and recovers its state by replaying the asset's
// durable leaf log and spent set. The replay regenerates the exact root
// sequence, so the last roots land back in the history window. A gap or
// duplicate in the log is a fatal error, not a halt: the pool never
// starts on top of a corrupt log.
func New(cfg *Config) (*Pool, error) {
	if cfg == nil {
		return nil, errors.New("pool config cannot be nil")
	}
	if err := assets.Validate(cfg.Asset); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, errors.New("pool store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("pool logger cannot be nil")
	}

	depth := cfg.Depth
	if depth == 0 {
		depth = merkle.DefaultDepth
	}
	historySize := cfg.HistorySize
	if historySize == 0 {
		historySize = merkle.DefaultHistorySize
	}

	tree, err := merkle.NewTree(depth, historySize)
	if err != nil {
		return nil, err
	}

	backend := cfg.Backend
	if backend == nil {
		backend = NewLogTransferBackend(cfg.Logger)
	}
	router := cfg.Router
	if router == nil {
		router = NewLogRouter(cfg.Logger)
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NewLogEventSink(cfg.Logger)
	}

	assetCopy := *cfg.Asset
	assetCopy.Denomination = (*hexutil.Big)(new(big.Int).Set(cfg.Asset.Denomination.ToInt()))

	p := &Pool{
		asset:        &assetCopy,
		denomination: assetCopy.Denomination.ToInt(),
		st:           cfg.Store,
		log:          ledger.New(),
		tree:         tree,
		spent:        nullifier.New(),
		verifier:     cfg.Verifier,
		backend:      backend,
		router:       router,
		sink:         sink,
		logger:       cfg.Logger.Sugar(),
	}

	if err := p.replay(); err != nil {
		return nil, errors.Wrapf(err, "recover asset %d (%s)", assetCopy.ID, assetCopy.Symbol)
	}

	return p, nil
}

// replay rebuilds ledger, tree, and spent set from the store.
func (p *Pool) replay() error {
	leaves, err := p.st.Leaves(p.asset.ID)
	if err != nil {
		return errors.Wrap(err, "read leaf log")
	}

	for i, rec := range leaves {
		if rec.Index != uint32(i) {
			return errors.Errorf("leaf log gap: position %d holds index %d", i, rec.Index)
		}
		index, err := p.log.Append([32]byte(rec.Commitment))
		if err != nil {
			return errors.Wrapf(err, "replay leaf %d", i)
		}
		if _, err := p.tree.Insert(index, [32]byte(rec.Commitment)); err != nil {
			return errors.Wrapf(err, "replay leaf %d", i)
		}
	}

	spent, err := p.st.Nullifiers(p.asset.ID)
	if err != nil {
		return errors.Wrap(err, "read spent set")
	}
	for _, rec := range spent {
		if err := p.spent.MarkSpent([32]byte(rec.NullifierHash), rec.SpentAt); err != nil {
			return errors.Wrapf(err, "replay nullifier %s", rec.NullifierHash.Hex())
		}
	}

	root := p.tree.Root()
	p.logger.Infow("Pool recovered",
		"asset_id", p.asset.ID,
		"symbol", p.asset.Symbol,
		"leaves", len(leaves),
		"spent", len(spent),
		"root", hexutil.Encode(root[:]))
	return nil
}

// Deposit admits a commitment: durable log append first, then ledger and
// tree. The new root is published into the history window.
func (p *Pool) Deposit(commitment types.Commitment, depositor common.Address) (*DepositReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haltCause != nil {
		return nil, p.haltedErr()
	}

	if err := hasher.CheckCanonical([32]byte(commitment)); err != nil {
		return nil, errors.Wrapf(err, "commitment %s", commitment.Hex())
	}
	if p.log.Count() >= p.tree.Capacity() {
		return nil, errors.Wrapf(ErrPoolFull, "asset %d holds %d leaves", p.asset.ID, p.tree.Capacity())
	}
	if p.log.Contains([32]byte(commitment)) {
		return nil, errors.Wrapf(ledger.ErrCommitmentExists, "commitment %s", commitment.Hex())
	}

	index := p.log.Count()
	now := time.Now().Unix()

	err := p.st.AppendLeaf(&store.LeafRecord{
		AssetID:    p.asset.ID,
		Index:      index,
		Commitment: commitment,
		Depositor:  depositor,
		Timestamp:  now,
	})
	if err != nil {
		if errors.Is(err, store.ErrLeafIndexConflict) {
			// The durable log disagrees with the in-memory count.
			return nil, p.halt(err)
		}
		// Clean storage failure before any in-memory mutation.
		return nil, errors.Wrap(err, "append leaf")
	}

	if _, err := p.log.Append([32]byte(commitment)); err != nil {
		return nil, p.halt(errors.Wrap(err, "ledger append after durable write"))
	}
	root, err := p.tree.Insert(index, [32]byte(commitment))
	if err != nil {
		return nil, p.halt(errors.Wrap(err, "tree insert after durable write"))
	}

	p.sink.DepositAdmitted(&types.DepositEvent{
		AssetID:    p.asset.ID,
		Commitment: commitment,
		LeafIndex:  index,
		NewRoot:    types.Root(root),
		Depositor:  depositor,
		Timestamp:  now,
	})
	p.logger.Infow("Deposit admitted",
		"asset_id", p.asset.ID,
		"leaf_index", index,
		"root", hexutil.Encode(root[:]))

	return &DepositReceipt{LeafIndex: index, NewRoot: types.Root(root)}, nil
}

// Withdraw runs the withdrawal state machine: root check, nullifier
// check, proof verification, then the all-or-nothing commit. The checks
// reject with zero mutation; once the durable nullifier record is
// written, any later failure halts the pool instead of unwinding.
func (p *Pool) Withdraw(proof []byte, inputs *zkp.PublicInputs) (*WithdrawReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haltCause != nil {
		return nil, p.haltedErr()
	}
	if p.verifier == nil {
		return nil, ErrVerifyingKeyMissing
	}
	if inputs == nil {
		return nil, errors.Wrap(zkp.ErrMalformedPublicInputs, "nil public inputs")
	}
	if err := inputs.Validate(); err != nil {
		return nil, err
	}
	// The denomination bounds the fee; a larger fee cannot be paid out.
	if inputs.Fee.Cmp(p.denomination) > 0 {
		return nil, errors.Wrapf(zkp.ErrMalformedPublicInputs,
			"fee %s exceeds denomination %s", inputs.Fee, p.denomination)
	}

	if !p.tree.IsKnownRoot(inputs.Root) {
		return nil, errors.Wrapf(ErrInvalidRoot, "root %s", hexutil.Encode(inputs.Root[:]))
	}
	if p.spent.IsSpent(inputs.NullifierHash) {
		return nil, errors.Wrapf(ErrNullifierSpent, "nullifier %s", hexutil.Encode(inputs.NullifierHash[:]))
	}
	if err := p.verifier.Verify(proof, inputs); err != nil {
		return nil, err
	}

	// Commit. The durable record leads; everything after it must succeed.
	now := time.Now().Unix()
	nh := types.Nullifier(inputs.NullifierHash)

	err := p.st.PutNullifier(&store.NullifierRecord{
		AssetID:       p.asset.ID,
		NullifierHash: nh,
		Recipient:     inputs.Recipient,
		SpentAt:       now,
	})
	if err != nil {
		if errors.Is(err, store.ErrNullifierExists) {
			// The registry said unspent but the durable set disagrees.
			return nil, p.halt(err)
		}
		return nil, errors.Wrap(err, "record nullifier")
	}

	if err := p.spent.MarkSpent(inputs.NullifierHash, now); err != nil {
		return nil, p.halt(errors.Wrap(err, "registry insert after durable write"))
	}

	amount := new(big.Int).Sub(p.denomination, inputs.Fee)
	if err := p.backend.Release(p.asset.ID, inputs.Recipient, amount, inputs.Relayer, inputs.Fee, inputs.Refund); err != nil {
		return nil, p.halt(errors.Wrap(err, "transfer release after durable spend"))
	}
	if inputs.HasDestination() {
		if err := p.router.Dispatch(p.asset.ID, common.Hash(inputs.DestChainHash), inputs.Recipient, amount); err != nil {
			return nil, p.halt(errors.Wrap(err, "cross-chain dispatch after durable spend"))
		}
	}

	p.sink.WithdrawalCommitted(&types.WithdrawalEvent{
		AssetID:       p.asset.ID,
		NullifierHash: nh,
		Recipient:     inputs.Recipient,
		Relayer:       inputs.Relayer,
		Amount:        amount,
		Fee:           new(big.Int).Set(inputs.Fee),
		Refund:        new(big.Int).Set(inputs.Refund),
		Root:          types.Root(inputs.Root),
		DestChainHash: common.Hash(inputs.DestChainHash),
		Timestamp:     now,
	})
	p.logger.Infow("Withdrawal committed",
		"asset_id", p.asset.ID,
		"nullifier", nh.Hex(),
		"recipient", inputs.Recipient.Hex(),
		"amount", amount.String())

	return &WithdrawReceipt{
		NullifierHash: nh,
		Recipient:     inputs.Recipient,
		Amount:        amount,
		Fee:           new(big.Int).Set(inputs.Fee),
		Refund:        new(big.Int).Set(inputs.Refund),
	}, nil
}

// halt poisons the pool. Callers receive ErrHalted wrapping the cause,
// as does every operation that follows. Recovery is a restart: replay
// rebuilds memory from the durable log, which remains the truth.
func (p *Pool) halt(cause error) error {
	p.haltCause = cause
	p.logger.Errorw("Pool halted on invariant violation",
		"asset_id", p.asset.ID,
		"symbol", p.asset.Symbol,
		"cause", cause)
	return p.haltedErr()
}

func (p *Pool) haltedErr() error {
	return fmt.Errorf("%w: %w", ErrHalted, p.haltCause)
}

// Halted returns the halt cause, or nil while the pool is serving.
func (p *Pool) Halted() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.haltCause
}

// Root returns the current root.
func (p *Pool) Root() types.Root {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return types.Root(p.tree.Root())
}

// History returns the retained roots, oldest first.
func (p *Pool) History() []types.Root {
	p.mu.RLock()
	defer p.mu.RUnlock()

	raw := p.tree.History()
	out := make([]types.Root, len(raw))
	for i, r := range raw {
		out[i] = types.Root(r)
	}
	return out
}

// IsKnownRoot reports whether a root is inside the history window.
func (p *Pool) IsKnownRoot(root types.Root) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tree.IsKnownRoot([32]byte(root))
}

// IsSpent reports whether a nullifier hash has been recorded.
func (p *Pool) IsSpent(nullifierHash types.Nullifier) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.spent.IsSpent([32]byte(nullifierHash))
}

// Path returns the membership path for an existing leaf, for provers.
func (p *Pool) Path(index uint32) (*merkle.Path, types.Root, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	path, err := p.tree.Path(index)
	if err != nil {
		return nil, types.Root{}, err
	}
	return path, types.Root(p.tree.Root()), nil
}

// LeafCount returns the number of admitted deposits.
func (p *Pool) LeafCount() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tree.LeafCount()
}

// Asset returns a copy of the asset this pool serves.
func (p *Pool) Asset() *types.RegisteredAsset {
	cp := *p.asset
	cp.Denomination = (*hexutil.Big)(new(big.Int).Set(p.denomination))
	return &cp
}

// setVerifier installs the proof gate. Called by the service when the
// verifying key arrives after pool construction.
func (p *Pool) setVerifier(v Verifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifier = v
}
