package pool

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/umbra-labs/shieldpool-go/pkg/hasher"
	"github.com/umbra-labs/shieldpool-go/pkg/ledger"
	"github.com/umbra-labs/shieldpool-go/pkg/logger"
	"github.com/umbra-labs/shieldpool-go/pkg/merkle"
	"github.com/umbra-labs/shieldpool-go/pkg/store"
	"github.com/umbra-labs/shieldpool-go/pkg/store/memory"
	"github.com/umbra-labs/shieldpool-go/pkg/types"
	"github.com/umbra-labs/shieldpool-go/pkg/zkp"
)

const testDenomination = 1000000

var (
	testDepositor = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testRecipient = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testRelayer   = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// stubVerifier accepts or rejects every proof without cryptography.
type stubVerifier struct {
	err   error
	calls int
}

func (v *stubVerifier) Verify(proof []byte, inputs *zkp.PublicInputs) error {
	v.calls++
	return v.err
}

// failingBackend simulates a custody layer outage.
type failingBackend struct {
	err error
}

func (b *failingBackend) Release(assetID types.AssetID, recipient common.Address, amount *big.Int, relayer common.Address, fee *big.Int, refund *big.Int) error {
	return b.err
}

// captureSink records emitted events for assertions.
type captureSink struct {
	deposits    []*types.DepositEvent
	withdrawals []*types.WithdrawalEvent
}

func (s *captureSink) DepositAdmitted(e *types.DepositEvent)       { s.deposits = append(s.deposits, e) }
func (s *captureSink) WithdrawalCommitted(e *types.WithdrawalEvent) { s.withdrawals = append(s.withdrawals, e) }

func testAssetDef() *types.RegisteredAsset {
	return &types.RegisteredAsset{
		ID:           1,
		Symbol:       "AST",
		Denomination: (*hexutil.Big)(big.NewInt(testDenomination)),
		Active:       true,
	}
}

func testCommitment(fill byte) types.Commitment {
	var c types.Commitment
	c[31] = fill
	return c
}

func testNullifierHash(fill byte) [32]byte {
	var n [32]byte
	n[31] = fill
	return n
}

// newTestPool builds a pool at a small depth on a fresh memory store.
func newTestPool(t *testing.T, depth int, fns ...func(*Config)) (*Pool, *memory.MemoryStore, *captureSink) {
	t.Helper()

	st := memory.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	sink := &captureSink{}
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := &Config{
		Asset:    testAssetDef(),
		Depth:    depth,
		Store:    st,
		Verifier: &stubVerifier{},
		Sink:     sink,
		Logger:   testLogger,
	}
	for _, fn := range fns {
		fn(cfg)
	}

	p, err := New(cfg)
	require.NoError(t, err)
	return p, st, sink
}

// testInputs builds a valid statement for the stub verifier.
func testInputs(t *testing.T, root types.Root, nullifierHash [32]byte, fee int64) *zkp.PublicInputs {
	t.Helper()

	inputs, err := zkp.NewPublicInputs([32]byte(root), nullifierHash, testRecipient,
		big.NewInt(fee), nil, testRelayer, nil)
	require.NoError(t, err)
	return inputs
}

// TestNewValidation checks constructor guardrails.
func TestNewValidation(t *testing.T) {
	st := memory.NewMemoryStore()
	defer func() { _ = st.Close() }()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	_, err := New(nil)
	require.Error(t, err)

	_, err = New(&Config{Asset: nil, Store: st, Logger: testLogger})
	require.Error(t, err)

	_, err = New(&Config{Asset: testAssetDef(), Store: nil, Logger: testLogger})
	require.Error(t, err)

	_, err = New(&Config{Asset: testAssetDef(), Store: st, Logger: nil})
	require.Error(t, err)
}

// TestDepositAssignsDenseIndices verifies admission order, receipts, the
// durable log, and emitted events.
func TestDepositAssignsDenseIndices(t *testing.T) {
	p, st, sink := newTestPool(t, 4)

	var lastRoot types.Root
	for i := byte(1); i <= 3; i++ {
		receipt, err := p.Deposit(testCommitment(i), testDepositor)
		require.NoError(t, err)
		require.Equal(t, uint32(i-1), receipt.LeafIndex)
		require.NotEqual(t, lastRoot, receipt.NewRoot)
		lastRoot = receipt.NewRoot
	}

	require.Equal(t, uint32(3), p.LeafCount())
	require.Equal(t, lastRoot, p.Root())

	leaves, err := st.Leaves(1)
	require.NoError(t, err)
	require.Len(t, leaves, 3)
	for i, leaf := range leaves {
		require.Equal(t, uint32(i), leaf.Index)
		require.Equal(t, testDepositor, leaf.Depositor)
	}

	require.Len(t, sink.deposits, 3)
	require.Equal(t, lastRoot, sink.deposits[2].NewRoot)
}

// TestDepositRejectsDuplicateCommitment verifies an exact duplicate is
// rejected without consuming an index.
func TestDepositRejectsDuplicateCommitment(t *testing.T) {
	p, st, _ := newTestPool(t, 4)

	_, err := p.Deposit(testCommitment(7), testDepositor)
	require.NoError(t, err)

	_, err = p.Deposit(testCommitment(7), testDepositor)
	require.ErrorIs(t, err, ledger.ErrCommitmentExists)

	require.Equal(t, uint32(1), p.LeafCount())
	count, err := st.LeafCount(1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), count)
}

// TestDepositRejectsNonCanonicalCommitment verifies a value at or above
// the field modulus never enters the pool.
func TestDepositRejectsNonCanonicalCommitment(t *testing.T) {
	p, _, _ := newTestPool(t, 4)

	var bad types.Commitment
	fr.Modulus().FillBytes(bad[:])

	_, err := p.Deposit(bad, testDepositor)
	require.ErrorIs(t, err, hasher.ErrNonCanonical)
	require.Equal(t, uint32(0), p.LeafCount())
}

// TestDepositPoolFull verifies the capacity edge at 2^depth.
func TestDepositPoolFull(t *testing.T) {
	p, st, _ := newTestPool(t, 2)

	for i := byte(1); i <= 4; i++ {
		_, err := p.Deposit(testCommitment(i), testDepositor)
		require.NoError(t, err)
	}

	_, err := p.Deposit(testCommitment(5), testDepositor)
	require.ErrorIs(t, err, ErrPoolFull)

	require.Equal(t, uint32(4), p.LeafCount())
	count, err := st.LeafCount(1)
	require.NoError(t, err)
	require.Equal(t, uint32(4), count)
}

// TestWithdrawHappyPath verifies the full commit: durable record,
// registry, receipt amounts, and the event.
func TestWithdrawHappyPath(t *testing.T) {
	verifier := &stubVerifier{}
	p, st, sink := newTestPool(t, 4, func(cfg *Config) { cfg.Verifier = verifier })

	_, err := p.Deposit(testCommitment(1), testDepositor)
	require.NoError(t, err)

	nh := testNullifierHash(0xa1)
	inputs := testInputs(t, p.Root(), nh, 1000)

	receipt, err := p.Withdraw([]byte("proof"), inputs)
	require.NoError(t, err)
	require.Equal(t, 1, verifier.calls)
	require.Equal(t, testRecipient, receipt.Recipient)
	require.Equal(t, int64(testDenomination-1000), receipt.Amount.Int64())
	require.Equal(t, int64(1000), receipt.Fee.Int64())

	require.True(t, p.IsSpent(types.Nullifier(nh)))
	spent, err := st.HasNullifier(1, types.Nullifier(nh))
	require.NoError(t, err)
	require.True(t, spent)

	require.Len(t, sink.withdrawals, 1)
	require.Equal(t, int64(testDenomination-1000), sink.withdrawals[0].Amount.Int64())
	require.Equal(t, types.Nullifier(nh), sink.withdrawals[0].NullifierHash)
}

// TestWithdrawRejectsUnknownRoot verifies the root check runs before any
// proof work.
func TestWithdrawRejectsUnknownRoot(t *testing.T) {
	verifier := &stubVerifier{}
	p, _, _ := newTestPool(t, 4, func(cfg *Config) { cfg.Verifier = verifier })

	_, err := p.Deposit(testCommitment(1), testDepositor)
	require.NoError(t, err)

	inputs := testInputs(t, types.Root(testCommitment(0x5f)), testNullifierHash(0xa2), 0)

	_, err = p.Withdraw([]byte("proof"), inputs)
	require.ErrorIs(t, err, ErrInvalidRoot)
	require.Equal(t, 0, verifier.calls)
}

// TestWithdrawRejectsDoubleSpend verifies the nullifier check runs
// before the proof and the spent set keeps its first record.
func TestWithdrawRejectsDoubleSpend(t *testing.T) {
	verifier := &stubVerifier{}
	p, _, sink := newTestPool(t, 4, func(cfg *Config) { cfg.Verifier = verifier })

	_, err := p.Deposit(testCommitment(1), testDepositor)
	require.NoError(t, err)

	nh := testNullifierHash(0xa3)
	inputs := testInputs(t, p.Root(), nh, 0)

	_, err = p.Withdraw([]byte("proof"), inputs)
	require.NoError(t, err)
	require.Equal(t, 1, verifier.calls)

	_, err = p.Withdraw([]byte("proof"), inputs)
	require.ErrorIs(t, err, ErrNullifierSpent)
	require.Equal(t, 1, verifier.calls)
	require.Len(t, sink.withdrawals, 1)
}

// TestWithdrawFeeBound verifies a fee above the denomination is
// malformed input, rejected before the proof.
func TestWithdrawFeeBound(t *testing.T) {
	verifier := &stubVerifier{}
	p, _, _ := newTestPool(t, 4, func(cfg *Config) { cfg.Verifier = verifier })

	_, err := p.Deposit(testCommitment(1), testDepositor)
	require.NoError(t, err)

	inputs := testInputs(t, p.Root(), testNullifierHash(0xa4), testDenomination+1)

	_, err = p.Withdraw([]byte("proof"), inputs)
	require.ErrorIs(t, err, zkp.ErrMalformedPublicInputs)
	require.Equal(t, 0, verifier.calls)

	// A fee equal to the denomination is allowed; everything goes to
	// the relayer.
	inputs = testInputs(t, p.Root(), testNullifierHash(0xa4), testDenomination)
	receipt, err := p.Withdraw([]byte("proof"), inputs)
	require.NoError(t, err)
	require.Equal(t, int64(0), receipt.Amount.Int64())
}

// TestWithdrawWithoutVerifier verifies withdrawals are refused until a
// verifying key is installed.
func TestWithdrawWithoutVerifier(t *testing.T) {
	p, _, _ := newTestPool(t, 4, func(cfg *Config) { cfg.Verifier = nil })

	_, err := p.Deposit(testCommitment(1), testDepositor)
	require.NoError(t, err)

	inputs := testInputs(t, p.Root(), testNullifierHash(0xa5), 0)

	_, err = p.Withdraw([]byte("proof"), inputs)
	require.ErrorIs(t, err, ErrVerifyingKeyMissing)
}

// TestWithdrawNilInputs verifies a nil statement is malformed input.
func TestWithdrawNilInputs(t *testing.T) {
	p, _, _ := newTestPool(t, 4)

	_, err := p.Withdraw([]byte("proof"), nil)
	require.ErrorIs(t, err, zkp.ErrMalformedPublicInputs)
}

// TestWithdrawProofFailureLeavesNoTrace verifies a failed verification
// mutates nothing.
func TestWithdrawProofFailureLeavesNoTrace(t *testing.T) {
	verifier := &stubVerifier{err: zkp.ErrProofVerificationFailed}
	p, st, sink := newTestPool(t, 4, func(cfg *Config) { cfg.Verifier = verifier })

	_, err := p.Deposit(testCommitment(1), testDepositor)
	require.NoError(t, err)

	nh := testNullifierHash(0xa6)
	inputs := testInputs(t, p.Root(), nh, 0)

	_, err = p.Withdraw([]byte("proof"), inputs)
	require.ErrorIs(t, err, zkp.ErrProofVerificationFailed)

	require.False(t, p.IsSpent(types.Nullifier(nh)))
	spent, err := st.HasNullifier(1, types.Nullifier(nh))
	require.NoError(t, err)
	require.False(t, spent)
	require.Empty(t, sink.withdrawals)
	require.NoError(t, p.Halted())
}

// TestHaltOnReleaseFailure verifies that a transfer failure after the
// durable spend freezes the pool instead of unwinding.
func TestHaltOnReleaseFailure(t *testing.T) {
	backendErr := errors.New("custody unreachable")
	p, st, _ := newTestPool(t, 4, func(cfg *Config) {
		cfg.Backend = &failingBackend{err: backendErr}
	})

	_, err := p.Deposit(testCommitment(1), testDepositor)
	require.NoError(t, err)

	nh := testNullifierHash(0xa7)
	inputs := testInputs(t, p.Root(), nh, 0)

	_, err = p.Withdraw([]byte("proof"), inputs)
	require.ErrorIs(t, err, ErrHalted)
	require.Error(t, p.Halted())

	// The durable record stands; a replayed node refuses the nullifier.
	spent, err := st.HasNullifier(1, types.Nullifier(nh))
	require.NoError(t, err)
	require.True(t, spent)

	// Every mutating operation now fails fast with the cause attached.
	_, err = p.Deposit(testCommitment(2), testDepositor)
	require.ErrorIs(t, err, ErrHalted)
	require.ErrorContains(t, err, "custody unreachable")

	_, err = p.Withdraw([]byte("proof"), testInputs(t, p.Root(), testNullifierHash(0xa8), 0))
	require.ErrorIs(t, err, ErrHalted)
}

// TestHaltOnStoreConflict verifies a durable log that diverged from
// memory halts the pool on the next deposit.
func TestHaltOnStoreConflict(t *testing.T) {
	p, st, _ := newTestPool(t, 4)

	// Slip a foreign record into the durable log behind the pool's back.
	err := st.AppendLeaf(&store.LeafRecord{
		AssetID:    1,
		Index:      0,
		Commitment: testCommitment(9),
		Depositor:  testDepositor,
		Timestamp:  1,
	})
	require.NoError(t, err)

	_, err = p.Deposit(testCommitment(1), testDepositor)
	require.ErrorIs(t, err, ErrHalted)
	require.ErrorIs(t, err, store.ErrLeafIndexConflict)

	_, err = p.Deposit(testCommitment(2), testDepositor)
	require.ErrorIs(t, err, ErrHalted)
}

// TestReplayRecovery verifies a fresh pool rebuilt from the store lands
// on the same root sequence and spent set.
func TestReplayRecovery(t *testing.T) {
	p, st, _ := newTestPool(t, 4)

	for i := byte(1); i <= 5; i++ {
		_, err := p.Deposit(testCommitment(i), testDepositor)
		require.NoError(t, err)
	}
	nh := testNullifierHash(0xb1)
	_, err := p.Withdraw([]byte("proof"), testInputs(t, p.Root(), nh, 0))
	require.NoError(t, err)

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	recovered, err := New(&Config{
		Asset:    testAssetDef(),
		Depth:    4,
		Store:    st,
		Verifier: &stubVerifier{},
		Logger:   testLogger,
	})
	require.NoError(t, err)

	require.Equal(t, p.Root(), recovered.Root())
	require.Equal(t, p.History(), recovered.History())
	require.Equal(t, p.LeafCount(), recovered.LeafCount())
	require.True(t, recovered.IsSpent(types.Nullifier(nh)))

	// A proof generated against the pre-restart root still redeems.
	require.True(t, recovered.IsKnownRoot(p.Root()))

	// And the recovered pool extends the log from the right index.
	receipt, err := recovered.Deposit(testCommitment(6), testDepositor)
	require.NoError(t, err)
	require.Equal(t, uint32(5), receipt.LeafIndex)
}

// TestReplayRejectsCorruptLog verifies construction fails on a gapped
// leaf log instead of serving from it.
func TestReplayRejectsCorruptLog(t *testing.T) {
	st := memory.NewMemoryStore()
	defer func() { _ = st.Close() }()

	// Index 0 then 1, with 1 holding a duplicate commitment: replay must
	// refuse the duplicate.
	err := st.AppendLeaf(&store.LeafRecord{AssetID: 1, Index: 0, Commitment: testCommitment(1), Timestamp: 1})
	require.NoError(t, err)
	err = st.AppendLeaf(&store.LeafRecord{AssetID: 1, Index: 1, Commitment: testCommitment(1), Timestamp: 2})
	require.NoError(t, err)

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	_, err = New(&Config{
		Asset:  testAssetDef(),
		Depth:  4,
		Store:  st,
		Logger: testLogger,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ledger.ErrCommitmentExists)
}

// TestPathServesProvers verifies served paths recompute the current root.
func TestPathServesProvers(t *testing.T) {
	p, _, _ := newTestPool(t, 4)

	for i := byte(1); i <= 3; i++ {
		_, err := p.Deposit(testCommitment(i), testDepositor)
		require.NoError(t, err)
	}

	path, root, err := p.Path(1)
	require.NoError(t, err)
	require.Equal(t, p.Root(), root)
	require.True(t, merkle.VerifyPath(path, [32]byte(root)))

	_, _, err = p.Path(5)
	require.ErrorIs(t, err, merkle.ErrLeafOutOfRange)
}

// TestRootWindowExpiry verifies a root ages out after historySize
// further deposits.
func TestRootWindowExpiry(t *testing.T) {
	p, _, _ := newTestPool(t, 4, func(cfg *Config) { cfg.HistorySize = 3 })

	receipt, err := p.Deposit(testCommitment(1), testDepositor)
	require.NoError(t, err)
	oldRoot := receipt.NewRoot

	// Two more deposits keep it inside the window of three.
	for i := byte(2); i <= 3; i++ {
		_, err := p.Deposit(testCommitment(i), testDepositor)
		require.NoError(t, err)
	}
	require.True(t, p.IsKnownRoot(oldRoot))

	// One more evicts it.
	_, err = p.Deposit(testCommitment(4), testDepositor)
	require.NoError(t, err)
	require.False(t, p.IsKnownRoot(oldRoot))

	inputs := testInputs(t, oldRoot, testNullifierHash(0xc1), 0)
	_, err = p.Withdraw([]byte("proof"), inputs)
	require.ErrorIs(t, err, ErrInvalidRoot)
}
