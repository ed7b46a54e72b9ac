package pool

import (
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/umbra-labs/shieldpool-go/pkg/assets"
	"github.com/umbra-labs/shieldpool-go/pkg/logger"
	"github.com/umbra-labs/shieldpool-go/pkg/store"
	"github.com/umbra-labs/shieldpool-go/pkg/store/memory"
	"github.com/umbra-labs/shieldpool-go/pkg/types"
)

func newTestStore(t *testing.T) *memory.MemoryStore {
	t.Helper()
	st := memory.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestService(t *testing.T, st store.IPoolStore, fns ...func(*ServiceConfig)) *Service {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := &ServiceConfig{
		Store:  st,
		Depth:  4,
		Logger: testLogger,
	}
	for _, fn := range fns {
		fn(cfg)
	}

	svc, err := NewService(cfg)
	require.NoError(t, err)
	return svc
}

// installStubGate wires a permissive verifier into the service so
// withdrawal routing can be tested without a real key.
func installStubGate(svc *Service, v Verifier) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.verifier = v
	for _, p := range svc.pools {
		p.setVerifier(v)
	}
}

// TestServiceRegisterAsset verifies id assignment and validation.
func TestServiceRegisterAsset(t *testing.T) {
	svc := newTestService(t, newTestStore(t))

	a, err := svc.RegisterAsset("AST", big.NewInt(testDenomination))
	require.NoError(t, err)
	require.Equal(t, types.AssetID(1), a.ID)
	require.True(t, a.Active)

	b, err := svc.RegisterAsset("BST", big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, types.AssetID(2), b.ID)

	// Duplicate symbol
	_, err = svc.RegisterAsset("AST", big.NewInt(77))
	require.ErrorIs(t, err, assets.ErrAssetExists)

	// Invalid denominations
	_, err = svc.RegisterAsset("CST", nil)
	require.ErrorIs(t, err, assets.ErrInvalidAsset)
	_, err = svc.RegisterAsset("CST", big.NewInt(0))
	require.ErrorIs(t, err, assets.ErrInvalidAsset)
	_, err = svc.RegisterAsset("", big.NewInt(1))
	require.ErrorIs(t, err, assets.ErrInvalidAsset)

	list := svc.Assets()
	require.Len(t, list, 2)
	require.Equal(t, types.AssetID(1), list[0].ID)
	require.Equal(t, types.AssetID(2), list[1].ID)
}

// TestServiceRoutesByAsset verifies pools are independent per asset.
func TestServiceRoutesByAsset(t *testing.T) {
	svc := newTestService(t, newTestStore(t))

	a, err := svc.RegisterAsset("AST", big.NewInt(testDenomination))
	require.NoError(t, err)
	b, err := svc.RegisterAsset("BST", big.NewInt(500))
	require.NoError(t, err)

	receipt, err := svc.Deposit(a.ID, testCommitment(1), testDepositor)
	require.NoError(t, err)
	require.Equal(t, uint32(0), receipt.LeafIndex)

	_, countA, err := svc.Root(a.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(1), countA)

	_, countB, err := svc.Root(b.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(0), countB)

	// Unknown asset
	_, err = svc.Deposit(99, testCommitment(2), testDepositor)
	require.ErrorIs(t, err, assets.ErrUnknownAsset)
	_, _, err = svc.Root(99)
	require.ErrorIs(t, err, assets.ErrUnknownAsset)
	_, err = svc.History(99)
	require.ErrorIs(t, err, assets.ErrUnknownAsset)
	err = svc.SetAssetActive(99, false)
	require.ErrorIs(t, err, assets.ErrUnknownAsset)
}

// TestServiceInactiveAsset verifies deactivation stops mutations while
// reads keep serving.
func TestServiceInactiveAsset(t *testing.T) {
	svc := newTestService(t, newTestStore(t))
	installStubGate(svc, &stubVerifier{})

	a, err := svc.RegisterAsset("AST", big.NewInt(testDenomination))
	require.NoError(t, err)
	_, err = svc.Deposit(a.ID, testCommitment(1), testDepositor)
	require.NoError(t, err)

	require.NoError(t, svc.SetAssetActive(a.ID, false))

	_, err = svc.Deposit(a.ID, testCommitment(2), testDepositor)
	require.ErrorIs(t, err, ErrAssetInactive)

	root, _, err := svc.Root(a.ID)
	require.NoError(t, err)
	_, err = svc.Withdraw(a.ID, []byte("proof"), testInputs(t, root, testNullifierHash(1), 0))
	require.ErrorIs(t, err, ErrAssetInactive)

	// Reads still serve the frozen state
	history, err := svc.History(a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	spent, err := svc.IsSpent(a.ID, types.Nullifier(testNullifierHash(1)))
	require.NoError(t, err)
	require.False(t, spent)
	_, _, err = svc.Path(a.ID, 0)
	require.NoError(t, err)

	// Reactivation resumes service
	require.NoError(t, svc.SetAssetActive(a.ID, true))
	_, err = svc.Deposit(a.ID, testCommitment(2), testDepositor)
	require.NoError(t, err)
}

// TestServiceWithdrawBeforeKeyInstall verifies the missing-key rejection.
func TestServiceWithdrawBeforeKeyInstall(t *testing.T) {
	svc := newTestService(t, newTestStore(t))

	a, err := svc.RegisterAsset("AST", big.NewInt(testDenomination))
	require.NoError(t, err)
	_, err = svc.Deposit(a.ID, testCommitment(1), testDepositor)
	require.NoError(t, err)

	require.False(t, svc.VerifyingKeyInstalled())

	root, _, err := svc.Root(a.ID)
	require.NoError(t, err)
	_, err = svc.Withdraw(a.ID, []byte("proof"), testInputs(t, root, testNullifierHash(1), 0))
	require.ErrorIs(t, err, ErrVerifyingKeyMissing)
}

// TestServiceInstallVerifyingKeyRejects verifies the guardrails on the
// one-time install.
func TestServiceInstallVerifyingKeyRejects(t *testing.T) {
	svc := newTestService(t, newTestStore(t))

	err := svc.InstallVerifyingKey(nil)
	require.Error(t, err)

	err = svc.InstallVerifyingKey(make([]byte, MaxVerifyingKeySize+1))
	require.Error(t, err)
	require.ErrorContains(t, err, "exceeds")

	// Bytes that do not deserialize as a verifying key never install.
	err = svc.InstallVerifyingKey([]byte("not a verifying key"))
	require.Error(t, err)
	require.False(t, svc.VerifyingKeyInstalled())
}

// TestServiceRecovery verifies a restarted service lands on the same
// state and keeps assigning fresh asset ids.
func TestServiceRecovery(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)

	a, err := svc.RegisterAsset("AST", big.NewInt(testDenomination))
	require.NoError(t, err)
	b, err := svc.RegisterAsset("BST", big.NewInt(500))
	require.NoError(t, err)

	for i := byte(1); i <= 3; i++ {
		_, err := svc.Deposit(a.ID, testCommitment(i), testDepositor)
		require.NoError(t, err)
	}
	_, err = svc.Deposit(b.ID, testCommitment(9), testDepositor)
	require.NoError(t, err)

	rootA, countA, err := svc.Root(a.ID)
	require.NoError(t, err)

	restarted := newTestService(t, st)

	list := restarted.Assets()
	require.Len(t, list, 2)

	rootA2, countA2, err := restarted.Root(a.ID)
	require.NoError(t, err)
	require.Equal(t, rootA, rootA2)
	require.Equal(t, countA, countA2)

	// The log extends from where it left off
	receipt, err := restarted.Deposit(a.ID, testCommitment(4), testDepositor)
	require.NoError(t, err)
	require.Equal(t, uint32(3), receipt.LeafIndex)

	// Id assignment continues past recovered assets
	c, err := restarted.RegisterAsset("CST", big.NewInt(42))
	require.NoError(t, err)
	require.Equal(t, types.AssetID(3), c.ID)
}

// TestServiceDeactivationSurvivesRestart verifies the active flag is
// durable.
func TestServiceDeactivationSurvivesRestart(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)

	a, err := svc.RegisterAsset("AST", big.NewInt(testDenomination))
	require.NoError(t, err)
	require.NoError(t, svc.SetAssetActive(a.ID, false))

	restarted := newTestService(t, st)
	_, err = restarted.Deposit(a.ID, testCommitment(1), testDepositor)
	require.ErrorIs(t, err, ErrAssetInactive)
}

// TestServiceHealthCheck verifies halted pools surface through health.
func TestServiceHealthCheck(t *testing.T) {
	svc := newTestService(t, newTestStore(t), func(cfg *ServiceConfig) {
		cfg.Backend = &failingBackend{err: errors.New("custody unreachable")}
	})
	installStubGate(svc, &stubVerifier{})

	require.NoError(t, svc.HealthCheck())

	a, err := svc.RegisterAsset("AST", big.NewInt(testDenomination))
	require.NoError(t, err)
	_, err = svc.Deposit(a.ID, testCommitment(1), testDepositor)
	require.NoError(t, err)

	root, _, err := svc.Root(a.ID)
	require.NoError(t, err)
	_, err = svc.Withdraw(a.ID, []byte("proof"), testInputs(t, root, testNullifierHash(1), 0))
	require.ErrorIs(t, err, ErrHalted)

	err = svc.HealthCheck()
	require.ErrorIs(t, err, ErrHalted)
}
