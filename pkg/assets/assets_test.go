package assets

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/umbra-labs/shieldpool-go/pkg/types"
)

// testAsset builds a valid asset definition for testing
func testAsset(id types.AssetID, symbol string, denom int64) *types.RegisteredAsset {
	d := hexutil.Big(*big.NewInt(denom))
	return &types.RegisteredAsset{
		ID:           id,
		Symbol:       symbol,
		Denomination: &d,
		Active:       true,
	}
}

// TestRegisterAndGet tests the registration happy path
func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(testAsset(1, "ETH", 1_000_000)))

	got, err := r.Get(1)
	require.NoError(t, err)
	require.Equal(t, types.AssetID(1), got.ID)
	require.Equal(t, "ETH", got.Symbol)
	require.Equal(t, int64(1_000_000), (*big.Int)(got.Denomination).Int64())
	require.True(t, got.Active)

	bySym, err := r.BySymbol("ETH")
	require.NoError(t, err)
	require.Equal(t, got, bySym)
}

// TestRegisterRejectsDuplicates tests id and symbol uniqueness
func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testAsset(1, "ETH", 100)))

	err := r.Register(testAsset(1, "DAI", 100))
	require.ErrorIs(t, err, ErrAssetExists)

	err = r.Register(testAsset(2, "ETH", 100))
	require.ErrorIs(t, err, ErrAssetExists)

	require.NoError(t, r.Register(testAsset(2, "DAI", 100)))
}

// TestRegisterValidation tests rejection of malformed definitions
func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	require.ErrorIs(t, r.Register(nil), ErrInvalidAsset)
	require.ErrorIs(t, r.Register(testAsset(1, "", 100)), ErrInvalidAsset)
	require.ErrorIs(t, r.Register(testAsset(1, "ETH", 0)), ErrInvalidAsset)
	require.ErrorIs(t, r.Register(testAsset(1, "ETH", -5)), ErrInvalidAsset)

	noDenom := &types.RegisteredAsset{ID: 1, Symbol: "ETH"}
	require.ErrorIs(t, r.Register(noDenom), ErrInvalidAsset)
}

// TestUnknownLookups tests lookups for unregistered assets
func TestUnknownLookups(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get(9)
	require.ErrorIs(t, err, ErrUnknownAsset)

	_, err = r.BySymbol("NOPE")
	require.ErrorIs(t, err, ErrUnknownAsset)

	require.ErrorIs(t, r.SetActive(9, false), ErrUnknownAsset)
}

// TestListOrdering tests that listing is ordered by asset id
func TestListOrdering(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testAsset(7, "GHO", 10)))
	require.NoError(t, r.Register(testAsset(2, "DAI", 20)))
	require.NoError(t, r.Register(testAsset(5, "ETH", 30)))

	list := r.List()
	require.Len(t, list, 3)
	require.Equal(t, types.AssetID(2), list[0].ID)
	require.Equal(t, types.AssetID(5), list[1].ID)
	require.Equal(t, types.AssetID(7), list[2].ID)
}

// TestSetActive tests deactivation and reactivation
func TestSetActive(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testAsset(1, "ETH", 100)))

	require.NoError(t, r.SetActive(1, false))
	got, err := r.Get(1)
	require.NoError(t, err)
	require.False(t, got.Active)

	require.NoError(t, r.SetActive(1, true))
	got, err = r.Get(1)
	require.NoError(t, err)
	require.True(t, got.Active)
}

// TestRegistryDetachesState tests that returned assets are copies
func TestRegistryDetachesState(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testAsset(1, "ETH", 100)))

	got, err := r.Get(1)
	require.NoError(t, err)
	got.Active = false
	(*big.Int)(got.Denomination).SetInt64(999)

	fresh, err := r.Get(1)
	require.NoError(t, err)
	require.True(t, fresh.Active)
	require.Equal(t, int64(100), (*big.Int)(fresh.Denomination).Int64())
}
