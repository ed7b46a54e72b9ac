package store

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/umbra-labs/shieldpool-go/pkg/types"
)

// TestLeafRecordSerialization tests JSON encoding of leaf records
func TestLeafRecordSerialization(t *testing.T) {
	leaf := &LeafRecord{
		AssetID:    3,
		Index:      42,
		Commitment: types.Commitment{0x01, 0x02},
		Depositor:  common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		Timestamp:  1700000000,
	}

	data, err := MarshalLeafRecord(leaf)
	require.NoError(t, err)

	// The commitment must serialize as 0x-prefixed hex
	require.True(t, strings.Contains(string(data), `"0x0102`))

	got, err := UnmarshalLeafRecord(data)
	require.NoError(t, err)
	require.Equal(t, leaf, got)
}

// TestNullifierRecordSerialization tests JSON encoding of spent records
func TestNullifierRecordSerialization(t *testing.T) {
	rec := &NullifierRecord{
		AssetID:       1,
		NullifierHash: types.Nullifier{0xab},
		Recipient:     common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		SpentAt:       1700000123,
	}

	data, err := MarshalNullifierRecord(rec)
	require.NoError(t, err)

	got, err := UnmarshalNullifierRecord(data)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

// TestAssetSerialization tests JSON encoding of asset definitions
func TestAssetSerialization(t *testing.T) {
	denom := hexutil.Big(*big.NewInt(1_000_000_000))
	asset := &types.RegisteredAsset{
		ID:           7,
		Symbol:       "ETH",
		Denomination: &denom,
		Active:       true,
	}

	data, err := MarshalAsset(asset)
	require.NoError(t, err)

	got, err := UnmarshalAsset(data)
	require.NoError(t, err)
	require.Equal(t, asset.ID, got.ID)
	require.Equal(t, asset.Symbol, got.Symbol)
	require.Zero(t, (*big.Int)(asset.Denomination).Cmp((*big.Int)(got.Denomination)))
	require.True(t, got.Active)
}

// TestSerializationGuards tests nil and empty input handling
func TestSerializationGuards(t *testing.T) {
	_, err := MarshalLeafRecord(nil)
	require.Error(t, err)
	_, err = MarshalNullifierRecord(nil)
	require.Error(t, err)
	_, err = MarshalAsset(nil)
	require.Error(t, err)

	_, err = UnmarshalLeafRecord(nil)
	require.Error(t, err)
	_, err = UnmarshalNullifierRecord([]byte{})
	require.Error(t, err)
	_, err = UnmarshalAsset(nil)
	require.Error(t, err)

	_, err = UnmarshalLeafRecord([]byte("{not json"))
	require.Error(t, err)
}
