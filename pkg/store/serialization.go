package store

import (
	"encoding/json"
	"fmt"

	"github.com/umbra-labs/shieldpool-go/pkg/types"
)

// MarshalLeafRecord serializes a LeafRecord to JSON bytes.
func MarshalLeafRecord(leaf *LeafRecord) ([]byte, error) {
	if leaf == nil {
		return nil, fmt.Errorf("cannot marshal nil LeafRecord")
	}

	data, err := json.Marshal(leaf)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal LeafRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalLeafRecord deserializes a LeafRecord from JSON bytes.
func UnmarshalLeafRecord(data []byte) (*LeafRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var leaf LeafRecord
	if err := json.Unmarshal(data, &leaf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to LeafRecord: %w", err)
	}

	return &leaf, nil
}

// MarshalNullifierRecord serializes a NullifierRecord to JSON bytes.
func MarshalNullifierRecord(rec *NullifierRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("cannot marshal nil NullifierRecord")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal NullifierRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalNullifierRecord deserializes a NullifierRecord from JSON bytes.
func UnmarshalNullifierRecord(data []byte) (*NullifierRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var rec NullifierRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to NullifierRecord: %w", err)
	}

	return &rec, nil
}

// MarshalAsset serializes a RegisteredAsset to JSON bytes.
func MarshalAsset(asset *types.RegisteredAsset) ([]byte, error) {
	if asset == nil {
		return nil, fmt.Errorf("cannot marshal nil RegisteredAsset")
	}

	data, err := json.Marshal(asset)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RegisteredAsset to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalAsset deserializes a RegisteredAsset from JSON bytes.
func UnmarshalAsset(data []byte) (*types.RegisteredAsset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var asset types.RegisteredAsset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to RegisteredAsset: %w", err)
	}

	return &asset, nil
}
