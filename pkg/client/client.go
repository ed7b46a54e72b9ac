// Package client is a Go client for the shieldpool node HTTP API. It
// serves provers and relayers: deposit submission, membership path
// retrieval, nullifier freshness checks, and withdrawal submission.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/umbra-labs/shieldpool-go/pkg/merkle"
	"github.com/umbra-labs/shieldpool-go/pkg/types"
)

const defaultTimeout = 30 * time.Second

// ClientConfig holds the configuration for the node client
type ClientConfig struct {
	// BaseURL is the node's base URL, e.g. http://localhost:8420
	BaseURL string
	// AdminToken is the bearer token for admin calls. Optional; admin
	// methods fail without it.
	AdminToken string
	// Timeout bounds each request. Zero selects the default.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client provides a reusable library interface for node operations
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
	logger     *zap.Logger
}

// APIError is a decoded error envelope from the node. Code carries the
// stable machine string from the node's error taxonomy.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// NewClient creates a new node client instance
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		adminToken: config.AdminToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     config.Logger,
	}, nil
}

// Deposit admits a commitment into an asset's pool
func (c *Client) Deposit(assetID types.AssetID, commitment types.Commitment, depositor common.Address) (*types.DepositResponseV1, error) {
	var resp types.DepositResponseV1
	err := c.post("/v1/deposit", &types.DepositRequestV1{
		AssetID:    assetID,
		Commitment: commitment,
		Depositor:  depositor,
	}, &resp, false)
	if err != nil {
		return nil, err
	}

	c.logger.Sugar().Debugw("Deposit admitted",
		"asset_id", assetID,
		"leaf_index", resp.LeafIndex,
		"request_id", resp.RequestID)
	return &resp, nil
}

// Withdraw submits a proof together with its public statement
func (c *Client) Withdraw(req *types.WithdrawRequestV1) (*types.WithdrawResponseV1, error) {
	if req == nil {
		return nil, fmt.Errorf("withdraw request cannot be nil")
	}
	if len(req.Proof) == 0 {
		return nil, fmt.Errorf("proof is required")
	}

	var resp types.WithdrawResponseV1
	if err := c.post("/v1/withdraw", req, &resp, false); err != nil {
		return nil, err
	}

	c.logger.Sugar().Debugw("Withdrawal committed",
		"asset_id", req.AssetID,
		"nullifier_hash", resp.NullifierHash.Hex(),
		"request_id", resp.RequestID)
	return &resp, nil
}

// Root fetches the current root of an asset's tree
func (c *Client) Root(assetID types.AssetID) (*types.RootResponseV1, error) {
	var resp types.RootResponseV1
	if err := c.get(fmt.Sprintf("/v1/root?asset=%d", assetID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Roots fetches the retained root history, oldest first
func (c *Client) Roots(assetID types.AssetID) (*types.RootsResponseV1, error) {
	var resp types.RootsResponseV1
	if err := c.get(fmt.Sprintf("/v1/roots?asset=%d", assetID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsSpent reports whether a nullifier hash has been used
func (c *Client) IsSpent(assetID types.AssetID, nullifierHash types.Nullifier) (bool, error) {
	var resp types.SpentResponseV1
	if err := c.get(fmt.Sprintf("/v1/spent?asset=%d&nullifier=%s", assetID, nullifierHash.Hex()), &resp); err != nil {
		return false, err
	}
	return resp.Spent, nil
}

// Path fetches the raw membership path response for a leaf
func (c *Client) Path(assetID types.AssetID, index uint32) (*types.PathResponseV1, error) {
	var resp types.PathResponseV1
	if err := c.get(fmt.Sprintf("/v1/path?asset=%d&index=%d", assetID, index), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProverPath fetches the membership path for a leaf and rebuilds it for
// proving. The caller supplies the leaf commitment, which never travels
// over the wire; the rebuilt path is checked against the served root
// before it is handed to a prover.
func (c *Client) ProverPath(assetID types.AssetID, index uint32, leaf [32]byte) (*merkle.Path, types.Root, error) {
	resp, err := c.Path(assetID, index)
	if err != nil {
		return nil, types.Root{}, err
	}

	path := &merkle.Path{
		LeafIndex: resp.LeafIndex,
		Leaf:      leaf,
		Siblings:  make([][32]byte, len(resp.Siblings)),
		Bits:      resp.Bits,
	}
	for i, sib := range resp.Siblings {
		if len(sib) != 32 {
			return nil, types.Root{}, fmt.Errorf("sibling %d has width %d, want 32", i, len(sib))
		}
		copy(path.Siblings[i][:], sib)
	}

	if !merkle.VerifyPath(path, [32]byte(resp.Root)) {
		return nil, types.Root{}, fmt.Errorf("served path for leaf %d does not verify against root %s", index, resp.Root.Hex())
	}
	return path, resp.Root, nil
}

// Assets lists registered assets
func (c *Client) Assets() ([]*types.RegisteredAsset, error) {
	var resp types.AssetsResponseV1
	if err := c.get("/v1/assets", &resp); err != nil {
		return nil, err
	}
	return resp.Assets, nil
}

// Healthz checks node health
func (c *Client) Healthz() error {
	return c.get("/v1/healthz", nil)
}

// InstallVerifyingKey installs the Groth16 verifying key (admin)
func (c *Client) InstallVerifyingKey(vk []byte) error {
	if len(vk) == 0 {
		return fmt.Errorf("verifying key is required")
	}
	return c.post("/v1/admin/verifying-key", &types.InstallVerifyingKeyRequestV1{
		VerifyingKey: vk,
	}, nil, true)
}

// RegisterAsset registers a new fixed-denomination asset (admin)
func (c *Client) RegisterAsset(symbol string, denomination *big.Int) (*types.RegisterAssetResponseV1, error) {
	var resp types.RegisterAssetResponseV1
	err := c.post("/v1/admin/assets", &types.RegisterAssetRequestV1{
		Symbol:       symbol,
		Denomination: (*hexutil.Big)(denomination),
	}, &resp, true)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out, false)
}

func (c *Client) post(path string, in, out any, admin bool) error {
	return c.do(http.MethodPost, path, in, out, admin)
}

func (c *Client) do(method, path string, in, out any, admin bool) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		if c.adminToken == "" {
			return fmt.Errorf("admin token is required")
		}
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var envelope types.ErrorResponseV1
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Code == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       "unknown",
			Message:    strings.TrimSpace(string(body)),
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       envelope.Code,
		Message:    envelope.Error,
		RequestID:  envelope.RequestID,
	}
}
