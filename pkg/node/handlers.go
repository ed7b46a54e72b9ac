package node

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/umbra-labs/shieldpool-go/pkg/assets"
	"github.com/umbra-labs/shieldpool-go/pkg/auth"
	"github.com/umbra-labs/shieldpool-go/pkg/hasher"
	"github.com/umbra-labs/shieldpool-go/pkg/ledger"
	"github.com/umbra-labs/shieldpool-go/pkg/merkle"
	"github.com/umbra-labs/shieldpool-go/pkg/pool"
	"github.com/umbra-labs/shieldpool-go/pkg/store"
	"github.com/umbra-labs/shieldpool-go/pkg/types"
	"github.com/umbra-labs/shieldpool-go/pkg/zkp"
)

// Stable machine codes carried in error envelopes.
const (
	codeBadRequest       = "bad_request"
	codeMethodNotAllowed = "method_not_allowed"
	codeRateLimited      = "rate_limited"
	codeUnauthorized     = "unauthorized"
	codeAdminDisabled    = "admin_disabled"
	codeUnknownAsset     = "unknown_asset"
	codeAssetInactive    = "asset_inactive"
	codeAssetExists      = "asset_exists"
	codeInvalidAsset     = "invalid_asset"
	codeCommitmentExists = "commitment_exists"
	codePoolFull         = "pool_full"
	codeLeafNotFound     = "leaf_not_found"
	codeInvalidRoot      = "invalid_root"
	codeNullifierSpent   = "nullifier_spent"
	codeMalformedInputs  = "malformed_public_inputs"
	codeProofFailed      = "proof_verification_failed"
	codeNonCanonical     = "non_canonical_encoding"
	codeKeyMissing       = "verifying_key_missing"
	codeKeyExists        = "verifying_key_exists"
	codePoolHalted       = "pool_halted"
	codeInternal         = "internal"
)

// errorStatus maps a service error to an HTTP status and a stable code.
// ErrHalted is checked first: halt errors wrap their cause, and the
// cause must not soften the status.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pool.ErrHalted):
		return http.StatusServiceUnavailable, codePoolHalted
	case errors.Is(err, assets.ErrUnknownAsset):
		return http.StatusNotFound, codeUnknownAsset
	case errors.Is(err, pool.ErrAssetInactive):
		return http.StatusConflict, codeAssetInactive
	case errors.Is(err, assets.ErrAssetExists):
		return http.StatusConflict, codeAssetExists
	case errors.Is(err, assets.ErrInvalidAsset):
		return http.StatusBadRequest, codeInvalidAsset
	case errors.Is(err, ledger.ErrCommitmentExists):
		return http.StatusConflict, codeCommitmentExists
	case errors.Is(err, pool.ErrPoolFull):
		return http.StatusConflict, codePoolFull
	case errors.Is(err, merkle.ErrLeafOutOfRange):
		return http.StatusNotFound, codeLeafNotFound
	case errors.Is(err, pool.ErrInvalidRoot):
		return http.StatusBadRequest, codeInvalidRoot
	case errors.Is(err, pool.ErrNullifierSpent):
		return http.StatusConflict, codeNullifierSpent
	case errors.Is(err, zkp.ErrMalformedPublicInputs):
		return http.StatusBadRequest, codeMalformedInputs
	case errors.Is(err, zkp.ErrProofVerificationFailed):
		return http.StatusBadRequest, codeProofFailed
	case errors.Is(err, hasher.ErrNonCanonical):
		return http.StatusBadRequest, codeNonCanonical
	case errors.Is(err, pool.ErrVerifyingKeyMissing):
		return http.StatusServiceUnavailable, codeKeyMissing
	case errors.Is(err, store.ErrVerifyingKeyExists):
		return http.StatusConflict, codeKeyExists
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func requestID() string {
	return uuid.New().String()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorw("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, reqID string, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Errorw("Request failed", "request_id", reqID, "code", code, "error", err)
	} else {
		s.logger.Warnw("Request rejected", "request_id", reqID, "code", code, "error", err)
	}
	s.writeJSON(w, status, &types.ErrorResponseV1{Code: code, Error: err.Error(), RequestID: reqID})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, reqID string, format string, args ...any) {
	s.writeJSON(w, http.StatusBadRequest, &types.ErrorResponseV1{
		Code:      codeBadRequest,
		Error:     fmt.Sprintf(format, args...),
		RequestID: reqID,
	})
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeJSON(w, http.StatusMethodNotAllowed, &types.ErrorResponseV1{
			Code:  codeMethodNotAllowed,
			Error: "method not allowed",
		})
		return false
	}
	return true
}

// allowClient consumes a rate-limit token for mutating requests.
func (s *Server) allowClient(w http.ResponseWriter, r *http.Request, reqID string) bool {
	if s.limits == nil {
		return true
	}
	if s.limits.allow(clientKey(r)) {
		return true
	}
	s.writeJSON(w, http.StatusTooManyRequests, &types.ErrorResponseV1{
		Code:      codeRateLimited,
		Error:     "too many requests",
		RequestID: reqID,
	})
	return false
}

// authorize gates an admin endpoint on the bearer token. Verification
// detail is logged, never echoed to the client.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, reqID string) (*auth.Claims, bool) {
	if s.adminAuth == nil {
		s.writeJSON(w, http.StatusNotFound, &types.ErrorResponseV1{
			Code:      codeAdminDisabled,
			Error:     "admin endpoints are not enabled",
			RequestID: reqID,
		})
		return nil, false
	}

	header := r.Header.Get("Authorization")
	tokenString, found := strings.CutPrefix(header, "Bearer ")
	if !found || tokenString == "" {
		s.writeJSON(w, http.StatusUnauthorized, &types.ErrorResponseV1{
			Code:      codeUnauthorized,
			Error:     "missing bearer token",
			RequestID: reqID,
		})
		return nil, false
	}

	claims, err := s.adminAuth.Verify(tokenString)
	if err != nil {
		s.logger.Warnw("Admin token rejected", "request_id", reqID, "error", err)
		s.writeJSON(w, http.StatusUnauthorized, &types.ErrorResponseV1{
			Code:      codeUnauthorized,
			Error:     "invalid bearer token",
			RequestID: reqID,
		})
		return nil, false
	}
	return claims, true
}

func parseAssetID(r *http.Request) (types.AssetID, error) {
	raw := r.URL.Query().Get("asset")
	if raw == "" {
		return 0, errors.New("asset query parameter is required")
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid asset id: %s", raw)
	}
	return types.AssetID(id), nil
}

// handleDeposit admits a commitment into an asset's pool
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	reqID := requestID()
	if !s.allowClient(w, r, reqID) {
		return
	}

	var req types.DepositRequestV1
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, reqID, "failed to parse request: %v", err)
		return
	}

	receipt, err := s.service.Deposit(req.AssetID, req.Commitment, req.Depositor)
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}

	s.logger.Infow("Deposit admitted", "request_id", reqID, "asset_id", req.AssetID, "leaf_index", receipt.LeafIndex)
	s.writeJSON(w, http.StatusOK, &types.DepositResponseV1{
		RequestID: reqID,
		LeafIndex: receipt.LeafIndex,
		NewRoot:   receipt.NewRoot,
	})
}

// handleWithdraw verifies a withdrawal proof and commits it
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	reqID := requestID()
	if !s.allowClient(w, r, reqID) {
		return
	}

	var req types.WithdrawRequestV1
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, reqID, "failed to parse request: %v", err)
		return
	}
	if len(req.Proof) == 0 {
		s.writeBadRequest(w, reqID, "proof is required")
		return
	}

	var dest *[32]byte
	if req.DestChainHash != nil {
		d := [32]byte(*req.DestChainHash)
		dest = &d
	}
	inputs, err := zkp.NewPublicInputs(
		[32]byte(req.Root),
		[32]byte(req.NullifierHash),
		req.Recipient,
		(*big.Int)(req.Fee),
		(*big.Int)(req.Refund),
		req.Relayer,
		dest,
	)
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}

	receipt, err := s.service.Withdraw(req.AssetID, req.Proof, inputs)
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}

	s.logger.Infow("Withdrawal committed",
		"request_id", reqID,
		"asset_id", req.AssetID,
		"nullifier_hash", receipt.NullifierHash.Hex(),
		"cross_chain", inputs.HasDestination())
	s.writeJSON(w, http.StatusOK, &types.WithdrawResponseV1{
		RequestID:     reqID,
		NullifierHash: receipt.NullifierHash,
		Recipient:     receipt.Recipient,
		Amount:        (*hexutil.Big)(receipt.Amount),
		Fee:           (*hexutil.Big)(receipt.Fee),
		Refund:        (*hexutil.Big)(receipt.Refund),
	})
}

// handleRoot serves the current root of one asset's tree
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	reqID := requestID()

	assetID, err := parseAssetID(r)
	if err != nil {
		s.writeBadRequest(w, reqID, "%v", err)
		return
	}

	root, leafCount, err := s.service.Root(assetID)
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, &types.RootResponseV1{
		AssetID:   assetID,
		Root:      root,
		LeafCount: leafCount,
	})
}

// handleRoots serves the retained root history, oldest first
func (s *Server) handleRoots(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	reqID := requestID()

	assetID, err := parseAssetID(r)
	if err != nil {
		s.writeBadRequest(w, reqID, "%v", err)
		return
	}

	history, err := s.service.History(assetID)
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, &types.RootsResponseV1{
		AssetID: assetID,
		Roots:   history,
	})
}

// handleSpent answers a nullifier freshness query
func (s *Server) handleSpent(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	reqID := requestID()

	assetID, err := parseAssetID(r)
	if err != nil {
		s.writeBadRequest(w, reqID, "%v", err)
		return
	}
	nullifierHash, err := types.NullifierFromHex(r.URL.Query().Get("nullifier"))
	if err != nil {
		s.writeBadRequest(w, reqID, "invalid nullifier: %v", err)
		return
	}

	spent, err := s.service.IsSpent(assetID, nullifierHash)
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, &types.SpentResponseV1{
		AssetID:       assetID,
		NullifierHash: nullifierHash,
		Spent:         spent,
	})
}

// handlePath serves the Merkle membership path for a deposited leaf
func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	reqID := requestID()

	assetID, err := parseAssetID(r)
	if err != nil {
		s.writeBadRequest(w, reqID, "%v", err)
		return
	}
	rawIndex := r.URL.Query().Get("index")
	index, err := strconv.ParseUint(rawIndex, 10, 32)
	if err != nil {
		s.writeBadRequest(w, reqID, "invalid leaf index: %s", rawIndex)
		return
	}

	path, root, err := s.service.Path(assetID, uint32(index))
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}

	siblings := make([]hexutil.Bytes, 0, len(path.Siblings))
	for _, sib := range path.Siblings {
		siblings = append(siblings, hexutil.Bytes(sib[:]))
	}
	s.writeJSON(w, http.StatusOK, &types.PathResponseV1{
		AssetID:   assetID,
		LeafIndex: path.LeafIndex,
		Root:      root,
		Siblings:  siblings,
		Bits:      path.Bits,
	})
}

// handleAssets lists registered assets
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, &types.AssetsResponseV1{Assets: s.service.Assets()})
}

// handleHealthz reports store reachability and pool health
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if err := s.service.HealthCheck(); err != nil {
		s.writeError(w, requestID(), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInstallVerifyingKey installs the Groth16 verifying key (admin,
// one-time)
func (s *Server) handleInstallVerifyingKey(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	reqID := requestID()
	claims, ok := s.authorize(w, r, reqID)
	if !ok {
		return
	}

	var req types.InstallVerifyingKeyRequestV1
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, reqID, "failed to parse request: %v", err)
		return
	}
	if len(req.VerifyingKey) == 0 {
		s.writeBadRequest(w, reqID, "verifying_key is required")
		return
	}

	if err := s.service.InstallVerifyingKey(req.VerifyingKey); err != nil {
		s.writeError(w, reqID, err)
		return
	}

	s.logger.Infow("Verifying key installed", "request_id", reqID, "admin", claims.Subject, "size_bytes", len(req.VerifyingKey))
	w.WriteHeader(http.StatusOK)
}

// handleRegisterAsset registers a new fixed-denomination asset (admin)
func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	reqID := requestID()
	claims, ok := s.authorize(w, r, reqID)
	if !ok {
		return
	}

	var req types.RegisterAssetRequestV1
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, reqID, "failed to parse request: %v", err)
		return
	}

	asset, err := s.service.RegisterAsset(req.Symbol, (*big.Int)(req.Denomination))
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}

	s.logger.Infow("Asset registered", "request_id", reqID, "admin", claims.Subject, "asset_id", asset.ID, "symbol", asset.Symbol)
	s.writeJSON(w, http.StatusOK, &types.RegisterAssetResponseV1{ID: asset.ID})
}
