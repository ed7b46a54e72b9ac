package pool

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/umbra-labs/shieldpool-go/pkg/assets"
	"github.com/umbra-labs/shieldpool-go/pkg/merkle"
	"github.com/umbra-labs/shieldpool-go/pkg/store"
	"github.com/umbra-labs/shieldpool-go/pkg/types"
	"github.com/umbra-labs/shieldpool-go/pkg/zkp"
)

// MaxVerifyingKeySize caps the accepted verifying key serialization. A
// compressed BN254 Groth16 key for this circuit is well under this.
const MaxVerifyingKeySize = 4096

// ServiceConfig assembles the hub.
type ServiceConfig struct {
	Store       store.IPoolStore
	Depth       int // 0 means merkle.DefaultDepth
	HistorySize int // 0 means merkle.DefaultHistorySize
	Backend     TransferBackend
	Router      Router
	Sink        EventSink
	Logger      *zap.Logger
}

// Service routes operations to per-asset pools and owns the admin
// surface: asset registration and the one-time verifying key install.
// At construction it recovers every registered asset's pool by replay.
type Service struct {
	st          store.IPoolStore
	registry    *assets.Registry
	depth       int
	historySize int
	backend     TransferBackend
	router      Router
	sink        EventSink
	baseLogger  *zap.Logger
	logger      *zap.SugaredLogger

	mu       sync.RWMutex
	verifier Verifier
	pools    map[types.AssetID]*Pool
	nextID   types.AssetID
}

// NewService recovers the hub from the store: verifying key, asset
// catalog, and one replayed pool per asset.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("service config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("service store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("service logger cannot be nil")
	}

	depth := cfg.Depth
	if depth == 0 {
		depth = merkle.DefaultDepth
	}
	historySize := cfg.HistorySize
	if historySize == 0 {
		historySize = merkle.DefaultHistorySize
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

	s := &Service{
		st:          cfg.Store,
		registry:    assets.NewRegistry(),
		depth:       depth,
		historySize: historySize,
		backend:     backend,
		router:      router,
		sink:        sink,
		baseLogger:  cfg.Logger,
		logger:      cfg.Logger.Sugar(),
		pools:       make(map[types.AssetID]*Pool),
		nextID:      1,
	}

	vkBytes, err := s.st.VerifyingKey()
	if err != nil {
		return nil, errors.Wrap(err, "load verifying key")
	}
	if vkBytes != nil {
		gate, err := zkp.NewGate(vkBytes)
		if err != nil {
			return nil, errors.Wrap(err, "parse stored verifying key")
		}
		s.verifier = gate
	}

	stored, err := s.st.Assets()
	if err != nil {
		return nil, errors.Wrap(err, "load assets")
	}
	for _, a := range stored {
		if err := s.registry.Register(a); err != nil {
			return nil, errors.Wrapf(err, "load asset %d", a.ID)
		}
		if a.ID >= s.nextID {
			s.nextID = a.ID + 1
		}
		p, err := New(&Config{
			Asset:       a,
			Depth:       depth,
			HistorySize: historySize,
			Store:       s.st,
			Verifier:    s.verifier,
			Backend:     backend,
			Router:      router,
			Sink:        sink,
			Logger:      cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		s.pools[a.ID] = p
	}

	s.logger.Infow("Pool service initialized",
		"assets", len(stored),
		"depth", depth,
		"history_size", historySize,
		"verifying_key_installed", s.verifier != nil)
	return s, nil
}

// activePool resolves an asset for a mutating operation.
func (s *Service) activePool(id types.AssetID) (*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if !a.Active {
		return nil, errors.Wrapf(ErrAssetInactive, "asset %d (%s)", id, a.Symbol)
	}
	p, ok := s.pools[id]
	if !ok {
		return nil, errors.Wrapf(assets.ErrUnknownAsset, "no pool for asset %d", id)
	}
	return p, nil
}

// anyPool resolves an asset for a read. Reads stay available on
// deactivated assets; deactivation only stops new deposits and
// withdrawals.
func (s *Service) anyPool(id types.AssetID) (*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.registry.Get(id); err != nil {
		return nil, err
	}
	p, ok := s.pools[id]
	if !ok {
		return nil, errors.Wrapf(assets.ErrUnknownAsset, "no pool for asset %d", id)
	}
	return p, nil
}

// Deposit admits a commitment into an active asset's pool.
func (s *Service) Deposit(assetID types.AssetID, commitment types.Commitment, depositor common.Address) (*DepositReceipt, error) {
	p, err := s.activePool(assetID)
	if err != nil {
		return nil, err
	}
	return p.Deposit(commitment, depositor)
}

// Withdraw runs a withdrawal against an active asset's pool.
func (s *Service) Withdraw(assetID types.AssetID, proof []byte, inputs *zkp.PublicInputs) (*WithdrawReceipt, error) {
	p, err := s.activePool(assetID)
	if err != nil {
		return nil, err
	}
	return p.Withdraw(proof, inputs)
}

// Root returns an asset's current root and leaf count.
func (s *Service) Root(assetID types.AssetID) (types.Root, uint32, error) {
	p, err := s.anyPool(assetID)
	if err != nil {
		return types.Root{}, 0, err
	}
	return p.Root(), p.LeafCount(), nil
}

// History returns an asset's retained roots, oldest first.
func (s *Service) History(assetID types.AssetID) ([]types.Root, error) {
	p, err := s.anyPool(assetID)
	if err != nil {
		return nil, err
	}
	return p.History(), nil
}

// IsSpent reports whether a nullifier hash has been recorded.
func (s *Service) IsSpent(assetID types.AssetID, nullifierHash types.Nullifier) (bool, error) {
	p, err := s.anyPool(assetID)
	if err != nil {
		return false, err
	}
	return p.IsSpent(nullifierHash), nil
}

// Path returns the membership path for a leaf plus the root it leads to.
func (s *Service) Path(assetID types.AssetID, index uint32) (*merkle.Path, types.Root, error) {
	p, err := s.anyPool(assetID)
	if err != nil {
		return nil, types.Root{}, err
	}
	return p.Path(index)
}

// Assets lists registered assets sorted by id.
func (s *Service) Assets() []*types.RegisteredAsset {
	return s.registry.List()
}

// Asset returns one registered asset.
func (s *Service) Asset(id types.AssetID) (*types.RegisteredAsset, error) {
	return s.registry.Get(id)
}

// VerifyingKeyInstalled reports whether withdrawals can be served.
func (s *Service) VerifyingKeyInstalled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifier != nil
}

// InstallVerifyingKey installs the Groth16 verifying key exactly once.
// The key is parsed before it is persisted, so a corrupt blob can never
// become the installed key. After this the key is immutable for the
// lifetime of the system.
func (s *Service) InstallVerifyingKey(vk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.verifier != nil {
		return store.ErrVerifyingKeyExists
	}
	if len(vk) == 0 {
		return errors.New("verifying key is empty")
	}
	if len(vk) > MaxVerifyingKeySize {
		return errors.Errorf("verifying key exceeds %d bytes", MaxVerifyingKeySize)
	}

	gate, err := zkp.NewGate(vk)
	if err != nil {
		return errors.Wrap(err, "parse verifying key")
	}
	if err := s.st.PutVerifyingKey(vk); err != nil {
		return err
	}

	s.verifier = gate
	for _, p := range s.pools {
		p.setVerifier(gate)
	}
	s.logger.Infow("Verifying key installed", "size_bytes", len(vk))
	return nil
}

// RegisterAsset admits a new asset: validates, persists, registers, and
// starts an empty pool for it. The assigned id is returned in the copy.
func (s *Service) RegisterAsset(symbol string, denomination *big.Int) (*types.RegisteredAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if denomination == nil {
		return nil, errors.Wrap(assets.ErrInvalidAsset, "denomination must be positive")
	}
	a := &types.RegisteredAsset{
		ID:           s.nextID,
		Symbol:       symbol,
		Denomination: (*hexutil.Big)(new(big.Int).Set(denomination)),
		Active:       true,
	}
	if err := assets.Validate(a); err != nil {
		return nil, err
	}
	if _, err := s.registry.BySymbol(symbol); err == nil {
		return nil, errors.Wrapf(assets.ErrAssetExists, "symbol %q", symbol)
	}

	// Persist before registering so a storage failure leaves no
	// half-registered asset behind.
	if err := s.st.PutAsset(a); err != nil {
		return nil, errors.Wrap(err, "persist asset")
	}
	if err := s.registry.Register(a); err != nil {
		return nil, err
	}

	p, err := New(&Config{
		Asset:       a,
		Depth:       s.depth,
		HistorySize: s.historySize,
		Store:       s.st,
		Verifier:    s.verifier,
		Backend:     s.backend,
		Router:      s.router,
		Sink:        s.sink,
		Logger:      s.baseLogger,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "start pool for asset %d", a.ID)
	}
	s.pools[a.ID] = p
	s.nextID++

	s.logger.Infow("Asset registered",
		"asset_id", a.ID,
		"symbol", symbol,
		"denomination", denomination.String())

	cp := *a
	cp.Denomination = (*hexutil.Big)(new(big.Int).Set(denomination))
	return &cp, nil
}

// SetAssetActive flips an asset's active flag. Deactivation stops new
// deposits and withdrawals without touching pool state.
func (s *Service) SetAssetActive(id types.AssetID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.registry.SetActive(id, active); err != nil {
		return err
	}
	a, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	if err := s.st.PutAsset(a); err != nil {
		return errors.Wrap(err, "persist asset")
	}

	s.logger.Infow("Asset active flag updated", "asset_id", id, "active", active)
	return nil
}

// HealthCheck verifies the store and reports the first halted pool.
func (s *Service) HealthCheck() error {
	if err := s.st.HealthCheck(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, p := range s.pools {
		if cause := p.Halted(); cause != nil {
			return errors.Wrapf(ErrHalted, "asset %d: %v", id, cause)
		}
	}
	return nil
}
