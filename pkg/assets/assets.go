// Package assets maintains the closed set of assets a node operates
// pools for. Each asset carries a fixed denomination; every deposit and
// withdrawal in that asset moves exactly one denomination. Assets are
// registered by an operator and may be deactivated, which stops new
// deposits and withdrawals without touching pool state.
package assets

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/umbra-labs/shieldpool-go/pkg/types"
)

var (
	// ErrUnknownAsset is returned when an asset id or symbol is not
	// registered
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrAssetExists is returned when registering an asset whose id or
	// symbol is already taken
	ErrAssetExists = errors.New("asset already registered")

	// ErrInvalidAsset is returned when an asset definition fails
	// validation
	ErrInvalidAsset = errors.New("invalid asset definition")
)

// Registry is the thread-safe asset catalog
type Registry struct {
	mu       sync.RWMutex
	assets   map[types.AssetID]*types.RegisteredAsset
	bySymbol map[string]types.AssetID
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		assets:   make(map[types.AssetID]*types.RegisteredAsset),
		bySymbol: make(map[string]types.AssetID),
	}
}

// Validate checks an asset definition for registrability
func Validate(a *types.RegisteredAsset) error {
	if a == nil {
		return errors.Wrap(ErrInvalidAsset, "asset is nil")
	}
	if a.Symbol == "" {
		return errors.Wrap(ErrInvalidAsset, "symbol is empty")
	}
	if a.Denomination == nil || (*big.Int)(a.Denomination).Sign() <= 0 {
		return errors.Wrap(ErrInvalidAsset, "denomination must be positive")
	}
	return nil
}

// Register adds an asset to the catalog
func (r *Registry) Register(a *types.RegisteredAsset) error {
	if err := Validate(a); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets[a.ID]; ok {
		return errors.Wrapf(ErrAssetExists, "asset id %d", a.ID)
	}
	if _, ok := r.bySymbol[a.Symbol]; ok {
		return errors.Wrapf(ErrAssetExists, "symbol %q", a.Symbol)
	}

	r.assets[a.ID] = clone(a)
	r.bySymbol[a.Symbol] = a.ID
	return nil
}

// Get returns the asset registered under the given id
func (r *Registry) Get(id types.AssetID) (*types.RegisteredAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assets[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAsset, "asset id %d", id)
	}
	return clone(a), nil
}

// BySymbol returns the asset registered under the given symbol
func (r *Registry) BySymbol(symbol string) (*types.RegisteredAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySymbol[symbol]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAsset, "symbol %q", symbol)
	}
	return clone(r.assets[id]), nil
}

// List returns all registered assets ordered by id
func (r *Registry) List() []*types.RegisteredAsset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.RegisteredAsset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetActive toggles whether an asset accepts new operations
func (r *Registry) SetActive(id types.AssetID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assets[id]
	if !ok {
		return errors.Wrapf(ErrUnknownAsset, "asset id %d", id)
	}
	a.Active = active
	return nil
}

// clone copies an asset so callers cannot alias registry state
func clone(a *types.RegisteredAsset) *types.RegisteredAsset {
	c := *a
	if a.Denomination != nil {
		d := hexutil.Big(*new(big.Int).Set((*big.Int)(a.Denomination)))
		c.Denomination = &d
	}
	return &c
}
