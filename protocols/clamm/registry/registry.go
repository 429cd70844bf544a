// Package registry creates pools and indexes them by key, by address and by token.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/pool"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// maxTickSpacing keeps a single tick bitmap word search bounded.
const maxTickSpacing = 16384

// PoolAddress derives the deterministic address of the pool identified by key:
// the last 20 bytes of keccak256(token0 ‖ token1 ‖ uint24(fee)).
func PoolAddress(key clamm.PoolKey) common.Address {
	fee := []byte{byte(key.Fee >> 16), byte(key.Fee >> 8), byte(key.Fee)}
	hash := crypto.Keccak256(key.Token0.Bytes(), key.Token1.Bytes(), fee)
	return common.BytesToAddress(hash[12:])
}

// Config holds the dependencies shared by every pool the registry creates.
type Config struct {
	// Owner receives the owner fees of pools created without an explicit owner.
	Owner common.Address
	// FeeTiers maps enabled fees to their tick spacing. Defaults to clamm.DefaultFeeTiers.
	FeeTiers map[uint32]int32

	Logger  clamm.Logger // Required.
	Metrics *pool.Metrics
	Events  clamm.EventSink
}

func (c *Config) validate() error {
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Metrics == nil {
		return errors.New("config: Metrics cannot be nil")
	}
	return nil
}

// PoolOptions are the per-pool settings of CreatePool.
type PoolOptions struct {
	OwnerFeeShare uint32
	// Owner overrides the registry owner when set.
	Owner       common.Address
	DonateToken common.Address
}

// Registry is safe for concurrent use.
type Registry struct {
	owner   common.Address
	logger  clamm.Logger
	metrics *pool.Metrics
	events  clamm.EventSink

	mu        sync.RWMutex
	feeTiers  map[uint32]int32
	byKey     map[clamm.PoolKey]*pool.Pool
	byAddress map[common.Address]*pool.Pool
	ordered   []*pool.Pool
	graph     *graph

	cachedGraph atomic.Pointer[GraphView]
}

func NewRegistry(cfg *Config) (*Registry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tiers := cfg.FeeTiers
	if tiers == nil {
		tiers = clamm.DefaultFeeTiers
	}
	feeTiers := make(map[uint32]int32, len(tiers))
	for fee, spacing := range tiers {
		feeTiers[fee] = spacing
	}

	r := &Registry{
		owner:     cfg.Owner,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		events:    cfg.Events,
		feeTiers:  feeTiers,
		byKey:     make(map[clamm.PoolKey]*pool.Pool),
		byAddress: make(map[common.Address]*pool.Pool),
		graph:     newGraph(),
	}
	r.cachedGraph.Store(r.graph.view())
	return r, nil
}

// EnableFeeTier makes fee available to CreatePool with the given tick spacing.
// An enabled tier cannot be changed.
func (r *Registry) EnableFeeTier(fee uint32, tickSpacing int32) error {
	if fee >= clamm.FeeDenominator {
		return fmt.Errorf("%w: %d", clamm.ErrUnsupportedFee, fee)
	}
	if tickSpacing <= 0 || tickSpacing >= maxTickSpacing {
		return fmt.Errorf("%w: %d", tickmath.ErrInvalidTickSpacing, tickSpacing)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.feeTiers[fee]; ok {
		return fmt.Errorf("%w: fee %d already enabled with spacing %d", clamm.ErrUnsupportedFee, fee, existing)
	}
	r.feeTiers[fee] = tickSpacing
	return nil
}

// TickSpacing returns the spacing enabled for fee.
func (r *Registry) TickSpacing(fee uint32) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spacing, ok := r.feeTiers[fee]
	return spacing, ok
}

// CreatePool creates and initializes the pool for an unordered token pair and fee.
func (r *Registry) CreatePool(tokenA, tokenB token.Token, fee uint32, sqrtPriceX96 *uint256.Int, opts PoolOptions) (*pool.Pool, error) {
	if tokenA == nil || tokenB == nil {
		return nil, clamm.ErrZeroAddress
	}
	if tokenA.Address() == (common.Address{}) || tokenB.Address() == (common.Address{}) {
		return nil, clamm.ErrZeroAddress
	}
	if tokenA.Address() == tokenB.Address() {
		return nil, fmt.Errorf("%w: %s", clamm.ErrTokensMustBeDifferent, tokenA.Address().Hex())
	}
	token0, token1 := tokenA, tokenB
	if tokenB.Address().Cmp(tokenA.Address()) < 0 {
		token0, token1 = tokenB, tokenA
	}
	key := clamm.PoolKey{Token0: token0.Address(), Token1: token1.Address(), Fee: fee}

	r.mu.Lock()
	defer r.mu.Unlock()

	spacing, ok := r.feeTiers[fee]
	if !ok {
		return nil, fmt.Errorf("%w: %d", clamm.ErrUnsupportedFee, fee)
	}
	if _, exists := r.byKey[key]; exists {
		return nil, fmt.Errorf("%w: %s/%s fee %d", clamm.ErrPoolAlreadyExists, key.Token0.Hex(), key.Token1.Hex(), fee)
	}

	owner := opts.Owner
	if owner == (common.Address{}) {
		owner = r.owner
	}
	address := PoolAddress(key)
	p, err := pool.NewPool(&pool.Config{
		Key:           key,
		Address:       address,
		TickSpacing:   spacing,
		OwnerFeeShare: opts.OwnerFeeShare,
		Owner:         owner,
		DonateToken:   opts.DonateToken,
		Token0:        token0,
		Token1:        token1,
		SqrtPriceX96:  sqrtPriceX96,
		Logger:        r.logger,
		Metrics:       r.metrics,
		Events:        r.events,
	})
	if err != nil {
		return nil, err
	}

	r.byKey[key] = p
	r.byAddress[address] = p
	r.ordered = append(r.ordered, p)
	r.graph.addPool(key.Token0, key.Token1, address)
	r.cachedGraph.Store(r.graph.view())

	r.logger.Info("pool created", "pool", address.Hex(), "token0", key.Token0.Hex(), "token1", key.Token1.Hex(), "fee", fee, "tickSpacing", spacing)
	return p, nil
}

// Get returns the pool for an unordered token pair and fee.
func (r *Registry) Get(tokenA, tokenB common.Address, fee uint32) (*pool.Pool, error) {
	key := clamm.NewPoolKey(tokenA, tokenB, fee)
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s fee %d", clamm.ErrPoolNotFound, key.Token0.Hex(), key.Token1.Hex(), fee)
	}
	return p, nil
}

func (r *Registry) GetByAddress(address common.Address) (*pool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byAddress[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", clamm.ErrPoolNotFound, address.Hex())
	}
	return p, nil
}

// All returns every pool in creation order.
func (r *Registry) All() []*pool.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*pool.Pool, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// PoolsForToken returns the pools that trade token, sorted by address.
func (r *Registry) PoolsForToken(token common.Address) []*pool.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addresses := r.graph.poolsForToken(token)
	out := make([]*pool.Pool, 0, len(addresses))
	for _, a := range addresses {
		out = append(out, r.byAddress[a])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address().Cmp(out[j].Address()) < 0 })
	return out
}

// Graph returns the token graph. The returned view is shared and must not be modified.
func (r *Registry) Graph() *GraphView {
	return r.cachedGraph.Load()
}

// Views returns the views of every pool in creation order.
func (r *Registry) Views() []clamm.PoolView {
	pools := r.All()
	out := make([]clamm.PoolView, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.View())
	}
	return out
}
