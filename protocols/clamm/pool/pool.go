// Package pool implements a single concentrated-liquidity pool: its price slot, tick and
// position ledgers, and the mutating surface that settles through callbacks.
package pool

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/ledger"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config holds everything a pool is created with.
type Config struct {
	Key         clamm.PoolKey
	Address     common.Address
	TickSpacing int32
	// OwnerFeeShare is the part of every swap fee, in millionths, routed to the owner.
	OwnerFeeShare uint32
	Owner         common.Address
	// DonateToken is informational; it is exposed in views and never interpreted.
	DonateToken common.Address

	Token0 token.Token
	Token1 token.Token

	SqrtPriceX96 *uint256.Int

	Logger  clamm.Logger // Required.
	Metrics *Metrics     // Required; shared between pools.
	Events  clamm.EventSink
}

func (c *Config) validate() error {
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Metrics == nil {
		return errors.New("config: Metrics cannot be nil")
	}
	if c.Token0 == nil || c.Token1 == nil {
		return errors.New("config: Token0 and Token1 cannot be nil")
	}
	if c.Token0.Address() != c.Key.Token0 || c.Token1.Address() != c.Key.Token1 {
		return errors.New("config: tokens do not match the pool key")
	}
	if c.Key.Token0 == (common.Address{}) || c.Key.Token1 == (common.Address{}) {
		return clamm.ErrZeroAddress
	}
	if c.Key.Token0 == c.Key.Token1 {
		return clamm.ErrTokensMustBeDifferent
	}
	if c.Key.Token0.Cmp(c.Key.Token1) > 0 {
		return errors.New("config: token0 must sort below token1")
	}
	if c.Key.Fee >= clamm.FeeDenominator {
		return fmt.Errorf("%w: %d", clamm.ErrUnsupportedFee, c.Key.Fee)
	}
	if c.TickSpacing <= 0 {
		return tickmath.ErrInvalidTickSpacing
	}
	if c.OwnerFeeShare > clamm.FeeDenominator {
		return fmt.Errorf("%w: %d exceeds %d", clamm.ErrInvalidOwnerFee, c.OwnerFeeShare, clamm.FeeDenominator)
	}
	if c.SqrtPriceX96 == nil {
		return fmt.Errorf("%w: initial price missing", clamm.ErrPoolNotInitialized)
	}
	return nil
}

// slot holds the pool's scalar state. Fields are replaced, never mutated in place,
// so a struct copy is a complete backup.
type slot struct {
	sqrtPriceX96         *uint256.Int
	tick                 int32
	liquidity            *uint256.Int
	feeGrowthGlobal0X128 *uint256.Int
	feeGrowthGlobal1X128 *uint256.Int
	ownerFees0           *uint256.Int
	ownerFees1           *uint256.Int
	volume0              *uint256.Int
	volume1              *uint256.Int
	sequence             uint64
}

// Pool is safe for concurrent use. Mutating calls are serialized; a mutating call made
// while another one is waiting on its settler fails with clamm.ErrLocked.
type Pool struct {
	key           clamm.PoolKey
	address       common.Address
	tickSpacing   int32
	ownerFeeShare uint32
	owner         common.Address
	donateToken   common.Address
	token0        token.Token
	token1        token.Token

	logger  clamm.Logger
	metrics *Metrics
	events  clamm.EventSink

	// mu serializes mutating calls for their whole duration, settlement included.
	mu       sync.Mutex
	settling atomic.Bool
	// stateMu guards the fields below. It is released while a settler runs so that the
	// settler can read the pool.
	stateMu   sync.RWMutex
	slot      slot
	ticks     *ledger.Ticks
	positions *ledger.Positions
}

// NewPool creates a pool initialized at cfg.SqrtPriceX96.
func NewPool(cfg *Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tick, err := tickmath.GetTickAtSqrtRatio(cfg.SqrtPriceX96)
	if err != nil {
		return nil, fmt.Errorf("initial price: %w", err)
	}

	p := &Pool{
		key:           cfg.Key,
		address:       cfg.Address,
		tickSpacing:   cfg.TickSpacing,
		ownerFeeShare: cfg.OwnerFeeShare,
		owner:         cfg.Owner,
		donateToken:   cfg.DonateToken,
		token0:        cfg.Token0,
		token1:        cfg.Token1,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		events:        cfg.Events,
		slot: slot{
			sqrtPriceX96:         cfg.SqrtPriceX96.Clone(),
			tick:                 tick,
			liquidity:            new(uint256.Int),
			feeGrowthGlobal0X128: new(uint256.Int),
			feeGrowthGlobal1X128: new(uint256.Int),
			ownerFees0:           new(uint256.Int),
			ownerFees1:           new(uint256.Int),
			volume0:              new(uint256.Int),
			volume1:              new(uint256.Int),
		},
		ticks:     ledger.NewTicks(cfg.TickSpacing),
		positions: ledger.NewPositions(),
	}

	p.logger.Info("pool initialized",
		"pool", p.address.Hex(),
		"token0", p.key.Token0.Hex(),
		"token1", p.key.Token1.Hex(),
		"fee", p.key.Fee,
		"tick", tick,
	)
	p.publish(clamm.Event{
		Kind:         clamm.EventInitialize,
		Sender:       p.owner,
		SqrtPriceX96: p.slot.sqrtPriceX96.ToBig(),
		Tick:         tick,
	})
	return p, nil
}

// operation is the result of the compute phase of a mutating call.
type operation struct {
	// owed0 and owed1 must be delivered by the settler; non-positive values are ignored.
	owed0, owed1 *big.Int
	// payout runs after settlement succeeded and before the changes are committed.
	payout func() error
	// event is published once the changes are committed.
	event clamm.Event
}

// execute runs one mutating call. compute mutates the ledgers inside a transaction; the
// settlement then pulls what is owed and verifies it arrived, and payout pushes tokens
// out. Any failure restores every ledger and slot value the call touched.
func (p *Pool) execute(name string, settler Settler, data []byte, compute func() (*operation, error)) error {
	if p.settling.Load() {
		return fmt.Errorf("%w: %s during settlement", clamm.ErrLocked, name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stateMu.Lock()
	backup := p.slot
	p.ticks.Begin()
	p.positions.Begin()
	op, err := compute()
	if err != nil {
		p.rollbackLocked(backup)
		p.stateMu.Unlock()
		p.fail(name, err)
		return err
	}
	p.stateMu.Unlock()

	if err := p.settle(name, op.owed0, op.owed1, settler, data); err != nil {
		p.rollback(backup)
		p.fail(name, err)
		return err
	}
	if op.payout != nil {
		if err := op.payout(); err != nil {
			p.rollback(backup)
			p.fail(name, err)
			return err
		}
	}

	p.stateMu.Lock()
	p.ticks.Commit()
	p.positions.Commit()
	p.slot.sequence++
	op.event.Sequence = p.slot.sequence
	op.event.SqrtPriceX96 = p.slot.sqrtPriceX96.ToBig()
	op.event.Tick = p.slot.tick
	p.stateMu.Unlock()

	p.metrics.operations.WithLabelValues(p.address.Hex(), name).Inc()
	p.publish(op.event)
	return nil
}

func (p *Pool) rollbackLocked(backup slot) {
	p.ticks.Rollback()
	p.positions.Rollback()
	p.slot = backup
}

func (p *Pool) rollback(backup slot) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.rollbackLocked(backup)
}

func (p *Pool) fail(name string, err error) {
	p.metrics.failures.WithLabelValues(p.address.Hex(), name).Inc()
	p.logger.Debug("pool operation rolled back", "pool", p.address.Hex(), "operation", name, "error", err)
}

func (p *Pool) publish(event clamm.Event) {
	if p.events == nil {
		return
	}
	event.Pool = p.address
	if err := p.events.Publish(event); err != nil {
		p.logger.Warn("failed to publish pool event", "pool", p.address.Hex(), "kind", event.Kind, "sequence", event.Sequence, "error", err)
	}
}

// read runs fn under the state read lock.
func (p *Pool) read(fn func()) {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	fn()
}

// transferOut sends amounts from the pool's own balance to recipient.
func (p *Pool) transferOut(recipient common.Address, amount0, amount1 *uint256.Int) error {
	if amount0 != nil && !amount0.IsZero() {
		if err := p.token0.Transfer(p.address, recipient, amount0); err != nil {
			return fmt.Errorf("paying token0: %w", err)
		}
	}
	if amount1 != nil && !amount1.IsZero() {
		if err := p.token1.Transfer(p.address, recipient, amount1); err != nil {
			return fmt.Errorf("paying token1: %w", err)
		}
	}
	return nil
}

func (p *Pool) checkTicks(tickLower, tickUpper int32) error {
	if tickLower >= tickUpper {
		return fmt.Errorf("%w: lower %d must be below upper %d", clamm.ErrInvalidTickRange, tickLower, tickUpper)
	}
	if tickLower < tickmath.MinTick || tickUpper > tickmath.MaxTick {
		return fmt.Errorf("%w: [%d, %d] outside [%d, %d]", clamm.ErrInvalidTickRange, tickLower, tickUpper, tickmath.MinTick, tickmath.MaxTick)
	}
	if tickLower%p.tickSpacing != 0 || tickUpper%p.tickSpacing != 0 {
		return fmt.Errorf("%w: [%d, %d] not aligned to spacing %d", clamm.ErrInvalidTickRange, tickLower, tickUpper, p.tickSpacing)
	}
	return nil
}

// Address returns the pool's address.
func (p *Pool) Address() common.Address { return p.address }

// Key returns the pool's identifying key.
func (p *Pool) Key() clamm.PoolKey { return p.key }

func (p *Pool) TickSpacing() int32 { return p.tickSpacing }

func (p *Pool) Owner() common.Address { return p.owner }

// Tokens returns the pool's token0 and token1.
func (p *Pool) Tokens() (token.Token, token.Token) { return p.token0, p.token1 }
