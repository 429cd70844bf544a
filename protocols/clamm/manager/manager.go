// Package manager is the user-facing front-end of the pools: it turns token amounts into
// liquidity, pays pools out of a payer's balances and routes swaps through several pools.
package manager

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/liquiditymath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/pool"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolSource resolves pools; *registry.Registry implements it.
type PoolSource interface {
	Get(tokenA, tokenB common.Address, fee uint32) (*pool.Pool, error)
}

type Config struct {
	Pools PoolSource
	// Address is the manager's own account. It holds the intermediate tokens of
	// multi-hop swaps between hops.
	Address common.Address
	Logger  clamm.Logger
}

func (c *Config) validate() error {
	if c.Pools == nil {
		return errors.New("config: Pools cannot be nil")
	}
	if c.Address == (common.Address{}) {
		return errors.New("config: Address cannot be the zero address")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Manager is safe for concurrent use; every call is independent.
type Manager struct {
	pools   PoolSource
	address common.Address
	logger  clamm.Logger
}

func NewManager(cfg *Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{pools: cfg.Pools, address: cfg.Address, logger: cfg.Logger}, nil
}

// Address returns the manager's own account.
func (m *Manager) Address() common.Address { return m.address }

// payer returns a settler that transfers what a pool is owed from payer's balances.
// check, if set, runs first and can veto the settlement.
func payer(p *pool.Pool, from common.Address, check func(pool.Deltas) error) pool.Settler {
	token0, token1 := p.Tokens()
	return pool.SettlerFunc(func(d pool.Deltas) error {
		if check != nil {
			if err := check(d); err != nil {
				return err
			}
		}
		if err := pay(token0, from, d.Pool, d.Amount0); err != nil {
			return err
		}
		return pay(token1, from, d.Pool, d.Amount1)
	})
}

func pay(t token.Token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if err := t.Transfer(from, to, uint256.MustFromBig(amount)); err != nil {
		return fmt.Errorf("paying %s: %w", t.Address().Hex(), err)
	}
	return nil
}

// MintParams describes a liquidity deposit. Amounts refer to the pool's token0 and
// token1, i.e. the tokens in ascending address order.
type MintParams struct {
	TokenA    common.Address
	TokenB    common.Address
	Fee       uint32
	TickLower int32
	TickUpper int32

	Amount0Desired *uint256.Int
	Amount1Desired *uint256.Int
	Amount0Min     *uint256.Int
	Amount1Min     *uint256.Int

	Payer common.Address
	Owner common.Address
}

// MintResult is what a Mint deposited.
type MintResult struct {
	Pool      common.Address
	Liquidity *uint256.Int
	Amount0   *uint256.Int
	Amount1   *uint256.Int
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

// Mint adds the most liquidity the desired amounts allow at the current price. It fails
// with clamm.ErrSlippageExceeded if the pool would take less than the minimum amounts.
func (m *Manager) Mint(params MintParams) (*MintResult, error) {
	p, err := m.pools.Get(params.TokenA, params.TokenB, params.Fee)
	if err != nil {
		return nil, err
	}
	sqrtA, err := tickmath.GetSqrtRatioAtTick(params.TickLower)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", clamm.ErrInvalidTickRange, err)
	}
	sqrtB, err := tickmath.GetSqrtRatioAtTick(params.TickUpper)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", clamm.ErrInvalidTickRange, err)
	}

	liquidity, err := liquiditymath.GetLiquidityForAmounts(p.Slot0().SqrtPriceX96, sqrtA, sqrtB, orZero(params.Amount0Desired), orZero(params.Amount1Desired))
	if err != nil {
		return nil, err
	}
	min0, min1 := orZero(params.Amount0Min), orZero(params.Amount1Min)

	// the price may move between the read above and the mint, so the minimums are
	// enforced against what the pool actually asks for
	check := func(d pool.Deltas) error {
		if d.Amount0.Cmp(min0.ToBig()) < 0 || d.Amount1.Cmp(min1.ToBig()) < 0 {
			return fmt.Errorf("%w: mint takes %s/%s, minimum %s/%s", clamm.ErrSlippageExceeded, d.Amount0, d.Amount1, min0.Dec(), min1.Dec())
		}
		return nil
	}
	amount0, amount1, err := p.Mint(params.Owner, params.TickLower, params.TickUpper, liquidity, payer(p, params.Payer, check), nil)
	if err != nil {
		return nil, err
	}
	// a mint that takes nothing never reaches the settler
	if amount0.Lt(min0) || amount1.Lt(min1) {
		return nil, fmt.Errorf("%w: mint took %s/%s", clamm.ErrSlippageExceeded, amount0.Dec(), amount1.Dec())
	}

	m.logger.Debug("liquidity added", "pool", p.Address().Hex(), "owner", params.Owner.Hex(), "liquidity", liquidity.Dec())
	return &MintResult{Pool: p.Address(), Liquidity: liquidity, Amount0: amount0, Amount1: amount1}, nil
}

// PositionParams identifies a position through its pool.
type PositionParams struct {
	TokenA    common.Address
	TokenB    common.Address
	Fee       uint32
	TickLower int32
	TickUpper int32
	Owner     common.Address
}

// Burn removes liquidity from a position; the released tokens become collectable.
func (m *Manager) Burn(params PositionParams, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	p, err := m.pools.Get(params.TokenA, params.TokenB, params.Fee)
	if err != nil {
		return nil, nil, err
	}
	return p.Burn(params.Owner, params.TickLower, params.TickUpper, liquidity)
}

// Collect pays what a position is owed, up to the requested amounts, to recipient.
func (m *Manager) Collect(params PositionParams, recipient common.Address, amount0Requested, amount1Requested *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	p, err := m.pools.Get(params.TokenA, params.TokenB, params.Fee)
	if err != nil {
		return nil, nil, err
	}
	return p.Collect(params.Owner, params.TickLower, params.TickUpper, recipient, amount0Requested, amount1Requested)
}

// CollectOwnerFee pays accrued owner fees of a pool to recipient. caller must own the pool.
func (m *Manager) CollectOwnerFee(caller, tokenA, tokenB common.Address, fee uint32, recipient common.Address, amount0Requested, amount1Requested *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	p, err := m.pools.Get(tokenA, tokenB, fee)
	if err != nil {
		return nil, nil, err
	}
	return p.CollectOwnerFee(caller, recipient, amount0Requested, amount1Requested)
}

// Donate pays amount0 and amount1 from payer to the liquidity in range of a pool.
func (m *Manager) Donate(tokenA, tokenB common.Address, fee uint32, from common.Address, amount0, amount1 *uint256.Int) error {
	p, err := m.pools.Get(tokenA, tokenB, fee)
	if err != nil {
		return err
	}
	return p.Donate(from, amount0, amount1, payer(p, from, nil), nil)
}
