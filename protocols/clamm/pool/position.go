package pool

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/liquiditymath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// modifyPosition applies liquidityDelta to a position and its boundary ticks and
// returns the token amounts that correspond to it, signed from the pool's perspective.
// The caller holds stateMu inside a ledger transaction.
func (p *Pool) modifyPosition(key ledger.PositionKey, liquidityDelta *big.Int) (*big.Int, *big.Int, error) {
	s := &p.slot

	var flippedLower, flippedUpper bool
	if liquidityDelta.Sign() != 0 {
		var err error
		if flippedLower, err = p.ticks.Update(key.TickLower, s.tick, liquidityDelta, s.feeGrowthGlobal0X128, s.feeGrowthGlobal1X128, false); err != nil {
			return nil, nil, err
		}
		if flippedUpper, err = p.ticks.Update(key.TickUpper, s.tick, liquidityDelta, s.feeGrowthGlobal0X128, s.feeGrowthGlobal1X128, true); err != nil {
			return nil, nil, err
		}
	}

	inside0, inside1 := p.ticks.FeeGrowthInside(key.TickLower, key.TickUpper, s.tick, s.feeGrowthGlobal0X128, s.feeGrowthGlobal1X128)
	if err := p.positions.Update(key, liquidityDelta, inside0, inside1); err != nil {
		return nil, nil, err
	}

	// ticks that lost their last reference are no longer needed
	if liquidityDelta.Sign() < 0 {
		if flippedLower {
			p.ticks.Clear(key.TickLower)
		}
		if flippedUpper {
			p.ticks.Clear(key.TickUpper)
		}
	}

	amount0, amount1, err := liquiditymath.AmountsForLiquidityDelta(s.sqrtPriceX96, s.tick, key.TickLower, key.TickUpper, liquidityDelta)
	if err != nil {
		return nil, nil, err
	}

	if key.TickLower <= s.tick && s.tick < key.TickUpper && liquidityDelta.Sign() != 0 {
		liquidity, err := liquiditymath.AddDelta(s.liquidity, liquidityDelta)
		if err != nil {
			return nil, nil, fmt.Errorf("active liquidity: %w", err)
		}
		s.liquidity = liquidity
	}
	return amount0, amount1, nil
}

// Mint adds liquidity to owner's position in [tickLower, tickUpper) and returns the
// amounts the settler had to deliver.
func (p *Pool) Mint(owner common.Address, tickLower, tickUpper int32, liquidity *uint256.Int, settler Settler, data []byte) (amount0, amount1 *uint256.Int, err error) {
	if err := p.checkTicks(tickLower, tickUpper); err != nil {
		return nil, nil, err
	}
	if liquidity == nil || liquidity.IsZero() {
		return nil, nil, clamm.ErrZeroLiquidity
	}

	key := ledger.PositionKey{Owner: owner, TickLower: tickLower, TickUpper: tickUpper}
	err = p.execute("mint", settler, data, func() (*operation, error) {
		a0, a1, err := p.modifyPosition(key, liquidity.ToBig())
		if err != nil {
			return nil, err
		}
		amount0, amount1 = uint256.MustFromBig(a0), uint256.MustFromBig(a1)
		return &operation{
			owed0: a0,
			owed1: a1,
			event: clamm.Event{
				Kind:      clamm.EventMint,
				Sender:    owner,
				Recipient: owner,
				TickLower: tickLower,
				TickUpper: tickUpper,
				Liquidity: liquidity.ToBig(),
				Amount0:   a0,
				Amount1:   a1,
			},
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Burn removes liquidity from owner's position and credits the released amounts to the
// position's owed tokens; they are paid out by Collect. A zero burn only syncs fees.
func (p *Pool) Burn(owner common.Address, tickLower, tickUpper int32, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	if err := p.checkTicks(tickLower, tickUpper); err != nil {
		return nil, nil, err
	}
	if liquidity == nil {
		liquidity = new(uint256.Int)
	}

	key := ledger.PositionKey{Owner: owner, TickLower: tickLower, TickUpper: tickUpper}
	err = p.execute("burn", nil, nil, func() (*operation, error) {
		a0, a1, err := p.modifyPosition(key, new(big.Int).Neg(liquidity.ToBig()))
		if err != nil {
			return nil, err
		}
		amount0 = uint256.MustFromBig(new(big.Int).Neg(a0))
		amount1 = uint256.MustFromBig(new(big.Int).Neg(a1))
		if !amount0.IsZero() || !amount1.IsZero() {
			p.positions.Credit(key, amount0, amount1)
		}
		return &operation{
			event: clamm.Event{
				Kind:      clamm.EventBurn,
				Sender:    owner,
				Recipient: owner,
				TickLower: tickLower,
				TickUpper: tickUpper,
				Liquidity: liquidity.ToBig(),
				Amount0:   new(big.Int).Set(a0),
				Amount1:   new(big.Int).Set(a1),
			},
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Collect pays out up to the requested amounts of what owner's position is owed.
// Requests above the owed amounts are capped; an unknown position collects nothing.
func (p *Pool) Collect(owner common.Address, tickLower, tickUpper int32, recipient common.Address, amount0Requested, amount1Requested *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	if amount0Requested == nil {
		amount0Requested = new(uint256.Int)
	}
	if amount1Requested == nil {
		amount1Requested = new(uint256.Int)
	}

	key := ledger.PositionKey{Owner: owner, TickLower: tickLower, TickUpper: tickUpper}
	err = p.execute("collect", nil, nil, func() (*operation, error) {
		amount0, amount1 = p.positions.Collect(key, amount0Requested, amount1Requested)
		a0, a1 := amount0.Clone(), amount1.Clone()
		return &operation{
			payout: func() error { return p.transferOut(recipient, a0, a1) },
			event: clamm.Event{
				Kind:      clamm.EventCollect,
				Sender:    owner,
				Recipient: recipient,
				TickLower: tickLower,
				TickUpper: tickUpper,
				Amount0:   new(big.Int).Neg(a0.ToBig()),
				Amount1:   new(big.Int).Neg(a1.ToBig()),
			},
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}
