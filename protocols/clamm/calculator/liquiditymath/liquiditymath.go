package liquiditymath

import (
	"errors"
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/sqrtpricemath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/tickmath"
	"github.com/holiman/uint256"
)

var (
	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta adds a signed liquidity delta to an unsigned uint128 liquidity value.
func AddDelta(x *uint256.Int, y *big.Int) (*uint256.Int, error) {
	sum := new(big.Int).Add(x.ToBig(), y)
	if sum.Sign() < 0 {
		return nil, ErrLiquidityUnderflow
	}
	z, overflow := uint256.FromBig(sum)
	if overflow || z.Gt(fullmath.MaxUint128) {
		return nil, ErrLiquidityOverflow
	}
	return z, nil
}

// AmountsForLiquidityDelta returns the token amounts that correspond to changing the
// liquidity of [tickLower, tickUpper) by liquidityDelta at the current price.
//
// A range entirely above the current tick is made of token0 only, a range at or below
// it of token1 only, and an active range of both. Amounts are signed from the pool's
// perspective: adding liquidity yields positive amounts rounded up, removing it yields
// negative amounts rounded down.
func AmountsForLiquidityDelta(
	sqrtPriceX96 *uint256.Int,
	tickCurrent, tickLower, tickUpper int32,
	liquidityDelta *big.Int,
) (amount0, amount1 *big.Int, err error) {
	sqrtLower, err := tickmath.GetSqrtRatioAtTick(tickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := tickmath.GetSqrtRatioAtTick(tickUpper)
	if err != nil {
		return nil, nil, err
	}

	amount0, amount1 = new(big.Int), new(big.Int)
	switch {
	case tickCurrent < tickLower:
		amount0, err = sqrtpricemath.GetAmount0DeltaSigned(sqrtLower, sqrtUpper, liquidityDelta)
	case tickCurrent < tickUpper:
		if amount0, err = sqrtpricemath.GetAmount0DeltaSigned(sqrtPriceX96, sqrtUpper, liquidityDelta); err != nil {
			return nil, nil, err
		}
		amount1, err = sqrtpricemath.GetAmount1DeltaSigned(sqrtLower, sqrtPriceX96, liquidityDelta)
	default:
		amount1, err = sqrtpricemath.GetAmount1DeltaSigned(sqrtLower, sqrtUpper, liquidityDelta)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func liquidityForAmount0(sqrtRatioAX96, sqrtRatioBX96, amount0 *uint256.Int) (*uint256.Int, error) {
	if sqrtRatioAX96.Gt(sqrtRatioBX96) {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	intermediate, err := fullmath.MulDiv(sqrtRatioAX96, sqrtRatioBX96, fullmath.Q96)
	if err != nil {
		return nil, err
	}
	return fullmath.MulDiv(amount0, intermediate, new(uint256.Int).Sub(sqrtRatioBX96, sqrtRatioAX96))
}

func liquidityForAmount1(sqrtRatioAX96, sqrtRatioBX96, amount1 *uint256.Int) (*uint256.Int, error) {
	if sqrtRatioAX96.Gt(sqrtRatioBX96) {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	return fullmath.MulDiv(amount1, fullmath.Q96, new(uint256.Int).Sub(sqrtRatioBX96, sqrtRatioAX96))
}

// GetLiquidityForAmounts returns the largest liquidity that amount0 and amount1 can both pay
// for in the range [sqrtRatioAX96, sqrtRatioBX96) at the given price.
func GetLiquidityForAmounts(sqrtRatioX96, sqrtRatioAX96, sqrtRatioBX96, amount0, amount1 *uint256.Int) (*uint256.Int, error) {
	if sqrtRatioAX96.Gt(sqrtRatioBX96) {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	if sqrtRatioAX96.Eq(sqrtRatioBX96) {
		return nil, ErrLiquidityOverflow
	}

	var liquidity *uint256.Int
	var err error
	switch {
	case !sqrtRatioX96.Gt(sqrtRatioAX96):
		liquidity, err = liquidityForAmount0(sqrtRatioAX96, sqrtRatioBX96, amount0)
	case sqrtRatioX96.Lt(sqrtRatioBX96):
		var l0, l1 *uint256.Int
		if l0, err = liquidityForAmount0(sqrtRatioX96, sqrtRatioBX96, amount0); err != nil {
			return nil, err
		}
		if l1, err = liquidityForAmount1(sqrtRatioAX96, sqrtRatioX96, amount1); err != nil {
			return nil, err
		}
		liquidity = l0
		if l1.Lt(l0) {
			liquidity = l1
		}
	default:
		liquidity, err = liquidityForAmount1(sqrtRatioAX96, sqrtRatioBX96, amount1)
	}
	if err != nil {
		return nil, err
	}
	if liquidity.Gt(fullmath.MaxUint128) {
		return nil, ErrLiquidityOverflow
	}
	return liquidity, nil
}

// GetAmountsForLiquidity returns the token amounts held by liquidity in the range at the
// given price, rounding down.
func GetAmountsForLiquidity(sqrtRatioX96, sqrtRatioAX96, sqrtRatioBX96, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	if sqrtRatioAX96.Gt(sqrtRatioBX96) {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	amount0, amount1 = new(uint256.Int), new(uint256.Int)
	switch {
	case !sqrtRatioX96.Gt(sqrtRatioAX96):
		amount0, err = sqrtpricemath.GetAmount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity, false)
	case sqrtRatioX96.Lt(sqrtRatioBX96):
		if amount0, err = sqrtpricemath.GetAmount0Delta(sqrtRatioX96, sqrtRatioBX96, liquidity, false); err != nil {
			return nil, nil, err
		}
		amount1, err = sqrtpricemath.GetAmount1Delta(sqrtRatioAX96, sqrtRatioX96, liquidity, false)
	default:
		amount1, err = sqrtpricemath.GetAmount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity, false)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}
