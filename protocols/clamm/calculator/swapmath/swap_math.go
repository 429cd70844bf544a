package swapmath

import (
	"errors"

	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/sqrtpricemath"
	"github.com/holiman/uint256"
)

// feeDenominator is the denominator for fee calculations, representing 100% or 1,000,000 pips.
const feeDenominator = 1_000_000

var ErrInvalidFee = errors.New("fee must be below 1e6 pips")

// Step is the outcome of one swap step at constant liquidity.
type Step struct {
	SqrtRatioNextX96 *uint256.Int
	AmountIn         *uint256.Int
	AmountOut        *uint256.Int
	FeeAmount        *uint256.Int
}

// ComputeSwapStep swaps amountRemaining (an input amount when exactIn, an output amount
// otherwise) between sqrtRatioCurrentX96 and sqrtRatioTargetX96 without leaving the range.
// The direction follows from the two prices: a target below the current price sells token0.
//
// The fee is taken from the input before it is applied to the curve. When the target is
// not reached on exact input, the whole unused remainder is kept as fee so that no dust
// is left behind. With zero liquidity every amount is zero and the price jumps to the target.
func ComputeSwapStep(
	sqrtRatioCurrentX96 *uint256.Int,
	sqrtRatioTargetX96 *uint256.Int,
	liquidity *uint256.Int,
	amountRemaining *uint256.Int,
	exactIn bool,
	feePips uint32,
) (*Step, error) {
	if feePips >= feeDenominator {
		return nil, ErrInvalidFee
	}
	zeroForOne := !sqrtRatioCurrentX96.Lt(sqrtRatioTargetX96)
	feeComplement := uint256.NewInt(uint64(feeDenominator - feePips))
	denominator := uint256.NewInt(feeDenominator)

	var (
		next      *uint256.Int
		amountIn  *uint256.Int
		amountOut *uint256.Int
		err       error
	)

	if exactIn {
		var remainingLessFee *uint256.Int
		if remainingLessFee, err = fullmath.MulDiv(amountRemaining, feeComplement, denominator); err != nil {
			return nil, err
		}
		if zeroForOne {
			amountIn, err = sqrtpricemath.GetAmount0Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
		} else {
			amountIn, err = sqrtpricemath.GetAmount1Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
		}
		if err != nil {
			return nil, err
		}
		if !remainingLessFee.Lt(amountIn) {
			next = new(uint256.Int).Set(sqrtRatioTargetX96)
		} else if next, err = sqrtpricemath.GetNextSqrtPriceFromInput(sqrtRatioCurrentX96, liquidity, remainingLessFee, zeroForOne); err != nil {
			return nil, err
		}
	} else {
		if zeroForOne {
			amountOut, err = sqrtpricemath.GetAmount1Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, false)
		} else {
			amountOut, err = sqrtpricemath.GetAmount0Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, false)
		}
		if err != nil {
			return nil, err
		}
		if !amountRemaining.Lt(amountOut) {
			next = new(uint256.Int).Set(sqrtRatioTargetX96)
		} else if next, err = sqrtpricemath.GetNextSqrtPriceFromOutput(sqrtRatioCurrentX96, liquidity, amountRemaining, zeroForOne); err != nil {
			return nil, err
		}
	}

	reachedTarget := sqrtRatioTargetX96.Eq(next)

	// Recompute whichever amounts were not fixed by reaching the target.
	if zeroForOne {
		if !reachedTarget || !exactIn {
			if amountIn, err = sqrtpricemath.GetAmount0Delta(next, sqrtRatioCurrentX96, liquidity, true); err != nil {
				return nil, err
			}
		}
		if !reachedTarget || exactIn {
			if amountOut, err = sqrtpricemath.GetAmount1Delta(next, sqrtRatioCurrentX96, liquidity, false); err != nil {
				return nil, err
			}
		}
	} else {
		if !reachedTarget || !exactIn {
			if amountIn, err = sqrtpricemath.GetAmount1Delta(sqrtRatioCurrentX96, next, liquidity, true); err != nil {
				return nil, err
			}
		}
		if !reachedTarget || exactIn {
			if amountOut, err = sqrtpricemath.GetAmount0Delta(sqrtRatioCurrentX96, next, liquidity, false); err != nil {
				return nil, err
			}
		}
	}

	// cap the output amount to not exceed the remaining output amount
	if !exactIn && amountOut.Gt(amountRemaining) {
		amountOut = new(uint256.Int).Set(amountRemaining)
	}

	var feeAmount *uint256.Int
	if exactIn && !reachedTarget {
		feeAmount = new(uint256.Int).Sub(amountRemaining, amountIn)
	} else if feeAmount, err = fullmath.MulDivRoundingUp(amountIn, uint256.NewInt(uint64(feePips)), feeComplement); err != nil {
		return nil, err
	}

	return &Step{
		SqrtRatioNextX96: next,
		AmountIn:         amountIn,
		AmountOut:        amountOut,
		FeeAmount:        feeAmount,
	}, nil
}
