package sqrtpricemath

import (
	"errors"
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/holiman/uint256"
)

const resolution = 96

var (
	ErrLiquidityZero = errors.New("liquidity must be greater than zero")
	ErrSqrtPriceZero = errors.New("sqrt price must be greater than zero")
	ErrPriceOverflow = errors.New("next sqrt price out of range")
)

// GetNextSqrtPriceFromAmount0RoundingUp returns the price after adding (add=true) or
// removing amount of token0, rounding up.
//
//	next = L * sqrtP / (L +- amount * sqrtP)
//
// Rounding up keeps the price from moving further than the amount allows.
func GetNextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if amount.IsZero() {
		return new(uint256.Int).Set(sqrtPX96), nil
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, resolution)
	product, overflow := new(uint256.Int).MulOverflow(amount, sqrtPX96)

	if add {
		if !overflow {
			denominator, overflowAdd := new(uint256.Int).AddOverflow(numerator1, product)
			if !overflowAdd {
				return fullmath.MulDivRoundingUp(numerator1, sqrtPX96, denominator)
			}
		}
		// L / (L/sqrtP + amount), precision loss is acceptable here
		denominator := new(uint256.Int).Div(numerator1, sqrtPX96)
		denominator, overflowAdd := denominator.AddOverflow(denominator, amount)
		if overflowAdd {
			return nil, ErrPriceOverflow
		}
		return fullmath.DivRoundingUp(numerator1, denominator)
	}

	if overflow || !numerator1.Gt(product) {
		return nil, ErrPriceOverflow
	}
	denominator := new(uint256.Int).Sub(numerator1, product)
	next, err := fullmath.MulDivRoundingUp(numerator1, sqrtPX96, denominator)
	if err != nil {
		return nil, err
	}
	if next.Gt(fullmath.MaxUint160) {
		return nil, ErrPriceOverflow
	}
	return next, nil
}

// GetNextSqrtPriceFromAmount1RoundingDown returns the price after adding or removing
// amount of token1, rounding down.
//
//	next = sqrtP +- amount / L
func GetNextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if add {
		var quotient *uint256.Int
		var err error
		if !amount.Gt(fullmath.MaxUint160) {
			quotient = new(uint256.Int).Lsh(amount, resolution)
			quotient.Div(quotient, liquidity)
		} else if quotient, err = fullmath.MulDiv(amount, fullmath.Q96, liquidity); err != nil {
			return nil, err
		}
		next, overflow := new(uint256.Int).AddOverflow(sqrtPX96, quotient)
		if overflow || next.Gt(fullmath.MaxUint160) {
			return nil, ErrPriceOverflow
		}
		return next, nil
	}

	var quotient *uint256.Int
	var err error
	if !amount.Gt(fullmath.MaxUint160) {
		quotient, err = fullmath.DivRoundingUp(new(uint256.Int).Lsh(amount, resolution), liquidity)
	} else {
		quotient, err = fullmath.MulDivRoundingUp(amount, fullmath.Q96, liquidity)
	}
	if err != nil {
		return nil, err
	}
	if !sqrtPX96.Gt(quotient) {
		return nil, ErrPriceOverflow
	}
	return new(uint256.Int).Sub(sqrtPX96, quotient), nil
}

// GetNextSqrtPriceFromInput returns the price after swapping amountIn of the input token.
// Rounding never lets the price pass the true target.
func GetNextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtPX96.IsZero() {
		return nil, ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return nil, ErrLiquidityZero
	}
	if zeroForOne {
		return GetNextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountIn, true)
	}
	return GetNextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountIn, true)
}

// GetNextSqrtPriceFromOutput returns the price after taking amountOut of the output token.
func GetNextSqrtPriceFromOutput(sqrtPX96, liquidity, amountOut *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtPX96.IsZero() {
		return nil, ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return nil, ErrLiquidityZero
	}
	if zeroForOne {
		return GetNextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountOut, false)
	}
	return GetNextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountOut, false)
}

// GetAmount0Delta returns the token0 amount between two prices:
//
//	L * (sqrtB - sqrtA) / (sqrtA * sqrtB)
func GetAmount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if sqrtRatioAX96.Gt(sqrtRatioBX96) {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	if sqrtRatioAX96.IsZero() {
		return nil, ErrSqrtPriceZero
	}

	numerator1 := new(uint256.Int).Lsh(liquidity, resolution)
	numerator2 := new(uint256.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)

	if roundUp {
		x, err := fullmath.MulDivRoundingUp(numerator1, numerator2, sqrtRatioBX96)
		if err != nil {
			return nil, err
		}
		return fullmath.DivRoundingUp(x, sqrtRatioAX96)
	}
	x, err := fullmath.MulDiv(numerator1, numerator2, sqrtRatioBX96)
	if err != nil {
		return nil, err
	}
	return x.Div(x, sqrtRatioAX96), nil
}

// GetAmount1Delta returns the token1 amount between two prices: L * (sqrtB - sqrtA).
func GetAmount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if sqrtRatioAX96.Gt(sqrtRatioBX96) {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	diff := new(uint256.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	if roundUp {
		return fullmath.MulDivRoundingUp(liquidity, diff, fullmath.Q96)
	}
	return fullmath.MulDiv(liquidity, diff, fullmath.Q96)
}

// GetAmount0DeltaSigned returns the signed token0 delta for a signed liquidity change.
// Positive liquidity yields a positive amount rounded up (owed to the pool); negative
// liquidity yields a negative amount rounded down (owed by the pool).
func GetAmount0DeltaSigned(sqrtRatioAX96, sqrtRatioBX96 *uint256.Int, liquidity *big.Int) (*big.Int, error) {
	return signedDelta(GetAmount0Delta, sqrtRatioAX96, sqrtRatioBX96, liquidity)
}

// GetAmount1DeltaSigned is the token1 counterpart of GetAmount0DeltaSigned.
func GetAmount1DeltaSigned(sqrtRatioAX96, sqrtRatioBX96 *uint256.Int, liquidity *big.Int) (*big.Int, error) {
	return signedDelta(GetAmount1Delta, sqrtRatioAX96, sqrtRatioBX96, liquidity)
}

func signedDelta(
	fn func(a, b, l *uint256.Int, roundUp bool) (*uint256.Int, error),
	a, b *uint256.Int,
	liquidity *big.Int,
) (*big.Int, error) {
	abs := new(big.Int).Abs(liquidity)
	l, overflow := uint256.FromBig(abs)
	if overflow || l.Gt(fullmath.MaxUint128) {
		return nil, fullmath.ErrMulDivOverflow
	}
	if liquidity.Sign() < 0 {
		amount, err := fn(a, b, l, false)
		if err != nil {
			return nil, err
		}
		return new(big.Int).Neg(amount.ToBig()), nil
	}
	amount, err := fn(a, b, l, true)
	if err != nil {
		return nil, err
	}
	return amount.ToBig(), nil
}
