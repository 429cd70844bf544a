package tickmath

import (
	"errors"
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/holiman/uint256"
)

const (
	// MinTick is the minimum tick that may be passed to GetSqrtRatioAtTick, log base sqrt(1.0001) of 2^-128.
	MinTick int32 = -887272
	// MaxTick is the maximum tick that may be passed to GetSqrtRatioAtTick.
	MaxTick int32 = -MinTick
)

var (
	// MinSqrtRatio is the value returned by GetSqrtRatioAtTick(MinTick).
	MinSqrtRatio = uint256.MustFromDecimal("4295128739")
	// MaxSqrtRatio is the value returned by GetSqrtRatioAtTick(MaxTick).
	MaxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")
	ErrInvalidTickSpacing   = errors.New("tick spacing must be positive")

	roundingMask = uint256.NewInt(0xffffffff)

	// ratioConstants[i] is 1/sqrt(1.0001^(2^i)) in Q128.128.
	ratioConstants = [20]*uint256.Int{
		uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}

	// log base 2 -> log base sqrt(1.0001), Q128.128
	logSqrt10001Multiplier, _ = new(big.Int).SetString("255738958999603826347141", 10)
	tickLowOffset, _          = new(big.Int).SetString("3402992956809132418596140100660247210", 10)
	tickHighOffset, _         = new(big.Int).SetString("291339464771989622907027621153398088495", 10)
)

// GetSqrtRatioAtTick calculates sqrt(1.0001^tick) * 2^96, rounded up.
// The product over set bits of |tick| yields 1/sqrt(1.0001^|tick|); positive
// ticks take the reciprocal.
func GetSqrtRatioAtTick(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, ErrTickOutOfBounds
	}

	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	ratio := new(uint256.Int)
	if absTick&0x1 != 0 {
		ratio.Set(ratioConstants[0])
	} else {
		ratio.Lsh(uint256.NewInt(1), 128)
	}
	for i := 1; i < len(ratioConstants); i++ {
		if absTick&(1<<i) != 0 {
			ratio.Mul(ratio, ratioConstants[i]).Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(fullmath.MaxUint256, ratio)
	}

	// Q128.128 -> Q64.96, rounding up so the result is never below the true price.
	rem := new(uint256.Int).And(ratio, roundingMask)
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio, nil
}

// GetTickAtSqrtRatio returns the greatest tick such that GetSqrtRatioAtTick(tick) <= sqrtPriceX96.
//
// The log2 of the Q128.128 ratio is approximated with a normalise-and-square loop
// (14 fractional bits), rescaled to log base sqrt(1.0001). The approximation error
// is bounded to one tick, which the final comparison resolves.
func GetTickAtSqrtRatio(sqrtPriceX96 *uint256.Int) (int32, error) {
	if sqrtPriceX96.Lt(MinSqrtRatio) || !sqrtPriceX96.Lt(MaxSqrtRatio) {
		return 0, ErrSqrtPriceOutOfBounds
	}

	ratio := new(uint256.Int).Lsh(sqrtPriceX96, 32)
	msb := ratio.BitLen() - 1

	r := new(uint256.Int)
	if msb >= 128 {
		r.Rsh(ratio, uint(msb-127))
	} else {
		r.Lsh(ratio, uint(127-msb))
	}

	log2 := new(big.Int).Lsh(big.NewInt(int64(msb-128)), 64)
	for i := 63; i >= 50; i-- {
		r.Mul(r, r).Rsh(r, 127)
		if r.BitLen() > 128 {
			log2.Add(log2, new(big.Int).Lsh(big.NewInt(1), uint(i)))
			r.Rsh(r, 1)
		}
	}

	logSqrt10001 := new(big.Int).Mul(log2, logSqrt10001Multiplier)

	tickLow := int32(new(big.Int).Rsh(new(big.Int).Sub(logSqrt10001, tickLowOffset), 128).Int64())
	tickHigh := int32(new(big.Int).Rsh(new(big.Int).Add(logSqrt10001, tickHighOffset), 128).Int64())

	if tickLow == tickHigh {
		return tickLow, nil
	}
	atHigh, err := GetSqrtRatioAtTick(tickHigh)
	if err != nil {
		return 0, err
	}
	if !atHigh.Gt(sqrtPriceX96) {
		return tickHigh, nil
	}
	return tickLow, nil
}

// NearestUsableTick rounds tick to the nearest multiple of tickSpacing.
// Exact halves round toward positive infinity. A result outside [MinTick, MaxTick]
// is moved one spacing inward so that it can always be passed to GetSqrtRatioAtTick.
func NearestUsableTick(tick, tickSpacing int32) (int32, error) {
	if tickSpacing <= 0 {
		return 0, ErrInvalidTickSpacing
	}
	if tick < MinTick || tick > MaxTick {
		return 0, ErrTickOutOfBounds
	}

	// floor((2*tick + spacing) / (2*spacing)) * spacing
	num := 2*int64(tick) + int64(tickSpacing)
	den := 2 * int64(tickSpacing)
	q := num / den
	if num%den != 0 && num < 0 {
		q--
	}
	rounded := q * int64(tickSpacing)

	if rounded < int64(MinTick) {
		rounded += int64(tickSpacing)
	} else if rounded > int64(MaxTick) {
		rounded -= int64(tickSpacing)
	}
	return int32(rounded), nil
}

// MinUsableTick is the lowest tick aligned to tickSpacing.
func MinUsableTick(tickSpacing int32) int32 {
	return (MinTick / tickSpacing) * tickSpacing
}

// MaxUsableTick is the highest tick aligned to tickSpacing.
func MaxUsableTick(tickSpacing int32) int32 {
	return (MaxTick / tickSpacing) * tickSpacing
}

// TickSpacingToMaxLiquidityPerTick bounds the gross liquidity of a single tick so that
// the sum over every usable tick cannot overflow uint128.
func TickSpacingToMaxLiquidityPerTick(tickSpacing int32) *uint256.Int {
	numTicks := uint64((MaxUsableTick(tickSpacing)-MinUsableTick(tickSpacing))/tickSpacing) + 1
	return new(uint256.Int).Div(fullmath.MaxUint128, uint256.NewInt(numTicks))
}
