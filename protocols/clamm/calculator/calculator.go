package calculator

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/liquiditymath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/swapmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/tickmath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrTokenMismatch = errors.New("token mismatch")

	// Default limits: one unit inside the price bounds.
	minSqrtRatioLimit = new(uint256.Int).AddUint64(tickmath.MinSqrtRatio, 1)
	maxSqrtRatioLimit = new(uint256.Int).SubUint64(tickmath.MaxSqrtRatio, 1)
)

// TickSource is the read side of a tick ledger as needed by the swap loop.
type TickSource interface {
	NextInitializedTickWithinOneWord(tick int32, lte bool) (next int32, initialized bool)
	LiquidityNet(tick int32) *big.Int
	// HasInitializedTickBeyond reports whether an initialized tick exists at or below
	// tick (lte) or strictly above it.
	HasInitializedTickBeyond(tick int32, lte bool) bool
}

// PoolState is the part of a pool a swap reads and advances.
type PoolState struct {
	SqrtPriceX96         *uint256.Int
	Tick                 int32
	Liquidity            *uint256.Int
	Fee                  uint32
	OwnerFeeShare        uint32
	FeeGrowthGlobal0X128 *uint256.Int
	FeeGrowthGlobal1X128 *uint256.Int
}

// SwapParams describes a swap. A positive AmountSpecified is an exact input, a
// negative one an exact output. A nil SqrtPriceLimitX96 lets the price move up to the
// price bounds.
type SwapParams struct {
	ZeroForOne        bool
	AmountSpecified   *big.Int
	SqrtPriceLimitX96 *uint256.Int
	// AllowPartialFill accepts running out of liquidity before the amount is filled.
	AllowPartialFill bool
}

// Crossing records a tick crossed during a swap together with the global fee growth at
// the moment of the crossing, which is what the tick's outside values flip against.
type Crossing struct {
	Tick                 int32
	FeeGrowthGlobal0X128 *uint256.Int
	FeeGrowthGlobal1X128 *uint256.Int
}

// SwapResult is the outcome of a swap simulation. Amount0 and Amount1 are signed from
// the pool's perspective: positive amounts are owed to the pool.
type SwapResult struct {
	Amount0 *big.Int
	Amount1 *big.Int
	// AmountIn includes the fee.
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	FeeAmount *uint256.Int
	// OwnerFee is the part of FeeAmount routed to the pool owner, in the input token.
	OwnerFee *uint256.Int

	SqrtPriceX96         *uint256.Int
	Tick                 int32
	Liquidity            *uint256.Int
	FeeGrowthGlobal0X128 *uint256.Int
	FeeGrowthGlobal1X128 *uint256.Int

	Crossings []Crossing
	// PartialFill is set when the specified amount was not entirely consumed.
	PartialFill bool
}

// swapState carries the working values of the swap loop.
type swapState struct {
	amountSpecifiedRemaining *uint256.Int
	amountCalculated         *uint256.Int
	sqrtPriceX96             *uint256.Int
	tick                     int32
	liquidity                *uint256.Int
	// fee growth of the input token
	feeGrowthGlobalX128 *uint256.Int
	feeAmount           *uint256.Int
	ownerFee            *uint256.Int
}

// Swap runs the swap loop against state and ticks without mutating either.
//
// Each step moves the price toward the next initialized tick (or the end of the current
// bitmap word, or the limit, whichever comes first) at constant liquidity. A step that
// lands exactly on an initialized tick crosses it. The loop stops once the amount is
// consumed, the limit is reached, or no liquidity is left in the trade direction.
func Swap(state PoolState, ticks TickSource, params SwapParams) (*SwapResult, error) {
	if params.AmountSpecified == nil || params.AmountSpecified.Sign() == 0 {
		return nil, fmt.Errorf("%w: amount must be non-zero", clamm.ErrInvalidAmount)
	}
	exactInput := params.AmountSpecified.Sign() > 0
	amountSpecified, overflow := uint256.FromBig(new(big.Int).Abs(params.AmountSpecified))
	if overflow {
		return nil, fmt.Errorf("%w: amount exceeds 256 bits", clamm.ErrInvalidAmount)
	}

	zeroForOne := params.ZeroForOne
	limit := params.SqrtPriceLimitX96
	if limit == nil {
		if zeroForOne {
			limit = minSqrtRatioLimit
		} else {
			limit = maxSqrtRatioLimit
		}
	}
	if zeroForOne {
		if !limit.Lt(state.SqrtPriceX96) || !limit.Gt(tickmath.MinSqrtRatio) {
			return nil, fmt.Errorf("%w: %s must be in (%s, %s)", clamm.ErrInvalidPriceLimit, limit.Dec(), tickmath.MinSqrtRatio.Dec(), state.SqrtPriceX96.Dec())
		}
	} else {
		if !limit.Gt(state.SqrtPriceX96) || !limit.Lt(tickmath.MaxSqrtRatio) {
			return nil, fmt.Errorf("%w: %s must be in (%s, %s)", clamm.ErrInvalidPriceLimit, limit.Dec(), state.SqrtPriceX96.Dec(), tickmath.MaxSqrtRatio.Dec())
		}
	}

	s := &swapState{
		amountSpecifiedRemaining: amountSpecified.Clone(),
		amountCalculated:         new(uint256.Int),
		sqrtPriceX96:             state.SqrtPriceX96.Clone(),
		tick:                     state.Tick,
		liquidity:                state.Liquidity.Clone(),
		feeAmount:                new(uint256.Int),
		ownerFee:                 new(uint256.Int),
	}
	if zeroForOne {
		s.feeGrowthGlobalX128 = state.FeeGrowthGlobal0X128.Clone()
	} else {
		s.feeGrowthGlobalX128 = state.FeeGrowthGlobal1X128.Clone()
	}
	globals := func() (*uint256.Int, *uint256.Int) {
		if zeroForOne {
			return s.feeGrowthGlobalX128.Clone(), state.FeeGrowthGlobal1X128.Clone()
		}
		return state.FeeGrowthGlobal0X128.Clone(), s.feeGrowthGlobalX128.Clone()
	}

	var (
		crossings []Crossing
		exhausted bool
	)
	for !s.amountSpecifiedRemaining.IsZero() && !s.sqrtPriceX96.Eq(limit) {
		if s.liquidity.IsZero() && !ticks.HasInitializedTickBeyond(s.tick, zeroForOne) {
			exhausted = true
			break
		}

		sqrtPriceStartX96 := s.sqrtPriceX96

		tickNext, initialized := ticks.NextInitializedTickWithinOneWord(s.tick, zeroForOne)
		if tickNext < tickmath.MinTick {
			tickNext = tickmath.MinTick
		} else if tickNext > tickmath.MaxTick {
			tickNext = tickmath.MaxTick
		}

		sqrtPriceNextX96, err := tickmath.GetSqrtRatioAtTick(tickNext)
		if err != nil {
			return nil, err
		}

		targetPrice := sqrtPriceNextX96
		if (zeroForOne && sqrtPriceNextX96.Lt(limit)) || (!zeroForOne && sqrtPriceNextX96.Gt(limit)) {
			targetPrice = limit
		}

		step, err := swapmath.ComputeSwapStep(s.sqrtPriceX96, targetPrice, s.liquidity, s.amountSpecifiedRemaining, exactInput, state.Fee)
		if err != nil {
			return nil, err
		}
		s.sqrtPriceX96 = step.SqrtRatioNextX96

		if exactInput {
			spent := new(uint256.Int).Add(step.AmountIn, step.FeeAmount)
			s.amountSpecifiedRemaining = new(uint256.Int).Sub(s.amountSpecifiedRemaining, spent)
			s.amountCalculated = new(uint256.Int).Add(s.amountCalculated, step.AmountOut)
		} else {
			s.amountSpecifiedRemaining = new(uint256.Int).Sub(s.amountSpecifiedRemaining, step.AmountOut)
			s.amountCalculated = new(uint256.Int).Add(s.amountCalculated, new(uint256.Int).Add(step.AmountIn, step.FeeAmount))
		}

		if err := s.accrueFee(step.FeeAmount, state.OwnerFeeShare); err != nil {
			return nil, err
		}

		if s.sqrtPriceX96.Eq(sqrtPriceNextX96) {
			if initialized {
				fg0, fg1 := globals()
				crossings = append(crossings, Crossing{Tick: tickNext, FeeGrowthGlobal0X128: fg0, FeeGrowthGlobal1X128: fg1})

				liquidityNet := ticks.LiquidityNet(tickNext)
				if zeroForOne {
					liquidityNet.Neg(liquidityNet)
				}
				if s.liquidity, err = liquiditymath.AddDelta(s.liquidity, liquidityNet); err != nil {
					return nil, fmt.Errorf("crossing tick %d: %w", tickNext, err)
				}
			}
			if zeroForOne {
				s.tick = tickNext - 1
			} else {
				s.tick = tickNext
			}
		} else if !s.sqrtPriceX96.Eq(sqrtPriceStartX96) {
			if s.tick, err = tickmath.GetTickAtSqrtRatio(s.sqrtPriceX96); err != nil {
				return nil, err
			}
		}
	}

	partial := !s.amountSpecifiedRemaining.IsZero()
	if partial && exhausted && !params.AllowPartialFill {
		return nil, fmt.Errorf("%w: %s of %s left unfilled", clamm.ErrInsufficientLiquidity, s.amountSpecifiedRemaining.Dec(), amountSpecified.Dec())
	}

	filled := new(uint256.Int).Sub(amountSpecified, s.amountSpecifiedRemaining)
	result := &SwapResult{
		FeeAmount:    s.feeAmount,
		OwnerFee:     s.ownerFee,
		SqrtPriceX96: s.sqrtPriceX96,
		Tick:         s.tick,
		Liquidity:    s.liquidity,
		Crossings:    crossings,
		PartialFill:  partial,
	}
	if exactInput {
		result.AmountIn, result.AmountOut = filled, s.amountCalculated
	} else {
		result.AmountIn, result.AmountOut = s.amountCalculated, filled
	}
	result.FeeGrowthGlobal0X128, result.FeeGrowthGlobal1X128 = globals()

	in, out := result.AmountIn.ToBig(), new(big.Int).Neg(result.AmountOut.ToBig())
	if zeroForOne {
		result.Amount0, result.Amount1 = in, out
	} else {
		result.Amount0, result.Amount1 = out, in
	}
	return result, nil
}

// accrueFee splits a step fee between the owner and liquidity providers. The LP part
// grows the fee per unit of liquidity; with no liquidity in range it is forfeited.
func (s *swapState) accrueFee(fee *uint256.Int, ownerFeeShare uint32) error {
	if fee.IsZero() {
		return nil
	}
	s.feeAmount = new(uint256.Int).Add(s.feeAmount, fee)

	lpFee := fee
	if ownerFeeShare > 0 {
		ownerFee, err := fullmath.MulDiv(fee, uint256.NewInt(uint64(ownerFeeShare)), uint256.NewInt(clamm.FeeDenominator))
		if err != nil {
			return err
		}
		s.ownerFee = new(uint256.Int).Add(s.ownerFee, ownerFee)
		lpFee = new(uint256.Int).Sub(fee, ownerFee)
	}

	if s.liquidity.IsZero() || lpFee.IsZero() {
		return nil
	}
	growth, err := fullmath.MulDiv(lpFee, fullmath.Q128, s.liquidity)
	if err != nil {
		return err
	}
	s.feeGrowthGlobalX128 = fullmath.WrappingAdd(s.feeGrowthGlobalX128, growth)
	return nil
}

// TicksCrossed is the number of initialized ticks the swap crossed.
func (r *SwapResult) TicksCrossed() int {
	return len(r.Crossings)
}

// SimulateExactInSwap swaps amountIn of tokenIn against a detached pool view and
// returns the amount out together with the view as it would be after the swap.
// Running out of liquidity is reported as ErrInsufficientLiquidity.
func SimulateExactInSwap(
	amountIn *big.Int,
	sqrtPriceLimitX96 *big.Int,
	tokenIn common.Address,
	pool clamm.PoolView,
) (amountOut *big.Int, newPoolState clamm.PoolView, err error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, clamm.PoolView{}, fmt.Errorf("%w: amountIn must be greater than zero", clamm.ErrInvalidAmount)
	}
	result, err := simulate(amountIn, sqrtPriceLimitX96, tokenIn, pool)
	if err != nil {
		return nil, clamm.PoolView{}, err
	}
	return result.AmountOut.ToBig(), ApplySwap(pool, result), nil
}

// SimulateExactOutSwap returns the amount of tokenIn needed to receive amountOut
// from a detached pool view, together with the view after the swap.
func SimulateExactOutSwap(
	amountOut *big.Int,
	sqrtPriceLimitX96 *big.Int,
	tokenIn common.Address,
	pool clamm.PoolView,
) (amountIn *big.Int, newPoolState clamm.PoolView, err error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, clamm.PoolView{}, fmt.Errorf("%w: amountOut must be greater than zero", clamm.ErrInvalidAmount)
	}
	result, err := simulate(new(big.Int).Neg(amountOut), sqrtPriceLimitX96, tokenIn, pool)
	if err != nil {
		return nil, clamm.PoolView{}, err
	}
	return result.AmountIn.ToBig(), ApplySwap(pool, result), nil
}

func simulate(amountSpecified, sqrtPriceLimitX96 *big.Int, tokenIn common.Address, pool clamm.PoolView) (*SwapResult, error) {
	zeroForOne := tokenIn == pool.Token0
	if !zeroForOne && tokenIn != pool.Token1 {
		return nil, fmt.Errorf("%w: token %s is not in pool %s", ErrTokenMismatch, tokenIn.Hex(), pool.Address.Hex())
	}
	state, err := StateFromView(pool)
	if err != nil {
		return nil, err
	}
	params := SwapParams{ZeroForOne: zeroForOne, AmountSpecified: amountSpecified}
	if sqrtPriceLimitX96 != nil {
		limit, overflow := uint256.FromBig(sqrtPriceLimitX96)
		if overflow {
			return nil, fmt.Errorf("%w: limit exceeds 256 bits", clamm.ErrInvalidPriceLimit)
		}
		params.SqrtPriceLimitX96 = limit
	}
	return Swap(state, NewViewTicks(pool), params)
}

// StateFromView extracts the swap state of a pool view.
func StateFromView(pool clamm.PoolView) (PoolState, error) {
	sqrtPrice, err := toUint256("sqrtPriceX96", pool.SqrtPriceX96)
	if err != nil {
		return PoolState{}, err
	}
	liquidity, err := toUint256("liquidity", pool.Liquidity)
	if err != nil {
		return PoolState{}, err
	}
	fg0, err := toUint256("feeGrowthGlobal0X128", pool.FeeGrowthGlobal0X128)
	if err != nil {
		return PoolState{}, err
	}
	fg1, err := toUint256("feeGrowthGlobal1X128", pool.FeeGrowthGlobal1X128)
	if err != nil {
		return PoolState{}, err
	}
	return PoolState{
		SqrtPriceX96:         sqrtPrice,
		Tick:                 pool.Tick,
		Liquidity:            liquidity,
		Fee:                  pool.Fee,
		OwnerFeeShare:        pool.OwnerFeeShare,
		FeeGrowthGlobal0X128: fg0,
		FeeGrowthGlobal1X128: fg1,
	}, nil
}

func toUint256(name string, x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	z, overflow := uint256.FromBig(x)
	if overflow || x.Sign() < 0 {
		return nil, fmt.Errorf("%s out of range: %s", name, x.String())
	}
	return z, nil
}

// wrap reduces x modulo 2^256.
func wrap(x *big.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	z, _ := uint256.FromBig(x)
	return z
}

// ApplySwap returns a copy of pool advanced by result, including the outside fee growth
// flips of every crossed tick.
func ApplySwap(pool clamm.PoolView, result *SwapResult) clamm.PoolView {
	next := clamm.CopyPoolView(pool)
	next.SqrtPriceX96 = result.SqrtPriceX96.ToBig()
	next.Tick = result.Tick
	next.Liquidity = result.Liquidity.ToBig()
	next.FeeGrowthGlobal0X128 = result.FeeGrowthGlobal0X128.ToBig()
	next.FeeGrowthGlobal1X128 = result.FeeGrowthGlobal1X128.ToBig()

	for _, crossing := range result.Crossings {
		i, ok := findTick(next.Ticks, crossing.Tick)
		if !ok {
			continue
		}
		t := &next.Ticks[i]
		t.FeeGrowthOutside0X128 = fullmath.WrappingSub(crossing.FeeGrowthGlobal0X128, wrap(t.FeeGrowthOutside0X128)).ToBig()
		t.FeeGrowthOutside1X128 = fullmath.WrappingSub(crossing.FeeGrowthGlobal1X128, wrap(t.FeeGrowthOutside1X128)).ToBig()
	}
	return next
}

// GetVirtualReserves returns the reserves a constant-product pool would need to offer the
// same marginal price and depth as the active liquidity.
func GetVirtualReserves(tokenIn, tokenOut common.Address, pool clamm.PoolView) (reserveIn, reserveOut *big.Int, err error) {
	if !((tokenIn == pool.Token0 && tokenOut == pool.Token1) || (tokenIn == pool.Token1 && tokenOut == pool.Token0)) {
		return nil, nil, fmt.Errorf("%w: provided tokens do not match pool tokens", ErrTokenMismatch)
	}
	if pool.SqrtPriceX96 == nil || pool.SqrtPriceX96.Sign() == 0 {
		return nil, nil, fmt.Errorf("%w: pool %s has no price", clamm.ErrPoolNotInitialized, pool.Address.Hex())
	}

	reserve0 := new(big.Int).Div(new(big.Int).Lsh(pool.Liquidity, 96), pool.SqrtPriceX96)
	reserve1 := new(big.Int).Rsh(new(big.Int).Mul(pool.Liquidity, pool.SqrtPriceX96), 96)

	if tokenIn == pool.Token0 {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}
