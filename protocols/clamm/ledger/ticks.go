package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/liquiditymath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/tickbitmap"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/tickmath"
	"github.com/holiman/uint256"
)

// Tick is the state kept for one initialized tick.
type Tick struct {
	LiquidityGross *uint256.Int
	// LiquidityNet is added to active liquidity when the price crosses the tick upward
	// and subtracted when it crosses downward.
	LiquidityNet *big.Int
	// Fee growth on the side of the tick away from the current price. Only differences
	// between these values are meaningful.
	FeeGrowthOutside0X128 *uint256.Int
	FeeGrowthOutside1X128 *uint256.Int
}

func newTick() *Tick {
	return &Tick{
		LiquidityGross:        new(uint256.Int),
		LiquidityNet:          new(big.Int),
		FeeGrowthOutside0X128: new(uint256.Int),
		FeeGrowthOutside1X128: new(uint256.Int),
	}
}

func (t *Tick) clone() *Tick {
	return &Tick{
		LiquidityGross:        t.LiquidityGross.Clone(),
		LiquidityNet:          new(big.Int).Set(t.LiquidityNet),
		FeeGrowthOutside0X128: t.FeeGrowthOutside0X128.Clone(),
		FeeGrowthOutside1X128: t.FeeGrowthOutside1X128.Clone(),
	}
}

// Ticks is the tick ledger of one pool: per-tick liquidity and fee growth plus a bitmap
// for finding the next initialized tick. It is not safe for concurrent use.
type Ticks struct {
	spacing             int32
	maxLiquidityPerTick *uint256.Int
	ticks               map[int32]*Tick
	bitmap              *tickbitmap.Bitmap

	// pre-transaction copies, nil for ticks that did not exist
	journal map[int32]*Tick
}

func NewTicks(tickSpacing int32) *Ticks {
	return &Ticks{
		spacing:             tickSpacing,
		maxLiquidityPerTick: tickmath.TickSpacingToMaxLiquidityPerTick(tickSpacing),
		ticks:               make(map[int32]*Tick),
		bitmap:              tickbitmap.New(tickSpacing),
	}
}

// MaxLiquidityPerTick is the cap on any tick's gross liquidity.
func (l *Ticks) MaxLiquidityPerTick() *uint256.Int {
	return l.maxLiquidityPerTick.Clone()
}

func (l *Ticks) touch(tick int32) {
	if l.journal == nil {
		return
	}
	if _, saved := l.journal[tick]; saved {
		return
	}
	if t, ok := l.ticks[tick]; ok {
		l.journal[tick] = t.clone()
	} else {
		l.journal[tick] = nil
	}
}

// Update applies a liquidity change of a position bounded by tick and reports whether
// the tick flipped between initialized and uninitialized.
//
// The first time a tick is initialized at or below the current tick, all fee growth so
// far is assumed to have happened below it.
func (l *Ticks) Update(
	tick, tickCurrent int32,
	liquidityDelta *big.Int,
	feeGrowthGlobal0X128, feeGrowthGlobal1X128 *uint256.Int,
	upper bool,
) (flipped bool, err error) {
	info, ok := l.ticks[tick]
	if !ok {
		info = newTick()
	}

	grossAfter, err := liquiditymath.AddDelta(info.LiquidityGross, liquidityDelta)
	if err != nil {
		if errors.Is(err, liquiditymath.ErrLiquidityUnderflow) {
			return false, fmt.Errorf("%w: tick %d", clamm.ErrInsufficientLiquidity, tick)
		}
		return false, fmt.Errorf("%w: tick %d", clamm.ErrTickLiquidityOverflow, tick)
	}
	if grossAfter.Gt(l.maxLiquidityPerTick) {
		return false, fmt.Errorf("%w: tick %d", clamm.ErrTickLiquidityOverflow, tick)
	}

	l.touch(tick)
	flipped = grossAfter.IsZero() != info.LiquidityGross.IsZero()

	if info.LiquidityGross.IsZero() && tick <= tickCurrent {
		info.FeeGrowthOutside0X128.Set(feeGrowthGlobal0X128)
		info.FeeGrowthOutside1X128.Set(feeGrowthGlobal1X128)
	}
	info.LiquidityGross = grossAfter
	if upper {
		info.LiquidityNet.Sub(info.LiquidityNet, liquidityDelta)
	} else {
		info.LiquidityNet.Add(info.LiquidityNet, liquidityDelta)
	}
	l.ticks[tick] = info

	if flipped {
		if err := l.bitmap.FlipTick(tick); err != nil {
			return false, err
		}
	}
	return flipped, nil
}

// Clear removes a tick whose gross liquidity dropped to zero.
func (l *Ticks) Clear(tick int32) {
	if _, ok := l.ticks[tick]; !ok {
		return
	}
	l.touch(tick)
	delete(l.ticks, tick)
}

// Cross flips the outside fee growth of tick as the price moves across it and returns
// the tick's net liquidity.
func (l *Ticks) Cross(tick int32, feeGrowthGlobal0X128, feeGrowthGlobal1X128 *uint256.Int) *big.Int {
	info, ok := l.ticks[tick]
	if !ok {
		return new(big.Int)
	}
	l.touch(tick)
	info.FeeGrowthOutside0X128 = fullmath.WrappingSub(feeGrowthGlobal0X128, info.FeeGrowthOutside0X128)
	info.FeeGrowthOutside1X128 = fullmath.WrappingSub(feeGrowthGlobal1X128, info.FeeGrowthOutside1X128)
	return new(big.Int).Set(info.LiquidityNet)
}

func (l *Ticks) outside(tick int32) (*uint256.Int, *uint256.Int) {
	if info, ok := l.ticks[tick]; ok {
		return info.FeeGrowthOutside0X128, info.FeeGrowthOutside1X128
	}
	return new(uint256.Int), new(uint256.Int)
}

// FeeGrowthInside returns the fee growth per unit of liquidity accumulated inside
// [tickLower, tickUpper).
//
// Below the lower tick: its outside value if the current tick is at or above it, the
// complement otherwise. Above the upper tick: its outside value if the current tick is
// below it, the complement otherwise. Inside is global minus both, modulo 2^256.
func (l *Ticks) FeeGrowthInside(
	tickLower, tickUpper, tickCurrent int32,
	feeGrowthGlobal0X128, feeGrowthGlobal1X128 *uint256.Int,
) (*uint256.Int, *uint256.Int) {
	lower0, lower1 := l.outside(tickLower)
	upper0, upper1 := l.outside(tickUpper)

	var below0, below1 *uint256.Int
	if tickCurrent >= tickLower {
		below0, below1 = lower0, lower1
	} else {
		below0 = fullmath.WrappingSub(feeGrowthGlobal0X128, lower0)
		below1 = fullmath.WrappingSub(feeGrowthGlobal1X128, lower1)
	}

	var above0, above1 *uint256.Int
	if tickCurrent < tickUpper {
		above0, above1 = upper0, upper1
	} else {
		above0 = fullmath.WrappingSub(feeGrowthGlobal0X128, upper0)
		above1 = fullmath.WrappingSub(feeGrowthGlobal1X128, upper1)
	}

	inside0 := fullmath.WrappingSub(fullmath.WrappingSub(feeGrowthGlobal0X128, below0), above0)
	inside1 := fullmath.WrappingSub(fullmath.WrappingSub(feeGrowthGlobal1X128, below1), above1)
	return inside0, inside1
}

// LiquidityNet returns a copy of the tick's net liquidity, zero if uninitialized.
func (l *Ticks) LiquidityNet(tick int32) *big.Int {
	if info, ok := l.ticks[tick]; ok {
		return new(big.Int).Set(info.LiquidityNet)
	}
	return new(big.Int)
}

// Get returns a copy of the tick's state.
func (l *Ticks) Get(tick int32) (Tick, bool) {
	info, ok := l.ticks[tick]
	if !ok {
		return Tick{}, false
	}
	return *info.clone(), true
}

func (l *Ticks) NextInitializedTickWithinOneWord(tick int32, lte bool) (int32, bool) {
	return l.bitmap.NextInitializedTickWithinOneWord(tick, lte)
}

func (l *Ticks) HasInitializedTickBeyond(tick int32, lte bool) bool {
	return l.bitmap.HasInitializedTickBeyond(tick, lte)
}

// Len returns the number of initialized ticks.
func (l *Ticks) Len() int {
	return len(l.ticks)
}

// Snapshot returns a detached copy of every initialized tick sorted by index.
func (l *Ticks) Snapshot() []clamm.TickInfo {
	indexes := l.bitmap.InitializedTicks()
	out := make([]clamm.TickInfo, 0, len(indexes))
	for _, idx := range indexes {
		info := l.ticks[idx]
		out = append(out, clamm.TickInfo{
			Index:                 idx,
			LiquidityGross:        info.LiquidityGross.ToBig(),
			LiquidityNet:          new(big.Int).Set(info.LiquidityNet),
			FeeGrowthOutside0X128: info.FeeGrowthOutside0X128.ToBig(),
			FeeGrowthOutside1X128: info.FeeGrowthOutside1X128.ToBig(),
		})
	}
	return out
}

// Begin starts a transaction; every tick and bitmap word touched afterwards can be
// restored with Rollback.
func (l *Ticks) Begin() {
	l.journal = make(map[int32]*Tick)
	l.bitmap.Begin()
}

func (l *Ticks) Commit() {
	l.journal = nil
	l.bitmap.Commit()
}

func (l *Ticks) Rollback() {
	for tick, saved := range l.journal {
		if saved == nil {
			delete(l.ticks, tick)
		} else {
			l.ticks[tick] = saved
		}
	}
	l.journal = nil
	l.bitmap.Rollback()
}
