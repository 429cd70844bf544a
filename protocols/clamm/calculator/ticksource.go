package calculator

import (
	"math/big"
	"sort"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/tickbitmap"
)

// ViewTicks serves the ticks of a detached pool view to the swap loop. Word boundaries
// are reported exactly like the bitmap of a live pool so that simulations step through
// the same prices and round identically.
type ViewTicks struct {
	ticks   []clamm.TickInfo
	spacing int32
}

// NewViewTicks expects pool.Ticks sorted by index, as every view is.
func NewViewTicks(pool clamm.PoolView) *ViewTicks {
	spacing := pool.TickSpacing
	if spacing <= 0 {
		spacing = 1
	}
	return &ViewTicks{ticks: pool.Ticks, spacing: spacing}
}

func (v *ViewTicks) compress(tick int32) int32 {
	compressed := tick / v.spacing
	if tick < 0 && tick%v.spacing != 0 {
		compressed--
	}
	return compressed
}

func (v *ViewTicks) NextInitializedTickWithinOneWord(tick int32, lte bool) (int32, bool) {
	compressed := v.compress(tick)
	next, ok := tickbitmap.NextInitializedTickInSlice(v.ticks, tick, lte)

	if lte {
		boundary := (compressed - compressed&0xff) * v.spacing
		if ok && next >= boundary {
			return next, true
		}
		return boundary, false
	}

	compressed++
	boundary := (compressed + 255 - compressed&0xff) * v.spacing
	if ok && next <= boundary {
		return next, true
	}
	return boundary, false
}

func (v *ViewTicks) LiquidityNet(tick int32) *big.Int {
	if i, ok := findTick(v.ticks, tick); ok && v.ticks[i].LiquidityNet != nil {
		return new(big.Int).Set(v.ticks[i].LiquidityNet)
	}
	return new(big.Int)
}

func (v *ViewTicks) HasInitializedTickBeyond(tick int32, lte bool) bool {
	if len(v.ticks) == 0 {
		return false
	}
	if lte {
		return v.ticks[0].Index <= tick
	}
	return v.ticks[len(v.ticks)-1].Index > tick
}

func findTick(ticks []clamm.TickInfo, tick int32) (int, bool) {
	i := sort.Search(len(ticks), func(i int) bool {
		return ticks[i].Index >= tick
	})
	return i, i < len(ticks) && ticks[i].Index == tick
}
