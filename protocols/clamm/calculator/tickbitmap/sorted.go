package tickbitmap

import (
	"sort"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/tickmath"
)

// NextInitializedTickInSlice is the lookup used for detached pool views: instead of a
// bitmap it binary-searches a slice of initialized ticks sorted by index.
//
//   - lte: the largest initialized tick <= tick.
//   - !lte: the smallest initialized tick > tick.
//
// When nothing is found the price bound in that direction is returned with
// initialized=false.
func NextInitializedTickInSlice(ticks []clamm.TickInfo, tick int32, lte bool) (next int32, initialized bool) {
	if lte {
		// smallest index i where ticks[i].Index > tick
		index := sort.Search(len(ticks), func(i int) bool {
			return ticks[i].Index > tick
		})
		if index == 0 {
			return tickmath.MinTick, false
		}
		return ticks[index-1].Index, true
	}

	index := sort.Search(len(ticks), func(i int) bool {
		return ticks[i].Index > tick
	})
	if index >= len(ticks) {
		return tickmath.MaxTick, false
	}
	return ticks[index].Index, true
}
