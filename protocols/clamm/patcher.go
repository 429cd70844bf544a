package clamm

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

func copyBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

// cmpBig compares two possibly-nil values, treating nil as zero.
func cmpBig(a, b *big.Int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -b.Sign()
	case b == nil:
		return a.Sign()
	}
	return a.Cmp(b)
}

// CopyTickInfo creates a deep copy of a TickInfo, ensuring *big.Int pointers are new.
func CopyTickInfo(t TickInfo) TickInfo {
	n := t
	n.LiquidityGross = copyBig(t.LiquidityGross)
	n.LiquidityNet = copyBig(t.LiquidityNet)
	n.FeeGrowthOutside0X128 = copyBig(t.FeeGrowthOutside0X128)
	n.FeeGrowthOutside1X128 = copyBig(t.FeeGrowthOutside1X128)
	return n
}

// CopyPoolView creates a view with its own memory for every pointer field, including the ticks.
func CopyPoolView(p PoolView) PoolView {
	n := p
	n.SqrtPriceX96 = copyBig(p.SqrtPriceX96)
	n.Liquidity = copyBig(p.Liquidity)
	n.FeeGrowthGlobal0X128 = copyBig(p.FeeGrowthGlobal0X128)
	n.FeeGrowthGlobal1X128 = copyBig(p.FeeGrowthGlobal1X128)
	if p.Ticks != nil {
		n.Ticks = make([]TickInfo, len(p.Ticks))
		for i, t := range p.Ticks {
			n.Ticks[i] = CopyTickInfo(t)
		}
	}
	return n
}

// Patcher constructs a new set of views by applying a diff to a previous set.
// The previous state is never modified. The result is sorted by pool address.
func Patcher(prevState []PoolView, diff SystemDiff) ([]PoolView, error) {
	state := make(map[common.Address]PoolView, len(prevState))
	for _, pool := range prevState {
		state[pool.Address] = CopyPoolView(pool)
	}

	for _, addr := range diff.Deletions {
		delete(state, addr)
	}
	for _, pool := range diff.Updates {
		state[pool.Address] = CopyPoolView(pool)
	}
	for _, pool := range diff.Additions {
		state[pool.Address] = CopyPoolView(pool)
	}

	out := make([]PoolView, 0, len(state))
	for _, pool := range state {
		out = append(out, pool)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out, nil
}
