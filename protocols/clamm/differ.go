package clamm

import (
	"github.com/ethereum/go-ethereum/common"
)

// SystemDiff describes how a set of pool views changed between two snapshots.
type SystemDiff struct {
	Additions []PoolView       `json:"additions,omitempty"`
	Updates   []PoolView       `json:"updates,omitempty"`
	Deletions []common.Address `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d SystemDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

// poolChanged reports whether two views of the same pool differ.
// Every committed mutation bumps Sequence, so the remaining comparisons only
// matter for views that were built by hand.
func poolChanged(old, new PoolView) bool {
	if old.Sequence != new.Sequence {
		return true
	}
	if old.Tick != new.Tick {
		return true
	}
	if cmpBig(old.SqrtPriceX96, new.SqrtPriceX96) != 0 || cmpBig(old.Liquidity, new.Liquidity) != 0 {
		return true
	}
	if cmpBig(old.FeeGrowthGlobal0X128, new.FeeGrowthGlobal0X128) != 0 ||
		cmpBig(old.FeeGrowthGlobal1X128, new.FeeGrowthGlobal1X128) != 0 {
		return true
	}
	if len(old.Ticks) != len(new.Ticks) {
		return true
	}
	// views keep ticks sorted by index
	for i := range old.Ticks {
		o, n := old.Ticks[i], new.Ticks[i]
		if o.Index != n.Index ||
			cmpBig(o.LiquidityNet, n.LiquidityNet) != 0 ||
			cmpBig(o.LiquidityGross, n.LiquidityGross) != 0 ||
			cmpBig(o.FeeGrowthOutside0X128, n.FeeGrowthOutside0X128) != 0 ||
			cmpBig(o.FeeGrowthOutside1X128, n.FeeGrowthOutside1X128) != 0 {
			return true
		}
	}
	return false
}

// Differ calculates the difference between two sets of pool views keyed by pool address.
func Differ(old, new []PoolView) SystemDiff {
	oldPools := make(map[common.Address]PoolView, len(old))
	for _, pool := range old {
		oldPools[pool.Address] = pool
	}

	var diff SystemDiff
	seen := make(map[common.Address]struct{}, len(new))
	for _, newPool := range new {
		seen[newPool.Address] = struct{}{}
		oldPool, exists := oldPools[newPool.Address]
		if !exists {
			diff.Additions = append(diff.Additions, newPool)
			continue
		}
		if poolChanged(oldPool, newPool) {
			diff.Updates = append(diff.Updates, newPool)
		}
	}

	for _, oldPool := range old {
		if _, exists := seen[oldPool.Address]; !exists {
			diff.Deletions = append(diff.Deletions, oldPool.Address)
		}
	}
	return diff
}
