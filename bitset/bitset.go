// Package bitset is a fixed-size set of small non-negative integers, used to mark
// visited token vertices during route search.
package bitset

import (
	"fmt"
	"math/bits"
)

// BitSet holds bit i in word i/64.
type BitSet []uint64

// NewBitSet returns an empty set able to hold indices below n.
func NewBitSet(n int) BitSet {
	return make(BitSet, (n+63)/64)
}

func (b BitSet) IsSet(index int) bool {
	return b[index/64]&(uint64(1)<<(index%64)) != 0
}

func (b BitSet) Set(index int) {
	b[index/64] |= uint64(1) << (index % 64)
}

func (b BitSet) Unset(index int) {
	b[index/64] &^= uint64(1) << (index % 64)
}

// Count returns the number of set bits.
func (b BitSet) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

func (b BitSet) Clear() {
	for i := range b {
		b[i] = 0
	}
}

func (b BitSet) Clone() BitSet {
	out := make(BitSet, len(b))
	copy(out, b)
	return out
}

// SetFrom overwrites b with o. Both sets must have the same size.
func (b BitSet) SetFrom(o BitSet) {
	if len(b) != len(o) {
		panic(fmt.Sprintf("bitsets must be same size: got %d vs %d", len(b), len(o)))
	}
	copy(b, o)
}
