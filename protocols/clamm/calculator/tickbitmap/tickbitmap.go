package tickbitmap

import (
	"errors"
	"slices"

	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/bitmath"
	"github.com/holiman/uint256"
)

var ErrTickNotSpaced = errors.New("tick is not a multiple of tick spacing")

// Bitmap tracks which ticks are initialized, one bit per spaced tick packed into
// 256-bit words keyed by compressed >> 8.
// It is not safe for concurrent use; the owning pool serializes access.
type Bitmap struct {
	spacing int32
	words   map[int16]*uint256.Int

	// journal holds the pre-transaction value of every word touched since Begin.
	// A nil value means the word did not exist.
	journal map[int16]*uint256.Int
}

func New(tickSpacing int32) *Bitmap {
	return &Bitmap{
		spacing: tickSpacing,
		words:   make(map[int16]*uint256.Int),
	}
}

func position(compressed int32) (wordPos int16, bitPos uint8) {
	return int16(compressed >> 8), uint8(compressed & 0xff)
}

// compress floors tick/spacing toward negative infinity.
func (b *Bitmap) compress(tick int32) int32 {
	compressed := tick / b.spacing
	if tick < 0 && tick%b.spacing != 0 {
		compressed--
	}
	return compressed
}

func (b *Bitmap) word(pos int16) *uint256.Int {
	if w, ok := b.words[pos]; ok {
		return w
	}
	return new(uint256.Int)
}

// FlipTick toggles the initialized state of tick.
func (b *Bitmap) FlipTick(tick int32) error {
	if tick%b.spacing != 0 {
		return ErrTickNotSpaced
	}
	wordPos, bitPos := position(tick / b.spacing)

	if b.journal != nil {
		if _, saved := b.journal[wordPos]; !saved {
			if w, ok := b.words[wordPos]; ok {
				b.journal[wordPos] = w.Clone()
			} else {
				b.journal[wordPos] = nil
			}
		}
	}

	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))
	w := new(uint256.Int).Xor(b.word(wordPos), mask)
	if w.IsZero() {
		delete(b.words, wordPos)
	} else {
		b.words[wordPos] = w
	}
	return nil
}

// IsInitialized reports whether tick's bit is set.
func (b *Bitmap) IsInitialized(tick int32) bool {
	if tick%b.spacing != 0 {
		return false
	}
	wordPos, bitPos := position(tick / b.spacing)
	w, ok := b.words[wordPos]
	if !ok {
		return false
	}
	return w[bitPos/64]&(1<<(bitPos%64)) != 0
}

// NextInitializedTickWithinOneWord returns the next initialized tick contained in the
// same word as tick, searching at or below tick when lte, strictly above otherwise.
// If none is set, the word boundary in the search direction is returned with
// initialized=false so that the swap loop can advance one word at a time.
func (b *Bitmap) NextInitializedTickWithinOneWord(tick int32, lte bool) (next int32, initialized bool) {
	compressed := b.compress(tick)

	if lte {
		wordPos, bitPos := position(compressed)
		// all the 1s at or to the right of bitPos
		mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))
		mask.Add(mask, new(uint256.Int).SubUint64(mask, 1))
		masked := mask.And(mask, b.word(wordPos))

		if masked.IsZero() {
			return (compressed - int32(bitPos)) * b.spacing, false
		}
		msb, _ := bitmath.MostSignificantBit(masked)
		return (compressed - int32(bitPos-msb)) * b.spacing, true
	}

	// start from the word of the next tick, since the current tick state doesn't matter
	wordPos, bitPos := position(compressed + 1)
	// all the 1s at or to the left of bitPos
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))
	mask.SubUint64(mask, 1).Not(mask)
	masked := mask.And(mask, b.word(wordPos))

	if masked.IsZero() {
		return (compressed + 1 + int32(255-bitPos)) * b.spacing, false
	}
	lsb, _ := bitmath.LeastSignificantBit(masked)
	return (compressed + 1 + int32(lsb-bitPos)) * b.spacing, true
}

// HasInitializedTickBeyond reports whether any initialized tick exists at or below tick
// (lte) or strictly above it. Liquidity can only return past such a tick.
func (b *Bitmap) HasInitializedTickBeyond(tick int32, lte bool) bool {
	compressed := b.compress(tick)
	if !lte {
		compressed++
	}
	wordPos, _ := position(compressed)
	for pos := range b.words {
		if (lte && pos < wordPos) || (!lte && pos > wordPos) {
			return true
		}
	}
	_, ok := b.NextInitializedTickWithinOneWord(tick, lte)
	return ok
}

// InitializedTicks returns every initialized tick in ascending order.
func (b *Bitmap) InitializedTicks() []int32 {
	positions := make([]int16, 0, len(b.words))
	for pos := range b.words {
		positions = append(positions, pos)
	}
	slices.Sort(positions)

	var ticks []int32
	for _, pos := range positions {
		w := b.words[pos]
		for i := uint(0); i < 256; i++ {
			if w[i/64]&(1<<(i%64)) != 0 {
				ticks = append(ticks, (int32(pos)*256+int32(i))*b.spacing)
			}
		}
	}
	return ticks
}

// Begin starts recording changes so that Rollback can undo them.
func (b *Bitmap) Begin() {
	b.journal = make(map[int16]*uint256.Int)
}

// Commit keeps every change since Begin.
func (b *Bitmap) Commit() {
	b.journal = nil
}

// Rollback restores every word touched since Begin.
func (b *Bitmap) Rollback() {
	for pos, w := range b.journal {
		if w == nil {
			delete(b.words, pos)
		} else {
			b.words[pos] = w
		}
	}
	b.journal = nil
}
