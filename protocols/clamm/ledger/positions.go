package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/liquiditymath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PositionKey identifies a position. Different owners never share a position even on
// identical ranges.
type PositionKey struct {
	Owner     common.Address
	TickLower int32
	TickUpper int32
}

// Position is an owner's liquidity in one range plus its fee checkpoint and the tokens
// owed to it.
type Position struct {
	Liquidity                *uint256.Int
	FeeGrowthInside0LastX128 *uint256.Int
	FeeGrowthInside1LastX128 *uint256.Int
	TokensOwed0              *uint256.Int
	TokensOwed1              *uint256.Int
}

func newPosition() *Position {
	return &Position{
		Liquidity:                new(uint256.Int),
		FeeGrowthInside0LastX128: new(uint256.Int),
		FeeGrowthInside1LastX128: new(uint256.Int),
		TokensOwed0:              new(uint256.Int),
		TokensOwed1:              new(uint256.Int),
	}
}

func (p *Position) clone() *Position {
	return &Position{
		Liquidity:                p.Liquidity.Clone(),
		FeeGrowthInside0LastX128: p.FeeGrowthInside0LastX128.Clone(),
		FeeGrowthInside1LastX128: p.FeeGrowthInside1LastX128.Clone(),
		TokensOwed0:              p.TokensOwed0.Clone(),
		TokensOwed1:              p.TokensOwed1.Clone(),
	}
}

// PendingFees returns the fees the position has earned since its last checkpoint given
// the current fee growth inside its range.
func (p *Position) PendingFees(feeGrowthInside0X128, feeGrowthInside1X128 *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	owed0, err := fullmath.MulDiv(fullmath.WrappingSub(feeGrowthInside0X128, p.FeeGrowthInside0LastX128), p.Liquidity, fullmath.Q128)
	if err != nil {
		return nil, nil, err
	}
	owed1, err := fullmath.MulDiv(fullmath.WrappingSub(feeGrowthInside1X128, p.FeeGrowthInside1LastX128), p.Liquidity, fullmath.Q128)
	if err != nil {
		return nil, nil, err
	}
	return owed0, owed1, nil
}

// Positions is the position ledger of one pool. Entries survive a full burn so that
// owed tokens remain collectable. It is not safe for concurrent use.
type Positions struct {
	positions map[PositionKey]*Position
	journal   map[PositionKey]*Position
}

func NewPositions() *Positions {
	return &Positions{positions: make(map[PositionKey]*Position)}
}

func (l *Positions) touch(key PositionKey) {
	if l.journal == nil {
		return
	}
	if _, saved := l.journal[key]; saved {
		return
	}
	if p, ok := l.positions[key]; ok {
		l.journal[key] = p.clone()
	} else {
		l.journal[key] = nil
	}
}

// Update syncs the position's fees to the given fee growth inside its range, then applies
// liquidityDelta. A zero delta on a position without liquidity changes nothing.
func (l *Positions) Update(key PositionKey, liquidityDelta *big.Int, feeGrowthInside0X128, feeGrowthInside1X128 *uint256.Int) error {
	pos, ok := l.positions[key]
	if !ok {
		pos = newPosition()
	}
	if liquidityDelta.Sign() == 0 && pos.Liquidity.IsZero() {
		return nil
	}

	liquidityNext, err := liquiditymath.AddDelta(pos.Liquidity, liquidityDelta)
	if err != nil {
		if errors.Is(err, liquiditymath.ErrLiquidityUnderflow) {
			return fmt.Errorf("%w: position holds %s", clamm.ErrInsufficientLiquidity, pos.Liquidity.Dec())
		}
		return err
	}

	owed0, owed1, err := pos.PendingFees(feeGrowthInside0X128, feeGrowthInside1X128)
	if err != nil {
		return err
	}

	l.touch(key)
	pos.Liquidity = liquidityNext
	pos.FeeGrowthInside0LastX128 = feeGrowthInside0X128.Clone()
	pos.FeeGrowthInside1LastX128 = feeGrowthInside1X128.Clone()
	pos.TokensOwed0 = new(uint256.Int).Add(pos.TokensOwed0, owed0)
	pos.TokensOwed1 = new(uint256.Int).Add(pos.TokensOwed1, owed1)
	l.positions[key] = pos
	return nil
}

// Credit adds burned principal to the amounts owed to the position.
func (l *Positions) Credit(key PositionKey, amount0, amount1 *uint256.Int) {
	pos, ok := l.positions[key]
	if !ok {
		return
	}
	l.touch(key)
	pos.TokensOwed0 = new(uint256.Int).Add(pos.TokensOwed0, amount0)
	pos.TokensOwed1 = new(uint256.Int).Add(pos.TokensOwed1, amount1)
}

// Collect debits up to the requested amounts from what the position is owed and
// returns the amounts debited.
func (l *Positions) Collect(key PositionKey, requested0, requested1 *uint256.Int) (*uint256.Int, *uint256.Int) {
	pos, ok := l.positions[key]
	if !ok {
		return new(uint256.Int), new(uint256.Int)
	}
	amount0 := minUint(requested0, pos.TokensOwed0)
	amount1 := minUint(requested1, pos.TokensOwed1)
	if amount0.IsZero() && amount1.IsZero() {
		return amount0, amount1
	}
	l.touch(key)
	pos.TokensOwed0 = new(uint256.Int).Sub(pos.TokensOwed0, amount0)
	pos.TokensOwed1 = new(uint256.Int).Sub(pos.TokensOwed1, amount1)
	return amount0, amount1
}

// Get returns a copy of the position.
func (l *Positions) Get(key PositionKey) (Position, bool) {
	pos, ok := l.positions[key]
	if !ok {
		return Position{}, false
	}
	return *pos.clone(), true
}

// Snapshot returns every position ordered by owner then range.
func (l *Positions) Snapshot() []clamm.PositionView {
	out := make([]clamm.PositionView, 0, len(l.positions))
	for key, pos := range l.positions {
		out = append(out, ToView(key, *pos))
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Owner[:], out[j].Owner[:]); c != 0 {
			return c < 0
		}
		if out[i].TickLower != out[j].TickLower {
			return out[i].TickLower < out[j].TickLower
		}
		return out[i].TickUpper < out[j].TickUpper
	})
	return out
}

// ToView converts a position to its serializable form.
func ToView(key PositionKey, pos Position) clamm.PositionView {
	return clamm.PositionView{
		Owner:                    key.Owner,
		TickLower:                key.TickLower,
		TickUpper:                key.TickUpper,
		Liquidity:                pos.Liquidity.ToBig(),
		FeeGrowthInside0LastX128: pos.FeeGrowthInside0LastX128.ToBig(),
		FeeGrowthInside1LastX128: pos.FeeGrowthInside1LastX128.ToBig(),
		TokensOwed0:              pos.TokensOwed0.ToBig(),
		TokensOwed1:              pos.TokensOwed1.ToBig(),
	}
}

func (l *Positions) Begin() {
	l.journal = make(map[PositionKey]*Position)
}

func (l *Positions) Commit() {
	l.journal = nil
}

func (l *Positions) Rollback() {
	for key, saved := range l.journal {
		if saved == nil {
			delete(l.positions, key)
		} else {
			l.positions[key] = saved
		}
	}
	l.journal = nil
}

func minUint(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}
