package pool

import (
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Slot0 is the pool's current price and fee configuration.
type Slot0 struct {
	SqrtPriceX96  *uint256.Int
	Tick          int32
	OwnerFeeShare uint32
}

// Amounts is a pair of token amounts.
type Amounts struct {
	Amount0 *uint256.Int
	Amount1 *uint256.Int
}

func (p *Pool) Slot0() Slot0 {
	var out Slot0
	p.read(func() {
		out = Slot0{SqrtPriceX96: p.slot.sqrtPriceX96.Clone(), Tick: p.slot.tick, OwnerFeeShare: p.ownerFeeShare}
	})
	return out
}

// Liquidity returns the liquidity currently in range.
func (p *Pool) Liquidity() *uint256.Int {
	var out *uint256.Int
	p.read(func() { out = p.slot.liquidity.Clone() })
	return out
}

func (p *Pool) FeeGrowthGlobal() (*uint256.Int, *uint256.Int) {
	var fg0, fg1 *uint256.Int
	p.read(func() {
		fg0, fg1 = p.slot.feeGrowthGlobal0X128.Clone(), p.slot.feeGrowthGlobal1X128.Clone()
	})
	return fg0, fg1
}

// Position returns owner's position in [tickLower, tickUpper).
func (p *Pool) Position(owner common.Address, tickLower, tickUpper int32) (ledger.Position, bool) {
	var (
		pos ledger.Position
		ok  bool
	)
	p.read(func() {
		pos, ok = p.positions.Get(ledger.PositionKey{Owner: owner, TickLower: tickLower, TickUpper: tickUpper})
	})
	return pos, ok
}

// PendingFees returns what the position could collect right now: the owed amounts plus
// the fees earned since its last sync. Nothing is mutated.
func (p *Pool) PendingFees(owner common.Address, tickLower, tickUpper int32) (Amounts, error) {
	var (
		out Amounts
		err error
	)
	p.read(func() {
		pos, ok := p.positions.Get(ledger.PositionKey{Owner: owner, TickLower: tickLower, TickUpper: tickUpper})
		if !ok {
			out = Amounts{Amount0: new(uint256.Int), Amount1: new(uint256.Int)}
			return
		}
		s := &p.slot
		inside0, inside1 := p.ticks.FeeGrowthInside(tickLower, tickUpper, s.tick, s.feeGrowthGlobal0X128, s.feeGrowthGlobal1X128)
		var fees0, fees1 *uint256.Int
		if fees0, fees1, err = pos.PendingFees(inside0, inside1); err != nil {
			return
		}
		out = Amounts{
			Amount0: new(uint256.Int).Add(pos.TokensOwed0, fees0),
			Amount1: new(uint256.Int).Add(pos.TokensOwed1, fees1),
		}
	})
	return out, err
}

// OwnerFees returns the owner fees accrued and not yet collected.
func (p *Pool) OwnerFees() Amounts {
	var out Amounts
	p.read(func() {
		out = Amounts{Amount0: p.slot.ownerFees0.Clone(), Amount1: p.slot.ownerFees1.Clone()}
	})
	return out
}

// Volume returns the cumulative amounts of each token swapped through the pool, in and
// out.
func (p *Pool) Volume() Amounts {
	var out Amounts
	p.read(func() {
		out = Amounts{Amount0: p.slot.volume0.Clone(), Amount1: p.slot.volume1.Clone()}
	})
	return out
}

// Reserves returns the token balances held by the pool.
func (p *Pool) Reserves() Amounts {
	return Amounts{
		Amount0: p.token0.BalanceOf(p.address),
		Amount1: p.token1.BalanceOf(p.address),
	}
}

// Sequence is incremented by every committed mutation.
func (p *Pool) Sequence() uint64 {
	var out uint64
	p.read(func() { out = p.slot.sequence })
	return out
}

// View returns a detached copy of the pool's state.
func (p *Pool) View() clamm.PoolView {
	var view clamm.PoolView
	p.read(func() {
		s := &p.slot
		view = clamm.PoolView{
			Address:              p.address,
			Token0:               p.key.Token0,
			Token1:               p.key.Token1,
			Fee:                  p.key.Fee,
			TickSpacing:          p.tickSpacing,
			OwnerFeeShare:        p.ownerFeeShare,
			DonateToken:          p.donateToken,
			Tick:                 s.tick,
			SqrtPriceX96:         s.sqrtPriceX96.ToBig(),
			Liquidity:            s.liquidity.ToBig(),
			FeeGrowthGlobal0X128: s.feeGrowthGlobal0X128.ToBig(),
			FeeGrowthGlobal1X128: s.feeGrowthGlobal1X128.ToBig(),
			Sequence:             s.sequence,
			Ticks:                p.ticks.Snapshot(),
		}
	})
	return view
}

// Positions returns every position of the pool, including emptied ones.
func (p *Pool) Positions() []clamm.PositionView {
	var out []clamm.PositionView
	p.read(func() { out = p.positions.Snapshot() })
	return out
}

// LiquidityNetSum adds up the net liquidity of every initialized tick. Every range
// contributes once positively and once negatively, so the sum is always zero.
func (p *Pool) LiquidityNetSum() *big.Int {
	sum := new(big.Int)
	for _, t := range p.View().Ticks {
		sum.Add(sum, t.LiquidityNet)
	}
	return sum
}
