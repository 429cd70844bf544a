package pool

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Donate credits amount0 and amount1 to the liquidity currently in range, as if they had
// been earned as swap fees. The settler delivers the amounts.
func (p *Pool) Donate(sender common.Address, amount0, amount1 *uint256.Int, settler Settler, data []byte) error {
	if amount0 == nil {
		amount0 = new(uint256.Int)
	}
	if amount1 == nil {
		amount1 = new(uint256.Int)
	}
	if amount0.IsZero() && amount1.IsZero() {
		return fmt.Errorf("%w: nothing to donate", clamm.ErrInvalidAmount)
	}

	return p.execute("donate", settler, data, func() (*operation, error) {
		s := &p.slot
		if s.liquidity.IsZero() {
			return nil, fmt.Errorf("%w: no liquidity in range to donate to", clamm.ErrZeroLiquidity)
		}
		growth0, err := fullmath.MulDiv(amount0, fullmath.Q128, s.liquidity)
		if err != nil {
			return nil, err
		}
		growth1, err := fullmath.MulDiv(amount1, fullmath.Q128, s.liquidity)
		if err != nil {
			return nil, err
		}
		s.feeGrowthGlobal0X128 = fullmath.WrappingAdd(s.feeGrowthGlobal0X128, growth0)
		s.feeGrowthGlobal1X128 = fullmath.WrappingAdd(s.feeGrowthGlobal1X128, growth1)

		return &operation{
			owed0: amount0.ToBig(),
			owed1: amount1.ToBig(),
			event: clamm.Event{
				Kind:    clamm.EventDonate,
				Sender:  sender,
				Amount0: amount0.ToBig(),
				Amount1: amount1.ToBig(),
			},
		}, nil
	})
}

// CollectOwnerFee pays up to the requested amounts of the accrued owner fees to
// recipient. Only the pool owner may call it.
func (p *Pool) CollectOwnerFee(caller, recipient common.Address, amount0Requested, amount1Requested *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	if caller != p.owner {
		return nil, nil, fmt.Errorf("%w: %s", clamm.ErrNotOwner, caller.Hex())
	}
	if amount0Requested == nil {
		amount0Requested = new(uint256.Int)
	}
	if amount1Requested == nil {
		amount1Requested = new(uint256.Int)
	}

	err = p.execute("collectOwnerFee", nil, nil, func() (*operation, error) {
		s := &p.slot
		amount0 = minUint(amount0Requested, s.ownerFees0)
		amount1 = minUint(amount1Requested, s.ownerFees1)
		s.ownerFees0 = new(uint256.Int).Sub(s.ownerFees0, amount0)
		s.ownerFees1 = new(uint256.Int).Sub(s.ownerFees1, amount1)

		a0, a1 := amount0.Clone(), amount1.Clone()
		return &operation{
			payout: func() error { return p.transferOut(recipient, a0, a1) },
			event: clamm.Event{
				Kind:      clamm.EventCollectOwnerFee,
				Sender:    caller,
				Recipient: recipient,
				Amount0:   new(big.Int).Neg(a0.ToBig()),
				Amount1:   new(big.Int).Neg(a1.ToBig()),
			},
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func minUint(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}
