package pool

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Deltas tells a settler what a pool expects to receive before the current call can
// complete. Amounts are signed from the pool's perspective; only positive amounts have
// to be delivered. Negative amounts are what the pool pays out once settlement succeeds.
type Deltas struct {
	Pool    common.Address
	Token0  common.Address
	Token1  common.Address
	Amount0 *big.Int
	Amount1 *big.Int
	// Data is passed through untouched from the caller of the pool operation.
	Data []byte
}

// Settler delivers the tokens a pool operation owes. Settle runs while the pool is
// locked: the pool can be read but every mutating call fails with clamm.ErrLocked.
type Settler interface {
	Settle(Deltas) error
}

// SettlerFunc adapts a function to the Settler interface.
type SettlerFunc func(Deltas) error

func (f SettlerFunc) Settle(d Deltas) error { return f(d) }

func positive(x *big.Int) bool { return x != nil && x.Sign() > 0 }

// settle invokes the settler for what is owed and verifies that the pool's balances
// grew by at least that much.
func (p *Pool) settle(name string, owed0, owed1 *big.Int, settler Settler, data []byte) error {
	if !positive(owed0) && !positive(owed1) {
		return nil
	}
	if settler == nil {
		p.metrics.settlementFailures.WithLabelValues(p.address.Hex(), name).Inc()
		return fmt.Errorf("%w: no settler for %s", clamm.ErrInsufficientInputAmount, name)
	}

	balance0Before := p.token0.BalanceOf(p.address)
	balance1Before := p.token1.BalanceOf(p.address)

	err := p.callSettler(settler, Deltas{
		Pool:    p.address,
		Token0:  p.key.Token0,
		Token1:  p.key.Token1,
		Amount0: owedOrZero(owed0),
		Amount1: owedOrZero(owed1),
		Data:    data,
	})
	if err != nil {
		p.metrics.settlementFailures.WithLabelValues(p.address.Hex(), name).Inc()
		return fmt.Errorf("%w: settler failed: %w", clamm.ErrInsufficientInputAmount, err)
	}

	if err := p.checkReceived(p.token0.BalanceOf(p.address), balance0Before, owed0); err != nil {
		p.metrics.settlementFailures.WithLabelValues(p.address.Hex(), name).Inc()
		return fmt.Errorf("token0: %w", err)
	}
	if err := p.checkReceived(p.token1.BalanceOf(p.address), balance1Before, owed1); err != nil {
		p.metrics.settlementFailures.WithLabelValues(p.address.Hex(), name).Inc()
		return fmt.Errorf("token1: %w", err)
	}
	return nil
}

func owedOrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// callSettler marks the pool as settling for the duration of the callback, even if the
// settler panics.
func (p *Pool) callSettler(settler Settler, deltas Deltas) error {
	p.settling.Store(true)
	defer p.settling.Store(false)
	return settler.Settle(deltas)
}

func (p *Pool) checkReceived(after, before *uint256.Int, owed *big.Int) error {
	if !positive(owed) {
		return nil
	}
	want := new(big.Int).Add(before.ToBig(), owed)
	if after.ToBig().Cmp(want) < 0 {
		received := new(big.Int).Sub(after.ToBig(), before.ToBig())
		return fmt.Errorf("%w: received %s of %s", clamm.ErrInsufficientInputAmount, received, owed)
	}
	return nil
}
