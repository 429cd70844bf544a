package token

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const perMille = 1000

// FeeOnTransfer is a token that skims a per-mille fee from every transfer not sent by
// its owner. The recipient receives the amount less the fee; skimmed fees accumulate
// until harvested to the fee address.
type FeeOnTransfer struct {
	*Ledger
	owner       common.Address
	feeAddress  common.Address
	feePerMille uint64
	accumulated *uint256.Int
}

func NewFeeOnTransfer(address common.Address, symbol string, owner, feeAddress common.Address, feePerMille uint64) (*FeeOnTransfer, error) {
	if feePerMille > perMille {
		return nil, ErrInvalidFee
	}
	return &FeeOnTransfer{
		Ledger:      NewLedger(address, symbol),
		owner:       owner,
		feeAddress:  feeAddress,
		feePerMille: feePerMille,
		accumulated: new(uint256.Int),
	}, nil
}

func (t *FeeOnTransfer) Transfer(from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.debit(from, amount); err != nil {
		return err
	}
	fee := new(uint256.Int)
	if from != t.owner {
		fee.Mul(amount, uint256.NewInt(t.feePerMille))
		fee.Div(fee, uint256.NewInt(perMille))
	}
	t.credit(to, new(uint256.Int).Sub(amount, fee))
	t.accumulated = new(uint256.Int).Add(t.accumulated, fee)
	return nil
}

// AccumulatedFees returns the fees skimmed since the last harvest.
func (t *FeeOnTransfer) AccumulatedFees() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accumulated.Clone()
}

// HarvestFees pays the accumulated fees to the fee address and returns the amount paid.
func (t *FeeOnTransfer) HarvestFees() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	harvested := t.accumulated
	t.credit(t.feeAddress, harvested)
	t.accumulated = new(uint256.Int)
	return harvested
}

func (t *FeeOnTransfer) FeeAddress() common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.feeAddress
}

func (t *FeeOnTransfer) SetFeeAddress(caller, feeAddress common.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != t.owner {
		return ErrNotTokenOwner
	}
	t.feeAddress = feeAddress
	return nil
}

func (t *FeeOnTransfer) FeePerMille() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.feePerMille
}

func (t *FeeOnTransfer) SetFeePerMille(caller common.Address, feePerMille uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != t.owner {
		return ErrNotTokenOwner
	}
	if feePerMille > perMille {
		return ErrInvalidFee
	}
	t.feePerMille = feePerMille
	return nil
}
