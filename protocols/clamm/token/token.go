// Package token provides the in-memory token ledgers pools settle against.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotTokenOwner       = errors.New("caller is not the token owner")
	ErrInvalidFee          = errors.New("fee must not exceed 1000 per mille")
)

// Token is the balance-keeping surface the pool engine relies on.
type Token interface {
	Address() common.Address
	BalanceOf(account common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// Ledger is a plain token: transfers move exactly the amount requested.
// It is safe for concurrent use.
type Ledger struct {
	address common.Address
	symbol  string

	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
	supply   *uint256.Int
}

func NewLedger(address common.Address, symbol string) *Ledger {
	return &Ledger{
		address:  address,
		symbol:   symbol,
		balances: make(map[common.Address]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

func (l *Ledger) Address() common.Address { return l.address }

func (l *Ledger) Symbol() string { return l.symbol }

// BalanceOf returns a copy of the account's balance.
func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[account]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply.Clone()
}

// Mint creates amount new tokens for to.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(to, amount)
	l.supply = new(uint256.Int).Add(l.supply, amount)
}

// Burn destroys amount of from's tokens.
func (l *Ledger) Burn(from common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.supply = new(uint256.Int).Sub(l.supply, amount)
	return nil
}

func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

// debit and credit expect l.mu to be held.
func (l *Ledger) debit(from common.Address, amount *uint256.Int) error {
	balance, ok := l.balances[from]
	if !ok {
		balance = new(uint256.Int)
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from.Hex(), balance.Dec(), l.symbol, amount.Dec())
	}
	l.balances[from] = new(uint256.Int).Sub(balance, amount)
	return nil
}

func (l *Ledger) credit(to common.Address, amount *uint256.Int) {
	balance, ok := l.balances[to]
	if !ok {
		balance = new(uint256.Int)
	}
	l.balances[to] = new(uint256.Int).Add(balance, amount)
}
