package token

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner      = common.HexToAddress("0x01")
	addr1      = common.HexToAddress("0x02")
	addr2      = common.HexToAddress("0x03")
	feeAddress = common.HexToAddress("0x04")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestLedger(t *testing.T) {
	l := NewLedger(common.HexToAddress("0xaa"), "TKA")
	l.Mint(addr1, u(1000))

	require.NoError(t, l.Transfer(addr1, addr2, u(400)))
	assert.Equal(t, u(600), l.BalanceOf(addr1))
	assert.Equal(t, u(400), l.BalanceOf(addr2))

	err := l.Transfer(addr1, addr2, u(601))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, u(600), l.BalanceOf(addr1), "failed transfers move nothing")

	require.NoError(t, l.Burn(addr2, u(100)))
	assert.Equal(t, u(900), l.TotalSupply())
	assert.ErrorIs(t, l.Burn(owner, u(1)), ErrInsufficientBalance)

	t.Run("balances are copies", func(t *testing.T) {
		b := l.BalanceOf(addr1)
		b.SetUint64(0)
		assert.Equal(t, u(600), l.BalanceOf(addr1))
	})
}

func TestLedgerConcurrentTransfers(t *testing.T) {
	l := NewLedger(common.HexToAddress("0xaa"), "TKA")
	l.Mint(addr1, u(10_000))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Transfer(addr1, addr2, u(100)))
		}()
	}
	wg.Wait()
	assert.True(t, l.BalanceOf(addr1).IsZero())
	assert.Equal(t, u(10_000), l.BalanceOf(addr2))
}

func TestFeeOnTransfer(t *testing.T) {
	newToken := func(t *testing.T) *FeeOnTransfer {
		tok, err := NewFeeOnTransfer(common.HexToAddress("0xbb"), "PST", owner, feeAddress, 1)
		require.NoError(t, err)
		return tok
	}

	t.Run("transfers are charged a fee", func(t *testing.T) {
		tok := newToken(t)
		tok.Mint(addr1, u(10_000))
		require.NoError(t, tok.Transfer(addr1, addr2, u(5000)))
		assert.Equal(t, u(4995), tok.BalanceOf(addr2))
		assert.Equal(t, u(5000), tok.BalanceOf(addr1))
		assert.Equal(t, u(5), tok.AccumulatedFees())
	})

	t.Run("owner transfers are exempt", func(t *testing.T) {
		tok := newToken(t)
		tok.Mint(owner, u(1000))
		require.NoError(t, tok.Transfer(owner, addr2, u(500)))
		assert.Equal(t, u(500), tok.BalanceOf(addr2))
		assert.True(t, tok.AccumulatedFees().IsZero())
	})

	t.Run("harvest pays the fee address", func(t *testing.T) {
		tok := newToken(t)
		tok.Mint(addr1, u(10_000))
		require.NoError(t, tok.Transfer(addr1, addr2, u(5000)))
		assert.Equal(t, u(5), tok.HarvestFees())
		assert.Equal(t, u(5), tok.BalanceOf(feeAddress))
		assert.True(t, tok.AccumulatedFees().IsZero())
	})

	t.Run("settings are owner only", func(t *testing.T) {
		tok := newToken(t)
		assert.ErrorIs(t, tok.SetFeeAddress(addr1, addr1), ErrNotTokenOwner)
		require.NoError(t, tok.SetFeeAddress(owner, addr1))
		assert.Equal(t, addr1, tok.FeeAddress())

		require.NoError(t, tok.SetFeePerMille(owner, 2))
		assert.Equal(t, uint64(2), tok.FeePerMille())
		assert.ErrorIs(t, tok.SetFeePerMille(owner, 1001), ErrInvalidFee)
		assert.ErrorIs(t, tok.SetFeePerMille(addr1, 3), ErrNotTokenOwner)
	})

	t.Run("overdrafts fail", func(t *testing.T) {
		tok := newToken(t)
		tok.Mint(addr1, u(10))
		assert.ErrorIs(t, tok.Transfer(addr1, addr2, u(11)), ErrInsufficientBalance)
	})

	_, err := NewFeeOnTransfer(common.Address{}, "X", owner, feeAddress, 1001)
	assert.ErrorIs(t, err, ErrInvalidFee)
}
