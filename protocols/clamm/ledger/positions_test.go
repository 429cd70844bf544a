package ledger

import (
	"math/big"
	"testing"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func q128Times(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(fullmath.Q128, uint256.NewInt(n))
}

func TestPositionsUpdate(t *testing.T) {
	l := NewPositions()
	key := PositionKey{Owner: alice, TickLower: -60, TickUpper: 60}

	require.NoError(t, l.Update(key, big.NewInt(100), u(0), u(0)))
	pos, ok := l.Get(key)
	require.True(t, ok)
	assert.Equal(t, u(100), pos.Liquidity)

	t.Run("poke accrues fees on existing liquidity", func(t *testing.T) {
		require.NoError(t, l.Update(key, big.NewInt(0), q128Times(2), q128Times(1)))
		pos, _ := l.Get(key)
		assert.Equal(t, u(200), pos.TokensOwed0)
		assert.Equal(t, u(100), pos.TokensOwed1)
		assert.Equal(t, q128Times(2), pos.FeeGrowthInside0LastX128)
	})

	t.Run("fees accrue before the liquidity change", func(t *testing.T) {
		require.NoError(t, l.Update(key, big.NewInt(-50), q128Times(3), q128Times(1)))
		pos, _ := l.Get(key)
		assert.Equal(t, u(50), pos.Liquidity)
		assert.Equal(t, u(300), pos.TokensOwed0)
	})

	t.Run("cannot remove more than the position holds", func(t *testing.T) {
		err := l.Update(key, big.NewInt(-51), q128Times(3), q128Times(1))
		assert.ErrorIs(t, err, clamm.ErrInsufficientLiquidity)
	})

	t.Run("zero delta on an empty position is a no-op", func(t *testing.T) {
		empty := PositionKey{Owner: bob, TickLower: -60, TickUpper: 60}
		require.NoError(t, l.Update(empty, big.NewInt(0), q128Times(9), q128Times(9)))
		_, ok := l.Get(empty)
		assert.False(t, ok)
	})

	t.Run("owners are isolated on identical ranges", func(t *testing.T) {
		other := PositionKey{Owner: bob, TickLower: -60, TickUpper: 60}
		require.NoError(t, l.Update(other, big.NewInt(7), q128Times(3), q128Times(1)))
		pos, _ := l.Get(other)
		assert.True(t, pos.TokensOwed0.IsZero())
		assert.Len(t, l.Snapshot(), 2)
	})
}

func TestPositionsCreditAndCollect(t *testing.T) {
	l := NewPositions()
	key := PositionKey{Owner: alice, TickLower: 0, TickUpper: 10}
	require.NoError(t, l.Update(key, big.NewInt(10), u(0), u(0)))

	l.Credit(key, u(40), u(15))
	amount0, amount1 := l.Collect(key, u(25), u(100))
	assert.Equal(t, u(25), amount0)
	assert.Equal(t, u(15), amount1, "collect is capped at what is owed")

	pos, _ := l.Get(key)
	assert.Equal(t, u(15), pos.TokensOwed0)
	assert.True(t, pos.TokensOwed1.IsZero())

	amount0, amount1 = l.Collect(PositionKey{Owner: bob}, u(1), u(1))
	assert.True(t, amount0.IsZero())
	assert.True(t, amount1.IsZero())
}

func TestPositionsRollback(t *testing.T) {
	l := NewPositions()
	key := PositionKey{Owner: alice, TickLower: 0, TickUpper: 10}
	require.NoError(t, l.Update(key, big.NewInt(10), u(0), u(0)))

	l.Begin()
	require.NoError(t, l.Update(key, big.NewInt(-10), u(0), u(0)))
	l.Credit(key, u(5), u(5))
	fresh := PositionKey{Owner: bob, TickLower: 0, TickUpper: 10}
	require.NoError(t, l.Update(fresh, big.NewInt(3), u(0), u(0)))
	l.Rollback()

	pos, ok := l.Get(key)
	require.True(t, ok)
	assert.Equal(t, u(10), pos.Liquidity)
	assert.True(t, pos.TokensOwed0.IsZero())
	_, ok = l.Get(fresh)
	assert.False(t, ok)
}
