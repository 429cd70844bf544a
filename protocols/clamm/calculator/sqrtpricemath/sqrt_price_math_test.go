package sqrtpricemath

import (
	"math/big"
	"testing"

	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePriceSqrt(reserve1, reserve0 int64) *uint256.Int {
	num := new(big.Int).Lsh(big.NewInt(reserve1), 192)
	ratio := new(big.Int).Div(num, big.NewInt(reserve0))
	return uint256.MustFromBig(new(big.Int).Sqrt(ratio))
}

func expandTo18Decimals(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func TestGetNextSqrtPriceFromInput(t *testing.T) {
	price := encodePriceSqrt(1, 1)

	t.Run("fails if price is zero", func(t *testing.T) {
		_, err := GetNextSqrtPriceFromInput(new(uint256.Int), uint256.NewInt(1), uint256.NewInt(1e17), false)
		assert.ErrorIs(t, err, ErrSqrtPriceZero)
	})

	t.Run("fails if liquidity is zero", func(t *testing.T) {
		_, err := GetNextSqrtPriceFromInput(uint256.NewInt(1), new(uint256.Int), uint256.NewInt(1e17), true)
		assert.ErrorIs(t, err, ErrLiquidityZero)
	})

	t.Run("fails if input amount overflows the price", func(t *testing.T) {
		_, err := GetNextSqrtPriceFromInput(fullmath.MaxUint160, uint256.NewInt(1024), uint256.NewInt(1024), false)
		assert.ErrorIs(t, err, ErrPriceOverflow)
	})

	t.Run("returns input price if amount in is zero", func(t *testing.T) {
		for _, zeroForOne := range []bool{true, false} {
			next, err := GetNextSqrtPriceFromInput(price, uint256.NewInt(1e17), new(uint256.Int), zeroForOne)
			require.NoError(t, err)
			assert.True(t, next.Eq(price))
		}
	})

	testCases := []struct {
		name       string
		liquidity  *uint256.Int
		amountIn   *uint256.Int
		zeroForOne bool
		expected   string
	}{
		{"input amount of 0.1 token1", expandTo18Decimals(1), uint256.NewInt(1e17), false, "87150978765690771352898345369"},
		{"input amount of 0.1 token0", expandTo18Decimals(1), uint256.NewInt(1e17), true, "72025602285694852357767227579"},
		{"amountIn > type(uint96).max and zeroForOne", expandTo18Decimals(10), new(uint256.Int).Lsh(uint256.NewInt(1), 100), true, "624999999995069620"},
		{"can return 1 with enough amountIn", uint256.NewInt(1), new(uint256.Int).Rsh(fullmath.MaxUint256, 1), true, "1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := GetNextSqrtPriceFromInput(price, tc.liquidity, tc.amountIn, tc.zeroForOne)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, next.Dec())
		})
	}
}

func TestGetNextSqrtPriceFromOutput(t *testing.T) {
	price := encodePriceSqrt(1, 1)

	t.Run("fails if output amount is exactly the virtual reserves of token0", func(t *testing.T) {
		_, err := GetNextSqrtPriceFromOutput(uint256.MustFromDecimal("20282409603651670423947251286016"), uint256.NewInt(1024), uint256.NewInt(4), false)
		assert.ErrorIs(t, err, ErrPriceOverflow)
	})

	t.Run("fails if output amount is greater than virtual reserves of token1", func(t *testing.T) {
		_, err := GetNextSqrtPriceFromOutput(uint256.MustFromDecimal("20282409603651670423947251286016"), uint256.NewInt(1024), uint256.NewInt(262145), true)
		assert.ErrorIs(t, err, ErrPriceOverflow)
	})

	testCases := []struct {
		name       string
		zeroForOne bool
		expected   string
	}{
		{"output amount of 0.1 token1", true, "71305346262837903834189555302"},
		{"output amount of 0.1 token0", false, "88031291682515930659493278152"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := GetNextSqrtPriceFromOutput(price, expandTo18Decimals(1), uint256.NewInt(1e17), tc.zeroForOne)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, next.Dec())
		})
	}
}

func TestGetAmountDeltas(t *testing.T) {
	low := encodePriceSqrt(1, 1)
	high := encodePriceSqrt(121, 100)
	liquidity := expandTo18Decimals(1)

	t.Run("returns 0 if liquidity is 0", func(t *testing.T) {
		a0, err := GetAmount0Delta(low, encodePriceSqrt(2, 1), new(uint256.Int), true)
		require.NoError(t, err)
		assert.True(t, a0.IsZero())
		a1, err := GetAmount1Delta(low, encodePriceSqrt(2, 1), new(uint256.Int), true)
		require.NoError(t, err)
		assert.True(t, a1.IsZero())
	})

	t.Run("returns 0 if prices are equal", func(t *testing.T) {
		a0, err := GetAmount0Delta(low, low, liquidity, true)
		require.NoError(t, err)
		assert.True(t, a0.IsZero())
	})

	t.Run("amount0 between 1 and 1.21", func(t *testing.T) {
		up, err := GetAmount0Delta(low, high, liquidity, true)
		require.NoError(t, err)
		assert.Equal(t, "90909090909090910", up.Dec())

		down, err := GetAmount0Delta(low, high, liquidity, false)
		require.NoError(t, err)
		assert.Equal(t, "90909090909090909", down.Dec())
	})

	t.Run("amount1 between 1 and 1.21", func(t *testing.T) {
		up, err := GetAmount1Delta(low, high, liquidity, true)
		require.NoError(t, err)
		assert.Equal(t, "100000000000000000", up.Dec())

		down, err := GetAmount1Delta(low, high, liquidity, false)
		require.NoError(t, err)
		assert.Equal(t, "99999999999999999", down.Dec())
	})

	t.Run("order of prices does not matter", func(t *testing.T) {
		a, err := GetAmount0Delta(high, low, liquidity, true)
		require.NoError(t, err)
		b, err := GetAmount0Delta(low, high, liquidity, true)
		require.NoError(t, err)
		assert.True(t, a.Eq(b))
	})

	t.Run("signed deltas round toward the pool", func(t *testing.T) {
		l := liquidity.ToBig()
		owed, err := GetAmount0DeltaSigned(low, high, l)
		require.NoError(t, err)
		assert.Equal(t, "90909090909090910", owed.String())

		returned, err := GetAmount0DeltaSigned(low, high, new(big.Int).Neg(l))
		require.NoError(t, err)
		assert.Equal(t, "-90909090909090909", returned.String())

		returned1, err := GetAmount1DeltaSigned(low, high, new(big.Int).Neg(l))
		require.NoError(t, err)
		assert.Equal(t, "-99999999999999999", returned1.String())
	})
}
