package fullmath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDiv(t *testing.T) {
	t.Run("reverts if denominator is 0", func(t *testing.T) {
		_, err := MulDiv(Q128, uint256.NewInt(5), new(uint256.Int))
		assert.ErrorIs(t, err, ErrDivisionByZero)
	})

	t.Run("reverts on overflow", func(t *testing.T) {
		_, err := MulDiv(Q128, Q128, uint256.NewInt(1))
		assert.ErrorIs(t, err, ErrMulDivOverflow)
	})

	t.Run("all max inputs", func(t *testing.T) {
		z, err := MulDiv(MaxUint256, MaxUint256, MaxUint256)
		require.NoError(t, err)
		assert.True(t, z.Eq(MaxUint256))
	})

	t.Run("accurate without phantom overflow", func(t *testing.T) {
		// Q128 * 0.5 * Q128 / (1.5 * Q128) = Q128 / 3
		half := new(uint256.Int).Rsh(Q128, 1)
		oneAndHalf := new(uint256.Int).Mul(Q128, uint256.NewInt(3))
		oneAndHalf.Rsh(oneAndHalf, 1)
		z, err := MulDiv(Q128, half, oneAndHalf)
		require.NoError(t, err)
		assert.True(t, z.Eq(new(uint256.Int).Div(Q128, uint256.NewInt(3))))
	})

	t.Run("accurate with phantom overflow and repeating decimal", func(t *testing.T) {
		a := new(uint256.Int).Mul(Q128, uint256.NewInt(35))
		b := new(uint256.Int).Mul(Q128, uint256.NewInt(1000))
		d := new(uint256.Int).Mul(Q128, uint256.NewInt(3000))
		z, err := MulDiv(a, b, d)
		require.NoError(t, err)
		expected := new(uint256.Int).Mul(Q128, uint256.NewInt(35))
		expected.Div(expected, uint256.NewInt(3))
		assert.True(t, z.Eq(expected))
	})
}

func TestMulDivRoundingUp(t *testing.T) {
	t.Run("reverts if result overflows after rounding up", func(t *testing.T) {
		a := uint256.MustFromDecimal("535006138814359")
		b := uint256.MustFromDecimal("432862656469423142931042426214547535783388063929571229938474969")
		_, err := MulDivRoundingUp(a, b, uint256.NewInt(2))
		assert.ErrorIs(t, err, ErrMulDivOverflow)
	})

	t.Run("exact division does not round", func(t *testing.T) {
		z, err := MulDivRoundingUp(uint256.NewInt(6), uint256.NewInt(4), uint256.NewInt(8))
		require.NoError(t, err)
		assert.Equal(t, uint64(3), z.Uint64())
	})

	t.Run("inexact division rounds up", func(t *testing.T) {
		z, err := MulDivRoundingUp(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2))
		require.NoError(t, err)
		assert.Equal(t, uint64(11), z.Uint64())
	})

	t.Run("matches big.Int reference", func(t *testing.T) {
		max := new(big.Int).Lsh(big.NewInt(1), 200)
		for i := 0; i < 1000; i++ {
			ra, _ := rand.Int(rand.Reader, max)
			rb, _ := rand.Int(rand.Reader, max)
			rd, _ := rand.Int(rand.Reader, max)
			rd.Add(rd, new(big.Int).Lsh(big.NewInt(1), 150))

			product := new(big.Int).Mul(ra, rb)
			q, r := new(big.Int).QuoRem(product, rd, new(big.Int))
			if q.BitLen() > 255 {
				continue
			}

			down, err := MulDiv(uint256.MustFromBig(ra), uint256.MustFromBig(rb), uint256.MustFromBig(rd))
			require.NoError(t, err)
			require.Equal(t, 0, down.ToBig().Cmp(q))

			up, err := MulDivRoundingUp(uint256.MustFromBig(ra), uint256.MustFromBig(rb), uint256.MustFromBig(rd))
			require.NoError(t, err)
			if r.Sign() > 0 {
				q.Add(q, big.NewInt(1))
			}
			require.Equal(t, 0, up.ToBig().Cmp(q))
		}
	})
}

func TestDivRoundingUp(t *testing.T) {
	z, err := DivRoundingUp(uint256.NewInt(10), uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), z.Uint64())

	z, err = DivRoundingUp(uint256.NewInt(9), uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), z.Uint64())

	_, err = DivRoundingUp(uint256.NewInt(9), new(uint256.Int))
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestWrapping(t *testing.T) {
	// 1 - 2 wraps to 2^256 - 1, and adding 2 wraps back to 1.
	w := WrappingSub(uint256.NewInt(1), uint256.NewInt(2))
	assert.True(t, w.Eq(MaxUint256))
	assert.Equal(t, uint64(1), WrappingAdd(w, uint256.NewInt(2)).Uint64())
	assert.Equal(t, uint64(12), Sqrt(uint256.NewInt(150)).Uint64())
}
