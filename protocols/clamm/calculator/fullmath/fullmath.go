// Package fullmath provides fixed-width 256-bit multiply/divide helpers with
// explicit rounding and 512-bit intermediates.
package fullmath

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrDivisionByZero = errors.New("fullmath: division by zero")
	ErrMulDivOverflow = errors.New("fullmath: result overflows uint256")

	// Q96 is 2^96, the scale of Q64.96 square-root prices.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	// Q128 is 2^128, the scale of Q128.128 fee growth accumulators.
	Q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

	MaxUint128 = new(uint256.Int).Sub(Q128, uint256.NewInt(1))
	MaxUint160 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 160), uint256.NewInt(1))
	MaxUint256 = new(uint256.Int).SetAllOne()

	one = uint256.NewInt(1)
)

// MulDiv returns floor(a*b/denominator). The product is computed at 512 bits so
// only the final quotient has to fit.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, ErrMulDivOverflow
	}
	return z, nil
}

// MulDivRoundingUp returns ceil(a*b/denominator).
func MulDivRoundingUp(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(a, b, denominator)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(a, b, denominator).IsZero() {
		if z.Eq(MaxUint256) {
			return nil, ErrMulDivOverflow
		}
		z.AddUint64(z, 1)
	}
	return z, nil
}

// DivRoundingUp returns ceil(a/b).
func DivRoundingUp(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(a, b, r)
	if !r.IsZero() {
		q.Add(q, one)
	}
	return q, nil
}

// Sqrt returns floor(sqrt(x)).
func Sqrt(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(x)
}

// WrappingSub returns a-b modulo 2^256. Fee growth accumulators rely on this:
// only differences between them are meaningful, and those survive wraparound.
func WrappingSub(a, b *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sub(a, b)
}

// WrappingAdd returns a+b modulo 2^256.
func WrappingAdd(a, b *uint256.Int) *uint256.Int {
	return new(uint256.Int).Add(a, b)
}
