package clamm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// FeeDenominator is the denominator of fee amounts expressed in pips (hundredths of a basis point).
const FeeDenominator = 1_000_000

// DefaultFeeTiers maps each supported swap fee (in pips) to the tick spacing enforced for it.
// Tighter fees get finer spacing so that low-volatility pairs can concentrate liquidity closely.
var DefaultFeeTiers = map[uint32]int32{
	100:   1,
	500:   10,
	1000:  20,
	3000:  60,
	10000: 200,
}

// PoolKey identifies a pool: an ordered token pair and a fee tier.
// Token0 always sorts below Token1.
type PoolKey struct {
	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`
	Fee    uint32         `json:"fee"`
}

// SortTokens returns the pair in canonical order (lower address first).
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if a.Cmp(b) < 0 {
		return a, b
	}
	return b, a
}

// NewPoolKey builds a canonical key from an unordered pair.
func NewPoolKey(tokenA, tokenB common.Address, fee uint32) PoolKey {
	t0, t1 := SortTokens(tokenA, tokenB)
	return PoolKey{Token0: t0, Token1: t1, Fee: fee}
}

// TickInfo is the serializable state of one initialized tick.
type TickInfo struct {
	Index                 int32    `json:"index"`
	LiquidityGross        *big.Int `json:"liquidityGross"`
	LiquidityNet          *big.Int `json:"liquidityNet"`
	FeeGrowthOutside0X128 *big.Int `json:"feeGrowthOutside0X128"`
	FeeGrowthOutside1X128 *big.Int `json:"feeGrowthOutside1X128"`
}

// PoolView is a point-in-time copy of a pool's state. Ticks are sorted by index.
// Views are detached from the pool: mutating one never affects the other.
type PoolView struct {
	Address              common.Address `json:"address"`
	Token0               common.Address `json:"token0"`
	Token1               common.Address `json:"token1"`
	Fee                  uint32         `json:"fee"`
	TickSpacing          int32          `json:"tickSpacing"`
	OwnerFeeShare        uint32         `json:"ownerFeeShare"`
	DonateToken          common.Address `json:"donateToken"`
	Tick                 int32          `json:"tick"`
	SqrtPriceX96         *big.Int       `json:"sqrtPriceX96"`
	Liquidity            *big.Int       `json:"liquidity"`
	FeeGrowthGlobal0X128 *big.Int       `json:"feeGrowthGlobal0X128"`
	FeeGrowthGlobal1X128 *big.Int       `json:"feeGrowthGlobal1X128"`
	Sequence             uint64         `json:"sequence"`
	Ticks                []TickInfo     `json:"ticks"`
}

// Key returns the identifying key of the viewed pool.
func (v *PoolView) Key() PoolKey {
	return PoolKey{Token0: v.Token0, Token1: v.Token1, Fee: v.Fee}
}

// PositionView is a copy of one liquidity position.
type PositionView struct {
	Owner                    common.Address `json:"owner"`
	TickLower                int32          `json:"tickLower"`
	TickUpper                int32          `json:"tickUpper"`
	Liquidity                *big.Int       `json:"liquidity"`
	FeeGrowthInside0LastX128 *big.Int       `json:"feeGrowthInside0LastX128"`
	FeeGrowthInside1LastX128 *big.Int       `json:"feeGrowthInside1LastX128"`
	TokensOwed0              *big.Int       `json:"tokensOwed0"`
	TokensOwed1              *big.Int       `json:"tokensOwed1"`
}
