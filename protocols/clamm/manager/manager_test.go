package manager

import (
	"io"
	"log/slog"
	"testing"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/pool"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/registry"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA       = common.HexToAddress("0xa000000000000000000000000000000000000000")
	addrB       = common.HexToAddress("0xb000000000000000000000000000000000000000")
	addrC       = common.HexToAddress("0xc000000000000000000000000000000000000000")
	managerAddr = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	poolOwner   = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	alice       = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000002")

	e18  = uint256.NewInt(1_000_000_000_000_000_000)
	e15  = uint256.NewInt(1_000_000_000_000_000)
	fund = uint256.MustFromDecimal("1000000000000000000000")
)

type env struct {
	manager  *Manager
	registry *registry.Registry
	tokens   map[common.Address]*token.Ledger
}

func (e env) balance(tokenAddr, account common.Address) *uint256.Int {
	return e.tokens[tokenAddr].BalanceOf(account)
}

// newEnv creates A/B and B/C pools at price 1, fee 0.3%, with alice funded in every token.
func newEnv(t *testing.T) env {
	t.Helper()
	reg, err := registry.NewRegistry(&registry.Config{
		Owner:   poolOwner,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: pool.NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	tokens := map[common.Address]*token.Ledger{}
	for _, a := range []common.Address{addrA, addrB, addrC} {
		l := token.NewLedger(a, a.Hex()[:4])
		l.Mint(alice, fund)
		l.Mint(bob, fund)
		tokens[a] = l
	}
	_, err = reg.CreatePool(tokens[addrA], tokens[addrB], 3000, fullmath.Q96, registry.PoolOptions{OwnerFeeShare: 100_000})
	require.NoError(t, err)
	_, err = reg.CreatePool(tokens[addrB], tokens[addrC], 3000, fullmath.Q96, registry.PoolOptions{})
	require.NoError(t, err)

	m, err := NewManager(&Config{Pools: reg, Address: managerAddr, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	return env{manager: m, registry: reg, tokens: tokens}
}

func mintParams(tokenA, tokenB common.Address) MintParams {
	return MintParams{
		TokenA: tokenA, TokenB: tokenB, Fee: 3000,
		TickLower: -600, TickUpper: 600,
		Amount0Desired: e18, Amount1Desired: e18,
		Payer: alice, Owner: alice,
	}
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(&Config{Address: managerAddr, Logger: slog.Default()})
	assert.EqualError(t, err, "config: Pools cannot be nil")
	_, err = NewManager(&Config{Pools: &registry.Registry{}, Logger: slog.Default()})
	assert.EqualError(t, err, "config: Address cannot be the zero address")
}

func TestMint(t *testing.T) {
	t.Run("in range takes both tokens", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.manager.Mint(mintParams(addrA, addrB))
		require.NoError(t, err)
		assert.Equal(t, "33837499809738371427", res.Liquidity.Dec())
		assert.Equal(t, e18, res.Amount0)
		assert.Equal(t, e18, res.Amount1)
		assert.Equal(t, new(uint256.Int).Sub(fund, e18), e.balance(addrA, alice))

		p, err := e.registry.Get(addrA, addrB, 3000)
		require.NoError(t, err)
		pos, ok := p.Position(alice, -600, 600)
		require.True(t, ok)
		assert.Equal(t, res.Liquidity, pos.Liquidity)
	})

	t.Run("range above the price takes only token0", func(t *testing.T) {
		e := newEnv(t)
		params := mintParams(addrA, addrB)
		params.TickLower, params.TickUpper = 600, 1200
		res, err := e.manager.Mint(params)
		require.NoError(t, err)
		assert.Equal(t, "34867952798114284185", res.Liquidity.Dec())
		assert.Equal(t, e18, res.Amount0)
		assert.True(t, res.Amount1.IsZero())
		assert.Equal(t, fund, e.balance(addrB, alice))
	})

	t.Run("range below the price takes only token1", func(t *testing.T) {
		e := newEnv(t)
		params := mintParams(addrA, addrB)
		params.TickLower, params.TickUpper = -1200, -600
		res, err := e.manager.Mint(params)
		require.NoError(t, err)
		assert.True(t, res.Amount0.IsZero())
		assert.False(t, res.Amount1.IsZero())
	})

	t.Run("slippage protection", func(t *testing.T) {
		e := newEnv(t)
		params := mintParams(addrA, addrB)
		params.Amount0Min = new(uint256.Int).AddUint64(e18, 1)
		_, err := e.manager.Mint(params)
		assert.ErrorIs(t, err, clamm.ErrSlippageExceeded)
		assert.Equal(t, fund, e.balance(addrA, alice), "nothing is paid")
		p, _ := e.registry.Get(addrA, addrB, 3000)
		assert.True(t, p.Liquidity().IsZero())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		e := newEnv(t)
		params := mintParams(addrA, addrB)
		params.Amount0Desired = new(uint256.Int).Mul(fund, uint256.NewInt(2))
		params.Amount1Desired = params.Amount0Desired
		_, err := e.manager.Mint(params)
		assert.ErrorIs(t, err, clamm.ErrInsufficientInputAmount)
		assert.ErrorIs(t, err, token.ErrInsufficientBalance)
	})

	t.Run("invalid ranges and amounts", func(t *testing.T) {
		e := newEnv(t)
		params := mintParams(addrA, addrB)
		params.TickLower = tickmath.MinTick - 60
		_, err := e.manager.Mint(params)
		assert.ErrorIs(t, err, clamm.ErrInvalidTickRange)

		params = mintParams(addrA, addrB)
		params.Amount0Desired, params.Amount1Desired = nil, nil
		_, err = e.manager.Mint(params)
		assert.ErrorIs(t, err, clamm.ErrZeroLiquidity)

		params = mintParams(addrA, addrC)
		_, err = e.manager.Mint(params)
		assert.ErrorIs(t, err, clamm.ErrPoolNotFound)
	})
}

func TestBurnAndCollect(t *testing.T) {
	e := newEnv(t)
	res, err := e.manager.Mint(mintParams(addrA, addrB))
	require.NoError(t, err)

	pos := PositionParams{TokenA: addrB, TokenB: addrA, Fee: 3000, TickLower: -600, TickUpper: 600, Owner: alice}
	a0, a1, err := e.manager.Burn(pos, res.Liquidity)
	require.NoError(t, err)
	assert.Equal(t, "999999999999999999", a0.Dec(), "burns round down")
	assert.Equal(t, "999999999999999999", a1.Dec())

	c0, c1, err := e.manager.Collect(pos, bob, fullmath.MaxUint128, fullmath.MaxUint128)
	require.NoError(t, err)
	assert.Equal(t, a0, c0)
	assert.Equal(t, a1, c1)
	assert.Equal(t, new(uint256.Int).Add(fund, c0), e.balance(addrA, bob))

	_, _, err = e.manager.Burn(PositionParams{TokenA: addrA, TokenB: addrC, Fee: 3000}, e18)
	assert.ErrorIs(t, err, clamm.ErrPoolNotFound)
}

func TestSwapSingle(t *testing.T) {
	e := newEnv(t)
	_, err := e.manager.Mint(mintParams(addrA, addrB))
	require.NoError(t, err)

	t.Run("exact input", func(t *testing.T) {
		out, err := e.manager.SwapSingle(SwapSingleParams{
			TokenIn: addrA, TokenOut: addrB, Fee: 3000,
			AmountIn: e15, AmountOutMinimum: uint256.NewInt(996_970_624_906_727),
			Payer: bob, Recipient: bob,
		})
		require.NoError(t, err)
		assert.Equal(t, e15, out.AmountIn)
		assert.Equal(t, "996970624906727", out.AmountOut.Dec())
		assert.Equal(t, new(uint256.Int).Sub(fund, e15), e.balance(addrA, bob))
		assert.Equal(t, new(uint256.Int).Add(fund, out.AmountOut), e.balance(addrB, bob))
	})

	t.Run("minimum output not met", func(t *testing.T) {
		before := e.balance(addrB, bob)
		_, err := e.manager.SwapSingle(SwapSingleParams{
			TokenIn: addrB, TokenOut: addrA, Fee: 3000,
			AmountIn: e15, AmountOutMinimum: e15,
			Payer: bob, Recipient: bob,
		})
		assert.ErrorIs(t, err, clamm.ErrSlippageExceeded)
		assert.Equal(t, before, e.balance(addrB, bob))
	})

	t.Run("price limit fills partially", func(t *testing.T) {
		p, _ := e.registry.Get(addrA, addrB, 3000)
		limit, err := tickmath.GetSqrtRatioAtTick(-60)
		require.NoError(t, err)
		out, err := e.manager.SwapSingle(SwapSingleParams{
			TokenIn: addrA, TokenOut: addrB, Fee: 3000,
			AmountIn: e18, SqrtPriceLimitX96: limit,
			Payer: bob, Recipient: bob,
		})
		require.NoError(t, err)
		assert.True(t, out.AmountIn.Lt(e18))
		assert.Equal(t, limit, p.Slot0().SqrtPriceX96)
	})

	t.Run("zero amount", func(t *testing.T) {
		_, err := e.manager.SwapSingle(SwapSingleParams{TokenIn: addrA, TokenOut: addrB, Fee: 3000, AmountIn: new(uint256.Int), Payer: bob, Recipient: bob})
		assert.ErrorIs(t, err, clamm.ErrInvalidAmount)
	})
}

func TestSwapSingleExactOutput(t *testing.T) {
	e := newEnv(t)
	_, err := e.manager.Mint(mintParams(addrA, addrB))
	require.NoError(t, err)

	_, err = e.manager.SwapSingleExactOutput(SwapSingleExactOutputParams{
		TokenIn: addrA, TokenOut: addrB, Fee: 3000,
		AmountOut: e15, AmountInMaximum: e15,
		Payer: bob, Recipient: bob,
	})
	assert.ErrorIs(t, err, clamm.ErrSlippageExceeded)

	out, err := e.manager.SwapSingleExactOutput(SwapSingleExactOutputParams{
		TokenIn: addrA, TokenOut: addrB, Fee: 3000,
		AmountOut: e15, AmountInMaximum: uint256.NewInt(1_003_038_669_893_968),
		Payer: bob, Recipient: bob,
	})
	require.NoError(t, err)
	assert.Equal(t, "1003038669893968", out.AmountIn.Dec())
	assert.Equal(t, e15, out.AmountOut)
}

func TestSwapExactInput(t *testing.T) {
	e := newEnv(t)
	_, err := e.manager.Mint(mintParams(addrA, addrB))
	require.NoError(t, err)
	_, err = e.manager.Mint(mintParams(addrB, addrC))
	require.NoError(t, err)

	path, err := clamm.NewPath([]common.Address{addrA, addrB, addrC}, []uint32{3000, 3000})
	require.NoError(t, err)

	out, err := e.manager.SwapExactInput(SwapParams{Path: path, AmountIn: e15, AmountOutMinimum: uint256.NewInt(1), Payer: bob, Recipient: bob})
	require.NoError(t, err)
	assert.Equal(t, "993950515642900", out.AmountOut.Dec())
	assert.Equal(t, new(uint256.Int).Add(fund, out.AmountOut), e.balance(addrC, bob))
	assert.Equal(t, fund, e.balance(addrB, bob), "the intermediate token never reaches the payer")
	assert.True(t, e.balance(addrB, managerAddr).IsZero(), "the manager keeps nothing")

	ab, _ := e.registry.Get(addrA, addrB, 3000)
	assert.Equal(t, "300000000000", ab.OwnerFees().Amount0.Dec(), "owner takes 10% of the 0.3% fee")
}

func TestSwapExactInputFailures(t *testing.T) {
	e := newEnv(t)
	_, err := e.manager.Mint(mintParams(addrA, addrB))
	require.NoError(t, err)
	_, err = e.manager.Mint(mintParams(addrB, addrC))
	require.NoError(t, err)

	t.Run("invalid path", func(t *testing.T) {
		_, err := e.manager.SwapExactInput(SwapParams{Path: clamm.Path{Tokens: []common.Address{addrA}}, AmountIn: e15, Payer: bob, Recipient: bob})
		assert.ErrorIs(t, err, clamm.ErrInvalidPath)
	})

	t.Run("final minimum refunds the intermediate token", func(t *testing.T) {
		path, _ := clamm.NewPath([]common.Address{addrA, addrB, addrC}, []uint32{3000, 3000})
		_, err := e.manager.SwapExactInput(SwapParams{Path: path, AmountIn: e15, AmountOutMinimum: e15, Payer: bob, Recipient: bob})
		assert.ErrorIs(t, err, clamm.ErrSlippageExceeded)

		assert.Equal(t, new(uint256.Int).Sub(fund, e15), e.balance(addrA, bob), "the first hop completed")
		assert.Equal(t, new(uint256.Int).AddUint64(fund, 996_970_624_906_727), e.balance(addrB, bob), "its output is refunded")
		assert.Equal(t, fund, e.balance(addrC, bob))
		assert.True(t, e.balance(addrB, managerAddr).IsZero())
	})

	t.Run("missing pool on the second hop", func(t *testing.T) {
		path, _ := clamm.NewPath([]common.Address{addrA, addrB, addrC}, []uint32{3000, 500})
		_, err := e.manager.SwapExactInput(SwapParams{Path: path, AmountIn: e15, Payer: bob, Recipient: bob})
		assert.ErrorIs(t, err, clamm.ErrPoolNotFound)
		assert.True(t, e.balance(addrB, managerAddr).IsZero())
	})
}

func TestCollectOwnerFee(t *testing.T) {
	e := newEnv(t)
	_, err := e.manager.Mint(mintParams(addrA, addrB))
	require.NoError(t, err)
	_, err = e.manager.SwapSingle(SwapSingleParams{TokenIn: addrA, TokenOut: addrB, Fee: 3000, AmountIn: e15, Payer: bob, Recipient: bob})
	require.NoError(t, err)

	_, _, err = e.manager.CollectOwnerFee(bob, addrA, addrB, 3000, bob, e18, e18)
	assert.ErrorIs(t, err, clamm.ErrNotOwner)

	a0, a1, err := e.manager.CollectOwnerFee(poolOwner, addrA, addrB, 3000, poolOwner, e18, e18)
	require.NoError(t, err)
	assert.Equal(t, "300000000000", a0.Dec())
	assert.True(t, a1.IsZero())
	assert.Equal(t, a0, e.balance(addrA, poolOwner))
}

func TestDonate(t *testing.T) {
	e := newEnv(t)
	err := e.manager.Donate(addrB, addrC, 3000, bob, e15, nil)
	assert.ErrorIs(t, err, clamm.ErrZeroLiquidity)
	assert.Equal(t, fund, e.balance(addrB, bob))

	_, err = e.manager.Mint(mintParams(addrA, addrB))
	require.NoError(t, err)
	require.NoError(t, e.manager.Donate(addrA, addrB, 3000, bob, e15, nil))
	assert.Equal(t, new(uint256.Int).Sub(fund, e15), e.balance(addrA, bob))

	p, err := e.registry.Get(addrA, addrB, 3000)
	require.NoError(t, err)
	fees, err := p.PendingFees(alice, -600, 600)
	require.NoError(t, err)
	// rounding down in the growth accumulator loses at most one unit
	assert.True(t, new(uint256.Int).Sub(e15, fees.Amount0).Cmp(uint256.NewInt(1)) <= 0, fees.Amount0.Dec())
	assert.True(t, fees.Amount1.IsZero())
}
