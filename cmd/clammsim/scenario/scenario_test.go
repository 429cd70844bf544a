package scenario

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA   = common.HexToAddress("0xa000000000000000000000000000000000000000")
	tokenB   = common.HexToAddress("0xb000000000000000000000000000000000000000")
	tokenC   = common.HexToAddress("0xc000000000000000000000000000000000000000")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	feeTaker = common.HexToAddress("0x00000000000000000000000000000000000000fe")

	fund = uint256.MustFromDecimal("1000000000000000000000")
	e18  = uint256.NewInt(1_000_000_000_000_000_000)
	e15  = uint256.NewInt(1_000_000_000_000_000)
)

type eventLog struct{ events []clamm.Event }

func (l *eventLog) Publish(e clamm.Event) error {
	l.events = append(l.events, e)
	return nil
}

func build(t *testing.T, events clamm.EventSink) (*Scenario, *Env) {
	t.Helper()
	s, err := Load("testdata/basic.yaml")
	require.NoError(t, err)
	env, err := Build(s, Deps{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: prometheus.NewRegistry(),
		Events:     events,
	})
	require.NoError(t, err)
	return s, env
}

func balance(t *testing.T, env *Env, tok, account common.Address) *uint256.Int {
	t.Helper()
	b, err := env.Balance(tok, account)
	require.NoError(t, err)
	return b
}

func TestLoad(t *testing.T) {
	s, err := Load("testdata/basic.yaml")
	require.NoError(t, err)
	assert.Len(t, s.Tokens, 3)
	assert.Equal(t, uint64(1), s.Tokens[2].FeePerMille)
	assert.Len(t, s.Pools, 2)
	assert.Equal(t, uint32(100000), s.Pools[0].OwnerFeeShare)
	require.Len(t, s.Actions, 9)
	assert.Equal(t, int32(-600), s.Actions[0].TickLower)
	assert.Equal(t, "slippage exceeded", s.Actions[2].ExpectError)

	_, err = Load("testdata/missing.yaml")
	assert.ErrorContains(t, err, "read scenario")
}

func TestRunBasic(t *testing.T) {
	events := &eventLog{}
	s, env := build(t, events)

	var seen []string
	results, err := env.Run(context.Background(), s.Actions, func(r Result) { seen = append(seen, r.Op) })
	require.NoError(t, err)
	require.Len(t, results, len(s.Actions))
	assert.Len(t, seen, len(s.Actions))

	mint := results[0]
	assert.Equal(t, "33837499809738371427", mint.Liquidity.Dec())
	assert.Equal(t, e18, mint.Amount0)
	assert.Equal(t, e18, mint.Amount1)

	swap := results[1]
	assert.Equal(t, e15, swap.Amount0)
	assert.Equal(t, "996970624906727", swap.Amount1.Dec())
	assert.Equal(t, swap.Amount1, balance(t, env, tokenB, bob))

	assert.ErrorIs(t, results[2].Err, clamm.ErrSlippageExceeded)
	assert.Equal(t, new(uint256.Int).Sub(fund, e15), balance(t, env, tokenA, bob), "the rejected swap moved nothing")

	quote := results[3]
	require.NoError(t, quote.Err)
	assert.Equal(t, e15, quote.Amount0)
	assert.True(t, quote.Amount1.Lt(swap.Amount1), "the first swap moved the price")

	assert.Equal(t, "300000000000", results[4].Amount0.Dec())
	assert.Equal(t, results[4].Amount0, balance(t, env, tokenA, owner))

	burn, collect := results[5], results[6]
	assert.True(t, collect.Amount0.Gt(burn.Amount0), "collect includes the swap fees")
	assert.Equal(t, collect.Amount1, burn.Amount1, "no fees were earned in token1")
	wantB := new(uint256.Int).Sub(fund, e18)
	wantB.Add(wantB, collect.Amount1)
	assert.Equal(t, wantB, balance(t, env, tokenB, alice))

	assert.ErrorIs(t, results[7].Err, clamm.ErrInsufficientInputAmount)
	assert.Equal(t, e15, results[8].Amount0)
	assert.Equal(t, e15, balance(t, env, tokenC, feeTaker))

	var kinds []clamm.EventKind
	for _, e := range events.events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []clamm.EventKind{
		clamm.EventInitialize, clamm.EventInitialize,
		clamm.EventMint, clamm.EventSwap, clamm.EventCollectOwnerFee, clamm.EventBurn, clamm.EventCollect,
	}, kinds)
}

func TestRunStopsOnUnexpectedError(t *testing.T) {
	_, env := build(t, nil)
	actions := []Action{
		{Op: "swap", Account: bob.Hex(), TokenIn: tokenA.Hex(), TokenOut: tokenB.Hex(), Fee: 3000, Amount: "1000"},
		{Op: "harvest", Token: tokenC.Hex()},
	}
	results, err := env.Run(context.Background(), actions, nil)
	assert.ErrorIs(t, err, clamm.ErrInsufficientLiquidity)
	assert.ErrorContains(t, err, "step 0 (swap)")
	assert.Len(t, results, 1)
}

func TestRunExpectations(t *testing.T) {
	_, env := build(t, nil)
	tests := []struct {
		name    string
		action  Action
		wantErr string
	}{
		{"unknown op", Action{Op: "teleport", ExpectError: "unknown op"}, ""},
		{"bad amount", Action{Op: "swap", TokenIn: tokenA.Hex(), TokenOut: tokenB.Hex(), Fee: 3000, Amount: "lots"}, "invalid amount"},
		{"bad address", Action{Op: "donate", TokenA: "nope"}, "invalid address"},
		{"error expected but none", Action{Op: "harvest", Token: tokenC.Hex(), ExpectError: "boom"}, "got success"},
		{"wrong error", Action{Op: "harvest", Token: tokenA.Hex(), ExpectError: "boom"}, "does not charge transfer fees"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Run(context.Background(), []Action{tt.action}, nil)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRunCanceled(t *testing.T) {
	s, env := build(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := env.Run(ctx, s.Actions, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestBuildErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name     string
		scenario Scenario
		wantErr  string
	}{
		{"bad owner", Scenario{Owner: "x"}, "owner"},
		{"duplicate token", Scenario{Tokens: []TokenSpec{{Address: tokenA.Hex()}, {Address: tokenA.Hex()}}}, "duplicate address"},
		{"unknown balance token", Scenario{Balances: []BalanceSpec{{Account: alice.Hex(), Token: tokenA.Hex(), Amount: "1"}}}, "unknown token"},
		{"bad pool price", Scenario{
			Tokens: []TokenSpec{{Address: tokenA.Hex()}, {Address: tokenB.Hex()}},
			Pools:  []PoolSpec{{TokenA: tokenA.Hex(), TokenB: tokenB.Hex(), Fee: 3000}},
		}, "sqrtPriceX96"},
		{"unsupported fee", Scenario{
			Tokens: []TokenSpec{{Address: tokenA.Hex()}, {Address: tokenB.Hex()}},
			Pools:  []PoolSpec{{TokenA: tokenA.Hex(), TokenB: tokenB.Hex(), Fee: 1234, SqrtPriceX96: "79228162514264337593543950336"}},
		}, clamm.ErrUnsupportedFee.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(&tt.scenario, Deps{Logger: logger})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
