package registry

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/pool"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = common.HexToAddress("0xa000000000000000000000000000000000000000")
	addrB = common.HexToAddress("0xb000000000000000000000000000000000000000")
	addrC = common.HexToAddress("0xc000000000000000000000000000000000000000")
	addrD = common.HexToAddress("0xd000000000000000000000000000000000000000")
	owner = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(&Config{
		Owner:   owner,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: pool.NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return r
}

func tokens() (a, b, c, d *token.Ledger) {
	return token.NewLedger(addrA, "A"), token.NewLedger(addrB, "B"), token.NewLedger(addrC, "C"), token.NewLedger(addrD, "D")
}

func TestPoolAddress(t *testing.T) {
	k1 := clamm.NewPoolKey(addrA, addrB, 3000)
	k2 := clamm.NewPoolKey(addrB, addrA, 3000)
	k3 := clamm.NewPoolKey(addrA, addrB, 500)

	assert.Equal(t, PoolAddress(k1), PoolAddress(k2), "derivation uses the canonical order")
	assert.NotEqual(t, PoolAddress(k1), PoolAddress(k3))
	assert.NotEqual(t, common.Address{}, PoolAddress(k1))
}

func TestCreatePool(t *testing.T) {
	r := newTestRegistry(t)
	a, b, _, _ := tokens()

	p, err := r.CreatePool(b, a, 3000, fullmath.Q96, PoolOptions{OwnerFeeShare: 100_000})
	require.NoError(t, err)

	key := p.Key()
	assert.Equal(t, addrA, key.Token0, "lower address becomes token0")
	assert.Equal(t, addrB, key.Token1)
	assert.Equal(t, int32(60), p.TickSpacing())
	assert.Equal(t, owner, p.Owner())
	assert.Equal(t, PoolAddress(key), p.Address())
	assert.Equal(t, int32(0), p.Slot0().Tick)
	assert.Equal(t, uint32(100_000), p.Slot0().OwnerFeeShare)

	got, err := r.Get(addrB, addrA, 3000)
	require.NoError(t, err)
	assert.Same(t, p, got)
	got, err = r.GetByAddress(p.Address())
	require.NoError(t, err)
	assert.Same(t, p, got)
}

func TestCreatePoolErrors(t *testing.T) {
	r := newTestRegistry(t)
	a, b, _, _ := tokens()
	zero := token.NewLedger(common.Address{}, "Z")

	_, err := r.CreatePool(a, b, 3000, fullmath.Q96, PoolOptions{})
	require.NoError(t, err)

	testCases := []struct {
		name   string
		tokenA token.Token
		tokenB token.Token
		fee    uint32
		err    error
	}{
		{"zero address", zero, b, 3000, clamm.ErrZeroAddress},
		{"identical tokens", a, a, 3000, clamm.ErrTokensMustBeDifferent},
		{"fee tier not enabled", a, b, 2500, clamm.ErrUnsupportedFee},
		{"duplicate pool", b, a, 3000, clamm.ErrPoolAlreadyExists},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.CreatePool(tc.tokenA, tc.tokenB, tc.fee, fullmath.Q96, PoolOptions{})
			assert.ErrorIs(t, err, tc.err)
		})
	}

	t.Run("invalid owner fee", func(t *testing.T) {
		_, err := r.CreatePool(a, b, 500, fullmath.Q96, PoolOptions{OwnerFeeShare: 1_000_001})
		assert.ErrorIs(t, err, clamm.ErrInvalidOwnerFee)
		_, err = r.Get(a.Address(), b.Address(), 500)
		assert.ErrorIs(t, err, clamm.ErrPoolNotFound, "a rejected pool is not registered")
	})

	t.Run("unknown lookups", func(t *testing.T) {
		_, err := r.Get(addrC, addrD, 3000)
		assert.ErrorIs(t, err, clamm.ErrPoolNotFound)
		_, err = r.GetByAddress(addrC)
		assert.ErrorIs(t, err, clamm.ErrPoolNotFound)
	})
}

func TestFeeTiers(t *testing.T) {
	r := newTestRegistry(t)
	for fee, spacing := range map[uint32]int32{100: 1, 500: 10, 1000: 20, 3000: 60, 10000: 200} {
		got, ok := r.TickSpacing(fee)
		assert.True(t, ok)
		assert.Equal(t, spacing, got)
	}

	require.NoError(t, r.EnableFeeTier(2500, 50))
	a, b, _, _ := tokens()
	p, err := r.CreatePool(a, b, 2500, fullmath.Q96, PoolOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(50), p.TickSpacing())

	assert.ErrorIs(t, r.EnableFeeTier(2500, 10), clamm.ErrUnsupportedFee)
	assert.ErrorIs(t, r.EnableFeeTier(1_000_000, 10), clamm.ErrUnsupportedFee)
	assert.ErrorIs(t, r.EnableFeeTier(7000, 0), tickmath.ErrInvalidTickSpacing)
	assert.ErrorIs(t, r.EnableFeeTier(7000, 16384), tickmath.ErrInvalidTickSpacing)
}

func TestPoolsForTokenAndGraph(t *testing.T) {
	r := newTestRegistry(t)
	a, b, c, d := tokens()

	ab, err := r.CreatePool(a, b, 3000, fullmath.Q96, PoolOptions{})
	require.NoError(t, err)
	ab5, err := r.CreatePool(a, b, 500, fullmath.Q96, PoolOptions{})
	require.NoError(t, err)
	bc, err := r.CreatePool(b, c, 3000, fullmath.Q96, PoolOptions{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []*pool.Pool{ab, ab5}, r.PoolsForToken(addrA))
	assert.ElementsMatch(t, []*pool.Pool{ab, ab5, bc}, r.PoolsForToken(addrB))
	assert.Empty(t, r.PoolsForToken(d.Address()))
	assert.Equal(t, []*pool.Pool{ab, ab5, bc}, r.All())
	assert.Len(t, r.Views(), 3)

	g := r.Graph()
	require.Len(t, g.Tokens, 3)
	ia, ib := g.TokenIndex(addrA), g.TokenIndex(addrB)
	require.GreaterOrEqual(t, ia, 0)
	assert.Equal(t, -1, g.TokenIndex(addrD))

	require.Len(t, g.Adjacency[ia], 1, "both A/B pools share one edge")
	edge := g.Adjacency[ia][0]
	assert.Equal(t, ib, g.EdgeTargets[edge])
	assert.Len(t, g.EdgePools[edge], 2)
	assert.Len(t, g.Adjacency[ib], 2)
}

func TestConcurrentCreate(t *testing.T) {
	r := newTestRegistry(t)
	a, b, _, _ := tokens()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.CreatePool(a, b, 3000, fullmath.Q96, PoolOptions{})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, clamm.ErrPoolAlreadyExists)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}
