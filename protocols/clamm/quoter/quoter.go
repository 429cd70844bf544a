// Package quoter prices swaps against live pools without moving any tokens.
package quoter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/defistate/defistate-clamm-go/bitset"
	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/pool"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/registry"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCacheSize   = 1024
	defaultConcurrency = 8
	// DefaultMaxHops bounds route search when the caller passes zero.
	DefaultMaxHops = 3
)

// PoolSource resolves pools and exposes the token graph; *registry.Registry implements it.
type PoolSource interface {
	Get(tokenA, tokenB common.Address, fee uint32) (*pool.Pool, error)
	GetByAddress(address common.Address) (*pool.Pool, error)
	Graph() *registry.GraphView
}

type Config struct {
	Pools PoolSource
	// CacheSize is the number of path quotes kept. Defaults to 1024.
	CacheSize int
	// Concurrency bounds the routes quoted in parallel. Defaults to 8.
	Concurrency int
	Registerer  prometheus.Registerer
	Logger      clamm.Logger
}

func (c *Config) validate() error {
	if c.Pools == nil {
		return errors.New("config: Pools cannot be nil")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Quote is the outcome of a swap through one pool.
type Quote struct {
	AmountIn          *uint256.Int
	AmountOut         *uint256.Int
	FeeAmount         *uint256.Int
	SqrtPriceX96After *uint256.Int
	TickAfter         int32
	TicksCrossed      int
}

// PathQuote is the outcome of an exact-input swap along a path.
type PathQuote struct {
	Path               clamm.Path
	AmountIn           *uint256.Int
	AmountOut          *uint256.Int
	SqrtPricesX96After []*uint256.Int
	TicksCrossed       []int
}

func (q *PathQuote) clone() *PathQuote {
	out := &PathQuote{
		Path:               q.Path,
		AmountIn:           q.AmountIn.Clone(),
		AmountOut:          q.AmountOut.Clone(),
		SqrtPricesX96After: make([]*uint256.Int, len(q.SqrtPricesX96After)),
		TicksCrossed:       make([]int, len(q.TicksCrossed)),
	}
	for i, p := range q.SqrtPricesX96After {
		out.SqrtPricesX96After[i] = p.Clone()
	}
	copy(out.TicksCrossed, q.TicksCrossed)
	return out
}

// Quoter is safe for concurrent use.
type Quoter struct {
	pools       PoolSource
	concurrency int
	logger      clamm.Logger

	cache       *lru.Cache[string, *PathQuote]
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

func NewQuoter(cfg *Config) (*Quoter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	cache, err := lru.New[string, *PathQuote](size)
	if err != nil {
		return nil, err
	}

	q := &Quoter{
		pools:       cfg.Pools,
		concurrency: concurrency,
		logger:      cfg.Logger,
		cache:       cache,
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clamm",
			Subsystem: "quoter",
			Name:      "cache_hits_total",
			Help:      "Path quotes served from the cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clamm",
			Subsystem: "quoter",
			Name:      "cache_misses_total",
			Help:      "Path quotes computed against the pools.",
		}),
	}
	cfg.Registerer.MustRegister(q.cacheHits, q.cacheMisses)
	return q, nil
}

func quoteFrom(result *calculator.SwapResult) *Quote {
	return &Quote{
		AmountIn:          result.AmountIn,
		AmountOut:         result.AmountOut,
		FeeAmount:         result.FeeAmount,
		SqrtPriceX96After: result.SqrtPriceX96,
		TickAfter:         result.Tick,
		TicksCrossed:      result.TicksCrossed(),
	}
}

// QuoteSingle prices selling amountIn of tokenIn in one pool. A non-nil limit stops the
// swap at that price, in which case the quote may use less than amountIn.
func (q *Quoter) QuoteSingle(tokenIn, tokenOut common.Address, fee uint32, amountIn, sqrtPriceLimitX96 *uint256.Int) (*Quote, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", clamm.ErrInvalidAmount)
	}
	p, err := q.pools.Get(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	result, err := p.QuoteSwap(calculator.SwapParams{
		ZeroForOne:        tokenIn.Cmp(tokenOut) < 0,
		AmountSpecified:   amountIn.ToBig(),
		SqrtPriceLimitX96: sqrtPriceLimitX96,
		AllowPartialFill:  sqrtPriceLimitX96 != nil,
	})
	if err != nil {
		return nil, err
	}
	return quoteFrom(result), nil
}

// QuoteSingleExactOutput prices buying exactly amountOut of tokenOut in one pool.
func (q *Quoter) QuoteSingleExactOutput(tokenIn, tokenOut common.Address, fee uint32, amountOut *uint256.Int) (*Quote, error) {
	if amountOut == nil || amountOut.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", clamm.ErrInvalidAmount)
	}
	p, err := q.pools.Get(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	result, err := p.QuoteSwap(calculator.SwapParams{
		ZeroForOne:      tokenIn.Cmp(tokenOut) < 0,
		AmountSpecified: new(big.Int).Neg(amountOut.ToBig()),
	})
	if err != nil {
		return nil, err
	}
	return quoteFrom(result), nil
}

// QuotePath prices selling amountIn along path. Results are cached until one of the
// path's pools changes.
func (q *Quoter) QuotePath(path clamm.Path, amountIn *uint256.Int) (*PathQuote, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", clamm.ErrInvalidAmount)
	}

	pools := make([]*pool.Pool, path.Hops())
	var key strings.Builder
	key.WriteString(common.Bytes2Hex(path.Encode()))
	key.WriteByte('/')
	key.WriteString(amountIn.Dec())
	for i := range pools {
		tokenIn, tokenOut, fee := path.Hop(i)
		p, err := q.pools.Get(tokenIn, tokenOut, fee)
		if err != nil {
			return nil, err
		}
		pools[i] = p
		key.WriteByte('/')
		key.WriteString(strconv.FormatUint(p.Sequence(), 10))
	}

	if cached, ok := q.cache.Get(key.String()); ok {
		q.cacheHits.Inc()
		return cached.clone(), nil
	}
	q.cacheMisses.Inc()

	out := &PathQuote{
		Path:               path,
		AmountIn:           amountIn.Clone(),
		SqrtPricesX96After: make([]*uint256.Int, 0, len(pools)),
		TicksCrossed:       make([]int, 0, len(pools)),
	}
	amount := amountIn.Clone()
	for i, p := range pools {
		tokenIn, tokenOut, _ := path.Hop(i)
		result, err := p.QuoteSwap(calculator.SwapParams{
			ZeroForOne:      tokenIn.Cmp(tokenOut) < 0,
			AmountSpecified: amount.ToBig(),
		})
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		amount = result.AmountOut
		out.SqrtPricesX96After = append(out.SqrtPricesX96After, result.SqrtPriceX96)
		out.TicksCrossed = append(out.TicksCrossed, result.TicksCrossed())
	}
	out.AmountOut = amount

	q.cache.Add(key.String(), out.clone())
	return out, nil
}

// Routes enumerates every simple path from tokenIn to tokenOut of at most maxHops
// pools. Parallel pools between the same two tokens yield one path each.
func (q *Quoter) Routes(tokenIn, tokenOut common.Address, maxHops int) ([]clamm.Path, error) {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	g := q.pools.Graph()
	from, to := g.TokenIndex(tokenIn), g.TokenIndex(tokenOut)
	if from < 0 || to < 0 || from == to {
		return nil, fmt.Errorf("%w: no route from %s to %s", clamm.ErrInvalidPath, tokenIn.Hex(), tokenOut.Hex())
	}

	fees := make([]uint32, len(g.Pools))
	for i, addr := range g.Pools {
		p, err := q.pools.GetByAddress(addr)
		if err != nil {
			return nil, err
		}
		fees[i] = p.Key().Fee
	}

	var (
		routes  []clamm.Path
		visited = bitset.NewBitSet(len(g.Tokens))
		tokens  = []int{from}
		poolIdx []int
	)
	var walk func(at int)
	walk = func(at int) {
		if at == to {
			path := clamm.Path{Tokens: make([]common.Address, len(tokens)), Fees: make([]uint32, len(poolIdx))}
			for i, t := range tokens {
				path.Tokens[i] = g.Tokens[t]
			}
			for i, p := range poolIdx {
				path.Fees[i] = fees[p]
			}
			routes = append(routes, path)
			return
		}
		if len(poolIdx) == maxHops {
			return
		}
		visited.Set(at)
		for _, edge := range g.Adjacency[at] {
			next := g.EdgeTargets[edge]
			if visited.IsSet(next) {
				continue
			}
			for _, p := range g.EdgePools[edge] {
				tokens = append(tokens, next)
				poolIdx = append(poolIdx, p)
				walk(next)
				tokens = tokens[:len(tokens)-1]
				poolIdx = poolIdx[:len(poolIdx)-1]
			}
		}
		visited.Unset(at)
	}
	walk(from)

	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: no route from %s to %s within %d hops", clamm.ErrInvalidPath, tokenIn.Hex(), tokenOut.Hex(), maxHops)
	}
	return routes, nil
}

// QuoteBestExactInput quotes every route from tokenIn to tokenOut concurrently and
// returns the one with the largest output. Routes that cannot absorb amountIn are
// skipped.
func (q *Quoter) QuoteBestExactInput(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *uint256.Int, maxHops int) (*PathQuote, error) {
	routes, err := q.Routes(tokenIn, tokenOut, maxHops)
	if err != nil {
		return nil, err
	}

	quotes := make([]*PathQuote, len(routes))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)
	for i, route := range routes {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			quote, err := q.QuotePath(route, amountIn)
			if err != nil {
				if errors.Is(err, clamm.ErrInvalidAmount) {
					return err
				}
				q.logger.Debug("route skipped", "path", route.String(), "error", err)
				return nil
			}
			quotes[i] = quote
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var best *PathQuote
	for _, quote := range quotes {
		if quote == nil {
			continue
		}
		if best == nil || quote.AmountOut.Gt(best.AmountOut) ||
			(quote.AmountOut.Eq(best.AmountOut) && quote.Path.Hops() < best.Path.Hops()) {
			best = quote
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no route can absorb %s", clamm.ErrInsufficientLiquidity, amountIn.Dec())
	}
	return best, nil
}

// QuoteView prices selling amountIn of tokenIn against a detached pool view, for
// example one loaded from a snapshot.
func QuoteView(view clamm.PoolView, tokenIn common.Address, amountIn *uint256.Int) (*uint256.Int, clamm.PoolView, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, clamm.PoolView{}, fmt.Errorf("%w: amount must be positive", clamm.ErrInvalidAmount)
	}
	out, after, err := calculator.SimulateExactInSwap(amountIn.ToBig(), nil, tokenIn, view)
	if err != nil {
		return nil, clamm.PoolView{}, err
	}
	return uint256.MustFromBig(out), after, nil
}
