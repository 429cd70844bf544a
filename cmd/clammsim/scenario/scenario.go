// Package scenario builds a pool system from a YAML description and replays a list of
// actions against it.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/manager"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/pool"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/quoter"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/registry"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
)

// Scenario is the file format. Amounts are decimal strings so that 256-bit values
// survive YAML.
type Scenario struct {
	Owner    string        `mapstructure:"owner"`
	Manager  string        `mapstructure:"manager"`
	Tokens   []TokenSpec   `mapstructure:"tokens"`
	Balances []BalanceSpec `mapstructure:"balances"`
	Pools    []PoolSpec    `mapstructure:"pools"`
	Actions  []Action      `mapstructure:"actions"`
}

type TokenSpec struct {
	Address string `mapstructure:"address"`
	Symbol  string `mapstructure:"symbol"`
	// FeePerMille > 0 makes a fee-on-transfer token owned by the scenario owner.
	FeePerMille uint64 `mapstructure:"feePerMille"`
	FeeAddress  string `mapstructure:"feeAddress"`
}

type BalanceSpec struct {
	Account string `mapstructure:"account"`
	Token   string `mapstructure:"token"`
	Amount  string `mapstructure:"amount"`
}

type PoolSpec struct {
	TokenA        string `mapstructure:"tokenA"`
	TokenB        string `mapstructure:"tokenB"`
	Fee           uint32 `mapstructure:"fee"`
	SqrtPriceX96  string `mapstructure:"sqrtPriceX96"`
	OwnerFeeShare uint32 `mapstructure:"ownerFeeShare"`
}

// Action is one step. Which fields are read depends on Op.
type Action struct {
	Op        string   `mapstructure:"op"`
	Account   string   `mapstructure:"account"`
	Recipient string   `mapstructure:"recipient"`
	TokenA    string   `mapstructure:"tokenA"`
	TokenB    string   `mapstructure:"tokenB"`
	TokenIn   string   `mapstructure:"tokenIn"`
	TokenOut  string   `mapstructure:"tokenOut"`
	Token     string   `mapstructure:"token"`
	Fee       uint32   `mapstructure:"fee"`
	TickLower int32    `mapstructure:"tickLower"`
	TickUpper int32    `mapstructure:"tickUpper"`
	Amount    string   `mapstructure:"amount"`
	Amount0   string   `mapstructure:"amount0"`
	Amount1   string   `mapstructure:"amount1"`
	Min0      string   `mapstructure:"min0"`
	Min1      string   `mapstructure:"min1"`
	MinOut    string   `mapstructure:"minOut"`
	MaxIn     string   `mapstructure:"maxIn"`
	Limit     string   `mapstructure:"sqrtPriceLimitX96"`
	Liquidity string   `mapstructure:"liquidity"`
	Path      []string `mapstructure:"path"`
	Fees      []uint32 `mapstructure:"fees"`
	// ExpectError makes the step pass only if it fails with an error containing this text.
	ExpectError string `mapstructure:"expectError"`
}

// Load reads a scenario file. Any format viper understands works; YAML is the usual one.
func Load(path string) (*Scenario, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &s, nil
}

type mintable interface {
	token.Token
	Mint(to common.Address, amount *uint256.Int)
}

// Deps are the outside collaborators of a built scenario.
type Deps struct {
	Logger     clamm.Logger
	Registerer prometheus.Registerer
	Events     clamm.EventSink
	CacheSize  int
}

// Env is a built scenario ready to run.
type Env struct {
	Registry *registry.Registry
	Manager  *manager.Manager
	Quoter   *quoter.Quoter

	owner  common.Address
	tokens map[common.Address]mintable
	logger clamm.Logger
}

func Build(s *Scenario, deps Deps) (*Env, error) {
	if deps.Logger == nil {
		return nil, errors.New("deps: Logger cannot be nil")
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}

	owner, err := optionalAddress(s.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	managerAddr := common.HexToAddress("0x00000000000000000000000000000000000c1a44")
	if s.Manager != "" {
		if managerAddr, err = parseAddress(s.Manager); err != nil {
			return nil, fmt.Errorf("manager: %w", err)
		}
	}

	env := &Env{owner: owner, tokens: make(map[common.Address]mintable), logger: deps.Logger}
	for i, ts := range s.Tokens {
		t, err := newToken(ts, owner)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		if _, dup := env.tokens[t.Address()]; dup {
			return nil, fmt.Errorf("token %d: duplicate address %s", i, t.Address().Hex())
		}
		env.tokens[t.Address()] = t
	}

	for i, b := range s.Balances {
		t, err := env.token(b.Token)
		if err != nil {
			return nil, fmt.Errorf("balance %d: %w", i, err)
		}
		account, err := parseAddress(b.Account)
		if err != nil {
			return nil, fmt.Errorf("balance %d: %w", i, err)
		}
		amount, err := parseAmount(b.Amount)
		if err != nil || amount == nil {
			return nil, fmt.Errorf("balance %d: amount %q: %w", i, b.Amount, clamm.ErrInvalidAmount)
		}
		t.Mint(account, amount)
	}

	env.Registry, err = registry.NewRegistry(&registry.Config{
		Owner:   owner,
		Logger:  deps.Logger,
		Metrics: pool.NewMetrics(deps.Registerer),
		Events:  deps.Events,
	})
	if err != nil {
		return nil, err
	}
	for i, ps := range s.Pools {
		if err := env.createPool(ps); err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
	}

	env.Manager, err = manager.NewManager(&manager.Config{Pools: env.Registry, Address: managerAddr, Logger: deps.Logger})
	if err != nil {
		return nil, err
	}
	env.Quoter, err = quoter.NewQuoter(&quoter.Config{
		Pools:      env.Registry,
		CacheSize:  deps.CacheSize,
		Registerer: deps.Registerer,
		Logger:     deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func newToken(ts TokenSpec, owner common.Address) (mintable, error) {
	addr, err := parseAddress(ts.Address)
	if err != nil {
		return nil, err
	}
	if ts.FeePerMille == 0 {
		return token.NewLedger(addr, ts.Symbol), nil
	}
	feeAddr := owner
	if ts.FeeAddress != "" {
		if feeAddr, err = parseAddress(ts.FeeAddress); err != nil {
			return nil, err
		}
	}
	return token.NewFeeOnTransfer(addr, ts.Symbol, owner, feeAddr, ts.FeePerMille)
}

func (e *Env) createPool(ps PoolSpec) error {
	tokenA, err := e.token(ps.TokenA)
	if err != nil {
		return err
	}
	tokenB, err := e.token(ps.TokenB)
	if err != nil {
		return err
	}
	price, err := parseAmount(ps.SqrtPriceX96)
	if err != nil || price == nil {
		return fmt.Errorf("sqrtPriceX96 %q: %w", ps.SqrtPriceX96, clamm.ErrInvalidAmount)
	}
	_, err = e.Registry.CreatePool(tokenA, tokenB, ps.Fee, price, registry.PoolOptions{OwnerFeeShare: ps.OwnerFeeShare})
	return err
}

func (e *Env) token(s string) (mintable, error) {
	addr, err := parseAddress(s)
	if err != nil {
		return nil, err
	}
	t, ok := e.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("unknown token %s", addr.Hex())
	}
	return t, nil
}

// Balance returns account's balance of a scenario token.
func (e *Env) Balance(tokenAddr, account common.Address) (*uint256.Int, error) {
	t, ok := e.tokens[tokenAddr]
	if !ok {
		return nil, fmt.Errorf("unknown token %s", tokenAddr.Hex())
	}
	return t.BalanceOf(account), nil
}

// Result reports one executed step. Amounts are in the order the op defines them:
// token0/token1 for pool ops, in/out for swaps and quotes.
type Result struct {
	Step      int
	Op        string
	Amount0   *uint256.Int
	Amount1   *uint256.Int
	Liquidity *uint256.Int
	Err       error
}

// Run executes actions in order, calling after (if set) once per step. A step that fails
// without an expected error stops the run; its Result is still returned.
func (e *Env) Run(ctx context.Context, actions []Action, after func(Result)) ([]Result, error) {
	results := make([]Result, 0, len(actions))
	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := e.step(ctx, a)
		res.Step, res.Op = i, a.Op

		err := checkExpectation(a, res.Err)
		results = append(results, res)
		if after != nil {
			after(res)
		}
		if err != nil {
			return results, fmt.Errorf("step %d (%s): %w", i, a.Op, err)
		}
	}
	return results, nil
}

func checkExpectation(a Action, err error) error {
	switch {
	case a.ExpectError == "":
		return err
	case err == nil:
		return fmt.Errorf("expected error containing %q, got success", a.ExpectError)
	case !strings.Contains(err.Error(), a.ExpectError):
		return fmt.Errorf("expected error containing %q: %w", a.ExpectError, err)
	}
	return nil
}
