package manager

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/pool"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SwapSingleParams is an exact-input swap through one pool.
type SwapSingleParams struct {
	TokenIn          common.Address
	TokenOut         common.Address
	Fee              uint32
	AmountIn         *uint256.Int
	AmountOutMinimum *uint256.Int
	// SqrtPriceLimitX96 stops the swap early; the unswapped input stays with the payer.
	SqrtPriceLimitX96 *uint256.Int
	Payer             common.Address
	Recipient         common.Address
}

// SwapSingleExactOutputParams is an exact-output swap through one pool.
type SwapSingleExactOutputParams struct {
	TokenIn         common.Address
	TokenOut        common.Address
	Fee             uint32
	AmountOut       *uint256.Int
	AmountInMaximum *uint256.Int
	Payer           common.Address
	Recipient       common.Address
}

// SwapParams is an exact-input swap along a path of pools.
type SwapParams struct {
	Path             clamm.Path
	AmountIn         *uint256.Int
	AmountOutMinimum *uint256.Int
	Payer            common.Address
	Recipient        common.Address
}

// SwapOutcome is what a swap moved between payer and recipient.
type SwapOutcome struct {
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}

func pick(zeroForOne bool, amount0, amount1 *big.Int) (in, out *big.Int) {
	if zeroForOne {
		return amount0, new(big.Int).Neg(amount1)
	}
	return amount1, new(big.Int).Neg(amount0)
}

type hop struct {
	from, recipient   common.Address
	tokenIn, tokenOut common.Address
	fee               uint32
	amountSpecified   *big.Int
	sqrtPriceLimitX96 *uint256.Int
	allowPartialFill  bool
	check             func(in, out *big.Int) error
}

// swap runs one hop and returns the pool it went through.
func (m *Manager) swap(h hop) (*pool.Pool, *SwapOutcome, error) {
	p, err := m.pools.Get(h.tokenIn, h.tokenOut, h.fee)
	if err != nil {
		return nil, nil, err
	}
	zeroForOne := h.tokenIn.Cmp(h.tokenOut) < 0

	var check func(pool.Deltas) error
	if h.check != nil {
		check = func(d pool.Deltas) error {
			in, out := pick(zeroForOne, d.Amount0, d.Amount1)
			return h.check(in, out)
		}
	}
	result, err := p.Swap(h.from, pool.SwapParams{
		Recipient:         h.recipient,
		ZeroForOne:        zeroForOne,
		AmountSpecified:   h.amountSpecified,
		SqrtPriceLimitX96: h.sqrtPriceLimitX96,
		AllowPartialFill:  h.allowPartialFill,
	}, payer(p, h.from, check))
	if err != nil {
		return p, nil, err
	}
	return p, &SwapOutcome{AmountIn: result.AmountIn, AmountOut: result.AmountOut}, nil
}

func minimumOut(minimum *uint256.Int) func(in, out *big.Int) error {
	return func(_, out *big.Int) error {
		if minimum != nil && out.Cmp(minimum.ToBig()) < 0 {
			return fmt.Errorf("%w: output %s below minimum %s", clamm.ErrSlippageExceeded, out, minimum.Dec())
		}
		return nil
	}
}

func positiveAmount(x *uint256.Int) error {
	if x == nil || x.IsZero() {
		return fmt.Errorf("%w: amount must be positive", clamm.ErrInvalidAmount)
	}
	if x.BitLen() > 255 {
		return fmt.Errorf("%w: amount %s overflows a signed amount", clamm.ErrInvalidAmount, x.Dec())
	}
	return nil
}

// SwapSingle sells exactly params.AmountIn, or less if the price limit is reached.
func (m *Manager) SwapSingle(params SwapSingleParams) (*SwapOutcome, error) {
	if err := positiveAmount(params.AmountIn); err != nil {
		return nil, err
	}
	_, outcome, err := m.swap(hop{
		from:              params.Payer,
		recipient:         params.Recipient,
		tokenIn:           params.TokenIn,
		tokenOut:          params.TokenOut,
		fee:               params.Fee,
		amountSpecified:   params.AmountIn.ToBig(),
		sqrtPriceLimitX96: params.SqrtPriceLimitX96,
		allowPartialFill:  params.SqrtPriceLimitX96 != nil,
		check:             minimumOut(params.AmountOutMinimum),
	})
	return outcome, err
}

// SwapSingleExactOutput buys exactly params.AmountOut for at most params.AmountInMaximum.
func (m *Manager) SwapSingleExactOutput(params SwapSingleExactOutputParams) (*SwapOutcome, error) {
	if err := positiveAmount(params.AmountOut); err != nil {
		return nil, err
	}
	_, outcome, err := m.swap(hop{
		from:            params.Payer,
		recipient:       params.Recipient,
		tokenIn:         params.TokenIn,
		tokenOut:        params.TokenOut,
		fee:             params.Fee,
		amountSpecified: new(big.Int).Neg(params.AmountOut.ToBig()),
		check: func(in, _ *big.Int) error {
			if params.AmountInMaximum != nil && in.Cmp(params.AmountInMaximum.ToBig()) > 0 {
				return fmt.Errorf("%w: input %s above maximum %s", clamm.ErrSlippageExceeded, in, params.AmountInMaximum.Dec())
			}
			return nil
		},
	})
	return outcome, err
}

// SwapExactInput sells params.AmountIn along params.Path. Intermediate tokens are held
// by the manager between hops. If a hop fails after the first one, the intermediate
// tokens the route holds are returned to the payer and the error is reported; hops that
// already completed stay completed.
func (m *Manager) SwapExactInput(params SwapParams) (*SwapOutcome, error) {
	if err := params.Path.Validate(); err != nil {
		return nil, err
	}
	if err := positiveAmount(params.AmountIn); err != nil {
		return nil, err
	}

	var (
		amount = params.AmountIn.Clone()
		from   = params.Payer
		held   token.Token
	)
	for i := 0; i < params.Path.Hops(); i++ {
		tokenIn, tokenOut, fee := params.Path.Hop(i)
		last := i == params.Path.Hops()-1

		h := hop{
			from:            from,
			recipient:       m.address,
			tokenIn:         tokenIn,
			tokenOut:        tokenOut,
			fee:             fee,
			amountSpecified: amount.ToBig(),
		}
		if last {
			h.recipient = params.Recipient
			h.check = minimumOut(params.AmountOutMinimum)
		}

		p, outcome, err := m.swap(h)
		if err != nil {
			if held != nil {
				m.refund(held, amount, params.Payer)
			}
			return nil, fmt.Errorf("hop %d %s -> %s: %w", i, tokenIn.Hex(), tokenOut.Hex(), err)
		}

		amount = outcome.AmountOut
		from = m.address
		token0, token1 := p.Tokens()
		held = token1
		if token0.Address() == tokenOut {
			held = token0
		}
	}

	m.logger.Debug("routed swap", "path", params.Path.String(), "amountIn", params.AmountIn.Dec(), "amountOut", amount.Dec())
	return &SwapOutcome{AmountIn: params.AmountIn.Clone(), AmountOut: amount}, nil
}

func (m *Manager) refund(t token.Token, amount *uint256.Int, to common.Address) {
	if err := t.Transfer(m.address, to, amount); err != nil {
		m.logger.Error("failed to refund intermediate tokens", "token", t.Address().Hex(), "amount", amount.Dec(), "to", to.Hex(), "error", err)
		return
	}
	m.logger.Warn("routed swap aborted, intermediate tokens refunded", "token", t.Address().Hex(), "amount", amount.Dec(), "to", to.Hex())
}
