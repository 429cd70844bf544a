package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/manager"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var errUnknownOp = errors.New("unknown op")

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func optionalAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	return parseAddress(s)
}

// parseAmount reads a decimal amount; an empty string means "not given" and yields nil.
func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	if s == "max" {
		return new(uint256.Int).SetAllOne(), nil
	}
	return uint256.FromDecimal(s)
}

func maxIfNil(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int).SetAllOne()
	}
	return x
}

// fields collects the parsed values of an action. The first parse error wins.
type fields struct {
	a   Action
	err error
}

func (f *fields) address(name, s string) common.Address {
	if f.err != nil {
		return common.Address{}
	}
	addr, err := parseAddress(s)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return addr
}

func (f *fields) optionalAddress(name, s string, fallback common.Address) common.Address {
	if s == "" {
		return fallback
	}
	return f.address(name, s)
}

func (f *fields) amount(name, s string) *uint256.Int {
	if f.err != nil {
		return nil
	}
	x, err := parseAmount(s)
	if err != nil {
		f.err = fmt.Errorf("%s %q: %w", name, s, clamm.ErrInvalidAmount)
	}
	return x
}

func (f *fields) position(account common.Address) manager.PositionParams {
	return manager.PositionParams{
		TokenA:    f.address("tokenA", f.a.TokenA),
		TokenB:    f.address("tokenB", f.a.TokenB),
		Fee:       f.a.Fee,
		TickLower: f.a.TickLower,
		TickUpper: f.a.TickUpper,
		Owner:     account,
	}
}

func (e *Env) step(ctx context.Context, a Action) Result {
	f := &fields{a: a}
	account := f.optionalAddress("account", a.Account, e.owner)
	recipient := f.optionalAddress("recipient", a.Recipient, account)

	var (
		res Result
		err error
	)
	switch a.Op {
	case "mint":
		pos := f.position(account)
		params := manager.MintParams{
			TokenA: pos.TokenA, TokenB: pos.TokenB, Fee: pos.Fee,
			TickLower: pos.TickLower, TickUpper: pos.TickUpper,
			Amount0Desired: f.amount("amount0", a.Amount0),
			Amount1Desired: f.amount("amount1", a.Amount1),
			Amount0Min:     f.amount("min0", a.Min0),
			Amount1Min:     f.amount("min1", a.Min1),
			Payer:          account,
			Owner:          account,
		}
		if f.err != nil {
			break
		}
		var out *manager.MintResult
		if out, err = e.Manager.Mint(params); err == nil {
			res.Amount0, res.Amount1, res.Liquidity = out.Amount0, out.Amount1, out.Liquidity
		}

	case "burn":
		pos := f.position(account)
		liquidity := f.amount("liquidity", a.Liquidity)
		if f.err != nil {
			break
		}
		if liquidity == nil {
			liquidity = new(uint256.Int)
		}
		res.Liquidity = liquidity
		res.Amount0, res.Amount1, err = e.Manager.Burn(pos, liquidity)

	case "collect":
		pos := f.position(account)
		req0, req1 := f.amount("amount0", a.Amount0), f.amount("amount1", a.Amount1)
		if f.err != nil {
			break
		}
		res.Amount0, res.Amount1, err = e.Manager.Collect(pos, recipient, maxIfNil(req0), maxIfNil(req1))

	case "collectOwnerFee":
		tokenA, tokenB := f.address("tokenA", a.TokenA), f.address("tokenB", a.TokenB)
		req0, req1 := f.amount("amount0", a.Amount0), f.amount("amount1", a.Amount1)
		if f.err != nil {
			break
		}
		res.Amount0, res.Amount1, err = e.Manager.CollectOwnerFee(account, tokenA, tokenB, a.Fee, recipient, maxIfNil(req0), maxIfNil(req1))

	case "donate":
		tokenA, tokenB := f.address("tokenA", a.TokenA), f.address("tokenB", a.TokenB)
		amount0, amount1 := f.amount("amount0", a.Amount0), f.amount("amount1", a.Amount1)
		if f.err != nil {
			break
		}
		res.Amount0, res.Amount1 = amount0, amount1
		err = e.Manager.Donate(tokenA, tokenB, a.Fee, account, amount0, amount1)

	case "swap":
		params := manager.SwapSingleParams{
			TokenIn:           f.address("tokenIn", a.TokenIn),
			TokenOut:          f.address("tokenOut", a.TokenOut),
			Fee:               a.Fee,
			AmountIn:          f.amount("amount", a.Amount),
			AmountOutMinimum:  f.amount("minOut", a.MinOut),
			SqrtPriceLimitX96: f.amount("sqrtPriceLimitX96", a.Limit),
			Payer:             account,
			Recipient:         recipient,
		}
		if f.err != nil {
			break
		}
		res.Amount0, res.Amount1, err = outcome(e.Manager.SwapSingle(params))

	case "swapExactOutput":
		params := manager.SwapSingleExactOutputParams{
			TokenIn:         f.address("tokenIn", a.TokenIn),
			TokenOut:        f.address("tokenOut", a.TokenOut),
			Fee:             a.Fee,
			AmountOut:       f.amount("amount", a.Amount),
			AmountInMaximum: f.amount("maxIn", a.MaxIn),
			Payer:           account,
			Recipient:       recipient,
		}
		if f.err != nil {
			break
		}
		res.Amount0, res.Amount1, err = outcome(e.Manager.SwapSingleExactOutput(params))

	case "swapPath":
		tokens := make([]common.Address, len(a.Path))
		for i, s := range a.Path {
			tokens[i] = f.address(fmt.Sprintf("path[%d]", i), s)
		}
		amount, minOut := f.amount("amount", a.Amount), f.amount("minOut", a.MinOut)
		if f.err != nil {
			break
		}
		var path clamm.Path
		if path, err = clamm.NewPath(tokens, a.Fees); err != nil {
			break
		}
		res.Amount0, res.Amount1, err = outcome(e.Manager.SwapExactInput(manager.SwapParams{
			Path: path, AmountIn: amount, AmountOutMinimum: minOut, Payer: account, Recipient: recipient,
		}))

	case "quote":
		tokenIn, tokenOut := f.address("tokenIn", a.TokenIn), f.address("tokenOut", a.TokenOut)
		amount := f.amount("amount", a.Amount)
		if f.err != nil {
			break
		}
		q, qerr := e.Quoter.QuoteBestExactInput(ctx, tokenIn, tokenOut, amount, 0)
		if err = qerr; err == nil {
			res.Amount0, res.Amount1 = q.AmountIn, q.AmountOut
			e.logger.Info("best route", "path", q.Path.String(), "amountOut", q.AmountOut.Dec())
		}

	case "harvest":
		t, terr := e.token(a.Token)
		if terr != nil {
			err = terr
			break
		}
		fot, ok := t.(*token.FeeOnTransfer)
		if !ok {
			err = fmt.Errorf("token %s does not charge transfer fees", t.Address().Hex())
			break
		}
		res.Amount0 = fot.HarvestFees()

	default:
		err = fmt.Errorf("%w %q", errUnknownOp, a.Op)
	}

	if f.err != nil {
		err = f.err
	}
	res.Err = err
	return res
}

func outcome(o *manager.SwapOutcome, err error) (*uint256.Int, *uint256.Int, error) {
	if err != nil {
		return nil, nil, err
	}
	return o.AmountIn, o.AmountOut, nil
}
