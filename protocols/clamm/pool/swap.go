package pool

import (
	"math/big"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/calculator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SwapParams describes a swap against the pool. A positive AmountSpecified is an exact
// input, a negative one an exact output.
type SwapParams struct {
	Recipient         common.Address
	ZeroForOne        bool
	AmountSpecified   *big.Int
	SqrtPriceLimitX96 *uint256.Int
	AllowPartialFill  bool
	Data              []byte
}

func (p *Pool) swapState() calculator.PoolState {
	s := &p.slot
	return calculator.PoolState{
		SqrtPriceX96:         s.sqrtPriceX96,
		Tick:                 s.tick,
		Liquidity:            s.liquidity,
		Fee:                  p.key.Fee,
		OwnerFeeShare:        p.ownerFeeShare,
		FeeGrowthGlobal0X128: s.feeGrowthGlobal0X128,
		FeeGrowthGlobal1X128: s.feeGrowthGlobal1X128,
	}
}

// Swap trades against the pool. The settler delivers the input, after which the output
// is paid to params.Recipient.
func (p *Pool) Swap(sender common.Address, params SwapParams, settler Settler) (*calculator.SwapResult, error) {
	var result *calculator.SwapResult
	err := p.execute("swap", settler, params.Data, func() (*operation, error) {
		var err error
		result, err = calculator.Swap(p.swapState(), p.ticks, calculator.SwapParams{
			ZeroForOne:        params.ZeroForOne,
			AmountSpecified:   params.AmountSpecified,
			SqrtPriceLimitX96: params.SqrtPriceLimitX96,
			AllowPartialFill:  params.AllowPartialFill,
		})
		if err != nil {
			return nil, err
		}
		p.applySwap(params.ZeroForOne, result)

		out0, out1 := new(uint256.Int), new(uint256.Int)
		if params.ZeroForOne {
			out1 = result.AmountOut
		} else {
			out0 = result.AmountOut
		}
		return &operation{
			owed0:  result.Amount0,
			owed1:  result.Amount1,
			payout: func() error { return p.transferOut(params.Recipient, out0, out1) },
			event: clamm.Event{
				Kind:      clamm.EventSwap,
				Sender:    sender,
				Recipient: params.Recipient,
				Liquidity: result.Liquidity.ToBig(),
				Amount0:   new(big.Int).Set(result.Amount0),
				Amount1:   new(big.Int).Set(result.Amount1),
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	p.metrics.ticksCrossed.WithLabelValues(p.address.Hex()).Observe(float64(result.TicksCrossed()))
	p.logger.Debug("swap",
		"pool", p.address.Hex(),
		"zeroForOne", params.ZeroForOne,
		"amountIn", result.AmountIn.Dec(),
		"amountOut", result.AmountOut.Dec(),
		"tick", result.Tick,
		"ticksCrossed", result.TicksCrossed(),
	)
	return result, nil
}

// applySwap writes a computed swap into the ledgers and the slot.
func (p *Pool) applySwap(zeroForOne bool, result *calculator.SwapResult) {
	for _, c := range result.Crossings {
		p.ticks.Cross(c.Tick, c.FeeGrowthGlobal0X128, c.FeeGrowthGlobal1X128)
	}

	s := &p.slot
	s.sqrtPriceX96 = result.SqrtPriceX96.Clone()
	s.tick = result.Tick
	s.liquidity = result.Liquidity.Clone()
	s.feeGrowthGlobal0X128 = result.FeeGrowthGlobal0X128.Clone()
	s.feeGrowthGlobal1X128 = result.FeeGrowthGlobal1X128.Clone()

	if zeroForOne {
		s.ownerFees0 = new(uint256.Int).Add(s.ownerFees0, result.OwnerFee)
		s.volume0 = new(uint256.Int).Add(s.volume0, result.AmountIn)
		s.volume1 = new(uint256.Int).Add(s.volume1, result.AmountOut)
	} else {
		s.ownerFees1 = new(uint256.Int).Add(s.ownerFees1, result.OwnerFee)
		s.volume1 = new(uint256.Int).Add(s.volume1, result.AmountIn)
		s.volume0 = new(uint256.Int).Add(s.volume0, result.AmountOut)
	}
}

// QuoteSwap runs a swap against the current state without committing it.
func (p *Pool) QuoteSwap(params calculator.SwapParams) (*calculator.SwapResult, error) {
	var (
		result *calculator.SwapResult
		err    error
	)
	p.read(func() {
		result, err = calculator.Swap(p.swapState(), p.ticks, params)
	})
	return result, err
}
