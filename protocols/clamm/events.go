package clamm

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type EventKind string

const (
	EventInitialize      EventKind = "initialize"
	EventMint            EventKind = "mint"
	EventBurn            EventKind = "burn"
	EventCollect         EventKind = "collect"
	EventSwap            EventKind = "swap"
	EventDonate          EventKind = "donate"
	EventCollectOwnerFee EventKind = "collectOwnerFee"
)

// Event records one committed pool mutation. (Pool, Sequence) is unique.
// Amounts are signed from the pool's perspective: positive means the pool received tokens.
type Event struct {
	Pool         common.Address `json:"pool"`
	Sequence     uint64         `json:"sequence"`
	Kind         EventKind      `json:"kind"`
	Sender       common.Address `json:"sender"`
	Recipient    common.Address `json:"recipient"`
	TickLower    int32          `json:"tickLower,omitempty"`
	TickUpper    int32          `json:"tickUpper,omitempty"`
	Liquidity    *big.Int       `json:"liquidity,omitempty"`
	Amount0      *big.Int       `json:"amount0"`
	Amount1      *big.Int       `json:"amount1"`
	SqrtPriceX96 *big.Int       `json:"sqrtPriceX96"`
	Tick         int32          `json:"tick"`
}

// EventSink receives committed events. Publish must not call back into the pool.
type EventSink interface {
	Publish(Event) error
}

// Sinks fans every event out to several sinks. All sinks see the event even if an
// earlier one fails; the errors are joined.
type Sinks []EventSink

func (s Sinks) Publish(e Event) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Publish(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
