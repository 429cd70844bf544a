package clamm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	feeSize      = 3
	hopSize      = common.AddressLength + feeSize
	minPathBytes = 2*common.AddressLength + feeSize
)

// Path is a route through one or more pools: Tokens[i] is swapped for Tokens[i+1] in the
// pool with fee Fees[i].
type Path struct {
	Tokens []common.Address
	Fees   []uint32
}

// NewPath builds and validates a path.
func NewPath(tokens []common.Address, fees []uint32) (Path, error) {
	p := Path{Tokens: tokens, Fees: fees}
	if err := p.Validate(); err != nil {
		return Path{}, err
	}
	return p, nil
}

func (p Path) Validate() error {
	if len(p.Tokens) < 2 {
		return fmt.Errorf("%w: need at least two tokens, got %d", ErrInvalidPath, len(p.Tokens))
	}
	if len(p.Fees) != len(p.Tokens)-1 {
		return fmt.Errorf("%w: %d tokens need %d fees, got %d", ErrInvalidPath, len(p.Tokens), len(p.Tokens)-1, len(p.Fees))
	}
	for i := 0; i+1 < len(p.Tokens); i++ {
		if p.Tokens[i] == p.Tokens[i+1] {
			return fmt.Errorf("%w: hop %d swaps %s for itself", ErrInvalidPath, i, p.Tokens[i].Hex())
		}
		if p.Fees[i] >= 1<<24 {
			return fmt.Errorf("%w: hop %d fee %d does not fit in 24 bits", ErrInvalidPath, i, p.Fees[i])
		}
	}
	return nil
}

// Hops returns the number of pools the path goes through.
func (p Path) Hops() int { return len(p.Fees) }

// Hop returns the tokens and fee of hop i.
func (p Path) Hop(i int) (tokenIn, tokenOut common.Address, fee uint32) {
	return p.Tokens[i], p.Tokens[i+1], p.Fees[i]
}

func (p Path) TokenIn() common.Address  { return p.Tokens[0] }
func (p Path) TokenOut() common.Address { return p.Tokens[len(p.Tokens)-1] }

// Encode packs the path as token ‖ uint24 fee ‖ token ‖ ... ‖ token.
func (p Path) Encode() []byte {
	out := make([]byte, 0, len(p.Tokens)*common.AddressLength+len(p.Fees)*feeSize)
	for i, t := range p.Tokens {
		out = append(out, t.Bytes()...)
		if i < len(p.Fees) {
			fee := p.Fees[i]
			out = append(out, byte(fee>>16), byte(fee>>8), byte(fee))
		}
	}
	return out
}

// DecodePath is the inverse of Path.Encode.
func DecodePath(b []byte) (Path, error) {
	if len(b) < minPathBytes || (len(b)-common.AddressLength)%hopSize != 0 {
		return Path{}, fmt.Errorf("%w: %d bytes is not a packed path", ErrInvalidPath, len(b))
	}
	hops := (len(b) - common.AddressLength) / hopSize
	p := Path{
		Tokens: make([]common.Address, 0, hops+1),
		Fees:   make([]uint32, 0, hops),
	}
	for i := 0; i < hops; i++ {
		off := i * hopSize
		p.Tokens = append(p.Tokens, common.BytesToAddress(b[off:off+common.AddressLength]))
		f := b[off+common.AddressLength : off+hopSize]
		p.Fees = append(p.Fees, uint32(f[0])<<16|uint32(f[1])<<8|uint32(f[2]))
	}
	p.Tokens = append(p.Tokens, common.BytesToAddress(b[len(b)-common.AddressLength:]))
	return p, p.Validate()
}

func (p Path) String() string {
	var sb strings.Builder
	for i, t := range p.Tokens {
		sb.WriteString(t.Hex())
		if i < len(p.Fees) {
			fmt.Fprintf(&sb, " -(%d)-> ", p.Fees[i])
		}
	}
	return sb.String()
}
