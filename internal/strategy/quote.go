// Package strategy turns a reference price into the two-sided quote the engine keeps resting.
package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"quotebot-go/internal/execution"
)

// ErrNoPrice is returned when the reference price is missing or unusable.
var ErrNoPrice = errors.New("no usable mid-price")

var maxPrice = decimal.NewFromInt(math.MaxInt64)

// Quoter computes the buy and sell quote for a mid-price.
type Quoter interface {
	Quotes(mid float64) (buy, sell Quote, err error)
	Name() string
}

// Quote is one side of the two-sided market.
type Quote struct {
	Side  execution.Side
	Price int64
	Qty   decimal.Decimal
}

// Order converts the quote into an order request for symbol.
func (q Quote) Order(symbol string) execution.Order {
	return execution.Order{Symbol: symbol, Side: q.Side, Qty: q.Qty, Price: q.Price}
}

// Symmetric quotes both sides the same number of basis points away from mid.
// Bids are floored and asks ceiled so the pair always straddles mid.
type Symmetric struct {
	spreadBps decimal.Decimal
	qty       decimal.Decimal
}

// Name returns the identifier for the strategy implementation.
func (s *Symmetric) Name() string { return "symmetric" }

// NewSymmetric builds a quoter for a fixed spread and order size.
func NewSymmetric(spreadBps float64, qty decimal.Decimal) *Symmetric {
	return &Symmetric{spreadBps: decimal.NewFromFloat(spreadBps), qty: qty}
}

// Quotes computes floor(mid*(1-bps/1e4)) and ceil(mid*(1+bps/1e4)) in exact
// decimal arithmetic, so 50000 at 8 bps gives 49960/50040 with no float drift.
func (s *Symmetric) Quotes(mid float64) (buy, sell Quote, err error) {
	if mid <= 0 || math.IsNaN(mid) || math.IsInf(mid, 0) {
		return Quote{}, Quote{}, fmt.Errorf("%w: %v", ErrNoPrice, mid)
	}
	m := decimal.NewFromFloat(mid)
	offset := s.spreadBps.Shift(-4)
	one := decimal.NewFromInt(1)

	bid := m.Mul(one.Sub(offset)).Floor()
	ask := m.Mul(one.Add(offset)).Ceil()
	if ask.GreaterThan(maxPrice) {
		return Quote{}, Quote{}, fmt.Errorf("%w: ask %s overflows int64", ErrNoPrice, ask)
	}
	return Quote{Side: execution.Buy, Price: bid.IntPart(), Qty: s.qty},
		Quote{Side: execution.Sell, Price: ask.IntPart(), Qty: s.qty},
		nil
}
