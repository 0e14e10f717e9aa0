// Package execution handles order submission against a venue and reports every outcome.
package execution

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quotebot-go/internal/metrics"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a bid.
	Buy Side = "buy"
	// Sell indicates an ask.
	Sell Side = "sell"
)

// Order is a GTC limit order request.
type Order struct {
	Symbol string
	Side   Side
	Qty    decimal.Decimal
	Price  int64
}

// OrderResult is the normalised outcome of a venue call. Failures are data, not errors.
type OrderResult struct {
	Success bool
	Message string
}

// Ok is a successful result.
func Ok() OrderResult { return OrderResult{Success: true} }

// Failed builds a failure result, never with an empty message.
func Failed(msg string) OrderResult {
	if msg == "" {
		msg = "unknown failure"
	}
	return OrderResult{Message: msg}
}

// Venue is the private API surface the quoting loop needs.
type Venue interface {
	CancelAll(ctx context.Context, symbol string) OrderResult
	PlaceOrder(ctx context.Context, order Order) OrderResult
}

// Executor forwards calls to a Venue and reports each result.
type Executor struct {
	venue Venue
	log   zerolog.Logger
}

// NewExecutor wraps a venue with result reporting.
func NewExecutor(venue Venue, log zerolog.Logger) *Executor {
	return &Executor{venue: venue, log: log}
}

// CancelAll withdraws every open order for the symbol.
func (executor *Executor) CancelAll(ctx context.Context, symbol string) OrderResult {
	res := executor.venue.CancelAll(ctx, symbol)
	metrics.OrdersTotal.WithLabelValues(symbol, "cancel_all", outcome(res)).Inc()
	if res.Success {
		executor.log.Info().Str("sym", symbol).Msg("cancel all ok")
	} else {
		executor.log.Warn().Str("sym", symbol).Str("reason", res.Message).Msg("cancel all failed")
	}
	return res
}

// Submit places a single order.
func (executor *Executor) Submit(ctx context.Context, order Order) OrderResult {
	res := executor.venue.PlaceOrder(ctx, order)
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side), outcome(res)).Inc()
	ev := executor.log.Info()
	msg := "order placed"
	if !res.Success {
		ev = executor.log.Warn().Str("reason", res.Message)
		msg = "order rejected"
	}
	ev.Str("sym", order.Symbol).Str("side", string(order.Side)).Str("qty", order.Qty.String()).Str("px", strconv.FormatInt(order.Price, 10)).Msg(msg)
	return res
}

func outcome(res OrderResult) string {
	if res.Success {
		return "ok"
	}
	return "failed"
}
