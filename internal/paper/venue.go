// Package paper provides a dry-run venue that accepts orders without touching the exchange.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"quotebot-go/internal/execution"
)

// OpenOrder is a resting paper order.
type OpenOrder struct {
	ID       string
	Order    execution.Order
	PlacedAt time.Time
}

// Venue keeps open orders in memory. Nothing fills and nothing is persisted.
type Venue struct {
	mu     sync.Mutex
	open   map[string][]OpenOrder
	placed int
}

// NewVenue returns an empty paper venue.
func NewVenue() *Venue {
	return &Venue{open: make(map[string][]OpenOrder)}
}

// CancelAll drops every open order for symbol.
func (v *Venue) CancelAll(ctx context.Context, symbol string) execution.OrderResult {
	if err := ctx.Err(); err != nil {
		return execution.Failed(err.Error())
	}
	v.mu.Lock()
	delete(v.open, symbol)
	v.mu.Unlock()
	return execution.Ok()
}

// PlaceOrder rests the order after basic validation.
func (v *Venue) PlaceOrder(ctx context.Context, order execution.Order) execution.OrderResult {
	if err := ctx.Err(); err != nil {
		return execution.Failed(err.Error())
	}
	switch {
	case order.Symbol == "":
		return execution.Failed("symbol required")
	case order.Side != execution.Buy && order.Side != execution.Sell:
		return execution.Failed(fmt.Sprintf("unknown side %q", order.Side))
	case order.Price <= 0:
		return execution.Failed("price must be positive")
	case !order.Qty.IsPositive():
		return execution.Failed("qty must be positive")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.open[order.Symbol] = append(v.open[order.Symbol], OpenOrder{ID: uuid.NewString(), Order: order, PlacedAt: time.Now()})
	v.placed++
	return execution.Ok()
}

// Open returns a copy of the resting orders for symbol.
func (v *Venue) Open(symbol string) []OpenOrder {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]OpenOrder, len(v.open[symbol]))
	copy(out, v.open[symbol])
	return out
}

// Placed counts every accepted order since start.
func (v *Venue) Placed() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.placed
}
