package engine

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"quotebot-go/internal/signal"
)

// FeedStatus is the read-only view of the price feed used in summaries.
type FeedStatus interface {
	Latest() signal.Tick
	Connected() bool
	Reconnects() int
}

// StatusReporter logs a periodic one-line summary of feed and engine health.
type StatusReporter struct {
	cron   *cron.Cron
	engine *Engine
	feed   FeedStatus
	log    zerolog.Logger
	now    func() time.Time
}

// NewStatusReporter schedules Report on a standard cron spec or descriptor such as "@every 1m".
func NewStatusReporter(schedule string, engine *Engine, feed FeedStatus, log zerolog.Logger) (*StatusReporter, error) {
	r := &StatusReporter{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		engine: engine,
		feed:   feed,
		log:    log.With().Str("component", "status").Logger(),
		now:    time.Now,
	}
	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, fmt.Errorf("status schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start runs the scheduler in its own goroutine.
func (r *StatusReporter) Start() { r.cron.Start() }

// Stop halts the scheduler and waits for a running report to finish.
func (r *StatusReporter) Stop() { <-r.cron.Stop().Done() }

// Report writes the summary line.
func (r *StatusReporter) Report() {
	stats := r.engine.Stats()
	tick := r.feed.Latest()
	r.log.Info().
		Float64("mid", tick.Mid).
		Dur("price_age", tick.Age(r.now()).Truncate(time.Millisecond)).
		Bool("feed_connected", r.feed.Connected()).
		Int("feed_reconnects", r.feed.Reconnects()).
		Int("ticks", stats.Ticks).
		Int("skipped", stats.Skipped).
		Int("tick_errors", stats.TickErrors).
		Int("orders_ok", stats.OrdersOK).
		Int("orders_failed", stats.OrdersFailed).
		Int64("bid", stats.LastBuy).
		Int64("ask", stats.LastSell).
		Msg("status")
}
