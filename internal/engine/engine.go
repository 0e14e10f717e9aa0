// Package engine runs the cancel-and-replace quoting loop.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quotebot-go/internal/execution"
	"quotebot-go/internal/metrics"
	"quotebot-go/internal/strategy"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	exitCancelTimeout   = 5 * time.Second
)

// MidSource supplies the latest reference price; 0 means none yet.
type MidSource interface {
	CurrentMid() float64
}

// Config holds the loop timing and the quoted symbol.
type Config struct {
	Symbol          string
	RefreshInterval time.Duration
	// PollInterval is the retry delay while no price has arrived yet.
	PollInterval time.Duration
}

// Stats is a snapshot of loop activity since start.
type Stats struct {
	Ticks        int
	Skipped      int
	TickErrors   int
	OrdersOK     int
	OrdersFailed int
	LastMid      float64
	LastBuy      int64
	LastSell     int64
	LastTickAt   time.Time
}

// Engine drives one cancel-and-replace cycle per tick. Ticks never overlap;
// a slow tick pushes the next one back instead of queuing.
type Engine struct {
	cfg    Config
	mids   MidSource
	exec   *execution.Executor
	quoter strategy.Quoter
	log    zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// New wires the loop to its collaborators.
func New(cfg Config, mids MidSource, exec *execution.Executor, quoter strategy.Quoter, log zerolog.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Second
	}
	return &Engine{
		cfg:    cfg,
		mids:   mids,
		exec:   exec,
		quoter: quoter,
		log:    log.With().Str("component", "engine").Str("symbol", cfg.Symbol).Logger(),
	}
}

// Run loops until ctx is canceled. On exit, resting quotes are withdrawn if any were placed.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Dur("refresh", e.cfg.RefreshInterval).Str("quoter", e.quoter.Name()).Msg("quote engine started")
	for {
		wait := e.cfg.RefreshInterval
		quoted, err := e.guardedTick(ctx)
		switch {
		case err != nil:
			metrics.TicksTotal.WithLabelValues("error").Inc()
			metrics.TickErrorsTotal.Inc()
			e.record(func(s *Stats) { s.TickErrors++ })
			e.log.Error().Err(err).Msg("tick failed, continuing")
		case !quoted:
			metrics.TicksTotal.WithLabelValues("no_price").Inc()
			e.record(func(s *Stats) { s.Skipped++ })
			wait = e.cfg.PollInterval
		default:
			metrics.TicksTotal.WithLabelValues("quoted").Inc()
		}

		if !sleep(ctx, wait) {
			e.withdraw(ctx)
			e.log.Info().Msg("quote engine stopped")
			return ctx.Err()
		}
	}
}

// guardedTick is the tick error boundary: a panic anywhere below becomes an error.
func (e *Engine) guardedTick(ctx context.Context) (quoted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Debug().Bytes("stack", debug.Stack()).Msg("tick panic")
			quoted, err = false, fmt.Errorf("tick panic: %v", r)
		}
	}()
	return e.Tick(ctx)
}

// Tick runs one cycle. It reports false when there is no reference price yet.
func (e *Engine) Tick(ctx context.Context) (bool, error) {
	mid := e.mids.CurrentMid()
	if mid == 0 {
		e.log.Debug().Msg("waiting for first price")
		return false, nil
	}
	buy, sell, err := e.quoter.Quotes(mid)
	if err != nil {
		return false, err
	}
	e.log.Info().Float64("mid", mid).Int64("bid", buy.Price).Int64("ask", sell.Price).Str("qty", buy.Qty.String()).Msg("quoting")
	e.record(func(s *Stats) {
		s.Ticks++
		s.LastMid, s.LastBuy, s.LastSell, s.LastTickAt = mid, buy.Price, sell.Price, time.Now()
	})

	// best effort: a failed cancel does not stop the placements
	e.exec.CancelAll(ctx, e.cfg.Symbol)

	for _, q := range []strategy.Quote{buy, sell} {
		var res execution.OrderResult
		if q.Price <= 0 {
			res = execution.Failed(fmt.Sprintf("%s price %d not positive, side skipped", q.Side, q.Price))
			e.log.Warn().Str("side", string(q.Side)).Str("reason", res.Message).Msg("order skipped")
		} else {
			res = e.exec.Submit(ctx, q.Order(e.cfg.Symbol))
		}
		e.record(func(s *Stats) {
			if res.Success {
				s.OrdersOK++
			} else {
				s.OrdersFailed++
			}
		})
	}
	return true, nil
}

// Stats returns a copy of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) record(fn func(*Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

func (e *Engine) withdraw(ctx context.Context) {
	if e.Stats().OrdersOK == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exitCancelTimeout)
	defer cancel()
	e.exec.CancelAll(cctx, e.cfg.Symbol)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
