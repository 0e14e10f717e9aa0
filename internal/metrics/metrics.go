package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	PriceUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "price_updates_total", Help: "Mid-price updates accepted from the feed"},
		[]string{"symbol"},
	)
	FeedDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_messages_dropped_total", Help: "Feed messages ignored, by reason"},
		[]string{"reason"},
	)
	FeedReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "feed_reconnects_total", Help: "Feed connection faults followed by a reconnect"},
	)
	MidPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "mid_price", Help: "Latest mid-price seen by the feed"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Venue calls by action and outcome"},
		[]string{"symbol", "side", "result"},
	)
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_ticks_total", Help: "Quote cycles, by outcome"},
		[]string{"outcome"},
	)
	TickErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engine_tick_errors_total", Help: "Quote cycles aborted by an unexpected error"},
	)
)

func init() {
	prometheus.MustRegister(PriceUpdatesTotal, FeedDroppedTotal, FeedReconnectsTotal, MidPrice, OrdersTotal, TicksTotal, TickErrorsTotal)
}

func Serve(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return srv
}

// Shutdown stops the server, waiting at most a few seconds for scrapes in flight.
func Shutdown(srv *http.Server) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
