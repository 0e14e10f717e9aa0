// Package exchange hosts the venue connectors: the signed REST client and the streaming price feed.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quotebot-go/internal/metrics"
	"quotebot-go/internal/signal"
)

const (
	priceChannel = "price"

	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 15 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

type subscribeRequest struct {
	Subscribe subscription `json:"subscribe"`
}

type subscription struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

type feedMessage struct {
	Channel string     `json:"channel"`
	Data    *priceData `json:"data"`
}

type priceData struct {
	MidPrice *wirePrice `json:"mid_price"`
	Symbol   string     `json:"symbol"`
}

// wirePrice accepts a JSON number or a numeric string, matching how the
// venue formats prices on the REST side.
type wirePrice float64

func (p *wirePrice) UnmarshalJSON(raw []byte) error {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return fmt.Errorf("mid_price %s: %w", raw, err)
	}
	*p = wirePrice(v)
	return nil
}

// PriceFeed keeps a websocket subscription to the venue price channel and
// exposes the latest mid-price. It reconnects forever with a fixed delay.
type PriceFeed struct {
	url            string
	symbol         string
	log            zerolog.Logger
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	pingInterval   time.Duration
	readTimeout    time.Duration
	onConnect      func(attempt int)

	mu         sync.RWMutex
	latest     signal.Tick
	connected  bool
	reconnects int
}

// FeedOption configures PriceFeed construction parameters.
type FeedOption func(*PriceFeed)

// WithReconnectDelay overrides the fixed wait between connection attempts.
func WithReconnectDelay(d time.Duration) FeedOption {
	return func(f *PriceFeed) {
		if d > 0 {
			f.reconnectDelay = d
		}
	}
}

// WithPingInterval overrides the keepalive cadence.
func WithPingInterval(d time.Duration) FeedOption {
	return func(f *PriceFeed) {
		if d > 0 {
			f.pingInterval = d
		}
	}
}

// WithOnConnect registers a hook invoked after every successful subscribe.
func WithOnConnect(fn func(attempt int)) FeedOption {
	return func(f *PriceFeed) { f.onConnect = fn }
}

// NewPriceFeed constructs a feed for a single symbol.
func NewPriceFeed(url, symbol string, log zerolog.Logger, opts ...FeedOption) *PriceFeed {
	f := &PriceFeed{
		url:            url,
		symbol:         symbol,
		log:            log.With().Str("component", "feed").Str("symbol", symbol).Logger(),
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnectDelay: defaultReconnectDelay,
		pingInterval:   defaultPingInterval,
		readTimeout:    defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CurrentMid returns the latest mid-price, or 0 before the first tick.
func (f *PriceFeed) CurrentMid() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest.Mid
}

// Latest returns the full latest tick.
func (f *PriceFeed) Latest() signal.Tick {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest
}

// Connected reports whether a subscription is currently live.
func (f *PriceFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Reconnects counts connection faults since start.
func (f *PriceFeed) Reconnects() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.reconnects
}

// Run keeps the subscription alive until ctx is canceled. Faults never escape;
// the only visible effect of an outage is a mid-price that stops moving.
func (f *PriceFeed) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.consume(ctx, attempt)
		f.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.mu.Lock()
		f.reconnects++
		f.mu.Unlock()
		metrics.FeedReconnectsTotal.Inc()
		f.log.Warn().Err(err).Dur("retry_in", f.reconnectDelay).Msg("price feed disconnected, reconnecting")

		timer := time.NewTimer(f.reconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (f *PriceFeed) consume(ctx context.Context, attempt int) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeRequest{Subscribe: subscription{Channel: priceChannel, Symbol: f.symbol}}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.setConnected(true)
	f.log.Info().Str("url", f.url).Int("attempt", attempt).Msg("connected price feed")
	if f.onConnect != nil {
		f.onConnect(attempt)
	}

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(f.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					f.log.Debug().Err(err).Msg("ping failed")
					return
				}
			case <-pingCtx.Done():
				// unblocks ReadMessage on shutdown
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		f.handle(message)
	}
}

var (
	errWrongChannel = errors.New("not a price message")
	errMissingField = errors.New("missing mid_price")
	errBadPrice     = errors.New("mid_price not positive")
	errWrongSymbol  = errors.New("symbol mismatch")
)

// handle applies one inbound frame. Anything that is not a well-formed price
// update for our symbol leaves the stored tick untouched.
func (f *PriceFeed) handle(raw []byte) bool {
	mid, err := f.decode(raw)
	if err != nil {
		reason := "decode"
		switch {
		case errors.Is(err, errWrongChannel):
			reason = "channel"
		case errors.Is(err, errMissingField):
			reason = "missing_field"
		case errors.Is(err, errBadPrice):
			reason = "invalid_price"
		case errors.Is(err, errWrongSymbol):
			reason = "symbol"
		}
		metrics.FeedDroppedTotal.WithLabelValues(reason).Inc()
		if reason != "channel" {
			f.log.Debug().Err(err).Msg("dropped feed message")
		}
		return false
	}

	tick := signal.Tick{Symbol: f.symbol, Mid: mid, ReceivedAt: time.Now()}
	f.mu.Lock()
	f.latest = tick
	f.mu.Unlock()
	metrics.PriceUpdatesTotal.WithLabelValues(f.symbol).Inc()
	metrics.MidPrice.WithLabelValues(f.symbol).Set(mid)
	return true
}

func (f *PriceFeed) decode(raw []byte) (float64, error) {
	var msg feedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}
	if msg.Channel != priceChannel {
		return 0, errWrongChannel
	}
	if msg.Data == nil || msg.Data.MidPrice == nil {
		return 0, errMissingField
	}
	if msg.Data.Symbol != "" && msg.Data.Symbol != f.symbol {
		return 0, errWrongSymbol
	}
	mid := float64(*msg.Data.MidPrice)
	if !(mid > 0) || math.IsInf(mid, 0) {
		return 0, errBadPrice
	}
	return mid, nil
}

func (f *PriceFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}
