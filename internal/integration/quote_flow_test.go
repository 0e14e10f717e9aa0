package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quotebot-go/internal/engine"
	"quotebot-go/internal/exchange"
	"quotebot-go/internal/execution"
	"quotebot-go/internal/paper"
	"quotebot-go/internal/signer"
	"quotebot-go/internal/strategy"
)

const seedHex = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

type restCall struct {
	Path string
	Body map[string]string
}

type venueServer struct {
	*httptest.Server
	mu    sync.Mutex
	calls []restCall
}

func newVenueServer(t *testing.T) *venueServer {
	v := &venueServer{}
	v.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := map[string]string{}
		_ = json.Unmarshal(raw, &body)
		if r.Header.Get(signer.HeaderSignature) == "" || r.Header.Get("Authorization") != "Bearer jwt" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"message":"unauthenticated"}`))
			return
		}
		v.mu.Lock()
		v.calls = append(v.calls, restCall{Path: r.URL.Path, Body: body})
		v.mu.Unlock()
		if r.URL.Path == "/api/cancel_all" {
			// venue rejects cancels; quoting must carry on regardless
			_, _ = w.Write([]byte(`{"success":false,"msg":"nothing to cancel"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(v.Close)
	return v
}

func (v *venueServer) snapshot() []restCall {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]restCall(nil), v.calls...)
}

func newPriceServer(t *testing.T, release <-chan float64) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub map[string]map[string]string
		if err := conn.ReadJSON(&sub); err != nil || sub["subscribe"]["symbol"] != "BTC-PERP" {
			return
		}
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case mid := <-release:
				msg := map[string]any{"channel": "price", "data": map[string]any{"mid_price": mid}}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestQuoteFlowWaitsForPriceThenQuotes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release := make(chan float64, 1)
	venue := newVenueServer(t)
	wsURL := newPriceServer(t, release)

	s, err := signer.New(seedHex)
	require.NoError(t, err)
	log := zerolog.Nop()
	feed := exchange.NewPriceFeed(wsURL, "BTC-PERP", log, exchange.WithReconnectDelay(50*time.Millisecond))
	client := exchange.NewClient(venue.URL, "jwt", s, log, exchange.WithHTTPClient(venue.Client()), exchange.WithTimeout(time.Second))
	eng := engine.New(
		engine.Config{Symbol: "BTC-PERP", RefreshInterval: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond},
		feed,
		execution.NewExecutor(client, log),
		strategy.NewSymmetric(8, decimal.RequireFromString("0.5")),
		log,
	)

	go func() { _ = feed.Run(ctx) }()
	go func() { _ = eng.Run(ctx) }()

	require.Eventually(t, feed.Connected, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, venue.snapshot(), "no venue calls before the first price")

	release <- 50000
	require.Eventually(t, func() bool { return len(venue.snapshot()) >= 3 }, 2*time.Second, 5*time.Millisecond)

	calls := venue.snapshot()[:3]
	require.Equal(t, "/api/cancel_all", calls[0].Path)
	require.Equal(t, map[string]string{"symbol": "BTC-PERP"}, calls[0].Body)
	require.Equal(t, "/api/new_order", calls[1].Path)
	require.Equal(t, "buy", calls[1].Body["side"])
	require.Equal(t, "49960", calls[1].Body["price"])
	require.Equal(t, "0.5", calls[1].Body["qty"])
	require.Equal(t, "/api/new_order", calls[2].Path)
	require.Equal(t, "sell", calls[2].Body["side"])
	require.Equal(t, "50040", calls[2].Body["price"])

	require.Eventually(t, func() bool { return eng.Stats().OrdersOK >= 2 }, time.Second, 5*time.Millisecond)
}

func TestQuoteFlowDryRunUsesPaperVenue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	venue := paper.NewVenue()
	mids := staticMid(100)
	eng := engine.New(
		engine.Config{Symbol: "BTC-PERP", RefreshInterval: 10 * time.Millisecond},
		mids,
		execution.NewExecutor(venue, zerolog.Nop()),
		strategy.NewSymmetric(8, decimal.NewFromInt(1)),
		zerolog.Nop(),
	)
	go func() { _ = eng.Run(ctx) }()

	require.Eventually(t, func() bool { return venue.Placed() >= 4 }, 2*time.Second, 5*time.Millisecond)
	// each cycle replaces the previous pair
	open := venue.Open("BTC-PERP")
	require.LessOrEqual(t, len(open), 2)
	for _, o := range open {
		require.Contains(t, []int64{99, 101}, o.Order.Price)
	}
}

type staticMid float64

func (m staticMid) CurrentMid() float64 { return float64(m) }
