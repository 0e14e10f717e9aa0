package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"quotebot-go/internal/execution"
	"quotebot-go/internal/signer"
)

const (
	cancelAllPath = "/api/cancel_all"
	newOrderPath  = "/api/new_order"

	defaultRequestTimeout = 10 * time.Second
	maxResponseBytes      = 1 << 20
	maxMessageLen         = 512
)

type cancelAllRequest struct {
	Symbol string `json:"symbol"`
}

type newOrderRequest struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"order_type"`
	Qty         string `json:"qty"`
	Price       string `json:"price"`
	TimeInForce string `json:"time_in_force"`
}

// apiResponse covers both reason spellings the venue has used. Reason
// fields stay raw so an object or number in them never hides the success
// flag.
type apiResponse struct {
	Success *bool           `json:"success"`
	Message json.RawMessage `json:"message"`
	Msg     json.RawMessage `json:"msg"`
	Error   json.RawMessage `json:"error"`
}

func (r apiResponse) reason() string {
	for _, raw := range []json.RawMessage{r.Message, r.Msg, r.Error} {
		if s := reasonText(raw); s != "" {
			return s
		}
	}
	return ""
}

// reasonText unquotes a JSON string and keeps any other value as its raw
// text. null counts as absent.
func reasonText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(trimmed)
}

// Client talks to the venue's signed private REST API.
type Client struct {
	baseURL string
	token   string
	signer  *signer.Signer
	http    *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// ClientOption configures Client construction parameters.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client (tests use the httptest client).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every call; applied uniformly to cancel and place.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient builds a REST client for baseURL authenticated with a bearer token and request signatures.
func NewClient(baseURL, token string, s *signer.Signer, log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		signer:  s,
		http:    &http.Client{},
		timeout: defaultRequestTimeout,
		log:     log.With().Str("component", "rest").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CancelAll withdraws every open order on symbol.
func (c *Client) CancelAll(ctx context.Context, symbol string) execution.OrderResult {
	return c.post(ctx, cancelAllPath, cancelAllRequest{Symbol: symbol})
}

// PlaceOrder submits a GTC limit order. Quantity and price travel as strings.
func (c *Client) PlaceOrder(ctx context.Context, order execution.Order) execution.OrderResult {
	return c.post(ctx, newOrderPath, newOrderRequest{
		Symbol:      order.Symbol,
		Side:        string(order.Side),
		OrderType:   "limit",
		Qty:         order.Qty.String(),
		Price:       strconv.FormatInt(order.Price, 10),
		TimeInForce: "gtc",
	})
}

func (c *Client) post(ctx context.Context, path string, body any) execution.OrderResult {
	payload, err := json.Marshal(body)
	if err != nil {
		return execution.Failed(fmt.Sprintf("encode request: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return execution.Failed(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	// signed last so the timestamp is as close to the send as possible
	headers, err := c.signer.Sign(payload)
	if err != nil {
		return execution.Failed(err.Error())
	}
	headers.Apply(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("path", path).Str("request_id", headers.RequestID).Msg("request failed")
		return execution.Failed(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return execution.Failed(fmt.Sprintf("read response: %v", err))
	}
	c.log.Debug().Str("path", path).Str("request_id", headers.RequestID).Int("status", resp.StatusCode).Msg("response")
	return interpret(resp.StatusCode, raw)
}

// interpret maps a raw HTTP response onto an OrderResult.
func interpret(status int, raw []byte) execution.OrderResult {
	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = statusMessage(status)
		}
		return execution.Failed(truncate(msg))
	}
	ok2xx := status >= 200 && status < 300
	if ok2xx && parsed.Success != nil && *parsed.Success {
		return execution.Ok()
	}
	msg := parsed.reason()
	if msg == "" {
		msg = statusMessage(status)
		if ok2xx {
			msg = truncate(strings.TrimSpace(string(raw)))
		}
	}
	return execution.Failed(truncate(msg))
}

func statusMessage(status int) string {
	return fmt.Sprintf("http %d %s", status, http.StatusText(status))
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	return s[:maxMessageLen] + "..."
}
