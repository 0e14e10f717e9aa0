package exchange

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quotebot-go/internal/execution"
	"quotebot-go/internal/signer"
)

const testSeedHex = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

type capturedRequest struct {
	Path    string
	Header  http.Header
	Body    []byte
	Decoded map[string]string
}

func newTestSigner(t *testing.T) *signer.Signer {
	t.Helper()
	s, err := signer.New(testSeedHex)
	require.NoError(t, err)
	return s
}

func recordingServer(t *testing.T, status int, body string) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		captured []capturedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		decoded := map[string]string{}
		_ = json.Unmarshal(raw, &decoded)
		mu.Lock()
		captured = append(captured, capturedRequest{Path: r.URL.Path, Header: r.Header.Clone(), Body: raw, Decoded: decoded})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}
}

func TestPlaceOrderSendsSignedRequest(t *testing.T) {
	server, requests := recordingServer(t, http.StatusOK, `{"success":true}`)
	s := newTestSigner(t)
	client := NewClient(server.URL+"/", "jwt-123", s, zerolog.Nop(), WithHTTPClient(server.Client()))

	before := time.Now().UnixMilli()
	res := client.PlaceOrder(context.Background(), execution.Order{
		Symbol: "BTC-PERP", Side: execution.Buy, Qty: decimal.RequireFromString("0.010"), Price: 49960,
	})
	after := time.Now().UnixMilli()
	require.True(t, res.Success, res.Message)

	reqs := requests()
	require.Len(t, reqs, 1)
	got := reqs[0]
	require.Equal(t, newOrderPath, got.Path)
	require.Equal(t, "Bearer jwt-123", got.Header.Get("Authorization"))
	require.Equal(t, "application/json", got.Header.Get("Content-Type"))
	require.Equal(t, map[string]string{
		"symbol": "BTC-PERP", "side": "buy", "order_type": "limit",
		"qty": "0.01", "price": "49960", "time_in_force": "gtc",
	}, got.Decoded)

	require.Equal(t, signer.Version, got.Header.Get(signer.HeaderSignVersion))
	ts, err := strconv.ParseInt(got.Header.Get(signer.HeaderTimestamp), 10, 64)
	require.NoError(t, err)
	require.GreaterOrEqual(t, ts, before)
	require.LessOrEqual(t, ts, after)

	sig, err := base64.StdEncoding.DecodeString(got.Header.Get(signer.HeaderSignature))
	require.NoError(t, err)
	pub := s.PublicKey()
	msg := signer.CanonicalMessage(signer.Version, got.Header.Get(signer.HeaderRequestID), ts, got.Body)
	require.True(t, ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig))
}

func TestCancelAllBodyAndUniqueRequestIDs(t *testing.T) {
	server, requests := recordingServer(t, http.StatusOK, `{"success":true}`)
	client := NewClient(server.URL, "jwt", newTestSigner(t), zerolog.Nop(), WithHTTPClient(server.Client()))

	for i := 0; i < 3; i++ {
		require.True(t, client.CancelAll(context.Background(), "ETH-PERP").Success)
	}
	reqs := requests()
	require.Len(t, reqs, 3)
	ids := map[string]struct{}{}
	for _, r := range reqs {
		require.Equal(t, cancelAllPath, r.Path)
		require.JSONEq(t, `{"symbol":"ETH-PERP"}`, string(r.Body))
		ids[r.Header.Get(signer.HeaderRequestID)] = struct{}{}
	}
	require.Len(t, ids, 3)
}

func TestCallsNormaliseFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"rejected with message", http.StatusOK, `{"success":false,"message":"post only would cross"}`, "post only would cross"},
		{"rejected with msg", http.StatusBadRequest, `{"success":false,"msg":"bad qty"}`, "bad qty"},
		{"error field", http.StatusUnauthorized, `{"error":"token expired"}`, "token expired"},
		{"structured reason", http.StatusBadRequest, `{"success":false,"message":{"code":17,"detail":"price band"}}`, `{"code":17,"detail":"price band"}`},
		{"numeric error code", http.StatusBadRequest, `{"success":false,"message":null,"error":4001}`, "4001"},
		{"success flag on non-2xx", http.StatusInternalServerError, `{"success":true}`, "http 500 Internal Server Error"},
		{"json without reason", http.StatusOK, `{"result":"accepted"}`, `{"result":"accepted"}`},
		{"html body", http.StatusBadGateway, "<html>bad gateway</html>", "<html>bad gateway</html>"},
		{"empty body", http.StatusServiceUnavailable, "", "http 503 Service Unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, _ := recordingServer(t, tc.status, tc.body)
			client := NewClient(server.URL, "jwt", newTestSigner(t), zerolog.Nop(), WithHTTPClient(server.Client()))

			place := client.PlaceOrder(context.Background(), execution.Order{Symbol: "BTC-PERP", Side: execution.Sell, Qty: decimal.NewFromInt(1), Price: 101})
			require.False(t, place.Success)
			require.Equal(t, tc.want, place.Message)

			cancel := client.CancelAll(context.Background(), "BTC-PERP")
			require.False(t, cancel.Success)
			require.Equal(t, tc.want, cancel.Message)
		})
	}
}

func TestCallsAcceptStructuredSuccessBodies(t *testing.T) {
	bodies := []string{
		`{"success":true}`,
		`{"success":true,"message":{"order_id":1}}`,
		`{"success":true,"message":"ok","data":[1,2]}`,
		`{"success":true,"msg":42}`,
	}
	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			server, _ := recordingServer(t, http.StatusOK, body)
			client := NewClient(server.URL, "jwt", newTestSigner(t), zerolog.Nop(), WithHTTPClient(server.Client()))

			place := client.PlaceOrder(context.Background(), execution.Order{Symbol: "BTC-PERP", Side: execution.Buy, Qty: decimal.NewFromInt(1), Price: 99})
			require.True(t, place.Success, place.Message)

			cancel := client.CancelAll(context.Background(), "BTC-PERP")
			require.True(t, cancel.Success, cancel.Message)
		})
	}
}

func TestCallsReportTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(url, "jwt", newTestSigner(t), zerolog.Nop())
	res := client.CancelAll(context.Background(), "BTC-PERP")
	require.False(t, res.Success)
	require.NotEmpty(t, res.Message)
}

func TestCallsAreBoundedByTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "jwt", newTestSigner(t), zerolog.Nop(), WithHTTPClient(server.Client()), WithTimeout(50*time.Millisecond))

	start := time.Now()
	res := client.PlaceOrder(context.Background(), execution.Order{Symbol: "BTC-PERP", Side: execution.Buy, Qty: decimal.NewFromInt(1), Price: 99})
	require.False(t, res.Success)
	require.Contains(t, res.Message, "deadline exceeded")
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestInterpretTruncatesLongBodies(t *testing.T) {
	long := make([]byte, maxMessageLen*2)
	for i := range long {
		long[i] = 'x'
	}
	res := interpret(http.StatusBadGateway, long)
	require.False(t, res.Success)
	require.Len(t, res.Message, maxMessageLen+3)
}
