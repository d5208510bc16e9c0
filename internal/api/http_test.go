package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"tickbook/internal/book"
	"tickbook/internal/engine"
	"tickbook/internal/entry"
)

// --- Setup & Helpers --------------------------------------------------------

func createTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := engine.New()
	var tb tomb.Tomb
	tb.Go(func() error { return eng.Run(&tb) })
	t.Cleanup(func() {
		tb.Kill(nil)
		_ = tb.Wait()
	})

	validator, err := entry.NewValidator("AAPL", decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	return New("127.0.0.1:0", eng, validator)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// --- Tests ------------------------------------------------------------------

func TestSubmitOrder_RestThenTrade(t *testing.T) {
	s := createTestServer(t)

	w := do(t, s, http.MethodPost, "/orders", SubmitOrderRequest{
		OrderID: 1, Symbol: "AAPL", Side: "buy", Type: "limit", Quantity: "10", Price: "1.00",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	first := decode[SubmitOrderResponse](t, w)
	assert.Equal(t, uint64(10), first.Resting)
	assert.Empty(t, first.Trades)

	w = do(t, s, http.MethodPost, "/orders", SubmitOrderRequest{
		OrderID: 2, Side: "sell", Type: "limit", Quantity: "4", Price: "0.99",
	})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[SubmitOrderResponse](t, w)
	assert.Equal(t, uint64(4), second.Filled)
	require.Len(t, second.Trades, 1)
	assert.Equal(t, uint64(1), second.Trades[0].MakerID)
	assert.True(t, second.Trades[0].Price.Equal(dec("1.00")), "taker trades at the maker price")

	w = do(t, s, http.MethodGet, "/quote", nil)
	require.Equal(t, http.StatusOK, w.Code)
	quote := decode[QuoteResponse](t, w)
	require.NotNil(t, quote.Bid)
	assert.True(t, quote.Bid.Equal(dec("1")))
	assert.Nil(t, quote.Ask)

	w = do(t, s, http.MethodGet, "/depth?side=buy&price=1.00", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(6), decode[DepthResponse](t, w).Quantity)
}

func TestSubmitOrder_Market(t *testing.T) {
	s := createTestServer(t)

	w := do(t, s, http.MethodPost, "/orders", SubmitOrderRequest{
		OrderID: 4, Side: "sell", Type: "market", Quantity: "50",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[SubmitOrderResponse](t, w)
	assert.Equal(t, uint64(50), resp.Discarded)
	assert.Equal(t, uint64(0), resp.Filled)
}

func TestSubmitOrder_Rejections(t *testing.T) {
	s := createTestServer(t)

	tests := []struct {
		name   string
		req    any
		status int
	}{
		{"bad side", SubmitOrderRequest{OrderID: 1, Side: "hold", Type: "limit", Quantity: "1", Price: "1"}, http.StatusBadRequest},
		{"bad type", SubmitOrderRequest{OrderID: 1, Side: "buy", Type: "stop", Quantity: "1", Price: "1"}, http.StatusBadRequest},
		{"zero quantity", SubmitOrderRequest{OrderID: 1, Side: "buy", Type: "limit", Quantity: "0", Price: "1"}, http.StatusBadRequest},
		{"off tick", SubmitOrderRequest{OrderID: 1, Side: "buy", Type: "limit", Quantity: "1", Price: "1.001"}, http.StatusBadRequest},
		{"wrong symbol", SubmitOrderRequest{OrderID: 1, Symbol: "MSFT", Side: "buy", Type: "limit", Quantity: "1", Price: "1"}, http.StatusBadRequest},
		{"missing fields", map[string]any{"order_id": 1}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/orders", tt.req)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestSubmitOrder_DuplicateConflict(t *testing.T) {
	s := createTestServer(t)

	order := SubmitOrderRequest{OrderID: 7, Side: "buy", Type: "limit", Quantity: "1", Price: "1"}
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/orders", order).Code)
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/orders", order).Code)
}

func TestCancelOrder(t *testing.T) {
	s := createTestServer(t)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/orders", SubmitOrderRequest{
		OrderID: 5, Side: "buy", Type: "limit", Quantity: "10", Price: "1",
	}).Code)

	w := do(t, s, http.MethodDelete, "/orders/5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, CancelOrderResponse{OrderID: 5, Result: "OK"}, decode[CancelOrderResponse](t, w))

	w = do(t, s, http.MethodDelete, "/orders/5", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode[CancelOrderResponse](t, w).Result)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/orders/abc", nil).Code)
}

func TestSnapshot(t *testing.T) {
	s := createTestServer(t)

	for i, price := range []string{"0.97", "0.99", "0.98"} {
		require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/orders", SubmitOrderRequest{
			OrderID: uint64(i + 1), Side: "buy", Type: "limit", Quantity: "2", Price: price,
		}).Code)
	}

	w := do(t, s, http.MethodGet, "/snapshot?levels=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[SnapshotResponse](t, w)
	require.Len(t, snap.Bids, 2)
	assert.True(t, snap.Bids[0].Price.Equal(dec("0.99")))
	assert.True(t, snap.Bids[1].Price.Equal(dec("0.98")))
	assert.Empty(t, snap.Asks)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/snapshot?levels=-1", nil).Code)
}

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		book.ErrDuplicateOrderID:                      http.StatusConflict,
		fmt.Errorf("%w: 3", engine.ErrNotOwner):       http.StatusForbidden,
		engine.ErrEngineStopped:                       http.StatusServiceUnavailable,
		context.DeadlineExceeded:                      http.StatusGatewayTimeout,
		fmt.Errorf("%w: x", entry.ErrInvalidQuantity): http.StatusBadRequest,
		errors.New("boom"):                            http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusOf(err), err.Error())
	}
}
