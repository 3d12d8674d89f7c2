package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelog/internal/adapters/retry"
	"tradelog/internal/domain/position"
	"tradelog/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		APIKey:         "key",
		SecretKey:      "secret",
		BaseURL:        srv.URL,
		HistoryWindows: 2,
		Retry:          retry.Config{MaxRetries: 0},
	}, nil)
	require.NoError(t, err)
	c.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return c
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{APIKey: "key"}, nil)
	assert.Error(t, err)
}

func TestGetOpenPositions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/positionRisk", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		assert.NotEmpty(t, r.URL.Query().Get("timestamp"))
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionAmt":"0.5","entryPrice":"40000","markPrice":"41000","unRealizedProfit":"500","leverage":"10","isolatedMargin":"0","updateTime":1700000000000},
			{"symbol":"ETHUSDT","positionAmt":"-2","entryPrice":"2000","markPrice":"1900","unRealizedProfit":"200","leverage":"5","isolatedMargin":"800","updateTime":1700000001000},
			{"symbol":"XRPUSDT","positionAmt":"0","entryPrice":"0","markPrice":"0.5","unRealizedProfit":"0","leverage":"20","updateTime":0}
		]`))
	})

	positions, err := c.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, "binance", positions[0].Exchange)
	assert.Equal(t, position.SideLong, positions[0].Side)
	assert.Equal(t, "0.5", positions[0].Size.String())
	assert.Equal(t, 10, positions[0].Leverage)
	assert.True(t, positions[0].MarginSize.IsZero())

	assert.Equal(t, position.SideShort, positions[1].Side)
	assert.Equal(t, "2", positions[1].Size.String())
	assert.Equal(t, "800", positions[1].MarginSize.String())
	assert.Equal(t, int64(1700000001000), positions[1].OpenTime)

	assert.Equal(t, position.SchemeHolding, c.Scheme())
}

func TestGetClosedPositions_AggregatesFills(t *testing.T) {
	var incomeCalls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/income":
			n := atomic.AddInt32(&incomeCalls, 1)
			assert.Equal(t, "REALIZED_PNL", r.URL.Query().Get("incomeType"))
			if n == 1 {
				_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT"},{"symbol":""}]`))
				return
			}
			// second window fails and is skipped
			w.WriteHeader(http.StatusInternalServerError)
		case "/fapi/v1/userTrades":
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			_, _ = w.Write([]byte(`[
				{"orderId":111,"symbol":"BTCUSDT","side":"BUY","price":"40000","qty":"1","realizedPnl":"0","commission":"0.4","time":1000},
				{"orderId":222,"symbol":"BTCUSDT","side":"SELL","price":"42000","qty":"0.5","realizedPnl":"1000","commission":"0.21","time":2000},
				{"orderId":222,"symbol":"BTCUSDT","side":"SELL","price":"44000","qty":"0.5","realizedPnl":"2000","commission":"0.22","time":3000}
			]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	closed, err := c.GetClosedPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)

	cp := closed[0]
	assert.Equal(t, "222", cp.CloseID)
	assert.Equal(t, position.SideLong, cp.Side)
	assert.Equal(t, "3000", cp.RealizedPnL.String())
	assert.Equal(t, "43000", cp.ExitPrice.String())
	assert.Equal(t, "-0.43", cp.CloseFee.String())
	assert.Equal(t, int64(2000), cp.OpenTime)
	assert.Equal(t, int64(3000), cp.CloseTime)
	assert.Equal(t, int32(2), atomic.LoadInt32(&incomeCalls))
}

func TestGetClosedPositions_AllWindowsFailed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1022,"msg":"Signature for this request is not valid."}`))
	})

	_, err := c.GetClosedPositions(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestGetClosedPositions_NoActivity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	closed, err := c.GetClosedPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, closed)
}

func TestParseAPIError(t *testing.T) {
	err := parseAPIError(http.StatusTeapot, []byte(`{"code":-1003,"msg":"Too many requests"}`))
	assert.ErrorIs(t, err, errors.ErrRateLimited)

	err = parseAPIError(http.StatusTooManyRequests, []byte(`rate limited`))
	assert.ErrorIs(t, err, errors.ErrRateLimited)

	err = parseAPIError(http.StatusBadRequest, []byte(`{"code":-2015,"msg":"Invalid API-key"}`))
	assert.ErrorIs(t, err, errors.ErrUnauthorized)

	err = parseAPIError(http.StatusBadRequest, []byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	assert.ErrorIs(t, err, errors.ErrRemoteRejected)
}
