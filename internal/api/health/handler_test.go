package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelog/internal/metrics"
	"tradelog/pkg/errors"
	"tradelog/pkg/logger"
)

type staticSync metrics.StateStats

func (s staticSync) Stats() metrics.StateStats { return metrics.StateStats(s) }

type pinger struct{ err error }

func (p pinger) Health(context.Context) error { return p.err }

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newHandler(stats metrics.StateStats, redis Pinger) *Handler {
	h := New(logger.Nop(), staticSync(stats), redis, Config{ServiceName: "tradelog", StaleAfter: time.Minute})
	h.now = func() time.Time { return fixedNow }
	return h
}

func serve(t *testing.T, fn http.HandlerFunc) (int, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestReadiness_StartingBeforeFirstCycle(t *testing.T) {
	h := newHandler(metrics.StateStats{}, nil)

	code, body := serve(t, h.HandleReadiness)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, statusStarting, body.Status)
}

func TestReadiness_FreshSync(t *testing.T) {
	h := newHandler(metrics.StateStats{
		CachedRows:      3,
		FinalizedIDs:    2,
		LastSyncSeconds: float64(fixedNow.Add(-10 * time.Second).Unix()),
	}, pinger{})

	code, body := serve(t, h.HandleReadiness)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusHealthy, body.Status)
	require.NotNil(t, body.Sync)
	assert.Equal(t, 3, body.Sync.CachedRows)
	assert.Equal(t, "10 seconds ago", body.Sync.LastSyncAgo)
	assert.Equal(t, statusHealthy, body.Checks["redis"].Status)
}

func TestHealth_StaleSyncIsUnhealthy(t *testing.T) {
	h := newHandler(metrics.StateStats{
		LastSyncSeconds: float64(fixedNow.Add(-10 * time.Minute).Unix()),
	}, nil)

	code, body := serve(t, h.HandleHealth)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, statusUnhealthy, body.Status)
	assert.Contains(t, body.Checks["sync"].Error, "10m0s")
}

func TestHealth_RedisDownDegrades(t *testing.T) {
	h := newHandler(metrics.StateStats{
		LastSyncSeconds: float64(fixedNow.Unix()),
	}, pinger{err: errors.ErrUnavailable})

	code, body := serve(t, h.HandleHealth)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusDegraded, body.Status)
	assert.Equal(t, statusUnhealthy, body.Checks["redis"].Status)

	code, _ = serve(t, h.HandleReadiness)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestLiveness(t *testing.T) {
	h := newHandler(metrics.StateStats{}, nil)
	rec := httptest.NewRecorder()
	h.HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
