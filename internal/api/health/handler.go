package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"tradelog/internal/metrics"
	"tradelog/pkg/logger"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
	statusStarting  = "starting"
)

// Pinger is a dependency with a cheap connectivity check (the redis client)
type Pinger interface {
	Health(ctx context.Context) error
}

// SyncSource exposes the state of the sync loop
type SyncSource interface {
	Stats() metrics.StateStats
}

// Config wires the probes
type Config struct {
	ServiceName string
	Version     string
	// StaleAfter marks the sync loop unhealthy when no cycle finished for this long
	StaleAfter time.Duration
}

// Handler provides health check endpoints
type Handler struct {
	log       *logger.Logger
	sync      SyncSource
	redis     Pinger
	cfg       Config
	startTime time.Time
	now       func() time.Time
}

// New creates a new health check handler. redis may be nil.
func New(log *logger.Logger, sync SyncSource, redis Pinger, cfg Config) *Handler {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Handler{
		log:       log,
		sync:      sync,
		redis:     redis,
		cfg:       cfg,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"` // "healthy", "degraded", "unhealthy", "starting"
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
	Sync      *SyncSummary               `json:"sync,omitempty"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SyncSummary describes the persisted sync state
type SyncSummary struct {
	LastSync     string `json:"last_sync,omitempty"`
	LastSyncAgo  string `json:"last_sync_ago,omitempty"`
	CachedRows   int    `json:"cached_rows"`
	FinalizedIDs int    `json:"finalized_ids"`
	SyncedIDs    int    `json:"synced_ids"`
}

// HandleLiveness returns 200 OK if the process is up
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness fails until the first cycle completes and whenever the loop goes stale
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.evaluate(ctx)
	code := http.StatusOK
	if status.Status != statusHealthy {
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "status", status.Status, "checks", status.Checks)
	}
	writeJSON(w, code, status)
}

// HandleHealth returns detailed health status. Degraded still answers 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := h.evaluate(ctx)
	code := http.StatusOK
	if status.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *Handler) evaluate(ctx context.Context) HealthStatus {
	now := h.now()
	checks := make(map[string]ComponentHealth)

	syncCheck, summary := h.checkSync(now)
	checks["sync"] = syncCheck

	overall := syncCheck.Status
	if h.redis != nil {
		redisCheck := h.checkRedis(ctx)
		checks["redis"] = redisCheck
		if redisCheck.Status != statusHealthy && overall == statusHealthy {
			overall = statusDegraded
		}
	}

	return HealthStatus{
		Status:    overall,
		Service:   h.cfg.ServiceName,
		Version:   h.cfg.Version,
		Uptime:    now.Sub(h.startTime).Round(time.Second).String(),
		Timestamp: now.Format(time.RFC3339),
		Checks:    checks,
		Sync:      summary,
	}
}

// checkSync judges the loop by the age of its last completed cycle
func (h *Handler) checkSync(now time.Time) (ComponentHealth, *SyncSummary) {
	if h.sync == nil {
		return ComponentHealth{Status: statusStarting}, nil
	}

	stats := h.sync.Stats()
	summary := &SyncSummary{
		CachedRows:   stats.CachedRows,
		FinalizedIDs: stats.FinalizedIDs,
		SyncedIDs:    stats.SyncedIDs,
	}
	if stats.LastSyncSeconds <= 0 {
		return ComponentHealth{Status: statusStarting}, summary
	}

	last := time.Unix(int64(stats.LastSyncSeconds), 0)
	summary.LastSync = last.Format(time.RFC3339)
	summary.LastSyncAgo = humanize.RelTime(last, now, "ago", "from now")

	if age := now.Sub(last); age > h.cfg.StaleAfter {
		return ComponentHealth{
			Status: statusUnhealthy,
			Error:  "no completed cycle for " + age.Round(time.Second).String(),
		}, summary
	}
	return ComponentHealth{Status: statusHealthy}, summary
}

// checkRedis verifies Redis connectivity
func (h *Handler) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := h.redis.Health(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("Redis health check failed", "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       statusUnhealthy,
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}

	return ComponentHealth{
		Status:       statusHealthy,
		ResponseTime: elapsed.String(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
