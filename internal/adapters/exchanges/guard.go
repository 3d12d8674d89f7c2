package exchanges

import (
	"context"
	"time"

	"tradelog/internal/domain/position"
	"tradelog/internal/metrics"
	"tradelog/pkg/logger"
)

// Failure classes recorded in metrics
const (
	failureRateLimit = "rate_limit"
	failureAuth      = "auth"
	failureOther     = "other"
)

// guarded degrades fetch failures to empty results so one bad poll never
// aborts a sync cycle.
type guarded struct {
	inner Exchange
	log   *logger.Logger
}

// Guard wraps ex so both fetch methods never return an error. Failures are logged
// and counted; the caller sees an empty list.
func Guard(ex Exchange, log *logger.Logger) Exchange {
	if log == nil {
		log = logger.Nop()
	}
	return &guarded{inner: ex, log: log.With("exchange", ex.Name())}
}

func (g *guarded) Name() string {
	return g.inner.Name()
}

func (g *guarded) Scheme() position.Scheme {
	return g.inner.Scheme()
}

func (g *guarded) GetOpenPositions(ctx context.Context) ([]position.Position, error) {
	start := time.Now()
	positions, err := g.inner.GetOpenPositions(ctx)
	metrics.RecordExchangeAPICall(g.Name(), EndpointOpen, time.Since(start), err)
	if err != nil {
		g.report(EndpointOpen, err)
		return []position.Position{}, nil
	}
	return positions, nil
}

func (g *guarded) GetClosedPositions(ctx context.Context) ([]position.ClosedPosition, error) {
	start := time.Now()
	closed, err := g.inner.GetClosedPositions(ctx)
	metrics.RecordExchangeAPICall(g.Name(), EndpointClosed, time.Since(start), err)
	if err != nil {
		g.report(EndpointClosed, err)
		return []position.ClosedPosition{}, nil
	}
	return closed, nil
}

func (g *guarded) report(endpoint string, err error) {
	switch {
	case IsRateLimited(err):
		metrics.RecordExchangeFailure(g.Name(), failureRateLimit)
		g.log.Warnw("Exchange rate limit hit, skipping this poll", "endpoint", endpoint, "error", err)
	case IsAuthFailure(err):
		metrics.RecordExchangeFailure(g.Name(), failureAuth)
		g.log.Errorw("Exchange rejected credentials or signature", "endpoint", endpoint, "error", err)
	default:
		metrics.RecordExchangeFailure(g.Name(), failureOther)
		g.log.Warnw("Exchange fetch failed", "endpoint", endpoint, "error", err)
	}
}
