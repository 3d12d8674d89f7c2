package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"tradelog/pkg/errors"
)

// Limiter paces outbound API calls
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// NewLimiter creates a new rate limiter
// requestsPerMinute: maximum number of requests allowed per minute
func NewLimiter(name string, requestsPerMinute int) *Limiter {
	rps := float64(requestsPerMinute) / 60.0

	// Allow burst of 10% of per-minute limit
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
	}
}

// NewPerSecond creates a limiter allowing rps requests per second with a burst of one
func NewPerSecond(name string, rps float64) *Limiter {
	if rps <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1), name: name}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), 1), name: name}
}

// Wait blocks until the rate limiter allows the request
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "rate limiter %s", l.name)
	}
	return nil
}

// Allow checks if a request is allowed without blocking
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Registry hands out one limiter per venue
type Registry struct {
	limiters map[string]*Limiter
	mu       sync.RWMutex
}

// NewRegistry creates a registry pre-populated with the venues' published read limits
func NewRegistry() *Registry {
	r := &Registry{limiters: make(map[string]*Limiter)}

	// https://binance-docs.github.io/apidocs/futures/en/#limits
	r.Add("binance", NewLimiter("binance", 1200))
	// https://www.bitget.com/api-doc/common/intro
	r.Add("bitget", NewLimiter("bitget", 600))
	// https://bybit-exchange.github.io/docs/v5/rate-limit
	r.Add("bybit", NewLimiter("bybit", 120))
	// https://www.okx.com/docs-v5/en/#overview-rate-limit
	r.Add("okx", NewLimiter("okx", 60))

	return r
}

// Add registers a limiter under key
func (r *Registry) Add(key string, limiter *Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[key] = limiter
}

// Get returns the limiter for key, or a permissive one when unknown
func (r *Registry) Get(key string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return l
	}
	return NewPerSecond(key, 0)
}
