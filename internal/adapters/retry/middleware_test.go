package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelog/pkg/errors"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("http %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func newTestMiddleware(maxRetries int) *Middleware {
	m := New(Config{MaxRetries: maxRetries, InitialDelay: time.Millisecond})
	m.wait = func(context.Context, time.Duration) error { return nil }
	return m
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	m := newTestMiddleware(3)
	calls := 0

	err := m.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return statusErr(503)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	m := newTestMiddleware(3)
	calls := 0

	err := m.Do(context.Background(), func() error {
		calls++
		return errors.Wrap(errors.ErrUnauthorized, "bad signature")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
}

func TestDo_GivesUp(t *testing.T) {
	m := newTestMiddleware(2)
	calls := 0

	err := m.Do(context.Background(), func() error {
		calls++
		return errors.ErrRateLimited
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, errors.ErrRateLimited))
}

func TestDoWithResult(t *testing.T) {
	m := newTestMiddleware(1)
	calls := 0

	v, err := DoWithResult(context.Background(), m, func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("read: connection reset by peer")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestCalculateDelay(t *testing.T) {
	m := New(Config{MaxRetries: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond})

	assert.Equal(t, 100*time.Millisecond, m.calculateDelay(0))
	assert.Equal(t, 200*time.Millisecond, m.calculateDelay(1))
	assert.Equal(t, 300*time.Millisecond, m.calculateDelay(2))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(statusErr(400)))
	assert.True(t, IsRetryable(statusErr(429)))
	assert.True(t, IsRetryable(errors.New("i/o timeout")))
}
