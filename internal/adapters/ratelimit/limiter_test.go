package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Burst(t *testing.T) {
	l := NewLimiter("test", 60) // 1 rps, burst 6

	for i := 0; i < 6; i++ {
		assert.True(t, l.Allow())
	}
	assert.False(t, l.Allow())
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := NewPerSecond("slow", 0.001)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestRegistry_UnknownVenueIsUnlimited(t *testing.T) {
	r := NewRegistry()
	l := r.Get("nowhere")
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
	assert.NotNil(t, r.Get("binance"))
}
