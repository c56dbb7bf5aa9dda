package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiterSpacesActions(t *testing.T) {
	limiter := NewSimpleRateLimiter(30*time.Millisecond, 30*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))

	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestSimpleRateLimiterZeroDelay(t *testing.T) {
	limiter := NewSimpleRateLimiter(0, 0)

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Wait(context.Background()))
	}

	assert.Less(t, time.Since(start), time.Second)
}

func TestSimpleRateLimiterHonoursContext(t *testing.T) {
	limiter := NewSimpleRateLimiter(time.Hour, time.Hour)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
}

func TestJitteredDelayWithinBounds(t *testing.T) {
	limiter := NewSimpleRateLimiter(10*time.Millisecond, 20*time.Millisecond)

	for i := 0; i < 50; i++ {
		d := limiter.calculateDelay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), 0))
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
