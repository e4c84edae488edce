package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Wait(t *testing.T) {
	rl := NewRateLimiter(10.0, 1)

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))

	// first request is within burst
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimiter_Wait_ContextCanceled(t *testing.T) {
	rl := NewRateLimiter(0.1, 1) // one request per 10 seconds

	_ = rl.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.Error(t, rl.Wait(ctx))
}

func TestRateLimiter_SetFloodWait(t *testing.T) {
	rl := NewRateLimiter(10.0, 1)
	rl.SetFloodWait(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rl.Wait(ctx)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestRateLimiter_SetFloodWait_KeepsLongest(t *testing.T) {
	rl := NewRateLimiter(10.0, 1)
	rl.SetFloodWait(time.Minute)
	rl.SetFloodWait(time.Millisecond)

	rl.mu.Lock()
	until := rl.floodWaitUntil
	rl.mu.Unlock()

	assert.Greater(t, time.Until(until), 50*time.Second)
}

func TestRateLimiter_RateLimiting(t *testing.T) {
	rl := NewRateLimiter(10.0, 1) // 100ms between requests

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}

	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}
