package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwatch/pkg/errors"
)

func TestLimiter_BurstThenThrottle(t *testing.T) {
	l := NewLimiter("twelvedata", 8) // burst 1

	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "second call within the same window is throttled")
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter("alphavantage", 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	assert.ErrorIs(t, err, errors.ErrRateLimitExceeded)
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter("synthetic", 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	registered := r.Register("binance", 1200)

	assert.Same(t, registered, r.Get("binance"))
	assert.Equal(t, "frankfurter", r.Get("frankfurter").Name())
	assert.True(t, r.Get("frankfurter").Allow())
}
