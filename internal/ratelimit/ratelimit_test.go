package ratelimit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter() *Limiter {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(nil, logger, nil)
}

func TestAllow_MemoryFallback_UnderLimit(t *testing.T) {
	l := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := l.Allow(ctx, "global", "user:1", 3, time.Second)
		assert.True(t, res.Allowed)
	}
}

func TestAllow_MemoryFallback_OverLimit(t *testing.T) {
	l := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(ctx, "global", "user:2", 3, time.Minute).Allowed)
	}

	res := l.Allow(ctx, "global", "user:2", 3, time.Minute)
	assert.False(t, res.Allowed)
	assert.GreaterOrEqual(t, res.RetryAfterSeconds, 1)
}

func TestAllow_MemoryFallback_WindowExpires(t *testing.T) {
	l := newTestLimiter()
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "global", "user:3", 1, 50*time.Millisecond).Allowed)
	assert.False(t, l.Allow(ctx, "global", "user:3", 1, 50*time.Millisecond).Allowed)

	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.Allow(ctx, "global", "user:3", 1, 50*time.Millisecond).Allowed)
}

func TestAllow_ZeroLimitAlwaysAllows(t *testing.T) {
	l := newTestLimiter()
	res := l.Allow(context.Background(), "global", "user:4", 0, time.Second)
	assert.True(t, res.Allowed)
}

func TestAllow_DistinctKeysIndependent(t *testing.T) {
	l := newTestLimiter()
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "global", "user:a", 1, time.Minute).Allowed)
	assert.False(t, l.Allow(ctx, "global", "user:a", 1, time.Minute).Allowed)
	assert.True(t, l.Allow(ctx, "global", "user:b", 1, time.Minute).Allowed)
}
