package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLimiter(client, Config{Window: window, Limit: limit}, "rate-limit:user"), mr
}

func TestLimiter_CeilingWithinWindow(t *testing.T) {
	limiter, _ := setupLimiter(t, 5, 10*time.Second)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		allowed, err := limiter.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, allowed, "message %d should be allowed", i)
	}

	allowed, err := limiter.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, allowed, "the 6th message in the window is rejected")
}

func TestLimiter_WindowResets(t *testing.T) {
	limiter, mr := setupLimiter(t, 2, 10*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, "alice")
		require.NoError(t, err)
	}

	mr.FastForward(10 * time.Second)

	allowed, err := limiter.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, allowed, "first message after the window is accepted")
}

func TestLimiter_ExpiryOnlyArmedOnFirstIncrement(t *testing.T) {
	limiter, mr := setupLimiter(t, 5, 10*time.Second)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, mr.TTL("rate-limit:user:alice"))

	mr.FastForward(4 * time.Second)

	for i := 0; i < 6; i++ {
		_, err := limiter.Allow(ctx, "alice")
		require.NoError(t, err)
	}
	assert.Equal(t, 6*time.Second, mr.TTL("rate-limit:user:alice"), "later hits, denied ones included, keep the original expiry")
}

func TestLimiter_UsersAreIndependent(t *testing.T) {
	limiter, _ := setupLimiter(t, 1, time.Minute)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiter_Unavailable(t *testing.T) {
	limiter, mr := setupLimiter(t, 5, time.Minute)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrUnavailable)
}
