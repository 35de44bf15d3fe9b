/*
Package ratelimit enforces the per-user chat message budget.

It is a fixed window counter in Redis: the first message of a window creates the counter
and arms its expiry, later messages only increment it. Windows are not sliding, so a burst
straddling a boundary may briefly see up to twice the ceiling.
*/
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps every failure to reach the shared store.
var ErrUnavailable = errors.New("rate limit store unavailable")

// The expiry is armed in the same script as the increment that created the key, so a
// crash between the two can never leave a counter without a TTL.
// KEYS[1] counter, ARGV[1] window in milliseconds.
var fixedWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Config holds the window length and the number of messages allowed per window.
type Config struct {
	Window time.Duration
	Limit  int
}

// Limiter is the Redis-backed fixed window limiter.
type Limiter struct {
	client redis.UniversalClient
	config Config
	prefix string
}

// NewLimiter returns a Limiter whose keys start with prefix (e.g. "rate-limit:user").
func NewLimiter(client redis.UniversalClient, config Config, prefix string) *Limiter {
	if prefix == "" {
		prefix = "rate-limit:user"
	}
	return &Limiter{client: client, config: config, prefix: prefix}
}

func (l *Limiter) key(userID string) string {
	return l.prefix + ":" + userID
}

// Allow consumes one message from userID's window and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, error) {
	count, err := fixedWindowScript.Run(ctx, l.client, []string{l.key(userID)}, l.config.Window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count <= l.config.Limit, nil
}
