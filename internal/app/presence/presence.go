/*
Package presence tracks which users are online in a room.

Every connection of a user increments a per-user counter in Redis and every disconnect
decrements it; the user belongs to the room's online set exactly while that counter exists
and is positive. Both transitions run as single Lua scripts, so concurrent connects and
disconnects on any number of server processes never race to a wrong count.
*/
package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps every failure to reach the shared store.
var ErrUnavailable = errors.New("presence store unavailable")

// KEYS[1] counter, KEYS[2] online set, ARGV[1] user id.
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('SADD', KEYS[2], ARGV[1])
return n
`)

// Returns 1 when the user went offline. A decrement on a missing counter cleans up
// without reporting a transition.
var decrementScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], ARGV[1])
  if n == 0 then
    return 1
  end
end
return 0
`)

// Store is the Redis-backed presence store.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore returns a Store whose keys start with prefix (e.g. "presence").
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "presence"
	}
	return &Store{client: client, prefix: prefix}
}

// The room is wrapped in a hash tag so both keys of a script share a cluster slot.
func (s *Store) counterKey(room, userID string) string {
	return fmt.Sprintf("%s:{%s}:conn:%s", s.prefix, room, userID)
}

func (s *Store) onlineKey(room string) string {
	return fmt.Sprintf("%s:{%s}:online", s.prefix, room)
}

// Increment records one more live connection for userID in room.
func (s *Store) Increment(ctx context.Context, room, userID string) error {
	keys := []string{s.counterKey(room, userID), s.onlineKey(room)}
	if err := incrementScript.Run(ctx, s.client, keys, userID).Err(); err != nil {
		return fmt.Errorf("%w: increment %s: %v", ErrUnavailable, userID, err)
	}
	return nil
}

// Decrement records one closed connection and reports whether the user is now offline.
func (s *Store) Decrement(ctx context.Context, room, userID string) (bool, error) {
	keys := []string{s.counterKey(room, userID), s.onlineKey(room)}
	offline, err := decrementScript.Run(ctx, s.client, keys, userID).Int()
	if err != nil {
		return false, fmt.Errorf("%w: decrement %s: %v", ErrUnavailable, userID, err)
	}
	return offline == 1, nil
}

// ListOnline returns the room's online users, sorted.
func (s *Store) ListOnline(ctx context.Context, room string) ([]string, error) {
	users, err := s.client.SMembers(ctx, s.onlineKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list online: %v", ErrUnavailable, err)
	}
	sort.Strings(users)
	return users, nil
}

// Connections returns the live connection count for userID (0 when offline).
func (s *Store) Connections(ctx context.Context, room, userID string) (int64, error) {
	n, err := s.client.Get(ctx, s.counterKey(room, userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: connections %s: %v", ErrUnavailable, userID, err)
	}
	return n, nil
}
