package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"relaychat/internal/pkg/logx"
)

// Redis relays events over Redis pub/sub, one channel per room.
type Redis struct {
	client redis.UniversalClient
	prefix string
	origin string
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

// NewRedis returns a fabric publishing on channels named "<prefix>:{<room>}".
func NewRedis(client redis.UniversalClient, prefix, origin string) *Redis {
	if prefix == "" {
		prefix = "chat:room"
	}
	return &Redis{
		client: client,
		prefix: prefix,
		origin: origin,
		logger: logx.Component("broadcast.redis"),
		subs:   make(map[*redisSubscription]struct{}),
	}
}

func (f *Redis) channel(room string) string {
	return fmt.Sprintf("%s:{%s}", f.prefix, room)
}

// Publish sends the event to every process subscribed to the room.
func (f *Redis) Publish(ctx context.Context, room, event string, payload any) error {
	_, raw, err := encode(room, event, f.origin, payload)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, f.channel(room), raw).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrUnavailable, event, err)
	}
	return nil
}

// Subscribe blocks until Redis confirms the subscription, then delivers messages on a
// dedicated goroutine until Unsubscribe or Close.
func (f *Redis) Subscribe(ctx context.Context, room string, handler Handler) (Subscription, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	channel := f.channel(room)
	pubsub := f.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, channel, err)
	}

	sub := &redisSubscription{fabric: f, pubsub: pubsub, done: make(chan struct{})}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go sub.run(handler, f.logger.With().Str("channel", channel).Logger())

	return sub, nil
}

// Close ends every subscription. The Redis client itself is owned by the caller.
func (f *Redis) Close() error {
	f.mu.Lock()
	f.closed = true
	subs := f.subs
	f.subs = make(map[*redisSubscription]struct{})
	f.mu.Unlock()

	for sub := range subs {
		_ = sub.close()
	}
	return nil
}

type redisSubscription struct {
	fabric *Redis
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) run(handler Handler, logger zerolog.Logger) {
	defer close(s.done)

	for msg := range s.pubsub.Channel() {
		env, err := decode([]byte(msg.Payload))
		if err != nil {
			logger.Warn().Err(err).Msg("Dropping undecodable room event.")
			continue
		}
		handler(env)
	}
}

func (s *redisSubscription) close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}

func (s *redisSubscription) Unsubscribe() error {
	s.fabric.mu.Lock()
	delete(s.fabric.subs, s)
	s.fabric.mu.Unlock()

	return s.close()
}
