package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"relaychat/internal/pkg/logx"
)

// resubscribeInterval bounds how often a degraded room retries its remote subscription.
const resubscribeInterval = 5 * time.Second

// Degrading wraps a remote fabric so an outage shrinks delivery to the current process
// instead of losing events.
//
// Every subscriber is also registered locally. A room whose remote subscription failed is
// served locally only until a later publish to the room manages to subscribe it remotely
// again. A publish the remote transport rejects is delivered locally.
type Degrading struct {
	remote Fabric
	local  *Local
	logger zerolog.Logger

	resubscribeInterval time.Duration

	mu        sync.Mutex
	degraded  map[string]map[*degradingSubscription]struct{}
	lastRetry map[string]time.Time
}

// NewDegrading wraps remote. origin tags locally delivered envelopes.
func NewDegrading(remote Fabric, origin string) *Degrading {
	return &Degrading{
		remote:              remote,
		local:               NewLocal(origin),
		logger:              logx.Component("broadcast"),
		resubscribeInterval: resubscribeInterval,
		degraded:            make(map[string]map[*degradingSubscription]struct{}),
		lastRetry:           make(map[string]time.Time),
	}
}

// Publish sends through the remote fabric, falling back to local delivery.
func (d *Degrading) Publish(ctx context.Context, room, event string, payload any) error {
	if d.Degraded(room) && !d.resubscribe(ctx, room) {
		return d.local.Publish(ctx, room, event, payload)
	}

	err := d.remote.Publish(ctx, room, event, payload)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return err
	}

	d.logger.Warn().Err(err).
		Str("room", room).
		Str("event", event).
		Msg("Remote publish failed. Delivering to this process only.")
	return d.local.Publish(ctx, room, event, payload)
}

// Subscribe registers handler locally and remotely. It only fails when the local
// registration fails.
func (d *Degrading) Subscribe(ctx context.Context, room string, handler Handler) (Subscription, error) {
	localSub, err := d.local.Subscribe(ctx, room, handler)
	if err != nil {
		return nil, err
	}

	sub := &degradingSubscription{fabric: d, room: room, handler: handler, local: localSub}

	remoteSub, err := d.remote.Subscribe(ctx, room, handler)
	if err != nil {
		d.logger.Error().Err(err).
			Str("room", room).
			Msg("Remote subscription failed. Room degraded to this process only.")

		d.mu.Lock()
		if d.degraded[room] == nil {
			d.degraded[room] = make(map[*degradingSubscription]struct{})
			d.lastRetry[room] = time.Now()
		}
		d.degraded[room][sub] = struct{}{}
		d.mu.Unlock()

		return sub, nil
	}

	sub.remote = remoteSub
	return sub, nil
}

// resubscribe retries the remote subscriptions of a degraded room, at most once per
// resubscribeInterval. It reports whether the room is served remotely again.
func (d *Degrading) resubscribe(ctx context.Context, room string) bool {
	d.mu.Lock()
	subs := d.degraded[room]
	if len(subs) == 0 {
		d.mu.Unlock()
		return true
	}
	if time.Since(d.lastRetry[room]) < d.resubscribeInterval {
		d.mu.Unlock()
		return false
	}
	d.lastRetry[room] = time.Now()

	pending := make([]*degradingSubscription, 0, len(subs))
	for sub := range subs {
		pending = append(pending, sub)
	}
	d.mu.Unlock()

	for _, sub := range pending {
		remoteSub, err := d.remote.Subscribe(ctx, room, sub.handler)
		if err != nil {
			d.logger.Debug().Err(err).Str("room", room).Msg("Remote resubscribe failed. Room stays degraded.")
			return false
		}
		if !sub.attach(remoteSub) {
			_ = remoteSub.Unsubscribe()
		}
		d.forget(sub)
	}

	d.logger.Info().Str("room", room).Msg("Remote subscription restored.")
	return true
}

func (d *Degrading) forget(sub *degradingSubscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs, ok := d.degraded[sub.room]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(d.degraded, sub.room)
		delete(d.lastRetry, sub.room)
	}
}

// Degraded reports whether room is currently served by this process only.
func (d *Degrading) Degraded(room string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.degraded[room]) > 0
}

// Close closes both fabrics.
func (d *Degrading) Close() error {
	return multierr.Combine(d.remote.Close(), d.local.Close())
}

type degradingSubscription struct {
	fabric  *Degrading
	room    string
	handler Handler
	local   Subscription

	mu     sync.Mutex
	remote Subscription
	closed bool
}

// attach installs a restored remote subscription unless Unsubscribe already ran.
func (s *degradingSubscription) attach(remote Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.remote = remote
	return true
}

func (s *degradingSubscription) Unsubscribe() error {
	err := s.local.Unsubscribe()

	s.mu.Lock()
	s.closed = true
	remote := s.remote
	s.remote = nil
	s.mu.Unlock()

	s.fabric.forget(s)

	if remote != nil {
		err = multierr.Append(err, remote.Unsubscribe())
	}
	return err
}
