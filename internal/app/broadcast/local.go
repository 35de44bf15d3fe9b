package broadcast

import (
	"context"
	"sync"
)

// Local delivers events to subscribers inside the current process only.
// Handlers run synchronously on the publishing goroutine.
type Local struct {
	origin string

	mu     sync.RWMutex
	nextID uint64
	rooms  map[string]map[uint64]Handler
	closed bool
}

// NewLocal returns an in-process fabric.
func NewLocal(origin string) *Local {
	return &Local{
		origin: origin,
		rooms:  make(map[string]map[uint64]Handler),
	}
}

// Publish delivers the event to the room's local subscribers.
func (l *Local) Publish(_ context.Context, room, event string, payload any) error {
	env, _, err := encode(room, event, l.origin, payload)
	if err != nil {
		return err
	}
	l.deliver(env)
	return nil
}

func (l *Local) deliver(env Envelope) {
	l.mu.RLock()
	handlers := make([]Handler, 0, len(l.rooms[env.Room]))
	for _, h := range l.rooms[env.Room] {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

// Subscribe registers handler for room.
func (l *Local) Subscribe(_ context.Context, room string, handler Handler) (Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	l.nextID++
	id := l.nextID
	if l.rooms[room] == nil {
		l.rooms[room] = make(map[uint64]Handler)
	}
	l.rooms[room][id] = handler

	return &localSubscription{fabric: l, room: room, id: id}, nil
}

// Close drops every subscription.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.rooms = make(map[string]map[uint64]Handler)
	return nil
}

type localSubscription struct {
	fabric *Local
	room   string
	id     uint64
}

func (s *localSubscription) Unsubscribe() error {
	s.fabric.mu.Lock()
	defer s.fabric.mu.Unlock()

	if subs, ok := s.fabric.rooms[s.room]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.fabric.rooms, s.room)
		}
	}
	return nil
}
