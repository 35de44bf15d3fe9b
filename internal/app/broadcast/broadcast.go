/*
Package broadcast relays room events between every server process of the gateway.

A Fabric publishes an event once and delivers it to every subscriber of the room in
every process, the publishing process included. Delivery is at-most-once and carries no
history: a subscriber only sees events published after its subscription was confirmed.
*/
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnavailable wraps every failure to reach the remote transport.
var ErrUnavailable = errors.New("broadcast fabric unavailable")

// ErrClosed is returned by a fabric after Close.
var ErrClosed = errors.New("broadcast fabric closed")

// Envelope is one event on the wire.
type Envelope struct {
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin,omitempty"`
}

// Handler receives the events of a subscribed room. It runs on the fabric's delivery
// goroutine and must not block.
type Handler func(Envelope)

// Subscription is a live room subscription.
type Subscription interface {
	Unsubscribe() error
}

// Fabric is the cross-process publish/subscribe transport for room events.
type Fabric interface {
	Publish(ctx context.Context, room, event string, payload any) error
	Subscribe(ctx context.Context, room string, handler Handler) (Subscription, error)
	Close() error
}

func encode(room, event, origin string, payload any) (Envelope, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	env := Envelope{Room: room, Event: event, Data: data, Origin: origin}
	raw, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("failed to marshal %s envelope: %w", event, err)
	}
	return env, raw, nil
}

func decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return env, nil
}
