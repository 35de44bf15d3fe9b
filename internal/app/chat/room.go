/*
Package chat contains the connection gateway: it binds authenticated WebSocket connections
to room scopes, drives each connection through its lifecycle and fans room events out to
the connections attached to this process.

This file defines the Room struct, the local fan-out hub of one room on this process.
It tracks the room's local connections, forwards every event the broadcast fabric delivers
for the room to all of them, and shuts itself down after a period without connections.
*/
package chat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/app/broadcast"
	"relaychat/internal/pkg/logx"
)

const deliverChannelBuffer = 1024

// RoomInactivityTimeout is the duration after which an empty room scope shuts down.
// Presence and history live in the shared stores, so nothing is lost.
const RoomInactivityTimeout = 5 * time.Minute

// RoomCleanupMsg asks the Manager to forget a room whose Run loop has exited.
type RoomCleanupMsg struct {
	Room *Room
}

// Room struct represents the local scope of one room on this process.
type Room struct {
	// name of the room.
	Name string

	// connections attached to this process, keyed by connection id.
	clients map[string]*Client

	// events delivered by the broadcast fabric, waiting to be fanned out.
	deliver chan broadcast.Envelope

	// a channel for clients requesting to join the room.
	register chan *Client

	// a channel for clients requesting to leave the room.
	unregister chan *Client

	// a write-only channel used to notify the Manager to clean up this room.
	cleanupChan chan<- RoomCleanupMsg

	// closed to ask the Run loop to stop.
	stopChan chan struct{}
	stopOnce sync.Once

	// closed once the Run loop has exited.
	stopped chan struct{}

	// closed once the fabric subscription is settled; readyErr is set if it failed.
	ready    chan struct{}
	readyErr error

	// the fabric subscription feeding this room; owned by the Manager.
	subscription broadcast.Subscription
	releaseOnce  sync.Once

	// mu protects access to the clients map.
	mu sync.RWMutex

	inactivityTimeout time.Duration

	// structured logger with room context.
	logger zerolog.Logger
}

// NewRoom creates and initializes a new Room instance.
func NewRoom(name string, inactivityTimeout time.Duration, cleanupChan chan<- RoomCleanupMsg) *Room {
	if inactivityTimeout <= 0 {
		inactivityTimeout = RoomInactivityTimeout
	}

	return &Room{
		Name:              name,
		clients:           make(map[string]*Client),
		deliver:           make(chan broadcast.Envelope, deliverChannelBuffer),
		register:          make(chan *Client),
		unregister:        make(chan *Client),
		cleanupChan:       cleanupChan,
		stopChan:          make(chan struct{}),
		stopped:           make(chan struct{}),
		ready:             make(chan struct{}),
		inactivityTimeout: inactivityTimeout,
		logger:            logx.Component("chat.room").With().Str("room", name).Logger(),
	}
}

// Stop sends a signal to terminate the Room's Run loop.
func (r *Room) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info().Msg("Received stop signal. Stopping room.")
		close(r.stopChan)
	})
}

// Stopped is closed once the Run loop has exited.
func (r *Room) Stopped() <-chan struct{} {
	return r.stopped
}

// abort settles a room whose Run loop never started.
func (r *Room) abort(err error) {
	r.readyErr = err
	close(r.ready)
	close(r.stopped)
}

// Deliver hands an event from the broadcast fabric to the Run loop without blocking.
// It is the room's broadcast.Handler.
func (r *Room) Deliver(env broadcast.Envelope) {
	select {
	case <-r.stopped:
		return
	default:
	}

	select {
	case r.deliver <- env:
	case <-r.stopped:
	default:
		r.logger.Warn().Str("event", env.Event).Msg("Deliver channel full. Dropping room event.")
	}
}

// Register attaches a client. It returns false if the room has already shut down.
func (r *Room) Register(client *Client) bool {
	select {
	case r.register <- client:
		return true
	case <-r.stopped:
		return false
	}
}

// Unregister detaches a client. It is a no-op once the room has shut down.
func (r *Room) Unregister(client *Client) {
	select {
	case r.unregister <- client:
	case <-r.stopped:
	}
}

// ClientCount returns the number of connections attached on this process.
func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Run starts the main event loop for the Room.
// It handles client registration, deregistration, event fan-out and room shutdown.
func (r *Room) Run() {
	shutdownTimer := time.NewTimer(r.inactivityTimeout)

	// The cleanup notification must precede close(r.stopped): Manager.Shutdown closes
	// the cleanup channel as soon as every room reports stopped.
	defer func() {
		shutdownTimer.Stop()

		r.mu.Lock()
		for id, client := range r.clients {
			client.Close()
			delete(r.clients, id)
		}
		r.mu.Unlock()

		select {
		case r.cleanupChan <- RoomCleanupMsg{Room: r}:
			r.logger.Info().Msg("Sent cleanup notification to Manager.")
		default:
			r.logger.Warn().Msg("Manager cleanup channel blocked/full. Skipping cleanup notification.")
		}

		close(r.stopped)
	}()

	for {
		select {
		case client := <-r.register:
			r.mu.Lock()
			r.clients[client.ID()] = client
			total := len(r.clients)
			r.mu.Unlock()

			if !shutdownTimer.Stop() {
				select {
				case <-shutdownTimer.C:
				default:
				}
			}

			r.logger.Info().
				Str("conn_id", client.ID()).
				Str("user_id", client.User().ID).
				Int("local_connections", total).
				Msg("Client joined room.")

		case client := <-r.unregister:
			r.mu.Lock()
			if _, ok := r.clients[client.ID()]; ok {
				delete(r.clients, client.ID())
				r.logger.Info().
					Str("conn_id", client.ID()).
					Str("user_id", client.User().ID).
					Int("local_connections", len(r.clients)).
					Msg("Client left room.")
			}
			empty := len(r.clients) == 0
			r.mu.Unlock()

			if empty {
				shutdownTimer.Reset(r.inactivityTimeout)
			}

		case env := <-r.deliver:
			r.fanOut(env)

		case <-shutdownTimer.C:
			if r.ClientCount() > 0 {
				continue
			}
			r.logger.Info().Msgf("Room inactivity timeout (%s) reached. Shutting down Room.Run() loop.", r.inactivityTimeout)
			return

		case <-r.stopChan:
			r.logger.Info().Msg("Room forced stop initiated.")
			return
		}
	}
}

// fanOut queues env on every local connection, the sender's included. A connection whose
// queue is full is dropped rather than allowed to stall the room.
func (r *Room) fanOut(env broadcast.Envelope) {
	frame, err := encodeFrame(env.Event, env.Data)
	if err != nil {
		r.logger.Error().Err(err).Str("event", env.Event).Msg("Error encoding room event.")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, client := range r.clients {
		if client.enqueue(frame) {
			continue
		}

		r.logger.Warn().
			Str("conn_id", id).
			Str("user_id", client.User().ID).
			Msg("Client send queue full or closed, dropping client.")

		delete(r.clients, id)
		client.Close()
	}
}
