/*
Package chat contains the connection gateway: it binds authenticated WebSocket connections
to room scopes, drives each connection through its lifecycle and fans room events out to
the connections attached to this process.

This file defines the Manager struct, which owns the local room scopes of this process.
It creates a room on first use, subscribes it to the broadcast fabric, and tears the
subscription down when the room shuts down.
*/
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/app/broadcast"
	"relaychat/internal/pkg/logx"
)

// ErrManagerClosed is returned when joining after Shutdown.
var ErrManagerClosed = errors.New("chat manager is shut down")

// Manager struct is responsible for coordinating and managing all local room scopes.
type Manager struct {
	// rooms stores every running Room, keyed by name.
	rooms map[string]*Room

	// fabric delivers room events published by any process.
	fabric broadcast.Fabric

	// how long an empty room keeps running.
	inactivityTimeout time.Duration

	// mu protects concurrent access to the rooms map.
	mu sync.Mutex

	closed bool

	// the channel used by Rooms to notify the Manager to clean up and remove them.
	cleanup chan RoomCleanupMsg

	// wg is used to wait for the runCleanupLoop goroutine to finish during shutdown.
	wg sync.WaitGroup

	// structured logger with Manager context.
	logger zerolog.Logger
}

// NewManager constructs and returns a new Manager instance.
func NewManager(fabric broadcast.Fabric, inactivityTimeout time.Duration) *Manager {
	m := &Manager{
		rooms:             make(map[string]*Room),
		fabric:            fabric,
		inactivityTimeout: inactivityTimeout,
		cleanup:           make(chan RoomCleanupMsg, 10),
		logger:            logx.Component("chat.manager"),
	}

	m.wg.Add(1)
	go m.runCleanupLoop()

	return m
}

// runCleanupLoop removes rooms whose Run loop has exited.
func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	m.logger.Info().Msg("Cleanup loop started.")

	for msg := range m.cleanup {
		m.deleteRoom(msg.Room)
	}

	m.logger.Info().Msg("Cleanup loop stopped.")
}

// deleteRoom forgets room if it is still the current scope for its name and ends its
// fabric subscription.
func (m *Manager) deleteRoom(room *Room) {
	m.mu.Lock()
	if current, ok := m.rooms[room.Name]; ok && current == room {
		delete(m.rooms, room.Name)
	}
	m.mu.Unlock()

	m.unsubscribe(room)
}

func (m *Manager) unsubscribe(room *Room) {
	room.releaseOnce.Do(func() {
		if room.subscription == nil {
			return
		}
		if err := room.subscription.Unsubscribe(); err != nil {
			m.logger.Warn().Err(err).Str("room", room.Name).Msg("Failed to unsubscribe room from broadcast fabric.")
			return
		}
		m.logger.Info().Str("room", room.Name).Msg("Room successfully removed.")
	})
}

// getOrCreateRoom returns the running Room for name, creating and subscribing it if needed.
// The fabric subscription runs outside m.mu so a slow broker only holds up joins to the
// room being created.
func (m *Manager) getOrCreateRoom(ctx context.Context, name string) (*Room, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}

	var stale *Room
	if room, ok := m.rooms[name]; ok {
		select {
		case <-room.Stopped():
			delete(m.rooms, name)
			stale = room
		default:
			m.mu.Unlock()
			return m.awaitReady(ctx, room)
		}
	}

	room := NewRoom(name, m.inactivityTimeout, m.cleanup)
	m.rooms[name] = room
	m.mu.Unlock()

	if stale != nil {
		m.unsubscribe(stale)
	}

	sub, err := m.fabric.Subscribe(ctx, name, room.Deliver)
	if err != nil {
		err = fmt.Errorf("failed to subscribe room %q: %w", name, err)

		m.mu.Lock()
		if m.rooms[name] == room {
			delete(m.rooms, name)
		}
		m.mu.Unlock()

		room.abort(err)
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Warn().Err(err).Str("room", name).Msg("Failed to unsubscribe room from broadcast fabric.")
		}
		room.abort(ErrManagerClosed)
		return nil, ErrManagerClosed
	}
	room.subscription = sub
	go room.Run()
	close(room.ready)
	m.mu.Unlock()

	m.logger.Info().Str("room", name).Msg("New Room created and started.")
	return room, nil
}

// awaitReady waits for another caller to finish subscribing room.
func (m *Manager) awaitReady(ctx context.Context, room *Room) (*Room, error) {
	select {
	case <-room.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if room.readyErr != nil {
		return nil, room.readyErr
	}
	return room, nil
}

// Join attaches client to its room scope, creating the scope on first use.
func (m *Manager) Join(ctx context.Context, client *Client) (*Room, error) {
	for {
		room, err := m.getOrCreateRoom(ctx, client.Room())
		if err != nil {
			return nil, err
		}
		if room.Register(client) {
			return room, nil
		}
		// The room timed out between lookup and registration; take a fresh one.
	}
}

// Shutdown stops all rooms, which closes their connections, and waits for the cleanup
// loop to release every fabric subscription.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down Manager...")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	// Rooms still subscribing are aborted by their creator once it sees m.closed;
	// they never run, so only running rooms are waited for.
	running := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		select {
		case <-room.ready:
			running = append(running, room)
		default:
		}
	}
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, room := range running {
		room.Stop()
		<-room.Stopped()
	}

	close(m.cleanup)
	m.wg.Wait()

	for _, room := range running {
		m.unsubscribe(room)
	}

	m.logger.Info().Msg("Manager shutdown complete.")
}
