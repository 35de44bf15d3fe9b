package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"relaychat/internal/app/broadcast"
	"relaychat/internal/app/message"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

// maxEchoedEventName bounds how much of an unknown event name is echoed back in chat:error.
const maxEchoedEventName = 64

// PresenceStore tracks per-user connection counters and the online set of a room.
type PresenceStore interface {
	Increment(ctx context.Context, room, userID string) error
	Decrement(ctx context.Context, room, userID string) (bool, error)
	ListOnline(ctx context.Context, room string) ([]string, error)
	Connections(ctx context.Context, room, userID string) (int64, error)
}

// RateLimiter decides whether a user may send another message.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// MessageStore persists messages and returns recent history.
type MessageStore interface {
	Append(ctx context.Context, room, userID, content string) (message.Message, error)
	Recent(ctx context.Context, room string, limit int) ([]message.Message, error)
}

// Config holds the gateway's tunables.
type Config struct {
	// HistoryLimit bounds the history replayed on join.
	HistoryLimit int

	// MaxContentBytes bounds the trimmed text of a chat message.
	MaxContentBytes int

	// RoomInactivityTimeout is how long an empty local room scope keeps running.
	RoomInactivityTimeout time.Duration
}

// Deps are the shared collaborators of the gateway.
type Deps struct {
	Presence PresenceStore
	Limiter  RateLimiter
	Messages MessageStore
	Fabric   broadcast.Fabric
}

// Gateway drives every connection of this process from join to teardown.
type Gateway struct {
	manager  *Manager
	presence PresenceStore
	limiter  RateLimiter
	messages MessageStore
	fabric   broadcast.Fabric
	config   Config

	// collapses concurrent history view reads of the same room and limit.
	historyViews singleflight.Group

	// tracks connections until their teardown has finished.
	mu      sync.Mutex
	closing bool
	conns   sync.WaitGroup

	logger zerolog.Logger
}

// NewGateway wires a Gateway and the Manager of its local room scopes.
func NewGateway(deps Deps, cfg Config) *Gateway {
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}

	return &Gateway{
		manager:  NewManager(deps.Fabric, cfg.RoomInactivityTimeout),
		presence: deps.Presence,
		limiter:  deps.Limiter,
		messages: deps.Messages,
		fabric:   deps.Fabric,
		config:   cfg,
		logger:   logx.Component("chat.gateway"),
	}
}

// Shutdown closes every connection of this process and waits until their teardown
// (presence decrement and offline broadcast) has run, or ctx is done.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	g.manager.Shutdown()

	done := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connections still tearing down: %w", ctx.Err())
	}
}

// activation records the outcome of a connection's join steps.
type activation struct {
	done        chan struct{}
	incremented bool
}

// Serve runs the lifecycle of an authenticated connection and returns once it is closed
// and torn down.
func (g *Gateway) Serve(ctx context.Context, c *Client) {
	go c.WritePump()

	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		c.Close()
		return
	}
	g.conns.Add(1)
	g.mu.Unlock()
	defer g.conns.Done()

	room, err := g.manager.Join(ctx, c)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to join room scope.")
		c.SendError(errs.NewError(errs.ErrUnknown))
		c.Close()
		return
	}
	c.setState(StateJoined)

	act := &activation{done: make(chan struct{})}
	go g.activate(ctx, c, act)

	c.ReadPump(func(f Frame) {
		g.handleFrame(ctx, c, act, f)
	})

	room.Unregister(c)
	g.deactivate(context.WithoutCancel(ctx), c, act)
}

// activate replays history to the connection and announces the user, in parallel.
// Each step fails on its own; neither suppresses the other.
func (g *Gateway) activate(ctx context.Context, c *Client, act *activation) {
	defer close(act.done)

	var (
		wg                      sync.WaitGroup
		historyErr, presenceErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		historyErr = g.replayHistory(ctx, c)
	}()
	go func() {
		defer wg.Done()
		act.incremented, presenceErr = g.announceOnline(ctx, c)
	}()
	wg.Wait()

	c.setState(StateActive)

	if err := multierr.Combine(historyErr, presenceErr); err != nil {
		c.logger.Warn().Err(err).Msg("Connection activated in degraded state.")
	}
}

// replayHistory reads the room's history for this connection alone. The read starts after
// the connection registered, so every message is either in the replay or in the live stream.
func (g *Gateway) replayHistory(ctx context.Context, c *Client) error {
	msgs, err := g.messages.Recent(ctx, c.Room(), g.config.HistoryLimit)
	if err != nil {
		return fmt.Errorf("history replay: %w", err)
	}
	c.SendEvent(EventChatHistory, HistoryPayload(msgs))
	return nil
}

func (g *Gateway) announceOnline(ctx context.Context, c *Client) (bool, error) {
	room, userID := c.Room(), c.User().ID

	if err := g.presence.Increment(ctx, room, userID); err != nil {
		return false, fmt.Errorf("presence increment: %w", err)
	}

	g.publish(ctx, room, EventUserOnline, UserEventPayload{UserID: userID})
	g.publishPresence(ctx, room)
	return true, nil
}

// deactivate waits for activation so a decrement never overtakes its increment.
func (g *Gateway) deactivate(ctx context.Context, c *Client, act *activation) {
	<-act.done

	room, userID := c.Room(), c.User().ID

	if act.incremented {
		offline, err := g.presence.Decrement(ctx, room, userID)
		switch {
		case err != nil:
			c.logger.Error().Err(err).Msg("Presence decrement failed during teardown.")
		case offline:
			g.publish(ctx, room, EventUserOffline, UserEventPayload{UserID: userID})
		}
	}

	g.publishPresence(ctx, room)
	c.logger.Info().Msg("Connection torn down.")
}

func (g *Gateway) publish(ctx context.Context, room, event string, payload any) {
	if err := g.fabric.Publish(ctx, room, event, payload); err != nil {
		g.logger.Error().Err(err).
			Str("room", room).
			Str("event", event).
			Msg("Failed to publish room event.")
	}
}

func (g *Gateway) publishPresence(ctx context.Context, room string) {
	online, err := g.presence.ListOnline(ctx, room)
	if err != nil {
		g.logger.Error().Err(err).Str("room", room).Msg("Failed to read online set. Skipping presence update.")
		return
	}
	if online == nil {
		online = []string{}
	}
	g.publish(ctx, room, EventPresenceUpdate, PresencePayload{OnlineUsers: online})
}

func (g *Gateway) handleFrame(ctx context.Context, c *Client, act *activation, f Frame) {
	switch f.Type {
	case EventChatMessage:
		select {
		case <-act.done:
		case <-c.Done():
			return
		}
		g.HandleChatMessage(ctx, c, f.Payload)

	case EventPing:
		c.SendEvent(EventPong, nil)

	default:
		name := f.Type
		if len(name) > maxEchoedEventName {
			name = name[:maxEchoedEventName]
		}
		c.logger.Warn().Str("event", name).Msg("Client sent unsupported event")
		c.SendError(errs.NewError(errs.ErrUnsupportedEvent, name))
	}
}

// HandleChatMessage validates, rate limits, persists and publishes one inbound message.
func (g *Gateway) HandleChatMessage(ctx context.Context, c *Client, payload json.RawMessage) {
	u := c.User()
	if u.IsZero() {
		c.SendError(errs.NewError(errs.ErrUnauthenticated))
		return
	}

	var in InboundChatPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid chat:message payload")
		return
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return
	}

	if len(text) > g.config.MaxContentBytes {
		c.SendError(errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	allowed, err := g.limiter.Allow(ctx, u.ID)
	switch {
	case err != nil:
		c.logger.Warn().Err(err).Msg("Rate limiter unavailable. Allowing message.")
	case !allowed:
		c.SendError(errs.NewError(errs.ErrRateLimitExceeded))
		return
	}

	msg, err := g.messages.Append(ctx, c.Room(), u.ID, text)
	if err != nil {
		if errors.Is(err, message.ErrEmptyContent) {
			return
		}
		c.logger.Error().Err(err).Msg("Failed to persist chat message.")
		c.SendError(errs.NewError(errs.ErrMessagePersistFailed))
		return
	}

	g.publish(ctx, c.Room(), EventChatMessage, NewChatMessagePayload(msg))
}

// History returns at most limit recent messages of room, oldest first. A limit outside
// (0, HistoryLimit] is clamped to HistoryLimit. Concurrent calls for the same room and
// limit share one store read.
func (g *Gateway) History(ctx context.Context, room string, limit int) ([]ChatMessagePayload, error) {
	if limit <= 0 || limit > g.config.HistoryLimit {
		limit = g.config.HistoryLimit
	}

	key := fmt.Sprintf("%s:%d", room, limit)
	v, err, _ := g.historyViews.Do(key, func() (any, error) {
		msgs, err := g.messages.Recent(ctx, room, limit)
		if err != nil {
			return nil, err
		}
		return HistoryPayload(msgs), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ChatMessagePayload), nil
}

// Online returns the online set of room.
func (g *Gateway) Online(ctx context.Context, room string) ([]string, error) {
	return g.presence.ListOnline(ctx, room)
}

// Connections returns how many live connections userID has in room across all processes.
func (g *Gateway) Connections(ctx context.Context, room, userID string) (int64, error) {
	return g.presence.Connections(ctx, room, userID)
}
