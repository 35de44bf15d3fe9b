/*
Package chat contains the connection gateway: it binds authenticated WebSocket connections
to room scopes, drives each connection through its lifecycle and fans room events out to
the connections attached to this process.

This file defines the Client struct, representing an active WebSocket connection. It owns the
connection's send queue and its read and write loops.
*/
package chat

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 16384

	// capacity of the per-connection outbound queue.
	sendQueueSize = 256
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client struct represents an active WebSocket connection and its associated user.
type Client struct {
	// unique identifier of this connection.
	id string

	// authenticated identity, fixed at handshake.
	user user.User

	// name of the room scope the connection is bound to.
	room string

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// closed once the connection is shutting down; guards every enqueue.
	done      chan struct{}
	closeOnce sync.Once

	state atomic.Int32

	// structured logger with connection, user and room context.
	logger zerolog.Logger
}

// NewClient constructs a Client for a connection whose handshake was already authenticated.
func NewClient(conn *websocket.Conn, u user.User, room string) *Client {
	id := randx.ConnectionID()

	c := &Client{
		id:   id,
		user: u,
		room: room,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
		logger: logx.Component("chat.client").With().
			Str("conn_id", id).
			Str("user_id", u.ID).
			Str("room", room).
			Logger(),
	}
	c.setState(StateAuthenticated)

	return c
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// User returns the authenticated identity.
func (c *Client) User() user.User { return c.user }

// Room returns the name of the room scope.
func (c *Client) Room() string { return c.room }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	for {
		cur := c.state.Load()
		if State(cur) == StateClosed {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Done is closed once the connection starts shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close marks the connection closed. The write loop then sends a close frame and
// releases the socket, which in turn ends the read loop.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue queues a frame without blocking. It reports false when the connection is
// closed or its queue is full.
func (c *Client) enqueue(frame []byte) bool {
	if c.isClosed() {
		return false
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, dropping frame")
		return false
	}
}

// SendEvent queues a single event for this connection only.
func (c *Client) SendEvent(event string, payload any) bool {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("Failed to encode frame")
		return false
	}
	return c.enqueue(frame)
}

// SendError queues a chat:error built from customErr.
func (c *Client) SendError(customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}
	c.SendEvent(EventChatError, ErrorPayload{Code: customErr.Code, Message: customErr.Message})
}

// ReadPump reads frames until the connection fails or is closed, passing each decoded
// frame to handle. Frames are handled one at a time in receipt order.
func (c *Client) ReadPump(handle func(Frame)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return
		}

		if c.isClosed() {
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			c.logger.Warn().Err(err).Int("frame_bytes", len(data)).Msg("Client sent invalid frame")
			continue
		}

		handle(frame)
	}
}

// WritePump drains the send queue to the socket and keeps the heartbeat going.
// It owns the socket: it is the only writer and it closes the connection on exit.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Close()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}

		case <-c.done:
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing close message")
			}
			return
		}
	}
}

// write sends one message with a write deadline. Returns false if the loop should stop.
func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Info().Err(err).Msg("Error writing message")
		return false
	}

	return true
}
