package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"relaychat/internal/pkg/logx"
)

const flushTimeout = 5 * time.Second

// NATS relays events over core NATS subjects, one subject per room.
type NATS struct {
	conn   *nats.Conn
	prefix string
	origin string
	logger zerolog.Logger
}

// ConnectNATS dials the NATS server at url with reconnects enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	logger := logx.Component("broadcast.nats")

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("Disconnected from NATS.")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS.")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrUnavailable, url, err)
	}
	return nc, nil
}

// NewNATS returns a fabric publishing on subjects named "<prefix>.<room>".
// Close drains conn.
func NewNATS(conn *nats.Conn, prefix, origin string) *NATS {
	if prefix == "" {
		prefix = "chat.room"
	}
	return &NATS{
		conn:   conn,
		prefix: prefix,
		origin: origin,
		logger: logx.Component("broadcast.nats"),
	}
}

func (f *NATS) subject(room string) string {
	return f.prefix + "." + room
}

// Publish sends the event to every process subscribed to the room.
func (f *NATS) Publish(_ context.Context, room, event string, payload any) error {
	_, raw, err := encode(room, event, f.origin, payload)
	if err != nil {
		return err
	}
	if err := f.conn.Publish(f.subject(room), raw); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrUnavailable, event, err)
	}
	return nil
}

// Subscribe registers handler and flushes so the server knows the interest before
// Subscribe returns.
func (f *NATS) Subscribe(ctx context.Context, room string, handler Handler) (Subscription, error) {
	subject := f.subject(room)
	logger := f.logger.With().Str("subject", subject).Logger()

	sub, err := f.conn.Subscribe(subject, func(msg *nats.Msg) {
		env, err := decode(msg.Data)
		if err != nil {
			logger.Warn().Err(err).Msg("Dropping undecodable room event.")
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, subject, err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	if err := f.conn.FlushWithContext(flushCtx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%w: flush %s: %v", ErrUnavailable, subject, err)
	}

	return sub, nil
}

// Close drains pending messages and closes the connection.
func (f *NATS) Close() error {
	if f.conn.IsClosed() {
		return nil
	}
	return f.conn.Drain()
}
