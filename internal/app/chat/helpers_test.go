package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/app/message"
	"relaychat/internal/app/presence"
	"relaychat/internal/app/ratelimit"
	"relaychat/internal/app/user"
)

const frameTimeout = 3 * time.Second

var testConfig = Config{
	HistoryLimit:          50,
	MaxContentBytes:       5000,
	RoomInactivityTimeout: time.Minute,
}

// startGateway serves gw over an httptest server. The user id comes from the "user" query
// parameter; authentication is the handler package's concern.
func startGateway(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		room := r.URL.Query().Get("room")
		if room == "" {
			room = "global"
		}
		gw.Serve(r.Context(), NewClient(conn, user.New(r.URL.Query().Get("user")), room))
	}))

	t.Cleanup(func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		assert.NoError(t, gw.Shutdown(shutdownCtx))
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + url.QueryEscape(userID)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()

	frame := map[string]any{"type": event}
	if payload != nil {
		frame["payload"] = payload
	}
	require.NoError(t, conn.WriteJSON(frame))
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	send(t, conn, EventChatMessage, InboundChatPayload{Text: text})
}

func read(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(frameTimeout)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// waitFor reads frames until one of type event satisfies match, skipping the rest.
func waitFor(t *testing.T, conn *websocket.Conn, event string, match func(Frame) bool) Frame {
	t.Helper()

	deadline := time.Now().Add(frameTimeout)
	for time.Now().Before(deadline) {
		f := read(t, conn)
		if f.Type == event && (match == nil || match(f)) {
			return f
		}
	}
	t.Fatalf("no %s frame within %s", event, frameTimeout)
	return Frame{}
}

func decode[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	return v
}

func onlineIs(t *testing.T, users ...string) func(Frame) bool {
	return func(f Frame) bool {
		got := decode[PresencePayload](t, f).OnlineUsers
		if len(got) != len(users) {
			return false
		}
		for i := range users {
			if got[i] != users[i] {
				return false
			}
		}
		return true
	}
}

func newMessageStore(t *testing.T) *message.SQLiteStore {
	t.Helper()
	store, err := message.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type downPresence struct{}

func (downPresence) Increment(context.Context, string, string) error {
	return presence.ErrUnavailable
}

func (downPresence) Decrement(context.Context, string, string) (bool, error) {
	return false, presence.ErrUnavailable
}

func (downPresence) ListOnline(context.Context, string) ([]string, error) {
	return nil, presence.ErrUnavailable
}

func (downPresence) Connections(context.Context, string, string) (int64, error) {
	return 0, presence.ErrUnavailable
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (l stubLimiter) Allow(context.Context, string) (bool, error) {
	return l.allowed, l.err
}

var _ RateLimiter = (*ratelimit.Limiter)(nil)
var _ PresenceStore = (*presence.Store)(nil)

type failingStore struct{}

func (failingStore) Append(context.Context, string, string, string) (message.Message, error) {
	return message.Message{}, message.ErrPersistence
}

func (failingStore) Recent(context.Context, string, int) ([]message.Message, error) {
	return nil, message.ErrPersistence
}

var (
	_ MessageStore = (*message.SQLiteStore)(nil)
	_ MessageStore = (*message.PostgresStore)(nil)
)
