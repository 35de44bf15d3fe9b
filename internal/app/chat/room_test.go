package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/app/broadcast"
	"relaychat/internal/app/user"
)

func newDetachedClient(userID, room string) *Client {
	return NewClient(nil, user.New(userID), room)
}

func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case raw := <-c.send:
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued frame")
		return Frame{}
	}
}

func envelope(t *testing.T, room, event string, payload any) broadcast.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return broadcast.Envelope{Room: room, Event: event, Data: data}
}

func TestRoom_FanOutIncludesEveryLocalConnection(t *testing.T) {
	cleanup := make(chan RoomCleanupMsg, 1)
	room := NewRoom("global", time.Minute, cleanup)
	go room.Run()
	t.Cleanup(room.Stop)

	alice := newDetachedClient("alice", "global")
	aliceTab := newDetachedClient("alice", "global")
	bob := newDetachedClient("bob", "global")
	for _, c := range []*Client{alice, aliceTab, bob} {
		require.True(t, room.Register(c))
	}

	room.Deliver(envelope(t, "global", EventChatMessage, ChatMessagePayload{User: "alice", Text: "hi", At: 1}))

	for _, c := range []*Client{alice, aliceTab, bob} {
		f := nextFrame(t, c)
		assert.Equal(t, EventChatMessage, f.Type)

		var p ChatMessagePayload
		require.NoError(t, json.Unmarshal(f.Payload, &p))
		assert.Equal(t, ChatMessagePayload{User: "alice", Text: "hi", At: 1}, p)
	}
}

func TestRoom_DropsClientWithFullQueue(t *testing.T) {
	room := NewRoom("global", time.Minute, make(chan RoomCleanupMsg, 1))
	go room.Run()
	t.Cleanup(room.Stop)

	slow := newDetachedClient("slow", "global")
	fast := newDetachedClient("fast", "global")
	require.True(t, room.Register(slow))
	require.True(t, room.Register(fast))

	for i := 0; i < sendQueueSize; i++ {
		require.True(t, slow.enqueue([]byte(`{}`)))
	}

	room.Deliver(envelope(t, "global", EventUserOnline, UserEventPayload{UserID: "x"}))

	assert.Equal(t, EventUserOnline, nextFrame(t, fast).Type)
	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow client was not closed")
	}
	assert.Equal(t, StateClosed, slow.State())
	assert.Eventually(t, func() bool { return room.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRoom_ShutsDownWhenIdle(t *testing.T) {
	cleanup := make(chan RoomCleanupMsg, 1)
	room := NewRoom("global", 50*time.Millisecond, cleanup)
	go room.Run()

	c := newDetachedClient("alice", "global")
	require.True(t, room.Register(c))
	room.Unregister(c)

	select {
	case msg := <-cleanup:
		assert.Same(t, room, msg.Room)
	case <-time.After(2 * time.Second):
		t.Fatal("idle room did not shut down")
	}

	assert.False(t, room.Register(newDetachedClient("bob", "global")))
	room.Deliver(envelope(t, "global", EventPing, nil))
}

func TestRoom_StopClosesClients(t *testing.T) {
	room := NewRoom("global", time.Minute, make(chan RoomCleanupMsg, 1))
	go room.Run()

	c := newDetachedClient("alice", "global")
	require.True(t, room.Register(c))

	room.Stop()
	<-room.Stopped()

	assert.Equal(t, StateClosed, c.State())
	assert.False(t, c.SendEvent(EventPong, nil), "closed clients discard late results")
}

func TestManager_RecreatesRoomAfterIdleShutdown(t *testing.T) {
	fabric := broadcast.NewLocal("node-1")
	m := NewManager(fabric, 50*time.Millisecond)
	t.Cleanup(m.Shutdown)
	ctx := context.Background()

	first := newDetachedClient("alice", "global")
	room, err := m.Join(ctx, first)
	require.NoError(t, err)
	room.Unregister(first)

	select {
	case <-room.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("idle room did not stop")
	}

	second := newDetachedClient("bob", "global")
	fresh, err := m.Join(ctx, second)
	require.NoError(t, err)
	assert.NotSame(t, room, fresh)

	require.NoError(t, fabric.Publish(ctx, "global", EventUserOnline, UserEventPayload{UserID: "bob"}))
	f := nextFrame(t, second)
	assert.Equal(t, EventUserOnline, f.Type)

	select {
	case raw := <-first.send:
		t.Fatalf("stale client received %s", raw)
	default:
	}
}

func TestManager_ShutdownRejectsJoins(t *testing.T) {
	m := NewManager(broadcast.NewLocal("node-1"), time.Minute)

	c := newDetachedClient("alice", "global")
	_, err := m.Join(context.Background(), c)
	require.NoError(t, err)

	m.Shutdown()
	assert.Equal(t, StateClosed, c.State())

	_, err = m.Join(context.Background(), newDetachedClient("bob", "global"))
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManager_ShutdownWithManyClients(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		m := NewManager(broadcast.NewLocal("node-1"), time.Minute)

		clients := make([]*Client, 0, 200)
		for j := 0; j < 200; j++ {
			c := newDetachedClient(fmt.Sprintf("user-%d", j), fmt.Sprintf("room-%d", j%20))
			_, err := m.Join(ctx, c)
			require.NoError(t, err)
			clients = append(clients, c)
		}

		m.Shutdown()

		for _, c := range clients {
			require.Equal(t, StateClosed, c.State())
		}
	}
}

// blockingFabric holds Subscribe calls for one room until release is closed.
type blockingFabric struct {
	*broadcast.Local
	room    string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingFabric(room string) *blockingFabric {
	return &blockingFabric{
		Local:   broadcast.NewLocal("node-1"),
		room:    room,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (f *blockingFabric) Subscribe(ctx context.Context, room string, handler broadcast.Handler) (broadcast.Subscription, error) {
	if room == f.room {
		f.once.Do(func() { close(f.entered) })
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.Local.Subscribe(ctx, room, handler)
}

func waitEntered(t *testing.T, f *blockingFabric) {
	t.Helper()
	select {
	case <-f.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never started")
	}
}

func TestManager_SlowSubscribeOnlyStallsItsRoom(t *testing.T) {
	fabric := newBlockingFabric("stuck")
	m := NewManager(fabric, time.Minute)
	t.Cleanup(m.Shutdown)
	release := sync.OnceFunc(func() { close(fabric.release) })
	t.Cleanup(release)
	ctx := context.Background()

	stuck := make(chan error, 2)
	go func() {
		_, err := m.Join(ctx, newDetachedClient("alice", "stuck"))
		stuck <- err
	}()
	waitEntered(t, fabric)

	go func() {
		_, err := m.Join(ctx, newDetachedClient("bob", "stuck"))
		stuck <- err
	}()

	lobby := make(chan error, 1)
	go func() {
		_, err := m.Join(ctx, newDetachedClient("carol", "lobby"))
		lobby <- err
	}()

	select {
	case err := <-lobby:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("join to another room waited on a slow subscription")
	}

	select {
	case err := <-stuck:
		t.Fatalf("joined before the room's subscription settled: %v", err)
	default:
	}

	release()
	for i := 0; i < 2; i++ {
		select {
		case err := <-stuck:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("join did not finish after the subscription settled")
		}
	}
}

func TestManager_ShutdownDoesNotWaitForPendingSubscribe(t *testing.T) {
	fabric := newBlockingFabric("stuck")
	m := NewManager(fabric, time.Minute)
	ctx := context.Background()

	joined := make(chan error, 1)
	go func() {
		_, err := m.Join(ctx, newDetachedClient("alice", "stuck"))
		joined <- err
	}()
	waitEntered(t, fabric)

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown waited on a pending subscription")
	}

	close(fabric.release)
	select {
	case err := <-joined:
		assert.ErrorIs(t, err, ErrManagerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending join never returned")
	}
}
