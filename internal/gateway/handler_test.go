package gateway

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eventflow/realtime/internal/presence"
	"github.com/eventflow/realtime/internal/protocol"
	"github.com/eventflow/realtime/internal/router"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notifierFunc func(ctx context.Context, c presence.Change) error

func (f notifierFunc) Notify(ctx context.Context, c presence.Change) error { return f(ctx, c) }

type tokenAuth map[string]string

func (a tokenAuth) Verify(token, userID string) error {
	if a[userID] != token {
		return errors.New("bad token")
	}
	return nil
}

type recordingRelay struct {
	mu   sync.Mutex
	envs []router.Envelope
}

func (r *recordingRelay) Publish(_ context.Context, env router.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return nil
}

func (r *recordingRelay) envelopes() []router.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]router.Envelope(nil), r.envs...)
}

type testGateway struct {
	svc    *presence.Service
	hub    *Hub
	relay  *recordingRelay
	server *httptest.Server
}

func newTestGateway(t *testing.T, opts ...HandlerOption) *testGateway {
	t.Helper()
	g := &testGateway{relay: &recordingRelay{}}
	g.hub = NewHub(NewRegistry(), nil, g.relay)
	g.svc = presence.NewService(presence.NewMemoryStore(),
		presence.WithNotifier(notifierFunc(func(_ context.Context, c presence.Change) error {
			g.hub.NotifyPresence(c)
			return nil
		})))
	g.server = httptest.NewServer(NewHandler(g.hub, g.svc, opts...))
	t.Cleanup(func() {
		g.hub.Shutdown()
		g.server.Close()
		_ = g.svc.Destroy()
	})
	return g
}

func (g *testGateway) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	return dialServer(t, g.server)
}

func dialServer(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func userSessions(r *Registry, userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions[userID] {
		out = append(out, s)
	}
	return out
}

func (g *testGateway) connect(t *testing.T, userID string) (*websocket.Conn, string) {
	t.Helper()
	conn := g.dial(t)
	send(t, conn, protocol.Auth(userID, "token-"+userID))
	f := readFrame(t, conn)
	require.Equal(t, protocol.TypeAuthOK, f.Type)
	require.Equal(t, userID, f.UserID)
	require.NotEmpty(t, f.SocketID)
	return conn, f.SocketID
}

func send(t *testing.T, conn *websocket.Conn, f protocol.Frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := protocol.Decode(data)
	require.NoError(t, err)
	return f
}

// expectNoFrame leaves conn unusable for further reads.
func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	assert.Error(t, err, "unexpected frame: %s", data)
}

func expectAuthClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	f := readFrame(t, conn)
	assert.Equal(t, protocol.TypeAuthError, f.Type)

	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, protocol.CloseAuthFailed, ce.Code)
}

func TestHandshakeMarksUserOnline(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	conn, _ := g.connect(t, "alice")
	assert.True(t, g.svc.IsOnline(ctx, "alice"))
	assert.Equal(t, 1, g.hub.Registry().Count())

	conn.Close()
	assert.Eventually(t, func() bool {
		return !g.svc.IsOnline(ctx, "alice")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, g.hub.Registry().Count())
}

func TestTwoSocketsForOneUser(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	first, id1 := g.connect(t, "alice")
	_, id2 := g.connect(t, "alice")
	assert.NotEqual(t, id1, id2)

	first.Close()
	assert.Eventually(t, func() bool {
		return len(userSessions(g.hub.Registry(), "alice")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, g.svc.IsOnline(ctx, "alice"), "the second socket keeps alice online")
}

func TestHandshakeRejections(t *testing.T) {
	tests := []struct {
		name  string
		frame protocol.Frame
	}{
		{name: "join before auth", frame: protocol.Join("room1")},
		{name: "missing user", frame: protocol.Auth("", "token-")},
		{name: "wrong token", frame: protocol.Auth("alice", "stolen")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, WithAuthenticator(tokenAuth{"alice": "token-alice"}))
			conn := g.dial(t)
			send(t, conn, tt.frame)
			expectAuthClose(t, conn)

			assert.Equal(t, 0, g.hub.Registry().Count())
			assert.Empty(t, g.svc.GetOnlineUsers(context.Background()))
		})
	}
}

func TestHandshakeTimeout(t *testing.T) {
	g := newTestGateway(t, WithHandshakeTimeout(50*time.Millisecond))
	conn := g.dial(t)
	expectAuthClose(t, conn)
}

func TestJoinIsIdempotentAndLeaveUnknownIsNoop(t *testing.T) {
	g := newTestGateway(t)
	conn, _ := g.connect(t, "alice")

	send(t, conn, protocol.Join("room1"))
	assert.Equal(t, protocol.Joined("room1"), readFrame(t, conn))
	send(t, conn, protocol.Join("room1"))
	assert.Equal(t, protocol.Joined("room1"), readFrame(t, conn))

	assert.Len(t, g.hub.Registry().RoomSessions("room1"), 1)
	joins := 0
	for _, env := range g.relay.envelopes() {
		if env.Membership == router.MemberJoined {
			joins++
		}
	}
	assert.Equal(t, 1, joins, "a repeated join is not relayed again")

	send(t, conn, protocol.Leave("elsewhere"))
	assert.Equal(t, protocol.Left("elsewhere"), readFrame(t, conn))

	send(t, conn, protocol.Frame{Type: protocol.TypeJoin})
	assert.Equal(t, protocol.TypeError, readFrame(t, conn).Type)
}

func TestTypingRelayedToOthersOnly(t *testing.T) {
	g := newTestGateway(t)
	alice, aliceSocket := g.connect(t, "alice")
	bob, _ := g.connect(t, "bob")

	for _, c := range []*websocket.Conn{alice, bob} {
		send(t, c, protocol.Join("room1"))
		require.Equal(t, protocol.TypeJoined, readFrame(t, c).Type)
	}

	send(t, alice, protocol.Frame{Type: protocol.TypeTyping, ConversationID: "room1", IsTyping: true, UserID: "mallory"})
	got := readFrame(t, bob)
	assert.Equal(t, protocol.Typing("room1", "alice", true), got, "sender identity comes from the session")

	var relayed *router.Envelope
	for _, env := range g.relay.envelopes() {
		if env.Frame != nil {
			env := env
			relayed = &env
		}
	}
	require.NotNil(t, relayed)
	assert.Equal(t, aliceSocket, relayed.ExceptSocket)

	expectNoFrame(t, alice)
}

func TestTypingOutsideRoomIsRejected(t *testing.T) {
	g := newTestGateway(t)
	conn, _ := g.connect(t, "alice")

	send(t, conn, protocol.Typing("room1", "", true))
	f := readFrame(t, conn)
	assert.Equal(t, protocol.TypeError, f.Type)
	assert.Equal(t, "not in conversation", f.Message)
}

func TestHeartbeatFrameRefreshesPresence(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	hub := NewHub(NewRegistry(), nil, nil)
	svc := presence.NewService(presence.NewMemoryStore(), presence.WithClock(now))
	server := httptest.NewServer(NewHandler(hub, svc))
	t.Cleanup(func() {
		hub.Shutdown()
		server.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	send(t, conn, protocol.Auth("alice", ""))
	require.Equal(t, protocol.TypeAuthOK, readFrame(t, conn).Type)

	mu.Lock()
	clock = clock.Add(6 * time.Minute)
	mu.Unlock()
	ctx := context.Background()
	require.Equal(t, presence.StateAway, svc.GetPresence(ctx, "alice").State)

	send(t, conn, protocol.Heartbeat())
	assert.Eventually(t, func() bool {
		return svc.GetPresence(ctx, "alice").State == presence.StateOnline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPresenceFramesReachRoomPeers(t *testing.T) {
	g := newTestGateway(t)
	alice, _ := g.connect(t, "alice")
	bob, _ := g.connect(t, "bob")
	carol, _ := g.connect(t, "carol")

	for _, c := range []*websocket.Conn{alice, bob} {
		send(t, c, protocol.Join("room1"))
		require.Equal(t, protocol.TypeJoined, readFrame(t, c).Type)
	}

	alice.Close()

	f := readFrame(t, bob)
	assert.Equal(t, protocol.TypePresence, f.Type)
	assert.Equal(t, "alice", f.UserID)
	assert.Equal(t, string(presence.StateOffline), f.State)
	require.NotNil(t, f.LastSeen)

	expectNoFrame(t, carol)
}

func TestRelayedFramesAndMembership(t *testing.T) {
	g := newTestGateway(t)
	bob, _ := g.connect(t, "bob")
	send(t, bob, protocol.Join("room1"))
	require.Equal(t, protocol.TypeJoined, readFrame(t, bob).Type)

	g.hub.HandleRelay(router.Envelope{Origin: "other", Room: "room1", UserID: "dave", Membership: router.MemberJoined})
	typing := protocol.Typing("room1", "dave", true)
	g.hub.HandleRelay(router.Envelope{Origin: "other", Room: "room1", ExceptSocket: "dave-socket", Frame: &typing})
	assert.Equal(t, typing, readFrame(t, bob))

	// dave lives on another instance, but bob still hears about him going offline.
	g.hub.HandleRelay(router.Envelope{Origin: "other", Room: "room1", UserID: "dave", Membership: router.MemberDeparted})
	n := g.hub.NotifyPresence(presence.Change{UserID: "dave", State: presence.StateOffline, Previous: presence.StateOnline, LastSeen: 42})
	assert.Equal(t, 1, n)
	f := readFrame(t, bob)
	assert.Equal(t, protocol.Presence("dave", "offline", 42), f)

	// erin left explicitly, so her later changes stay out of the room.
	g.hub.HandleRelay(router.Envelope{Origin: "other", Room: "room1", UserID: "erin", Membership: router.MemberJoined})
	g.hub.HandleRelay(router.Envelope{Origin: "other", Room: "room1", UserID: "erin", Membership: router.MemberLeft})
	n = g.hub.NotifyPresence(presence.Change{UserID: "erin", State: presence.StateOffline, Previous: presence.StateOnline, LastSeen: 43})
	assert.Zero(t, n)
	expectNoFrame(t, bob)
}

func TestLeftRoomHearsNoPresence(t *testing.T) {
	g := newTestGateway(t)
	alice, _ := g.connect(t, "alice")
	bob, _ := g.connect(t, "bob")

	for _, c := range []*websocket.Conn{alice, bob} {
		send(t, c, protocol.Join("room1"))
		require.Equal(t, protocol.TypeJoined, readFrame(t, c).Type)
	}
	send(t, alice, protocol.Leave("room1"))
	require.Equal(t, protocol.Left("room1"), readFrame(t, alice))

	n := g.hub.NotifyPresence(presence.Change{UserID: "alice", State: presence.StateOnline, Previous: presence.StateAway, LastSeen: 42})
	assert.Zero(t, n)
	n = g.hub.NotifyPresence(presence.Change{UserID: "alice", State: presence.StateOffline, Previous: presence.StateOnline, LastSeen: 43})
	assert.Zero(t, n)
	expectNoFrame(t, bob)
}

func TestShutdownReleasesSocketsInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	hub := NewHub(NewRegistry(), nil, nil)
	svc := presence.NewService(presence.NewRedisStore(client, "rt"))
	handler := NewHandler(hub, svc)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	for i := 0; i < 2; i++ {
		conn := dialServer(t, server)
		send(t, conn, protocol.Auth("alice", ""))
		require.Equal(t, protocol.TypeAuthOK, readFrame(t, conn).Type)
	}
	require.True(t, mr.Exists("rt:sockets:alice"))
	require.Equal(t, 2, hub.Registry().Count())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, handler.Shutdown(ctx))

	assert.False(t, mr.Exists("rt:sockets:alice"), "every socket is released before the store closes")
	assert.False(t, svc.IsOnline(context.Background(), "alice"))
	assert.Zero(t, hub.Registry().Count())

	late := dialServer(t, server)
	send(t, late, protocol.Auth("bob", ""))
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := late.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.False(t, mr.Exists("rt:sockets:bob"))

	require.NoError(t, svc.Destroy())
}

func TestMessageHandlerDeliversNewMessages(t *testing.T) {
	g := newTestGateway(t)
	bob, _ := g.connect(t, "bob")
	send(t, bob, protocol.Join("room1"))
	require.Equal(t, protocol.TypeJoined, readFrame(t, bob).Type)

	h := NewMessageHandler(g.hub)
	h.Handle(context.Background(), []byte(`not json`))
	h.Handle(context.Background(), []byte(`{"messageId":"m0"}`))
	h.Handle(context.Background(), []byte(`{"conversationId":"room1","messageId":"m1","senderId":"alice","body":"hi","sentAt":1700000000000}`))

	f := readFrame(t, bob)
	assert.Equal(t, protocol.Frame{
		Type:           protocol.TypeNewMessage,
		ConversationID: "room1",
		MessageID:      "m1",
		SenderID:       "alice",
		Body:           "hi",
		SentAt:         1700000000000,
	}, f)
}
