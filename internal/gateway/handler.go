package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const DefaultHandshakeTimeout = 10 * time.Second

// Tracker is the slice of the presence service the gateway drives.
type Tracker interface {
	SetOnline(ctx context.Context, userID, socketID string) error
	SetOffline(ctx context.Context, userID, socketID string) error
	Heartbeat(ctx context.Context, userID string) error
}

// Authenticator checks the token presented in the auth frame for userID.
type Authenticator interface {
	Verify(token, userID string) error
}

type Handler struct {
	hub              *Hub
	tracker          Tracker
	auth             Authenticator
	handshakeTimeout time.Duration
	upgrader         websocket.Upgrader

	mu      sync.Mutex
	closing bool
	loops   sync.WaitGroup
}

type HandlerOption func(*Handler)

func WithHandshakeTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.handshakeTimeout = d }
}

// WithAuthenticator requires auth frames to carry a token auth accepts. Without it
// any non-empty userId is trusted.
func WithAuthenticator(auth Authenticator) HandlerOption {
	return func(h *Handler) { h.auth = auth }
}

func NewHandler(hub *Hub, tracker Tracker, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:              hub,
		tracker:          tracker,
		handshakeTimeout: DefaultHandshakeTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observability.GetLogger(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("upgrade error", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameSize)

	// The request context ends when ServeHTTP returns; the connection outlives it.
	ctx := context.WithoutCancel(r.Context())

	userID, err := h.handshake(conn)
	if err != nil {
		log.Info("auth handshake rejected", zap.Error(err))
		rejectAuth(conn, err.Error())
		return
	}

	if !h.track() {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		conn.Close()
		return
	}

	socketID := uuid.NewString()
	session := NewSession(socketID, userID, conn)

	if err := h.tracker.SetOnline(ctx, userID, socketID); err != nil {
		log.Warn("presence: set online failed, keeping socket open", zap.String("user_id", userID), zap.String("socket_id", socketID), zap.Error(err))
	}
	session.Send(protocol.AuthOK(userID, socketID))
	h.hub.Attach(session)
	session.Start()

	log.Info("connected", zap.String("user_id", userID), zap.String("socket_id", socketID))
	observability.WebSocketConnectionsActive.Inc()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.heartbeat(ctx, session)
		return nil
	})

	go h.readLoop(ctx, session)
}

// track counts a new read loop. It refuses once Shutdown has started.
func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.loops.Add(1)
	return true
}

// Shutdown closes every session and waits until each read loop has released its
// socket in the presence store, or ctx ends. New handshakes are refused.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	observability.GetLogger(ctx).Info("closing websocket sessions", zap.Int("sessions", h.hub.Registry().Count()))
	h.hub.Shutdown()

	done := make(chan struct{})
	go func() {
		h.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	errAuthExpected = errors.New("first frame must be auth")
	errAuthUser     = errors.New("auth frame has no userId")
	errAuthToken    = errors.New("invalid token")
)

func (h *Handler) handshake(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(h.handshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	f, err := protocol.Decode(data)
	if err != nil {
		return "", err
	}
	if f.Type != protocol.TypeAuth {
		return "", errAuthExpected
	}
	if f.UserID == "" {
		return "", errAuthUser
	}
	if h.auth != nil {
		if err := h.auth.Verify(f.Token, f.UserID); err != nil {
			return "", errAuthToken
		}
	}
	return f.UserID, nil
}

func rejectAuth(conn *websocket.Conn, reason string) {
	if payload, err := protocol.Encode(protocol.AuthError(reason)); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(protocol.CloseAuthFailed, "auth failed"), deadline)
	conn.Close()
}

func (h *Handler) readLoop(ctx context.Context, s *Session) {
	defer func() {
		h.hub.Detach(ctx, s)
		s.Close()
		log := observability.GetLogger(ctx)
		if err := h.tracker.SetOffline(ctx, s.UserID, s.ID); err != nil {
			log.Warn("presence: set offline failed", zap.String("user_id", s.UserID), zap.String("socket_id", s.ID), zap.Error(err))
		}
		log.Info("disconnected", zap.String("user_id", s.UserID), zap.String("socket_id", s.ID))
		observability.WebSocketConnectionsActive.Dec()
		h.loops.Done()
	}()

	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				observability.GetLogger(ctx).Warn("read loop error", zap.String("user_id", s.UserID), zap.String("socket_id", s.ID), zap.Error(err))
			}
			return
		}
		_ = s.Conn.SetReadDeadline(time.Now().Add(pongWait))

		f, err := protocol.Decode(data)
		if err != nil {
			s.Send(protocol.Error(err.Error()))
			continue
		}
		h.dispatch(ctx, s, f)
	}
}

func (h *Handler) dispatch(ctx context.Context, s *Session, f protocol.Frame) {
	switch f.Type {
	case protocol.TypeJoin:
		if f.ConversationID == "" {
			s.Send(protocol.Error("conversationId is required"))
			return
		}
		h.hub.Join(ctx, s, f.ConversationID)
		s.Send(protocol.Joined(f.ConversationID))

	case protocol.TypeLeave:
		if f.ConversationID == "" {
			s.Send(protocol.Error("conversationId is required"))
			return
		}
		h.hub.Leave(ctx, s, f.ConversationID)
		s.Send(protocol.Left(f.ConversationID))

	case protocol.TypeTyping:
		if !h.hub.InRoom(s, f.ConversationID) {
			s.Send(protocol.Error("not in conversation"))
			return
		}
		h.hub.Broadcast(ctx, f.ConversationID, protocol.Typing(f.ConversationID, s.UserID, f.IsTyping), s.ID)

	case protocol.TypeHeartbeat:
		h.heartbeat(ctx, s)

	case protocol.TypeAuth:
		s.Send(protocol.Error("already authenticated"))

	default:
		s.Send(protocol.Error("unknown frame type: " + f.Type))
	}
}

func (h *Handler) heartbeat(ctx context.Context, s *Session) {
	if err := h.tracker.Heartbeat(ctx, s.UserID); err != nil {
		observability.GetLogger(ctx).Warn("presence: heartbeat failed", zap.String("user_id", s.UserID), zap.Error(err))
	}
}
