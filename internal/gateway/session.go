package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	SendQueueSize = 128
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameSize  = 64 << 10
)

// Session is one authenticated websocket connection. Its ID is the socket id
// attributed to the user in the presence store.
type Session struct {
	ID     string
	UserID string

	Conn      *websocket.Conn
	SendQueue chan []byte
	done      chan struct{}
	closed    atomic.Int32

	// rooms is guarded by the owning Registry's lock.
	rooms map[string]struct{}
}

func NewSession(id, userID string, conn *websocket.Conn) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		Conn:      conn,
		SendQueue: make(chan []byte, SendQueueSize),
		done:      make(chan struct{}),
		rooms:     make(map[string]struct{}),
	}
}

func (s *Session) Start() {
	go s.writeLoop()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send encodes f and queues it. Realtime sends are best-effort: failures are logged, never returned.
func (s *Session) Send(f protocol.Frame) bool {
	payload, err := protocol.Encode(f)
	if err != nil {
		observability.Log.Error("session: encode frame", zap.String("type", f.Type), zap.Error(err))
		return false
	}
	return s.TrySend(payload)
}

func (s *Session) TrySend(msg []byte) bool {
	if s.closed.Load() == 1 {
		return false
	}
	select {
	case s.SendQueue <- msg:
		return true
	default:
		observability.Log.Warn("session: backpressure overflow, dropping connection", zap.String("user_id", s.UserID), zap.String("socket_id", s.ID))
		s.CloseWithReason(websocket.CloseInternalServerErr, "backpressure overflow")
		return false
	}
}

func (s *Session) Close() {
	s.CloseWithReason(websocket.CloseNormalClosure, "server closing")
}

func (s *Session) CloseWithReason(code int, reason string) {
	if !s.closed.CompareAndSwap(0, 1) {
		return
	}

	observability.GetLogger(context.Background()).Debug("session: closing",
		zap.String("user_id", s.UserID), zap.String("socket_id", s.ID), zap.Int("code", code), zap.String("reason", reason))
	close(s.done)

	if s.Conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = s.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		s.Conn.Close()
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case msg := <-s.SendQueue:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				observability.Log.Debug("session: write error", zap.String("user_id", s.UserID), zap.String("socket_id", s.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				observability.Log.Debug("session: ping error", zap.String("user_id", s.UserID), zap.String("socket_id", s.ID), zap.Error(err))
				return
			}
		case <-s.done:
			return
		}
	}
}
