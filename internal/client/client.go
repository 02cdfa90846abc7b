// Package client is a reconnecting messenger client for the realtime gateway.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eventflow/realtime/internal/protocol"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts      = 5
	DefaultBaseDelay        = time.Second
	DefaultMaxDelay         = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Timer is a pending reconnection attempt.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

type Option func(*Client)

func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithReconnect sets the retry bound and the backoff range.
func WithReconnect(maxAttempts int, base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.baseDelay = base
		c.maxDelay = maxDelay
	}
}

func WithTypingTTL(ttl time.Duration) Option {
	return func(c *Client) { c.typingTTL = ttl }
}

func WithAfterFunc(f AfterFunc) Option {
	return func(c *Client) { c.afterFunc = f }
}

// WithJitter replaces the random jitter source. f receives the base delay.
func WithJitter(f func(base time.Duration) time.Duration) Option {
	return func(c *Client) { c.jitter = f }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// Client keeps one logical connection to the gateway. After an unexpected drop
// it reconnects with exponential backoff, re-authenticates and rejoins the
// active conversation. Disconnect cancels any pending attempt.
type Client struct {
	url              string
	dialer           Dialer
	log              *zap.Logger
	bus              *Bus
	typing           *TypingTracker
	afterFunc        AfterFunc
	jitter           func(time.Duration) time.Duration
	now              func() time.Time
	maxAttempts      int
	baseDelay        time.Duration
	maxDelay         time.Duration
	typingTTL        time.Duration
	handshakeTimeout time.Duration

	mu         sync.Mutex
	gen        uint64
	userID     string
	token      string
	conn       Conn
	socketID   string
	activeRoom string
	attempt    int
	timer      Timer
	cancel     context.CancelFunc
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:              url,
		dialer:           WebsocketDialer{},
		log:              zap.NewNop(),
		bus:              NewBus(),
		afterFunc:        func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		jitter:           randomJitter,
		now:              time.Now,
		maxAttempts:      DefaultMaxAttempts,
		baseDelay:        DefaultBaseDelay,
		maxDelay:         DefaultMaxDelay,
		typingTTL:        DefaultTypingTTL,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.typing = NewTypingTracker(c.typingTTL, c.now)
	return c
}

// Subscribe registers fn for topic and returns a function that removes it.
func (c *Client) Subscribe(topic string, fn Handler) func() {
	return c.bus.Subscribe(topic, fn)
}

// Connect opens a connection and authenticates as userID. It replaces any
// existing connection and resets the retry budget. A failure is returned and
// not retried: reconnection only follows a connection that was established.
func (c *Client) Connect(ctx context.Context, userID, token string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrAuthFailed)
	}

	c.mu.Lock()
	old := c.resetLocked()
	c.userID, c.token = userID, token
	gen := c.gen
	attemptCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	if old != nil {
		_ = old.Close()
	}

	conn, socketID, err := c.dialAndAuth(attemptCtx, userID, token)
	if err != nil {
		return err
	}
	if !c.establish(gen, conn, socketID) {
		return ErrClosed
	}
	return nil
}

// Disconnect closes the connection and cancels any scheduled reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	old := c.resetLocked()
	c.mu.Unlock()

	c.typing.Reset()
	if old != nil {
		_ = old.Close()
		c.bus.Publish(Event{Topic: TopicDisconnected, Err: ErrClosed})
	}
}

// resetLocked invalidates the current generation, stopping timers and
// in-flight attempts, and returns the connection to close.
func (c *Client) resetLocked() Conn {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	old := c.conn
	c.conn = nil
	c.socketID = ""
	c.attempt = 0
	return old
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

func (c *Client) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRoom
}

// JoinConversation makes room the active conversation. It is joined now when
// connected and again after every reconnect.
func (c *Client) JoinConversation(room string) {
	c.mu.Lock()
	c.activeRoom = room
	conn := c.conn
	c.mu.Unlock()
	c.send(conn, protocol.Join(room))
}

func (c *Client) LeaveConversation(room string) {
	c.mu.Lock()
	if c.activeRoom == room {
		c.activeRoom = ""
	}
	conn := c.conn
	c.mu.Unlock()
	c.send(conn, protocol.Leave(room))
}

// SendTyping is fire-and-forget.
func (c *Client) SendTyping(room string, isTyping bool) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	c.send(conn, protocol.Typing(room, "", isTyping))
}

func (c *Client) Heartbeat() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	c.send(conn, protocol.Heartbeat())
}

// TypingUsers returns who is typing in room, with expired signals dropped.
func (c *Client) TypingUsers(room string) []string {
	return c.typing.Users(room)
}

// send logs and drops failures; realtime signals are best-effort.
func (c *Client) send(conn Conn, f protocol.Frame) {
	if conn == nil {
		c.log.Debug("not connected, dropping frame", zap.String("type", f.Type))
		return
	}
	if err := conn.WriteFrame(f); err != nil {
		c.log.Warn("send failed, dropping frame", zap.String("type", f.Type), zap.Error(err))
	}
}

func (c *Client) dialAndAuth(ctx context.Context, userID, token string) (Conn, string, error) {
	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		return nil, "", ErrClosed
	}
	if err := conn.WriteFrame(protocol.Auth(userID, token)); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	_ = conn.SetReadDeadline(c.now().Add(c.handshakeTimeout))
	f, err := conn.ReadFrame()
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch f.Type {
	case protocol.TypeAuthOK:
		return conn, f.SocketID, nil
	case protocol.TypeAuthError:
		_ = conn.Close()
		return nil, "", fmt.Errorf("%w: %s", ErrAuthFailed, f.Message)
	default:
		_ = conn.Close()
		return nil, "", fmt.Errorf("%w: unexpected %q frame", ErrAuthFailed, f.Type)
	}
}

// establish installs conn for generation gen, rejoins the active room and
// starts reading. It reports false when gen was superseded meanwhile.
func (c *Client) establish(gen uint64, conn Conn, socketID string) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.socketID = socketID
	c.attempt = 0
	c.timer = nil
	room := c.activeRoom
	c.mu.Unlock()

	if room != "" {
		c.send(conn, protocol.Join(room))
	}
	go c.readLoop(gen, conn)

	c.log.Info("connected", zap.String("socket_id", socketID))
	c.bus.Publish(Event{Topic: TopicConnected, SocketID: socketID})
	return true
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				c.log.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			c.handleDrop(gen, conn, err)
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeTyping:
		if f.IsTyping {
			c.typing.Mark(f.ConversationID, f.UserID)
		} else {
			c.typing.Clear(f.ConversationID, f.UserID)
		}
		c.bus.Publish(Event{Topic: TopicTyping, Frame: f})
	case protocol.TypeNewMessage:
		c.bus.Publish(Event{Topic: TopicNewMessage, Frame: f})
	case protocol.TypePresence:
		c.bus.Publish(Event{Topic: TopicPresence, Frame: f})
	case protocol.TypeError:
		c.log.Warn("gateway error", zap.String("message", f.Message))
	default:
		c.log.Debug("frame", zap.String("type", f.Type), zap.String("conversation_id", f.ConversationID))
	}
}

// handleDrop starts the reconnection policy after an unexpected disconnect.
func (c *Client) handleDrop(gen uint64, conn Conn, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.socketID = ""
	c.attempt = 0
	failed := c.scheduleLocked()
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Warn("connection lost", zap.Error(cause))
	c.bus.Publish(Event{Topic: TopicDisconnected, Err: cause})
	if failed {
		c.publishFailed(cause)
	}
}

// scheduleLocked arms the timer for c.attempt. It reports true when the retry
// budget is spent and nothing was scheduled.
func (c *Client) scheduleLocked() bool {
	if c.attempt >= c.maxAttempts {
		c.timer = nil
		return true
	}
	attempt := c.attempt
	delay := Backoff(attempt, c.baseDelay, c.maxDelay, c.jitter(c.baseDelay))
	gen := c.gen
	c.log.Info("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	c.timer = c.afterFunc(delay, func() { c.reconnect(gen, attempt) })
	return false
}

func (c *Client) reconnect(gen uint64, attempt int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	userID, token := c.userID, c.token
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	conn, socketID, err := c.dialAndAuth(ctx, userID, token)
	if err == nil {
		c.establish(gen, conn, socketID)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.attempt = attempt + 1
	failed := c.scheduleLocked()
	c.mu.Unlock()

	c.log.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	if failed {
		c.publishFailed(err)
	}
}

func (c *Client) publishFailed(cause error) {
	c.mu.Lock()
	attempts := c.maxAttempts
	c.mu.Unlock()
	c.log.Error("giving up reconnecting", zap.Int("attempts", attempts), zap.Error(cause))
	c.bus.Publish(Event{Topic: TopicConnectionFailed, Attempts: attempts, Err: fmt.Errorf("%w: %v", ErrConnectionFailed, cause)})
}
