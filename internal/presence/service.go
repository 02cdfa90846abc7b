package presence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eventflow/realtime/internal/observability"
	"go.uber.org/zap"
)

// Notifier receives state changes caused by explicit operations. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
}

type Option func(*Service)

func WithThresholds(th Thresholds) Option {
	return func(s *Service) { s.th = th }
}

// WithGCHorizon sets how long a disconnected record is kept before cleanup evicts it.
func WithGCHorizon(d time.Duration) Option {
	return func(s *Service) { s.gcHorizon = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// Service tracks which users are reachable and through how many sockets. State is
// derived on every read from (lastSeen, sockets, now); nothing schedules per-user timers.
type Service struct {
	store     Store
	th        Thresholds
	gcHorizon time.Duration
	now       func() time.Time
	notifier  Notifier

	mu        sync.Mutex
	sweeper   *Sweeper
	destroyed bool
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		th:        DefaultThresholds(),
		gcHorizon: time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Thresholds() Thresholds { return s.th }

// MaxIDLength bounds user and socket ids.
const MaxIDLength = 256

func validID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidArgument, kind)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidArgument, kind, MaxIDLength)
	}
	return nil
}

// ValidateUserID applies the checks mutating calls make, for callers that query.
func ValidateUserID(id string) error {
	return validID("user id", id)
}

func (s *Service) backendError(ctx context.Context, op string, err error, fields ...zap.Field) error {
	observability.PresenceBackendErrorsTotal.WithLabelValues(op).Inc()
	observability.GetLogger(ctx).Warn("presence backend degraded", append(fields, zap.String("op", op), zap.Error(err))...)
	return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, op, err)
}

// SetOnline attributes socketID to userID and marks the user active now.
// Re-adding a known socket only refreshes lastSeen.
func (s *Service) SetOnline(ctx context.Context, userID, socketID string) error {
	if err := validID("user id", userID); err != nil {
		return err
	}
	if err := validID("socket id", socketID); err != nil {
		return err
	}

	now := s.now()
	mut, err := s.store.AddSocket(ctx, userID, socketID, now)
	if err != nil {
		return s.backendError(ctx, "set_online", err, zap.String("user_id", userID), zap.String("socket_id", socketID))
	}
	s.transition(ctx, userID, mut, now)
	return nil
}

// SetOffline detaches socketID from userID. The user turns offline at once when the
// last socket goes; lastSeen keeps the time of last activity. Unknown users and
// sockets are ignored because disconnect races are expected.
func (s *Service) SetOffline(ctx context.Context, userID, socketID string) error {
	if err := validID("user id", userID); err != nil {
		return err
	}
	if err := validID("socket id", socketID); err != nil {
		return err
	}

	now := s.now()
	mut, err := s.store.RemoveSocket(ctx, userID, socketID)
	if err != nil {
		return s.backendError(ctx, "set_offline", err, zap.String("user_id", userID), zap.String("socket_id", socketID))
	}
	if mut.Applied {
		s.transition(ctx, userID, mut, now)
	}
	return nil
}

// Heartbeat refreshes lastSeen, which lifts an away user back to online. It never
// creates a record: a heartbeat for a user never set online is dropped. A known
// user without sockets gets a fresh lastSeen but stays offline.
func (s *Service) Heartbeat(ctx context.Context, userID string) error {
	if err := validID("user id", userID); err != nil {
		return err
	}

	now := s.now()
	mut, err := s.store.Touch(ctx, userID, now)
	if err != nil {
		return s.backendError(ctx, "heartbeat", err, zap.String("user_id", userID))
	}
	if mut.Applied {
		s.transition(ctx, userID, mut, now)
	}
	return nil
}

func (s *Service) transition(ctx context.Context, userID string, mut Mutation, now time.Time) {
	from := Derive(mut.LastSeen, mut.Sockets, now, s.th)
	to := Derive(mut.NewLastSeen, mut.NewSockets, now, s.th)
	if from == to {
		return
	}

	observability.PresenceTransitionsTotal.WithLabelValues(string(to)).Inc()
	log := observability.GetLogger(ctx)
	log.Debug("presence changed", zap.String("user_id", userID), zap.String("from", string(from)), zap.String("to", string(to)))

	if s.notifier == nil {
		return
	}
	change := Change{
		UserID:     userID,
		State:      to,
		Previous:   from,
		LastSeen:   mut.NewLastSeen.UnixMilli(),
		OccurredAt: now.UnixMilli(),
	}
	if err := s.notifier.Notify(ctx, change); err != nil {
		log.Warn("presence change notification dropped", zap.String("user_id", userID), zap.Error(err))
	}
}

// GetPresence never fails: unknown users and backend faults both read as offline.
func (s *Service) GetPresence(ctx context.Context, userID string) Snapshot {
	if strings.TrimSpace(userID) == "" {
		return offlineSnapshot()
	}
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		s.backendError(ctx, "get_presence", err, zap.String("user_id", userID))
		return offlineSnapshot()
	}
	return s.snapshot(rec, s.now())
}

func (s *Service) snapshot(rec *Record, now time.Time) Snapshot {
	if rec == nil {
		return offlineSnapshot()
	}
	return Snapshot{State: rec.State(now, s.th), LastSeen: rec.LastSeen}
}

// GetBulkPresence resolves every requested id, missing ones as offline, with one store call.
func (s *Service) GetBulkPresence(ctx context.Context, userIDs []string) map[string]Snapshot {
	out := make(map[string]Snapshot, len(userIDs))
	if len(userIDs) == 0 {
		return out
	}

	recs, err := s.store.GetMany(ctx, userIDs)
	if err != nil {
		s.backendError(ctx, "get_bulk_presence", err, zap.Int("count", len(userIDs)))
		recs = nil
	}
	now := s.now()
	for _, id := range userIDs {
		out[id] = s.snapshot(recs[id], now)
	}
	return out
}

func (s *Service) IsOnline(ctx context.Context, userID string) bool {
	return s.GetPresence(ctx, userID).State == StateOnline
}

// GetOnlineUsers lists users whose derived state is online, sorted.
func (s *Service) GetOnlineUsers(ctx context.Context) []string {
	now := s.now()
	var out []string
	err := s.store.Scan(ctx, func(rec *Record) bool {
		if rec.State(now, s.th) == StateOnline {
			out = append(out, rec.UserID)
		}
		return true
	})
	if err != nil {
		s.backendError(ctx, "get_online_users", err)
		return []string{}
	}
	if out == nil {
		out = []string{}
	}
	sort.Strings(out)
	return out
}

// GetOnlineCount counts online users, asking the store directly when it supports it.
func (s *Service) GetOnlineCount(ctx context.Context) int {
	now := s.now()
	if counter, ok := s.store.(ActiveCounter); ok {
		n, err := counter.CountActive(ctx, now.Add(-s.th.Away))
		if err != nil {
			s.backendError(ctx, "get_online_count", err)
			return 0
		}
		return n
	}

	n := 0
	err := s.store.Scan(ctx, func(rec *Record) bool {
		if rec.State(now, s.th) == StateOnline {
			n++
		}
		return true
	})
	if err != nil {
		s.backendError(ctx, "get_online_count", err)
		return 0
	}
	return n
}

// Cleanup evicts records with no sockets whose lastSeen is older than the GC horizon.
// Eviction is re-checked atomically in the store, so a concurrent SetOnline wins.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.gcHorizon)

	var candidates []string
	online := 0
	err := s.store.Scan(ctx, func(rec *Record) bool {
		switch {
		case len(rec.SocketIDs) == 0 && rec.LastSeen.Before(cutoff):
			candidates = append(candidates, rec.UserID)
		case rec.State(now, s.th) == StateOnline:
			online++
		}
		return true
	})
	if err != nil {
		return 0, s.backendError(ctx, "cleanup_scan", err)
	}
	observability.PresenceOnlineUsers.Set(float64(online))

	evicted := 0
	for _, id := range candidates {
		ok, err := s.store.DeleteIfIdle(ctx, id, cutoff)
		if err != nil {
			return evicted, s.backendError(ctx, "cleanup_delete", err, zap.String("user_id", id))
		}
		if ok {
			evicted++
		}
	}
	if evicted > 0 {
		observability.PresenceEvictionsTotal.Add(float64(evicted))
		observability.GetLogger(ctx).Info("presence cleanup evicted idle records", zap.Int("evicted", evicted))
	}
	return evicted, nil
}

// StartCleanup runs Cleanup every interval until Destroy. Calling it again is a no-op.
func (s *Service) StartCleanup(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweeper != nil || s.destroyed {
		return
	}
	s.sweeper = NewSweeper(s, interval)
	s.sweeper.Start()
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Destroy stops the cleanup sweep and closes the store. It is idempotent.
func (s *Service) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	sw := s.sweeper
	s.mu.Unlock()

	if sw != nil {
		sw.Stop()
	}
	return s.store.Close()
}
