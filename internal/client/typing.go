package client

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing signal stays visible without a follow-up.
const DefaultTypingTTL = 3 * time.Second

// TypingTracker remembers who is typing where. Entries expire on their own
// because a "stopped typing" signal may never arrive.
type TypingTracker struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	rooms map[string]map[string]time.Time
}

func NewTypingTracker(ttl time.Duration, now func() time.Time) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TypingTracker{ttl: ttl, now: now, rooms: make(map[string]map[string]time.Time)}
}

func (t *TypingTracker) Mark(room, user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[room] == nil {
		t.rooms[room] = make(map[string]time.Time)
	}
	t.rooms[room][user] = t.now()
}

func (t *TypingTracker) Clear(room, user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms[room], user)
	if len(t.rooms[room]) == 0 {
		delete(t.rooms, room)
	}
}

// Users returns the users in room whose last signal is younger than the TTL, sorted.
func (t *TypingTracker) Users(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := []string{}
	for user, at := range t.rooms[room] {
		if now.Sub(at) < t.ttl {
			out = append(out, user)
			continue
		}
		delete(t.rooms[room], user)
	}
	if len(t.rooms[room]) == 0 {
		delete(t.rooms, room)
	}
	sort.Strings(out)
	return out
}

// Reset forgets every signal.
func (t *TypingTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms = make(map[string]map[string]time.Time)
}
