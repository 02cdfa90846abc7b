package presence

import (
	"context"
	"time"
)

// Mutation reports a record's activity before and after a conditional store write.
// Applied is false when the store left the record untouched.
type Mutation struct {
	Applied     bool
	LastSeen    time.Time
	Sockets     int
	NewLastSeen time.Time
	NewSockets  int
}

// Store holds presence records. Every write is atomic per user; the Service never
// reads a record and writes it back.
type Store interface {
	// Get returns nil, nil for unknown users.
	Get(ctx context.Context, userID string) (*Record, error)
	// GetMany omits unknown users from the result.
	GetMany(ctx context.Context, userIDs []string) (map[string]*Record, error)
	// AddSocket creates the record if needed, adds socketID to its set and sets LastSeen.
	AddSocket(ctx context.Context, userID, socketID string, now time.Time) (Mutation, error)
	// RemoveSocket drops socketID; unknown users or sockets are not an error.
	RemoveSocket(ctx context.Context, userID, socketID string) (Mutation, error)
	// Touch sets LastSeen when the record exists. It never creates one.
	Touch(ctx context.Context, userID string, now time.Time) (Mutation, error)
	// Scan calls fn for every record until fn returns false. fn never runs under a store lock.
	Scan(ctx context.Context, fn func(*Record) bool) error
	// DeleteIfIdle evicts the record when it has no sockets and LastSeen is before cutoff.
	DeleteIfIdle(ctx context.Context, userID string, cutoff time.Time) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// ActiveCounter is implemented by stores that can count connected users seen after a
// given instant without materialising them.
type ActiveCounter interface {
	CountActive(ctx context.Context, since time.Time) (int, error)
}
