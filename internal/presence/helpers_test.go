package presence

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, c Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

func (n *recordingNotifier) Changes() []Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Change(nil), n.changes...)
}

var errBackendDown = errors.New("connection refused")

// failingStore fails every call, standing in for an unreachable external cache.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (*Record, error) { return nil, errBackendDown }
func (failingStore) GetMany(context.Context, []string) (map[string]*Record, error) {
	return nil, errBackendDown
}
func (failingStore) AddSocket(context.Context, string, string, time.Time) (Mutation, error) {
	return Mutation{}, errBackendDown
}
func (failingStore) RemoveSocket(context.Context, string, string) (Mutation, error) {
	return Mutation{}, errBackendDown
}
func (failingStore) Touch(context.Context, string, time.Time) (Mutation, error) {
	return Mutation{}, errBackendDown
}
func (failingStore) Scan(context.Context, func(*Record) bool) error { return errBackendDown }
func (failingStore) DeleteIfIdle(context.Context, string, time.Time) (bool, error) {
	return false, errBackendDown
}
func (failingStore) CountActive(context.Context, time.Time) (int, error) { return 0, errBackendDown }
func (failingStore) Ping(context.Context) error                          { return errBackendDown }
func (failingStore) Close() error                                        { return nil }

// closeCountingStore wraps a store and counts Close calls.
type closeCountingStore struct {
	Store
	mu     sync.Mutex
	closes int
}

func (s *closeCountingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.Store.Close()
}
