package presence

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type memoryEntry struct {
	lastSeen time.Time
	sockets  socketSet
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// MemoryStore keeps records in process, sharded by user id so that writers for
// different users rarely contend and bulk reads hold one shard lock at a time.
type MemoryStore struct {
	shards [shardCount]*memoryShard
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	for i := range m.shards {
		m.shards[i] = &memoryShard{entries: make(map[string]*memoryEntry)}
	}
	return m
}

func (m *MemoryStore) shard(userID string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return m.shards[h.Sum32()%shardCount]
}

func (e *memoryEntry) record(userID string) *Record {
	return &Record{UserID: userID, LastSeen: e.lastSeen, SocketIDs: e.sockets.ids()}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*Record, error) {
	sh := m.shard(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[userID]
	if !ok {
		return nil, nil
	}
	return e.record(userID), nil
}

func (m *MemoryStore) GetMany(ctx context.Context, userIDs []string) (map[string]*Record, error) {
	out := make(map[string]*Record, len(userIDs))
	for _, id := range userIDs {
		rec, _ := m.Get(ctx, id)
		if rec != nil {
			out[id] = rec
		}
	}
	return out, nil
}

func (m *MemoryStore) AddSocket(_ context.Context, userID, socketID string, now time.Time) (Mutation, error) {
	sh := m.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[userID]
	if !ok {
		e = &memoryEntry{sockets: make(socketSet)}
		sh.entries[userID] = e
	}
	mut := Mutation{Applied: true, LastSeen: e.lastSeen, Sockets: len(e.sockets)}
	e.sockets.add(socketID)
	e.lastSeen = now
	mut.NewLastSeen, mut.NewSockets = e.lastSeen, len(e.sockets)
	return mut, nil
}

func (m *MemoryStore) RemoveSocket(_ context.Context, userID, socketID string) (Mutation, error) {
	sh := m.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[userID]
	if !ok {
		return Mutation{}, nil
	}
	mut := Mutation{LastSeen: e.lastSeen, Sockets: len(e.sockets)}
	mut.Applied = e.sockets.remove(socketID)
	mut.NewLastSeen, mut.NewSockets = e.lastSeen, len(e.sockets)
	return mut, nil
}

func (m *MemoryStore) Touch(_ context.Context, userID string, now time.Time) (Mutation, error) {
	sh := m.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[userID]
	if !ok {
		return Mutation{}, nil
	}
	mut := Mutation{LastSeen: e.lastSeen, Sockets: len(e.sockets), NewSockets: len(e.sockets)}
	e.lastSeen = now
	mut.Applied = true
	mut.NewLastSeen = now
	return mut, nil
}

func (m *MemoryStore) Scan(ctx context.Context, fn func(*Record) bool) error {
	for _, sh := range m.shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		sh.mu.RLock()
		batch := make([]*Record, 0, len(sh.entries))
		for id, e := range sh.entries {
			batch = append(batch, e.record(id))
		}
		sh.mu.RUnlock()

		for _, rec := range batch {
			if !fn(rec) {
				return nil
			}
		}
	}
	return nil
}

func (m *MemoryStore) DeleteIfIdle(_ context.Context, userID string, cutoff time.Time) (bool, error) {
	sh := m.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[userID]
	if !ok || len(e.sockets) > 0 || !e.lastSeen.Before(cutoff) {
		return false, nil
	}
	delete(sh.entries, userID)
	return true, nil
}

func (m *MemoryStore) CountActive(_ context.Context, since time.Time) (int, error) {
	n := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			if len(e.sockets) > 0 && e.lastSeen.After(since) {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
