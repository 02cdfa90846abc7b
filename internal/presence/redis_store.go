package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Keys, for prefix p and user u:
//
//	p:user:u          hash, field last_seen (epoch ms)
//	p:sockets:u       set of socket ids
//	p:users           set of every known user id
//	p:active          sorted set of users holding sockets, scored by last_seen
var (
	addSocketScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[1], 'last_seen')
local count = redis.call('SCARD', KEYS[2])
redis.call('HSET', KEYS[1], 'last_seen', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[2], ARGV[3])
return {prev or '', count, redis.call('SCARD', KEYS[2])}
`)

	removeSocketScript = redis.NewScript(`
local last = redis.call('HGET', KEYS[1], 'last_seen')
if not last then
	return {'', 0, 0, 0}
end
local count = redis.call('SCARD', KEYS[2])
local removed = redis.call('SREM', KEYS[2], ARGV[1])
local remaining = count - removed
if remaining == 0 then
	redis.call('ZREM', KEYS[3], ARGV[2])
end
return {last, count, remaining, removed}
`)

	touchScript = redis.NewScript(`
local last = redis.call('HGET', KEYS[1], 'last_seen')
if not last then
	return {'', 0, 0}
end
local count = redis.call('SCARD', KEYS[2])
redis.call('HSET', KEYS[1], 'last_seen', ARGV[1])
if count > 0 then
	redis.call('ZADD', KEYS[3], ARGV[1], ARGV[2])
end
return {last, count, 1}
`)

	deleteIfIdleScript = redis.NewScript(`
local last = redis.call('HGET', KEYS[1], 'last_seen')
if not last then
	redis.call('SREM', KEYS[3], ARGV[2])
	return 0
end
if redis.call('SCARD', KEYS[2]) > 0 then
	return 0
end
if tonumber(last) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('SREM', KEYS[3], ARGV[2])
redis.call('ZREM', KEYS[4], ARGV[2])
return 1
`)
)

// RedisStore shares presence between processes. Conditional writes run as Lua scripts
// so each one is atomic on the server.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "presence"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":user:" + userID
}

func (s *RedisStore) socketsKey(userID string) string {
	return s.prefix + ":sockets:" + userID
}

func (s *RedisStore) usersKey() string {
	return s.prefix + ":users"
}

func (s *RedisStore) activeKey() string {
	return s.prefix + ":active"
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*Record, error) {
	recs, err := s.GetMany(ctx, []string{userID})
	if err != nil {
		return nil, err
	}
	return recs[userID], nil
}

// GetMany reads all users in one pipelined round trip.
func (s *RedisStore) GetMany(ctx context.Context, userIDs []string) (map[string]*Record, error) {
	out := make(map[string]*Record, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	lastSeen := make([]*redis.StringCmd, len(userIDs))
	sockets := make([]*redis.StringSliceCmd, len(userIDs))
	for i, id := range userIDs {
		lastSeen[i] = pipe.HGet(ctx, s.userKey(id), "last_seen")
		sockets[i] = pipe.SMembers(ctx, s.socketsKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	for i, id := range userIDs {
		raw, err := lastSeen[i].Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ts, err := parseMillis(raw)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", id, err)
		}
		ids, err := sockets[i].Result()
		if err != nil {
			return nil, err
		}
		set := make(socketSet, len(ids))
		for _, sid := range ids {
			set.add(sid)
		}
		out[id] = &Record{UserID: id, LastSeen: ts, SocketIDs: set.ids()}
	}
	return out, nil
}

func (s *RedisStore) AddSocket(ctx context.Context, userID, socketID string, now time.Time) (Mutation, error) {
	keys := []string{s.userKey(userID), s.socketsKey(userID), s.usersKey(), s.activeKey()}
	res, err := addSocketScript.Run(ctx, s.client, keys, socketID, now.UnixMilli(), userID).Slice()
	if err != nil {
		return Mutation{}, err
	}
	prev, err := parseOptionalMillis(res[0])
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{
		Applied:     true,
		LastSeen:    prev,
		Sockets:     toInt(res[1]),
		NewLastSeen: time.UnixMilli(now.UnixMilli()),
		NewSockets:  toInt(res[2]),
	}, nil
}

func (s *RedisStore) RemoveSocket(ctx context.Context, userID, socketID string) (Mutation, error) {
	keys := []string{s.userKey(userID), s.socketsKey(userID), s.activeKey()}
	res, err := removeSocketScript.Run(ctx, s.client, keys, socketID, userID).Slice()
	if err != nil {
		return Mutation{}, err
	}
	last, err := parseOptionalMillis(res[0])
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{
		Applied:     toInt(res[3]) == 1,
		LastSeen:    last,
		Sockets:     toInt(res[1]),
		NewLastSeen: last,
		NewSockets:  toInt(res[2]),
	}, nil
}

func (s *RedisStore) Touch(ctx context.Context, userID string, now time.Time) (Mutation, error) {
	keys := []string{s.userKey(userID), s.socketsKey(userID), s.activeKey()}
	res, err := touchScript.Run(ctx, s.client, keys, now.UnixMilli(), userID).Slice()
	if err != nil {
		return Mutation{}, err
	}
	last, err := parseOptionalMillis(res[0])
	if err != nil {
		return Mutation{}, err
	}
	mut := Mutation{
		Applied:     toInt(res[2]) == 1,
		LastSeen:    last,
		Sockets:     toInt(res[1]),
		NewLastSeen: last,
		NewSockets:  toInt(res[1]),
	}
	if mut.Applied {
		mut.NewLastSeen = time.UnixMilli(now.UnixMilli())
	}
	return mut, nil
}

func (s *RedisStore) Scan(ctx context.Context, fn func(*Record) bool) error {
	var cursor uint64
	for {
		ids, next, err := s.client.SScan(ctx, s.usersKey(), cursor, "", scanBatch).Result()
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			recs, err := s.GetMany(ctx, ids)
			if err != nil {
				return err
			}
			for _, id := range ids {
				rec, ok := recs[id]
				if !ok {
					// Index entry without a record; still offered so cleanup can drop it.
					rec = &Record{UserID: id}
				}
				if !fn(rec) {
					return nil
				}
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *RedisStore) DeleteIfIdle(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	keys := []string{s.userKey(userID), s.socketsKey(userID), s.usersKey(), s.activeKey()}
	n, err := deleteIfIdleScript.Run(ctx, s.client, keys, cutoff.UnixMilli(), userID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountActive counts users holding sockets whose last_seen is strictly after since.
func (s *RedisStore) CountActive(ctx context.Context, since time.Time) (int, error) {
	n, err := s.client.ZCount(ctx, s.activeKey(), "("+strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad last_seen %q: %w", raw, err)
	}
	return time.UnixMilli(ms), nil
}

func parseOptionalMillis(v any) (time.Time, error) {
	raw, _ := v.(string)
	if raw == "" {
		return time.Time{}, nil
	}
	return parseMillis(raw)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
