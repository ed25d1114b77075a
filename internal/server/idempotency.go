package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL is how long an upload key replays its report.
const DefaultIdempotencyTTL = 24 * time.Hour

// Idempotency remembers which report an upload key created.
type Idempotency interface {
	// Lookup returns the report recorded for key.
	Lookup(ctx context.Context, key string) (id int64, ok bool, err error)
	// Claim records id for key unless the key is already taken. It returns
	// the id that owns the key afterwards.
	Claim(ctx context.Context, key string, id int64) (owner int64, err error)
	// Release forgets key.
	Release(ctx context.Context, key string) error
}

type memEntry struct {
	id      int64
	expires time.Time
}

// MemIdempotency keeps keys in process memory.
type MemIdempotency struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]memEntry
	now  func() time.Time
}

// NewMemIdempotency returns an in-memory key store. A ttl <= 0 uses
// DefaultIdempotencyTTL.
func NewMemIdempotency(ttl time.Duration) *MemIdempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &MemIdempotency{ttl: ttl, keys: make(map[string]memEntry), now: time.Now}
}

func (m *MemIdempotency) Lookup(_ context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.keys[key]
	if !ok || !m.now().Before(e.expires) {
		return 0, false, nil
	}
	return e.id, true, nil
}

func (m *MemIdempotency) Claim(_ context.Context, key string, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now()
	for k, e := range m.keys {
		if !t.Before(e.expires) {
			delete(m.keys, k)
		}
	}
	if e, ok := m.keys[key]; ok {
		return e.id, nil
	}
	m.keys[key] = memEntry{id: id, expires: t.Add(m.ttl)}
	return id, nil
}

func (m *MemIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// RedisIdempotency shares keys between server replicas.
type RedisIdempotency struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisIdempotency stores keys as <prefix><key> with the given ttl.
func NewRedisIdempotency(rdb *redis.Client, prefix string, ttl time.Duration) *RedisIdempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if prefix == "" {
		prefix = "awrlens:upload:"
	}
	return &RedisIdempotency{rdb: rdb, ttl: ttl, prefix: prefix}
}

// DialRedis connects and pings.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *RedisIdempotency) Lookup(ctx context.Context, key string) (int64, bool, error) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency key %s holds %q", key, val)
	}
	return id, true, nil
}

func (r *RedisIdempotency) Claim(ctx context.Context, key string, id int64) (int64, error) {
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, id, r.ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("idempotency claim: %w", err)
	}
	if ok {
		return id, nil
	}
	owner, found, err := r.Lookup(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		// Expired between SETNX and GET.
		return r.Claim(ctx, key, id)
	}
	return owner, nil
}

func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}
