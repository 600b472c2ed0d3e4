package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nerrad567/hydro-core/internal/infrastructure/cache"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Store is a key/value store whose entries expire.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value for ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr increments a counter, starting its ttl when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// =============================================================================
// Memory
// =============================================================================

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore keeps entries in process. Expired entries are dropped when
// next read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   Clock
}

// NewMemoryStore creates an in-memory store. A nil clock uses SystemClock.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), clock: clock}
}

// lookup returns a live entry. Callers hold mu.
func (m *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return e, false
	}
	if !m.clock.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return e, false
	}
	return e, true
}

// Get returns a live value.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	return e.value, ok, nil
}

// Set stores a value with a ttl.
func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: m.clock.Now().Add(ttl)}
	return nil
}

// Incr increments a counter.
func (m *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		e = memoryEntry{value: "0", expiresAt: m.clock.Now().Add(ttl)}
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s holds %q: %w", key, e.value, err)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	m.entries[key] = e
	return n, nil
}

// DeletePrefix removes matching keys.
func (m *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Redis
// =============================================================================

const scanBatch = 100

// RedisStore keeps entries in Redis under the cache client's namespace, so
// throttle state survives restarts and is shared between instances.
type RedisStore struct {
	client *cache.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *cache.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns a value.
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Redis().Get(ctx, r.client.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores a value with a ttl.
func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Redis().Set(ctx, r.client.Key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Incr increments a counter and starts its ttl on creation.
func (r *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	full := r.client.Key(key)
	n, err := r.client.Redis().Incr(ctx, full).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if n == 1 {
		if err := r.client.Redis().Expire(ctx, full, ttl).Err(); err != nil {
			return n, fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return n, nil
}

// DeletePrefix removes matching keys using SCAN.
func (r *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	rdb := r.client.Redis()
	match := r.client.Key(prefix) + "*"

	deleted := 0
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis scan %s: %w", match, err)
		}
		if len(keys) > 0 {
			n, err := rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("redis del: %w", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
