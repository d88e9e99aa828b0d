package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scoped is the Redis-class shared cache fronting the in-process LRU.
//
// It is optional: a nil client degrades every operation to a miss / no-op so
// deployments without Redis still work. Values are opaque bytes; callers
// serialize engine results themselves.
type Scoped struct {
	client *redis.Client
	prefix string
}

// NewScoped creates a scoped cache. client may be nil.
func NewScoped(client *redis.Client, prefix string) *Scoped {
	if prefix == "" {
		prefix = "insightflow:query"
	}
	return &Scoped{client: client, prefix: prefix}
}

// Get returns the cached value and true on a hit. Transport errors degrade
// to a miss.
func (s *Scoped) Get(ctx context.Context, key string) ([]byte, bool) {
	if s == nil || s.client == nil {
		return nil, false
	}
	value, err := s.client.Get(ctx, s.prefix+":"+key).Bytes()
	if err != nil {
		return nil, false
	}
	return value, true
}

// Set stores value under key with the given TTL. Failures are swallowed;
// the cache is an optimization, never a dependency.
func (s *Scoped) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if s == nil || s.client == nil {
		return
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	_ = s.client.Set(ctx, s.prefix+":"+key, value, ttl).Err()
}

// Ping reports whether the backing server is reachable. A nil client is
// reported as unavailable without error noise.
func (s *Scoped) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("scoped cache not configured")
	}
	return s.client.Ping(ctx).Err()
}
