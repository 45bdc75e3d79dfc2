package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/janua-io/janua/cache"
	"github.com/janua-io/janua/internal/metrics"
)

// Store implements cache.Store on Redis. GETDEL gives the atomic single-use
// semantics the authorization code exchange depends on.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore creates a new [Store]. The prefix namespaces keys when several
// deployments share one Redis.
func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
	}
}

func (s *Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		countOp(key, "miss")
		return "", cache.ErrCacheMiss
	}
	if err != nil {
		countOp(key, "error")
		return "", fmt.Errorf("redis get: %w", err)
	}
	countOp(key, "hit")
	return val, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	pattern := s.key(prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Store) GetDel(ctx context.Context, key string) (string, error) {
	val, err := s.client.GetDel(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		countOp(key, "miss")
		return "", cache.ErrCacheMiss
	}
	if err != nil {
		countOp(key, "error")
		return "", fmt.Errorf("redis getdel: %w", err)
	}
	countOp(key, "hit")
	return val, nil
}

// countOp records a cache read under the key's namespace, the segment before
// the first colon.
func countOp(key, outcome string) {
	if metrics.CacheOpsTotal == nil {
		return
	}
	ns := key
	if i := strings.IndexByte(key, ':'); i >= 0 {
		ns = key[:i]
	}
	metrics.CacheOpsTotal.WithLabelValues(ns, outcome).Inc()
}
