package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired. Callers treat it
// as a miss, never as a failure.
var ErrCacheMiss = errors.New("cache miss")

// Store is the shared key-value cache behind the OAuth, token, RBAC and
// policy layers. GetDel must be atomic: exactly one concurrent caller
// observes the value, everyone else gets ErrCacheMiss.
//
//go:generate mockgen -source=$GOFILE -destination=../mocks/mock_$GOPACKAGE/mock_$GOFILE -package=mock_$GOPACKAGE
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	GetDel(ctx context.Context, key string) (string, error)

	// DeletePrefix removes every key under the prefix. Role and policy
	// changes use it to invalidate cached decisions synchronously.
	DeletePrefix(ctx context.Context, prefix string) error
}
