// Package store abstracts the shared cache/counter backend. The
// gateway is stateless across calls; everything that must be atomic
// under concurrent callers goes through these interfaces as a single
// batched operation, never as separate read-then-write steps.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// WindowIncrement names one sliding-window counter to bump.
type WindowIncrement struct {
	Key    string
	Window time.Duration
}

// CounterStore maintains sliding-window counters shared across gateway
// replicas. AtomicWindowIncrement evicts entries older than each
// window, records the current call, refreshes expiry and returns the
// resulting cardinality per counter. All increments of one call are
// applied as a single atomic batch.
type CounterStore interface {
	AtomicWindowIncrement(ctx context.Context, increments []WindowIncrement) ([]int64, error)
}

// Cache is a short-TTL byte cache for lookup results (key records,
// resolved access, CSRF tokens, schemas).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
