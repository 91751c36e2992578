// Package cache implements the response cache that fronts the provider
// clients: a key/value store with TTL and get-or-compute semantics. Cached
// values are JSON-serialized whole-operation responses, keyed by a
// fingerprint of the caller identity, resource path and reporting week.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store is the backing key/value store. Get reports a missing key via
// ok=false; a non-nil error means the store itself is unreachable, which the
// cache treats differently (it bypasses the store rather than failing the
// caller).
type Store interface {
	Get(ctx context.Context, key string) (value string, expiresAt time.Time, ok bool, err error)
	Set(ctx context.Context, key, value string, expiresAt time.Time) error
	Close() error
}

// Cache wraps a Store with get-or-compute semantics and single-flight
// coalescing of concurrent misses for the same key.
type Cache struct {
	store Store
	now   func() time.Time

	mu       sync.Mutex
	inflight map[string]*call
}

type call struct {
	done  chan struct{}
	value string
	err   error
}

// New creates a Cache over the given store.
func New(store Store) *Cache {
	return &Cache{
		store:    store,
		now:      time.Now,
		inflight: make(map[string]*call),
	}
}

// Fingerprint derives the deterministic cache key for one operation. The
// caller identity is part of the key so differently-permissioned callers
// never read each other's cached responses.
func Fingerprint(identity, resourcePath string, weekStart time.Time) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s\n%s\n%s", identity, resourcePath, weekStart.UTC().Format("2006-01-02")))
	return hex.EncodeToString(h[:])
}

// GetOrCompute returns the cached value for key if present and unexpired.
// On a miss it invokes compute, stores the result with the given TTL and
// returns it. A store failure on either path is logged and bypassed; the
// caller never fails because the cache is unreachable.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (string, error)) (string, error) {
	value, expiresAt, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("cache store unreachable, bypassing", "key", key, "error", err)
		return compute(ctx)
	}
	if ok && c.now().Before(expiresAt) {
		return value, nil
	}

	c.mu.Lock()
	if cl, running := c.inflight[key]; running {
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.value, cl.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.value, cl.err = compute(ctx)
	if cl.err == nil {
		if err := c.store.Set(ctx, key, cl.value, c.now().Add(ttl)); err != nil {
			slog.Warn("cache write failed", "key", key, "error", err)
		}
	}

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(cl.done)

	return cl.value, cl.err
}

// FetchResolved is Fetch for operations whose results may be intermediate:
// only results accepted by the done predicate are written to the store, so an
// intermediate result is returned to the caller but recomputed on the next
// call. It skips the single-flight path; callers that need coalescing and
// always-cacheable results use Fetch.
func FetchResolved[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, done func(T) bool, compute func(context.Context) (T, error)) (T, error) {
	value, expiresAt, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("cache store unreachable, bypassing", "key", key, "error", err)
	} else if ok && c.now().Before(expiresAt) {
		var out T
		if err := json.Unmarshal([]byte(value), &out); err == nil {
			return out, nil
		}
		slog.Warn("cached entry undecodable, recomputing", "key", key)
	}

	v, err := compute(ctx)
	if err != nil || !done(v) {
		return v, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := c.store.Set(ctx, key, string(data), c.now().Add(ttl)); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
	return v, nil
}

// Fetch runs a typed operation through the cache, JSON-encoding the computed
// value. An undecodable cached entry is treated as a miss.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := c.GetOrCompute(ctx, key, ttl, func(ctx context.Context) (string, error) {
		v, err := compute(ctx)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode cached value: %w", err)
		}
		return string(data), nil
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("cached entry undecodable, recomputing", "error", err)
		return compute(ctx)
	}
	return out, nil
}
