// Package cache is the TTL-bounded store for fetched observation series.
//
// Entries live in SQLite (so they survive restarts) with an in-process layer in
// front. Expiry is judged against the entry's creation time on every read, so a
// stale entry is removed from both layers the first time it is seen.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	gocache "github.com/patrickmn/go-cache"

	"github.com/lox/croprisk/internal/metrics"
	"github.com/lox/croprisk/internal/store"
)

const DefaultTTL = 24 * time.Hour

// Backend is the persistent side of the cache.
type Backend interface {
	GetCacheEntry(ctx context.Context, key string) (*store.CacheEntry, error)
	PutCacheEntry(ctx context.Context, key string, payload []byte, createdAt time.Time) error
	DeleteCacheEntry(ctx context.Context, key string) error
}

type Cache struct {
	backend Backend
	ttl     time.Duration
	clock   clockwork.Clock
	local   *gocache.Cache
	logger  *slog.Logger
}

type localEntry struct {
	payload   []byte
	createdAt time.Time
}

type Option func(*Cache)

func WithClock(c clockwork.Clock) Option {
	return func(cc *Cache) { cc.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(cc *Cache) { cc.logger = l }
}

func New(backend Backend, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		backend: backend,
		ttl:     ttl,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "cache")
	c.local = gocache.New(ttl, 2*ttl)
	return c
}

// Key builds the cache key for an entity over a time range.
func Key(entityID string, start, end time.Time) string {
	return store.HashKey(entityID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) expired(createdAt time.Time) bool {
	return c.clock.Since(createdAt) > c.ttl
}

// Get decodes the entry stored under key into dst. It reports false on a miss,
// an expired entry, or an entry that cannot be decoded; the latter two are deleted.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	if v, ok := c.local.Get(key); ok {
		e := v.(localEntry)
		if c.expired(e.createdAt) {
			c.evict(ctx, key)
			metrics.CacheLookups.WithLabelValues("expired").Inc()
			return false
		}
		if err := json.Unmarshal(e.payload, dst); err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return true
		}
		c.local.Delete(key)
	}

	entry, err := c.backend.GetCacheEntry(ctx, key)
	if errors.Is(err, store.ErrCorruptEntry) {
		c.logger.Warn("discarding unreadable cache entry", "key", key, "error", err)
		c.evict(ctx, key)
		metrics.CacheLookups.WithLabelValues("corrupt").Inc()
		return false
	}
	if err != nil {
		c.logger.Warn("cache lookup failed", "key", key, "error", err)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return false
	}
	if entry == nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return false
	}
	if c.expired(entry.CreatedAt) {
		c.evict(ctx, key)
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		return false
	}
	if err := json.Unmarshal(entry.Payload, dst); err != nil {
		c.logger.Warn("discarding corrupt cache payload", "key", key, "error", err)
		c.evict(ctx, key)
		metrics.CacheLookups.WithLabelValues("corrupt").Inc()
		return false
	}

	c.local.Set(key, localEntry{payload: entry.Payload, createdAt: entry.CreatedAt}, gocache.DefaultExpiration)
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return true
}

// Put encodes v and stores it under key. The value is fully encoded before
// anything is written, so a failed encode leaves no entry behind.
func (c *Cache) Put(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	now := c.clock.Now().UTC()
	if err := c.backend.PutCacheEntry(ctx, key, payload, now); err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	c.local.Set(key, localEntry{payload: payload, createdAt: now}, gocache.DefaultExpiration)
	return nil
}

// Delete removes key from both layers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.local.Delete(key)
	return c.backend.DeleteCacheEntry(ctx, key)
}

func (c *Cache) evict(ctx context.Context, key string) {
	if err := c.Delete(ctx, key); err != nil {
		c.logger.Warn("delete cache entry", "key", key, "error", err)
	}
}
