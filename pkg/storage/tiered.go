package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/rieonke/em4go/pkg/metamodel"
)

// Tiered puts a cache backend (typically Redis) in front of a durable one.
// Reads are cache-first; a miss is filled from the durable tier. Writes go
// to the durable tier first, then to the cache. Cache failures never fail
// an operation: they are logged and the durable tier answers. A cache that
// fails to initialize, or fails to evict a key, is bypassed from then on so
// it can never serve a stale entity. IsModified always asks the durable tier.
type Tiered struct {
	cache   Backend
	durable Backend
	logger  *slog.Logger
	guard   InitGuard
	cached  atomic.Bool
}

// NewTiered creates a cache-aside backend. A nil logger selects slog.Default().
func NewTiered(cache, durable Backend, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{cache: cache, durable: durable, logger: logger}
}

// Initialize initializes the durable tier, then the cache. A cache that
// cannot initialize is bypassed for the lifetime of the Tiered backend.
// Safe to call more than once.
func (t *Tiered) Initialize(ctx context.Context) error {
	return t.guard.Do(func() error {
		if err := t.durable.Initialize(ctx); err != nil {
			return err
		}
		if err := t.cache.Initialize(ctx); err != nil {
			t.logger.Warn("cache tier unavailable, reading durable tier only", "error", err)
			return nil
		}
		t.cached.Store(true)
		return nil
	})
}

// Tiers returns the cache and the durable backend
func (t *Tiered) Tiers() (cache, durable Backend) {
	return t.cache, t.durable
}

// Cached reports whether the cache tier is in use
func (t *Tiered) Cached() bool {
	return t.cached.Load()
}

// Get returns the cached entity or loads it from the durable tier and
// fills the cache.
func (t *Tiered) Get(ctx context.Context, key metamodel.Key) (any, error) {
	if err := t.guard.Ready(); err != nil {
		return nil, err
	}
	if t.cached.Load() {
		entity, err := t.cache.Get(ctx, key)
		if err == nil && entity != nil {
			return entity, nil
		}
		if err != nil {
			t.logger.Warn("cache get failed", "key", key.String(), "error", err)
		}
	}

	entity, err := t.durable.Get(ctx, key)
	if err != nil || entity == nil {
		return entity, err
	}
	if t.cached.Load() {
		if err := t.cache.Put(ctx, key, entity); err != nil {
			t.logger.Warn("cache fill failed", "key", key.String(), "error", err)
		}
	}
	return entity, nil
}

// Contains reports a cache hit directly and otherwise asks the durable tier
func (t *Tiered) Contains(ctx context.Context, key metamodel.Key) (bool, error) {
	if err := t.guard.Ready(); err != nil {
		return false, err
	}
	if t.cached.Load() {
		if ok, err := Contains(ctx, t.cache, key); err == nil && ok {
			return true, nil
		}
	}
	return Contains(ctx, t.durable, key)
}

// Put writes through: durable tier first, then the cache. A failed cache
// write evicts the key so the cache never serves the previous version.
func (t *Tiered) Put(ctx context.Context, key metamodel.Key, entity any) error {
	if err := t.guard.Ready(); err != nil {
		return err
	}
	if err := t.durable.Put(ctx, key, entity); err != nil {
		return err
	}
	if !t.cached.Load() {
		return nil
	}
	if err := t.cache.Put(ctx, key, entity); err != nil {
		t.logger.Warn("cache put failed", "key", key.String(), "error", err)
		t.evict(ctx, key)
	}
	return nil
}

// Remove deletes key from the durable tier and evicts it from the cache
func (t *Tiered) Remove(ctx context.Context, key metamodel.Key) error {
	if err := t.guard.Ready(); err != nil {
		return err
	}
	if err := t.durable.Remove(ctx, key); err != nil {
		return err
	}
	if t.cached.Load() {
		t.evict(ctx, key)
	}
	return nil
}

// evict drops key from the cache. If that fails the cache may still hold an
// older version, so it is taken out of service.
func (t *Tiered) evict(ctx context.Context, key metamodel.Key) {
	if err := t.cache.Remove(ctx, key); err != nil {
		t.cached.Store(false)
		t.logger.Error("cache evict failed, reading durable tier only", "key", key.String(), "error", err)
	}
}

// IsModified asks the durable tier
func (t *Tiered) IsModified(ctx context.Context, key metamodel.Key, entity any) (bool, error) {
	if err := t.guard.Ready(); err != nil {
		return false, err
	}
	return t.durable.IsModified(ctx, key, entity)
}

// Close closes both tiers when they hold resources
func (t *Tiered) Close() error {
	var errs []error
	for _, b := range []Backend{t.cache, t.durable} {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close tiered backend: %w", err)
	}
	return nil
}
