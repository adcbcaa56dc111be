package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rieonke/em4go/pkg/codec"
	"github.com/rieonke/em4go/pkg/metamodel"
	"github.com/rieonke/em4go/pkg/storage"
)

// valueStore is the part of Manager the backend relies on
type valueStore interface {
	Ping(ctx context.Context) error
	GetLarge(ctx context.Context, key string) ([]byte, error)
	SetLarge(ctx context.Context, key string, value []byte) error
	DeleteLarge(ctx context.Context, key string) error
	ExistsLarge(ctx context.Context, key string) (bool, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

// Backend stores encoded entities in Redis, one value per entity key.
// Large encodings go through Manager's compression and chunking.
type Backend struct {
	store   valueStore
	codec   codec.Codec
	prefix  string
	logging LoggingConfig
	logger  *slog.Logger
	guard   storage.InitGuard
}

// NewBackend creates a storage backend over manager. A nil codec selects
// codec.Default(); a nil logger selects slog.Default().
func NewBackend(manager *Manager, c codec.Codec, logger *slog.Logger) *Backend {
	return newBackend(manager, manager.Config().KeyPrefix, manager.Config().Logging, c, logger)
}

func newBackend(store valueStore, prefix string, logging LoggingConfig, c codec.Codec, logger *slog.Logger) *Backend {
	if c == nil {
		c = codec.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		store:   store,
		codec:   c,
		prefix:  prefix,
		logging: logging,
		logger:  logger,
	}
}

// Initialize verifies the connection. A failed ping is permanent for this Backend.
func (b *Backend) Initialize(ctx context.Context) error {
	return b.guard.Do(func() error {
		return b.store.Ping(ctx)
	})
}

func (b *Backend) redisKey(key metamodel.Key) string {
	return b.prefix + key.String()
}

// load returns the stored encoding, or nil when the key is absent
func (b *Backend) load(ctx context.Context, key metamodel.Key) ([]byte, error) {
	if err := b.guard.Ready(); err != nil {
		return nil, err
	}
	data, err := b.store.GetLarge(ctx, b.redisKey(key))
	if IsKeyNotFound(err) {
		if b.logging.LogMisses {
			b.logger.Debug("redis entity miss", "key", b.redisKey(key))
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	if b.logging.LogHits {
		b.logger.Debug("redis entity hit", "key", b.redisKey(key), "bytes", len(data))
	}
	return data, nil
}

// Get decodes the entity stored at key, or returns (nil, nil) if absent
func (b *Backend) Get(ctx context.Context, key metamodel.Key) (any, error) {
	data, err := b.load(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}
	return storage.Decode(b.codec, key, data)
}

// Contains reports whether key is stored without fetching the value
func (b *Backend) Contains(ctx context.Context, key metamodel.Key) (bool, error) {
	if err := b.guard.Ready(); err != nil {
		return false, err
	}
	ok, err := b.store.ExistsLarge(ctx, b.redisKey(key))
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return ok, nil
}

// Put encodes and stores entity at key
func (b *Backend) Put(ctx context.Context, key metamodel.Key, entity any) error {
	if err := b.guard.Ready(); err != nil {
		return err
	}
	rec, err := storage.Encode(b.codec, key, entity)
	if err != nil {
		return err
	}
	if err := b.store.SetLarge(ctx, b.redisKey(key), rec.Data); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key; removing an absent key is not an error
func (b *Backend) Remove(ctx context.Context, key metamodel.Key) error {
	if err := b.guard.Ready(); err != nil {
		return err
	}
	if err := b.store.DeleteLarge(ctx, b.redisKey(key)); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// IsModified compares the digest of entity's encoding with the stored one.
// An absent key counts as modified.
func (b *Backend) IsModified(ctx context.Context, key metamodel.Key, entity any) (bool, error) {
	data, err := b.load(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return true, nil
	}
	return storage.Differs(b.codec, key, entity, storage.Digest(data))
}

// Keys lists the stored keys of one entity type
func (b *Backend) Keys(ctx context.Context, et *metamodel.EntityType) ([]string, error) {
	if err := b.guard.Ready(); err != nil {
		return nil, err
	}
	return b.store.ScanKeys(ctx, b.prefix+metamodel.Prefix(et)+"*")
}

// Metrics returns the manager's counters, or nil when metrics are disabled
func (b *Backend) Metrics() *Metrics {
	if m, ok := b.store.(*Manager); ok {
		return m.Metrics()
	}
	return nil
}

// Collector returns the Redis counters as a prometheus.Collector, or nil
// when metrics are disabled.
func (b *Backend) Collector() (prometheus.Collector, error) {
	if m := b.Metrics(); m != nil {
		return m, nil
	}
	return nil, nil
}

// Close closes the underlying connection when the store owns one
func (b *Backend) Close() error {
	if c, ok := b.store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
