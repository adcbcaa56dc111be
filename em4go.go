// Package em4go provides a client-local entity manager: a persistence
// context of live entity instances over a pluggable storage backend
// (memory, SQLite, PostgreSQL, MySQL, Redis or S3).
package em4go

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rieonke/em4go/pkg/codec"
	"github.com/rieonke/em4go/pkg/config"
	"github.com/rieonke/em4go/pkg/db"
	"github.com/rieonke/em4go/pkg/entitymanager"
	"github.com/rieonke/em4go/pkg/metamodel"
	"github.com/rieonke/em4go/pkg/objectstore"
	"github.com/rieonke/em4go/pkg/redis"
	"github.com/rieonke/em4go/pkg/sqlstore"
	"github.com/rieonke/em4go/pkg/storage"
)

// EntityManager manages the lifecycle of entity instances
type EntityManager = entitymanager.EntityManager

// EntityState is NEW, MANAGED, DETACHED or REMOVED
type EntityState = entitymanager.EntityState

// Populator registers every entity type and freezes the metamodel
type Populator = entitymanager.Populator

// Option configures an EntityManager
type Option = entitymanager.Option

// Metamodel describes the entity types
type Metamodel = metamodel.Metamodel

// EntityType describes one entity type
type EntityType = metamodel.EntityType

// Key identifies an entity by type and id
type Key = metamodel.Key

// Backend stores encoded entities
type Backend = storage.Backend

// Config is the configuration file
type Config = config.Config

const (
	StateNew      = entitymanager.StateNew
	StateManaged  = entitymanager.StateManaged
	StateDetached = entitymanager.StateDetached
	StateRemoved  = entitymanager.StateRemoved
)

var (
	WithLogger  = entitymanager.WithLogger
	WithMetrics = entitymanager.WithMetrics
)

// New creates an entity manager over backend
func New(ctx context.Context, backend Backend, populate Populator, opts ...Option) (*EntityManager, error) {
	return entitymanager.New(ctx, backend, populate, opts...)
}

// Find loads the entity of type T with id
func Find[T any](ctx context.Context, em *EntityManager, id any) (*T, error) {
	return entitymanager.Find[T](ctx, em, id)
}

// LoadConfig finds and loads the configuration file, see config.Load
func LoadConfig() (*Config, error) {
	cfg, _, err := config.Load()
	return cfg, err
}

// OpenBackend opens the backend selected by cfg, behind a Redis cache when
// backend.cache is enabled. It is not initialized; New does that.
func OpenBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (Backend, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	durable, err := openDurable(ctx, cfg, c, logger)
	if err != nil || !cfg.Backend.Cache.Enabled {
		return durable, err
	}

	manager, err := redis.NewManager(&cfg.Backend.Redis)
	if err != nil {
		closeBackend(durable)
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return storage.NewTiered(redis.NewBackend(manager, c, logger), durable, logger), nil
}

func openDurable(ctx context.Context, cfg *Config, c codec.Codec, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend.Driver {
	case config.DriverMemory:
		return storage.NewMemoryBackend(c), nil

	case config.DriverSQLite, config.DriverPostgres:
		sqlCfg := cfg.Backend.SQL
		sqlCfg.Dialect = string(cfg.Backend.Driver)
		b, err := sqlstore.Open(&sqlCfg, c)
		if err != nil {
			return nil, err
		}
		return b, nil

	case config.DriverMySQL:
		manager, err := db.NewManager(&cfg.Backend.MySQL, logger)
		if err != nil {
			return nil, err
		}
		return db.NewBackend(manager, c), nil

	case config.DriverRedis:
		manager, err := redis.NewManager(&cfg.Backend.Redis)
		if err != nil {
			return nil, err
		}
		return redis.NewBackend(manager, c, logger), nil

	case config.DriverS3:
		b, err := objectstore.New(ctx, cfg.Backend.S3, c)
		if err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown backend driver %q", cfg.Backend.Driver)
	}
}

// NewFromConfig opens the configured backend and creates an entity manager
// over it. Logs go to stderr; metrics, when enabled, to reg (the default
// registerer if nil). opts are applied last.
func NewFromConfig(ctx context.Context, cfg *Config, populate Populator, reg prometheus.Registerer, opts ...Option) (*EntityManager, error) {
	return newFromConfig(ctx, cfg, populate, reg, os.Stderr, opts...)
}

func newFromConfig(ctx context.Context, cfg *Config, populate Populator, reg prometheus.Registerer, logOut io.Writer, opts ...Option) (*EntityManager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := cfg.Logging.NewLogger(logOut)

	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend.Driver, err)
	}

	base := []Option{WithLogger(logger)}
	if cfg.Metrics.Enabled {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if err := registerBackendMetrics(reg, backend); err != nil {
			closeBackend(backend)
			return nil, err
		}
		base = append(base, WithMetrics(reg, cfg.Metrics.Labels))
	}

	em, err := entitymanager.New(ctx, backend, populate, append(base, opts...)...)
	if err != nil {
		closeBackend(backend)
		return nil, err
	}
	return em, nil
}

// metricsSource is implemented by backends that export their own metrics
type metricsSource interface {
	Collector() (prometheus.Collector, error)
}

// registerBackendMetrics exports the metrics of the backend, or of both
// tiers of a cache-aside backend.
func registerBackendMetrics(reg prometheus.Registerer, backend Backend) error {
	tiers := []Backend{backend}
	if t, ok := backend.(*storage.Tiered); ok {
		cache, durable := t.Tiers()
		tiers = []Backend{cache, durable}
	}
	for _, b := range tiers {
		src, ok := b.(metricsSource)
		if !ok {
			continue
		}
		c, err := src.Collector()
		if err != nil {
			return fmt.Errorf("backend metrics: %w", err)
		}
		if c == nil {
			continue
		}
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register backend metrics: %w", err)
		}
	}
	return nil
}

func closeBackend(b Backend) {
	if c, ok := b.(io.Closer); ok {
		_ = c.Close()
	}
}
