// Package sqlstore keeps encoded entities in one table of an SQLite or
// PostgreSQL database through database/sql. Statements come from the
// db.Builder, with placeholders chosen by the dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rieonke/em4go/pkg/codec"
	"github.com/rieonke/em4go/pkg/db"
	"github.com/rieonke/em4go/pkg/metamodel"
	"github.com/rieonke/em4go/pkg/storage"
)

var (
	columns      = []string{"entity_type", "entity_key", "payload", "digest", "updated_at"}
	keyColumns   = []string{"entity_type", "entity_key"}
	sqlOpen      = sql.Open
	errNilHandle = errors.New("sql handle cannot be nil")
)

// Config holds the SQL backend configuration
type Config struct {
	Dialect      string `json:"dialect" yaml:"dialect"` // sqlite, postgres
	DSN          string `json:"dsn" yaml:"dsn"`
	Table        string `json:"table" yaml:"table"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
}

// DefaultConfig returns an SQLite configuration writing to em4go.db
func DefaultConfig() *Config {
	return &Config{
		Dialect:      SQLite.Name,
		DSN:          "em4go.db",
		Table:        db.DefaultEntityTable,
		MaxOpenConns: 4,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := DialectByName(c.Dialect); err != nil {
		return err
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if c.Table != "" && !db.IsIdentifier(c.Table) {
		return fmt.Errorf("table %q is not a valid SQL identifier", c.Table)
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("max_open_conns cannot be negative")
	}
	return nil
}

// Backend implements storage.Backend over a *sql.DB
type Backend struct {
	db      *sql.DB
	dialect Dialect
	table   string
	codec   codec.Codec
	ownsDB  bool
	guard   storage.InitGuard
}

// Open validates cfg and opens the database. The connection is checked on Initialize.
func Open(cfg *Config, c codec.Codec) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sql config: %w", err)
	}
	dialect, _ := DialectByName(cfg.Dialect)

	handle, err := sqlOpen(dialect.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name, err)
	}
	switch {
	case dialect.Name == SQLite.Name && strings.Contains(cfg.DSN, ":memory:"):
		// every connection would get its own in-memory database
		handle.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		handle.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	b, err := New(handle, dialect, cfg.Table, c)
	if err != nil {
		_ = handle.Close()
		return nil, err
	}
	b.ownsDB = true
	return b, nil
}

// New wraps an open handle. The caller keeps ownership of handle; Close
// leaves it open. An empty table selects db.DefaultEntityTable.
func New(handle *sql.DB, dialect Dialect, table string, c codec.Codec) (*Backend, error) {
	if handle == nil {
		return nil, errNilHandle
	}
	if table == "" {
		table = db.DefaultEntityTable
	}
	if !db.IsIdentifier(table) {
		return nil, fmt.Errorf("table %q is not a valid SQL identifier", table)
	}
	if c == nil {
		c = codec.Default()
	}
	return &Backend{db: handle, dialect: dialect, table: table, codec: c}, nil
}

func (b *Backend) builder() *db.Builder {
	return db.NewBuilder(b.table).Placeholders(b.dialect.Placeholders)
}

func (b *Backend) byKey(key metamodel.Key, cols ...string) *db.Builder {
	return b.builder().
		Select(cols...).
		Where("entity_type", db.Equal, key.EntityType().Name()).
		Where("entity_key", db.Equal, key.String()).
		Limit(1)
}

// Initialize pings the database and creates the entity table
func (b *Backend) Initialize(ctx context.Context) error {
	return b.guard.Do(func() error {
		if err := b.db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping %s: %w", b.dialect.Name, err)
		}
		if _, err := b.db.ExecContext(ctx, b.dialect.createTable(b.table)); err != nil {
			return fmt.Errorf("create table %s: %w", b.table, err)
		}
		return nil
	})
}

// Get decodes the entity stored at key, or returns (nil, nil) if absent
func (b *Backend) Get(ctx context.Context, key metamodel.Key) (any, error) {
	if err := b.guard.Ready(); err != nil {
		return nil, err
	}
	query, args := b.byKey(key, "payload").BuildSelect()

	var payload []byte
	err := b.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return storage.Decode(b.codec, key, payload)
}

// Contains reports whether key is stored
func (b *Backend) Contains(ctx context.Context, key metamodel.Key) (bool, error) {
	if err := b.guard.Ready(); err != nil {
		return false, err
	}
	query, args := b.byKey(key, "1").BuildSelect()

	var one int
	err := b.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	return true, nil
}

// Put encodes and stores entity at key, replacing an existing row
func (b *Backend) Put(ctx context.Context, key metamodel.Key, entity any) error {
	if err := b.guard.Ready(); err != nil {
		return err
	}
	rec, err := storage.Encode(b.codec, key, entity)
	if err != nil {
		return err
	}
	query, _ := b.builder().BuildUpsert(columns, keyColumns)

	_, err = b.db.ExecContext(ctx, query,
		key.EntityType().Name(), key.String(), rec.Data, int64(rec.Digest), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Remove deletes key; removing an absent key is not an error
func (b *Backend) Remove(ctx context.Context, key metamodel.Key) error {
	if err := b.guard.Ready(); err != nil {
		return err
	}
	query := b.builder().BuildDelete(keyColumns...)

	if _, err := b.db.ExecContext(ctx, query, key.EntityType().Name(), key.String()); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// IsModified compares entity's digest with the stored digest column.
// An absent key counts as modified.
func (b *Backend) IsModified(ctx context.Context, key metamodel.Key, entity any) (bool, error) {
	if err := b.guard.Ready(); err != nil {
		return false, err
	}
	query, args := b.byKey(key, "digest").BuildSelect()

	var digest int64
	err := b.db.QueryRowContext(ctx, query, args...).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load digest of %s: %w", key, err)
	}
	return storage.Differs(b.codec, key, entity, uint64(digest))
}

// Keys lists the stored keys of one entity type in key order
func (b *Backend) Keys(ctx context.Context, et *metamodel.EntityType) ([]string, error) {
	if err := b.guard.Ready(); err != nil {
		return nil, err
	}
	query, args := b.builder().
		Select("entity_key").
		Where("entity_type", db.Equal, et.Name()).
		OrderBy("entity_key", false).
		BuildSelect()

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s keys: %w", et.Name(), err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DB exposes the underlying handle
func (b *Backend) DB() *sql.DB { return b.db }

// Collector exports the pool statistics labelled with the dialect name
func (b *Backend) Collector() (prometheus.Collector, error) {
	return collectors.NewDBStatsCollector(b.db, b.dialect.Name), nil
}

// Close closes the handle if Open created it
func (b *Backend) Close() error {
	if !b.ownsDB {
		return nil
	}
	return b.db.Close()
}
