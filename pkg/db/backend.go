package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rieonke/em4go/pkg/codec"
	"github.com/rieonke/em4go/pkg/metamodel"
	"github.com/rieonke/em4go/pkg/storage"
)

// StoredEntity is one row of the entity table
type StoredEntity struct {
	EntityType string    `gorm:"primaryKey;size:191"`
	EntityKey  string    `gorm:"primaryKey;size:191"`
	Payload    []byte    `gorm:"not null"`
	Digest     uint64    `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// Backend stores encoded entities in a MySQL table through GORM
type Backend struct {
	manager *Manager
	codec   codec.Codec
	table   string
	guard   storage.InitGuard
}

// NewBackend creates a storage backend over manager. A nil codec selects codec.Default().
func NewBackend(manager *Manager, c codec.Codec) *Backend {
	if c == nil {
		c = codec.Default()
	}
	return &Backend{
		manager: manager,
		codec:   c,
		table:   manager.Config().TableName(),
	}
}

// Initialize pings the database and migrates the entity table
func (b *Backend) Initialize(ctx context.Context) error {
	return b.guard.Do(func() error {
		if err := b.manager.Ping(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		if err := b.manager.DB().WithContext(ctx).Table(b.table).AutoMigrate(&StoredEntity{}); err != nil {
			return fmt.Errorf("migrate %s: %w", b.table, err)
		}
		return nil
	})
}

// lookup scopes a query to the row of key
func (b *Backend) lookup(tx *gorm.DB, key metamodel.Key) *gorm.DB {
	return tx.Table(b.table).
		Where("entity_type = ? AND entity_key = ?", key.EntityType().Name(), key.String())
}

// upsert writes row, replacing payload and digest of an existing row
func (b *Backend) upsert(tx *gorm.DB, row *StoredEntity) *gorm.DB {
	return tx.Table(b.table).Clauses(clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{"payload", "digest", "updated_at"}),
	}).Create(row)
}

// Get decodes the entity stored at key, or returns (nil, nil) if absent
func (b *Backend) Get(ctx context.Context, key metamodel.Key) (any, error) {
	if err := b.guard.Ready(); err != nil {
		return nil, err
	}
	ctx, cancel := b.manager.withTimeout(ctx)
	defer cancel()

	var row StoredEntity
	err := b.lookup(b.manager.DB().WithContext(ctx), key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return storage.Decode(b.codec, key, row.Payload)
}

// Contains reports whether key is stored
func (b *Backend) Contains(ctx context.Context, key metamodel.Key) (bool, error) {
	if err := b.guard.Ready(); err != nil {
		return false, err
	}
	ctx, cancel := b.manager.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := b.lookup(b.manager.DB().WithContext(ctx), key).Count(&n).Error; err != nil {
		return false, fmt.Errorf("count %s: %w", key, err)
	}
	return n > 0, nil
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
	ctx, cancel := b.manager.withTimeout(ctx)
	defer cancel()

	row := &StoredEntity{
		EntityType: key.EntityType().Name(),
		EntityKey:  key.String(),
		Payload:    rec.Data,
		Digest:     rec.Digest,
	}
	if err := b.upsert(b.manager.DB().WithContext(ctx), row).Error; err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Remove deletes key; removing an absent key is not an error
func (b *Backend) Remove(ctx context.Context, key metamodel.Key) error {
	if err := b.guard.Ready(); err != nil {
		return err
	}
	ctx, cancel := b.manager.withTimeout(ctx)
	defer cancel()

	if err := b.lookup(b.manager.DB().WithContext(ctx), key).Delete(&StoredEntity{}).Error; err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// IsModified compares entity's digest with the stored digest column, without
// fetching the payload. An absent key counts as modified.
func (b *Backend) IsModified(ctx context.Context, key metamodel.Key, entity any) (bool, error) {
	if err := b.guard.Ready(); err != nil {
		return false, err
	}
	ctx, cancel := b.manager.withTimeout(ctx)
	defer cancel()

	var row StoredEntity
	err := b.lookup(b.manager.DB().WithContext(ctx), key).Select("digest").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load digest of %s: %w", key, err)
	}
	return storage.Differs(b.codec, key, entity, row.Digest)
}

// Keys lists the stored keys of one entity type
func (b *Backend) Keys(ctx context.Context, et *metamodel.EntityType) ([]string, error) {
	if err := b.guard.Ready(); err != nil {
		return nil, err
	}
	ctx, cancel := b.manager.withTimeout(ctx)
	defer cancel()

	var keys []string
	err := b.manager.DB().WithContext(ctx).Table(b.table).
		Where("entity_type = ?", et.Name()).
		Order("entity_key").
		Pluck("entity_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("list %s keys: %w", et.Name(), err)
	}
	return keys, nil
}

// Collector exports the connection pool statistics
func (b *Backend) Collector() (prometheus.Collector, error) {
	return b.manager.Collector()
}

// Close closes the database connection
func (b *Backend) Close() error {
	return b.manager.Close()
}
