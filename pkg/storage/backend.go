// Package storage defines the second-level store the entity manager reads
// entities from and writes them to, plus an in-process implementation.
//
// Every backend serializes entities through a codec.Codec and records the
// xxhash digest of each stored encoding; IsModified compares that digest
// with the digest of the live instance's current encoding.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/rieonke/em4go/pkg/codec"
	"github.com/rieonke/em4go/pkg/metamodel"
)

// Backend is the capability set the entity manager needs from a store.
// Get returns (nil, nil) when the key is absent.
type Backend interface {
	Initialize(ctx context.Context) error
	Get(ctx context.Context, key metamodel.Key) (any, error)
	Put(ctx context.Context, key metamodel.Key, entity any) error
	Remove(ctx context.Context, key metamodel.Key) error
	IsModified(ctx context.Context, key metamodel.Key, entity any) (bool, error)
}

// Container is implemented by backends that can test for a key without
// decoding the stored entity.
type Container interface {
	Contains(ctx context.Context, key metamodel.Key) (bool, error)
}

// Contains asks b whether key is stored, using Container when available.
func Contains(ctx context.Context, b Backend, key metamodel.Key) (bool, error) {
	if c, ok := b.(Container); ok {
		return c.Contains(ctx, key)
	}
	entity, err := b.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return entity != nil, nil
}

// Sentinel errors for storage operations
var (
	// ErrNotFound is returned by low-level stores when a key is absent
	ErrNotFound = errors.New("storage key not found")

	// ErrNotInitialized is returned when a backend is used before Initialize
	ErrNotInitialized = errors.New("storage backend not initialized")

	// ErrTypeMismatch is returned when an entity is stored under another type's key
	ErrTypeMismatch = errors.New("entity does not match key type")
)

// IsNotFound checks if an error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Record is an encoded entity together with the digest of its encoding
type Record struct {
	Data   []byte
	Digest uint64
}

// Encode serializes entity for key, checking that it belongs to the key's type.
func Encode(c codec.Codec, key metamodel.Key, entity any) (Record, error) {
	if !key.EntityType().Owns(entity) {
		return Record{}, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, entity, key)
	}
	data, err := c.Marshal(entity)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return Record{Data: data, Digest: Digest(data)}, nil
}

// Decode deserializes data into a fresh instance of the key's entity type.
func Decode(c codec.Codec, key metamodel.Key, data []byte) (any, error) {
	entity := key.EntityType().New()
	if err := c.Unmarshal(data, entity); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return entity, nil
}

// Digest returns the xxhash digest of an encoding
func Digest(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Differs reports whether entity's current encoding differs from a stored digest.
func Differs(c codec.Codec, key metamodel.Key, entity any, stored uint64) (bool, error) {
	rec, err := Encode(c, key, entity)
	if err != nil {
		return false, err
	}
	return rec.Digest != stored, nil
}
