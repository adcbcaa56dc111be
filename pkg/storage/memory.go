package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rieonke/em4go/pkg/codec"
	"github.com/rieonke/em4go/pkg/metamodel"
)

// MemoryBackend keeps encoded entities in process memory. It plays the role
// browser web storage plays for a client-local entity manager: data outlives
// any single persistence context but not the process.
type MemoryBackend struct {
	codec   codec.Codec
	guard   InitGuard
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryBackend creates an in-memory backend; a nil codec selects codec.Default().
func NewMemoryBackend(c codec.Codec) *MemoryBackend {
	if c == nil {
		c = codec.Default()
	}
	return &MemoryBackend{codec: c}
}

// Initialize allocates the record table. Safe to call more than once.
func (b *MemoryBackend) Initialize(ctx context.Context) error {
	return b.guard.Do(func() error {
		b.records = make(map[string]Record)
		return nil
	})
}

// Get decodes the entity stored at key, or returns (nil, nil) if absent
func (b *MemoryBackend) Get(ctx context.Context, key metamodel.Key) (any, error) {
	if err := b.guard.Ready(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	rec, ok := b.records[key.String()]
	b.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return Decode(b.codec, key, rec.Data)
}

// Contains reports whether key is stored
func (b *MemoryBackend) Contains(ctx context.Context, key metamodel.Key) (bool, error) {
	if err := b.guard.Ready(); err != nil {
		return false, err
	}
	b.mu.RLock()
	_, ok := b.records[key.String()]
	b.mu.RUnlock()
	return ok, nil
}

// Put encodes and stores entity at key
func (b *MemoryBackend) Put(ctx context.Context, key metamodel.Key, entity any) error {
	if err := b.guard.Ready(); err != nil {
		return err
	}
	rec, err := Encode(b.codec, key, entity)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.records[key.String()] = rec
	b.mu.Unlock()
	return nil
}

// Remove deletes key; removing an absent key is not an error
func (b *MemoryBackend) Remove(ctx context.Context, key metamodel.Key) error {
	if err := b.guard.Ready(); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.records, key.String())
	b.mu.Unlock()
	return nil
}

// IsModified reports whether entity differs from what is stored at key.
// An absent key counts as modified.
func (b *MemoryBackend) IsModified(ctx context.Context, key metamodel.Key, entity any) (bool, error) {
	if err := b.guard.Ready(); err != nil {
		return false, err
	}
	b.mu.RLock()
	rec, ok := b.records[key.String()]
	b.mu.RUnlock()
	if !ok {
		return true, nil
	}
	return Differs(b.codec, key, entity, rec.Digest)
}

// Len returns the number of stored entities
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Keys returns the stored keys in sorted order
func (b *MemoryBackend) Keys() []string {
	b.mu.RLock()
	keys := make([]string, 0, len(b.records))
	for k := range b.records {
		keys = append(keys, k)
	}
	b.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
