package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rieonke/em4go/pkg/metamodel"
)

// flakyBackend wraps a MemoryBackend and fails the operations it is told to
type flakyBackend struct {
	*MemoryBackend
	failInit   bool
	failGet    bool
	failPut    bool
	failRemove bool
	gets       int
	inits      int
}

func (f *flakyBackend) Initialize(ctx context.Context) error {
	f.inits++
	if f.failInit {
		return errors.New("dial tcp: connection refused")
	}
	return f.MemoryBackend.Initialize(ctx)
}

func (f *flakyBackend) Get(ctx context.Context, key metamodel.Key) (any, error) {
	f.gets++
	if f.failGet {
		return nil, errors.New("read timeout")
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *flakyBackend) Put(ctx context.Context, key metamodel.Key, entity any) error {
	if f.failPut {
		return errors.New("write timeout")
	}
	return f.MemoryBackend.Put(ctx, key, entity)
}

func (f *flakyBackend) Remove(ctx context.Context, key metamodel.Key) error {
	if f.failRemove {
		return errors.New("connection reset")
	}
	return f.MemoryBackend.Remove(ctx, key)
}

func newTiered(t *testing.T, cache *flakyBackend) (*Tiered, *flakyBackend) {
	t.Helper()
	durable := &flakyBackend{MemoryBackend: NewMemoryBackend(nil)}
	tiered := NewTiered(cache, durable, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, tiered.Initialize(context.Background()))
	return tiered, durable
}

func TestTieredReadThrough(t *testing.T) {
	ctx := context.Background()
	cache := &flakyBackend{MemoryBackend: NewMemoryBackend(nil)}
	tiered, durable := newTiered(t, cache)
	require.True(t, tiered.Cached())
	key := noteKey(t, "a")

	require.NoError(t, durable.MemoryBackend.Put(ctx, key, &note{ID: "a", Body: "durable"}))

	got, err := tiered.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "durable", got.(*note).Body)
	assert.Equal(t, 1, cache.Len(), "miss fills the cache")

	got, err = tiered.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "durable", got.(*note).Body)
	assert.Equal(t, 1, durable.gets, "second read served by cache")

	got, err = tiered.Get(ctx, noteKey(t, "absent"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTieredWriteThroughAndRemove(t *testing.T) {
	ctx := context.Background()
	cache := &flakyBackend{MemoryBackend: NewMemoryBackend(nil)}
	tiered, durable := newTiered(t, cache)
	key := noteKey(t, "b")
	n := &note{ID: "b", Body: "v1"}

	require.NoError(t, tiered.Put(ctx, key, n))
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 1, durable.Len())

	ok, err := tiered.Contains(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	modified, err := tiered.IsModified(ctx, key, n)
	require.NoError(t, err)
	assert.False(t, modified)

	require.NoError(t, tiered.Remove(ctx, key))
	assert.Zero(t, cache.Len())
	assert.Zero(t, durable.Len())
}

func TestTieredToleratesCacheFailures(t *testing.T) {
	ctx := context.Background()
	cache := &flakyBackend{MemoryBackend: NewMemoryBackend(nil)}
	tiered, durable := newTiered(t, cache)
	key := noteKey(t, "c")

	require.NoError(t, tiered.Put(ctx, key, &note{ID: "c", Body: "v1"}))

	// a failed cache write must not leave v1 behind
	cache.failPut = true
	require.NoError(t, tiered.Put(ctx, key, &note{ID: "c", Body: "v2"}))
	assert.Zero(t, cache.Len())

	cache.failGet = true
	got, err := tiered.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.(*note).Body)
	assert.Equal(t, 1, durable.gets)
}

func TestTieredBypassesUnavailableCache(t *testing.T) {
	ctx := context.Background()
	cache := &flakyBackend{MemoryBackend: NewMemoryBackend(nil), failInit: true}
	tiered, durable := newTiered(t, cache)
	assert.False(t, tiered.Cached())

	key := noteKey(t, "d")
	require.NoError(t, tiered.Put(ctx, key, &note{ID: "d"}))
	got, err := tiered.Get(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Zero(t, cache.gets)
	assert.Equal(t, 1, durable.Len())
}

func TestTieredDurableFailureIsReported(t *testing.T) {
	durable := &flakyBackend{MemoryBackend: NewMemoryBackend(nil), failInit: true}
	tiered := NewTiered(NewMemoryBackend(nil), durable, nil)
	assert.Error(t, tiered.Initialize(context.Background()))
}

func TestTieredRequiresInitialize(t *testing.T) {
	ctx := context.Background()
	cache := &flakyBackend{MemoryBackend: NewMemoryBackend(nil)}
	durable := &flakyBackend{MemoryBackend: NewMemoryBackend(nil)}
	tiered := NewTiered(cache, durable, slog.New(slog.NewTextHandler(io.Discard, nil)))
	key := noteKey(t, "e")

	_, err := tiered.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, tiered.Put(ctx, key, &note{ID: "e"}), ErrNotInitialized)
	assert.ErrorIs(t, tiered.Remove(ctx, key), ErrNotInitialized)
	_, err = tiered.Contains(ctx, key)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = tiered.IsModified(ctx, key, &note{ID: "e"})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Zero(t, durable.gets)

	require.NoError(t, tiered.Initialize(ctx))
	require.NoError(t, tiered.Initialize(ctx))
	assert.Equal(t, 1, durable.inits)
	assert.Equal(t, 1, cache.inits)
	assert.True(t, tiered.Cached())
}

func TestTieredFailedEvictionDisablesCache(t *testing.T) {
	t.Run("after a failed cache write", func(t *testing.T) {
		ctx := context.Background()
		cache := &flakyBackend{MemoryBackend: NewMemoryBackend(nil)}
		tiered, _ := newTiered(t, cache)
		key := noteKey(t, "f")

		require.NoError(t, tiered.Put(ctx, key, &note{ID: "f", Body: "v1"}))
		cache.failPut, cache.failRemove = true, true
		require.NoError(t, tiered.Put(ctx, key, &note{ID: "f", Body: "v2"}))
		assert.False(t, tiered.Cached())
		require.Equal(t, 1, cache.Len(), "cache still holds v1")

		got, err := tiered.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v2", got.(*note).Body)
		assert.Zero(t, cache.gets)
	})

	t.Run("after a remove", func(t *testing.T) {
		ctx := context.Background()
		cache := &flakyBackend{MemoryBackend: NewMemoryBackend(nil)}
		tiered, _ := newTiered(t, cache)
		key := noteKey(t, "g")

		require.NoError(t, tiered.Put(ctx, key, &note{ID: "g"}))
		cache.failRemove = true
		require.NoError(t, tiered.Remove(ctx, key))
		assert.False(t, tiered.Cached())

		got, err := tiered.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, got)
		ok, err := tiered.Contains(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
