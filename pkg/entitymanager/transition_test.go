package entitymanager

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rieonke/em4go/pkg/codec"
	"github.com/rieonke/em4go/pkg/metamodel"
	"github.com/rieonke/em4go/pkg/storage"
)

func TestApplyTransitionTable(t *testing.T) {
	tests := []struct {
		from, to    EntityState
		wantErr     error
		wantManaged bool
		wantPuts    int
		wantRemoves int
	}{
		{from: StateNew, to: StateNew, wantErr: ErrIllegalTransition},
		{from: StateManaged, to: StateNew, wantErr: ErrIllegalTransition, wantManaged: true},
		{from: StateDetached, to: StateNew, wantErr: ErrIllegalTransition},
		{from: StateRemoved, to: StateNew, wantErr: ErrIllegalTransition},

		{from: StateNew, to: StateManaged, wantManaged: true, wantPuts: 1},
		{from: StateManaged, to: StateManaged, wantManaged: true},
		{from: StateDetached, to: StateManaged, wantErr: ErrEntityExists},
		{from: StateRemoved, to: StateManaged, wantManaged: true, wantPuts: 1},

		{from: StateNew, to: StateDetached},
		{from: StateManaged, to: StateDetached},
		{from: StateDetached, to: StateDetached},
		{from: StateRemoved, to: StateDetached},

		{from: StateNew, to: StateRemoved, wantRemoves: 1},
		{from: StateManaged, to: StateRemoved, wantRemoves: 1},
		{from: StateDetached, to: StateRemoved, wantErr: ErrIllegalTransition},
		{from: StateRemoved, to: StateRemoved},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			mm, err := f.em.Metamodel()
			require.NoError(t, err)
			et, err := mm.EntityByName("book")
			require.NoError(t, err)

			b := &book{ID: 50, Title: "Walden"}
			key := f.key(t, "book", int64(50))
			if tt.from == StateManaged {
				f.em.pc.put(key, b)
			}

			err = f.em.applyTransition(ctx, et, key, b, tt.from, tt.to)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var transition *TransitionError
				require.ErrorAs(t, err, &transition)
				assert.Equal(t, tt.from, transition.From)
				assert.Equal(t, tt.to, transition.To)
				assert.Empty(t, f.events, "rejected transitions fire no callbacks")
			} else {
				require.NoError(t, err)
			}

			_, managed := f.em.pc.keyOf(b)
			assert.Equal(t, tt.wantManaged, managed)
			assert.Equal(t, tt.wantPuts, f.backend.puts)
			assert.Equal(t, tt.wantRemoves, f.backend.removes)
		})
	}
}

func TestNilPointerEntity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var nilBook *book

	ops := map[string]func() error{
		"persist": func() error { return f.em.Persist(ctx, nilBook) },
		"detach":  func() error { return f.em.Detach(ctx, nilBook) },
		"remove":  func() error { return f.em.Remove(ctx, nilBook) },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { err = op() })
			assert.ErrorIs(t, err, ErrNilEntity)
		})
	}

	t.Run("generate id", func(t *testing.T) {
		mm, err := f.em.Metamodel()
		require.NoError(t, err)
		et, err := mm.EntityByName("book")
		require.NoError(t, err)

		require.NotPanics(t, func() { _, err = f.em.GenerateAndSetLocalID(nilBook, et.ID()) })
		assert.ErrorIs(t, err, ErrNilEntity)
	})

	t.Run("untyped nil stays an unknown type", func(t *testing.T) {
		assert.True(t, metamodel.IsUnknownEntityType(f.em.Persist(ctx, nil)))
	})

	assert.Empty(t, f.events)
	assert.Equal(t, 0, f.em.ManagedCount())
	assert.Equal(t, 0, f.backend.puts)
}

func TestClearDetachesEntityWithChangedID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	changed := &book{ID: 60}
	kept := &book{ID: 61}
	require.NoError(t, f.em.Persist(ctx, changed))
	require.NoError(t, f.em.Persist(ctx, kept))
	changed.ID = 600

	require.NoError(t, f.em.Clear(ctx))
	assert.Equal(t, 0, f.em.ManagedCount())
	assert.False(t, f.em.Contains(changed))
	assert.False(t, f.em.Contains(kept))
	assert.Equal(t, 2, f.backend.Len())
}

type shelf struct {
	Code   string
	Counts map[string]int
}

func TestFlushSkipsUnchangedMapFields(t *testing.T) {
	ctx := context.Background()
	backend := &recordingBackend{MemoryBackend: storage.NewMemoryBackend(codec.Msgpack{})}
	populate := func(m *metamodel.Metamodel) error {
		st := metamodel.NewEntityType[shelf]("shelf",
			metamodel.ID("code", func(s *shelf) string { return s.Code }, func(s *shelf, v string) { s.Code = v }),
			metamodel.Field("counts", func(s *shelf) map[string]int { return s.Counts }, func(s *shelf, v map[string]int) { s.Counts = v }),
		)
		if err := m.Register(st); err != nil {
			return err
		}
		m.Freeze()
		return nil
	}
	em, err := New(ctx, backend, populate)
	require.NoError(t, err)

	s := &shelf{Code: "A1", Counts: make(map[string]int)}
	for i := 0; i < 40; i++ {
		s.Counts[fmt.Sprintf("genre-%02d", i)] = i
	}
	require.NoError(t, em.Persist(ctx, s))

	for i := 0; i < 10; i++ {
		require.NoError(t, em.Flush(ctx))
	}
	assert.Equal(t, 1, backend.puts, "an unchanged map must not look modified")

	s.Counts["genre-00"] = 100
	require.NoError(t, em.Flush(ctx))
	assert.Equal(t, 2, backend.puts)
}
