package metamodel

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type album struct {
	ID    int64
	Title string
	loads int
}

func (a *album) PostLoad() error {
	a.loads++
	return nil
}

type artist struct {
	Code string
}

func albumType() *EntityType {
	return NewEntityType[album]("album",
		ID("id", func(a *album) int64 { return a.ID }, func(a *album, v int64) { a.ID = v }).
			Generated(NewSequenceGenerator[int64](1)),
		Field("title", func(a *album) string { return a.Title }, func(a *album, v string) { a.Title = v }),
	)
}

func artistType() *EntityType {
	return NewEntityType[artist]("artist",
		ID("code", func(a *artist) string { return a.Code }, func(a *artist, v string) { a.Code = v }),
	)
}

func TestMetamodelRegisterAndLookup(t *testing.T) {
	m := New()
	require.NoError(t, m.Register(albumType(), artistType()))

	et, err := m.Entity(&album{})
	require.NoError(t, err)
	assert.Equal(t, "album", et.Name())

	et, err = m.Entity((*artist)(nil))
	require.NoError(t, err)
	assert.Equal(t, "artist", et.Name())

	byName, err := m.EntityByName("artist")
	require.NoError(t, err)
	assert.Same(t, et, byName)

	_, err = m.Entity(album{})
	assert.True(t, IsUnknownEntityType(err), "value (non-pointer) types are not registered")

	names := []string{}
	for _, e := range m.Entities() {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"album", "artist"}, names)
}

func TestMetamodelRejectsDuplicates(t *testing.T) {
	m := New()
	require.NoError(t, m.Register(albumType()))

	err := m.Register(albumType())
	assert.ErrorIs(t, err, ErrDuplicateEntityType)
}

func TestMetamodelFreeze(t *testing.T) {
	m := New()
	at := albumType()
	require.NoError(t, m.Register(at))
	m.Freeze()

	assert.True(t, m.IsFrozen())
	assert.True(t, IsMetamodelFrozen(m.Register(artistType())))
	assert.Panics(t, func() {
		at.On(PrePersist, func(any) error { return nil })
	})
}

func TestAttributeAccessors(t *testing.T) {
	at := albumType()
	a := &album{}

	assert.True(t, at.ID().IsUnset(a))
	assert.True(t, at.ID().IsGenerated())

	require.NoError(t, at.ID().Set(a, int64(7)))
	assert.Equal(t, int64(7), at.ID().Get(a))
	assert.False(t, at.ID().IsUnset(a))

	err := at.ID().Set(a, "seven")
	assert.ErrorIs(t, err, ErrAttributeType)

	title, ok := at.Attribute("title")
	require.True(t, ok)
	require.NoError(t, title.Set(a, "Blue Train"))
	assert.Equal(t, "Blue Train", a.Title)
	assert.False(t, title.IsGenerated())
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator[int64](10)
	assert.Equal(t, int64(10), g.Next())
	assert.Equal(t, int64(11), g.Next())

	u := UUIDGenerator{}
	first, second := u.Next().(string), u.Next().(string)
	assert.Len(t, first, 36)
	assert.NotEqual(t, first, second)
}

func TestDeliverOrderAndErrors(t *testing.T) {
	at := albumType()
	var calls []string
	at.On(PostLoad, func(e any) error {
		calls = append(calls, "listener")
		assert.Equal(t, 1, e.(*album).loads, "entity method runs first")
		return nil
	})
	at.On(PrePersist, func(any) error { return errors.New("boom") })

	a := &album{}
	require.NoError(t, at.DeliverPostLoad(a))
	assert.Equal(t, []string{"listener"}, calls)

	err := at.DeliverPrePersist(a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "album pre_persist listener")

	// no callbacks declared: no-op
	assert.NoError(t, at.DeliverPostRemove(a))
	assert.False(t, at.HasCallbacks(PostRemove, a))
	assert.True(t, at.HasCallbacks(PostLoad, a))
}

func TestKey(t *testing.T) {
	at := albumType()

	k1, err := NewKey(at, int64(42))
	require.NoError(t, err)
	k2, err := NewKey(at, int64(42))
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "keys compare by value")
	assert.Equal(t, "em4go:album:42", k1.String())

	index := map[Key]string{k1: "x"}
	assert.Equal(t, "x", index[k2])

	_, err = NewKey(at, nil)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	_, err = NewKey(at, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	long, err := NewKey(artistType(), strings.Repeat("z", 100))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(long.String(), "em4go:artist:#"))
	assert.Len(t, long.String(), len("em4go:artist:#")+16)

	t.Run("hashed and literal ids never share a rendering", func(t *testing.T) {
		hashedID := strings.TrimPrefix(long.String(), "em4go:artist:")
		literal, err := NewKey(artistType(), hashedID)
		require.NoError(t, err)
		assert.NotEqual(t, long.String(), literal.String())
		assert.Len(t, literal.String(), len("em4go:artist:#")+16, "ids containing the marker are hashed")

		// the "h" + 16 hex form is an ordinary literal id
		plain, err := NewKey(artistType(), "h0123456789abcdef")
		require.NoError(t, err)
		assert.Equal(t, "em4go:artist:h0123456789abcdef", plain.String())
	})
}

func TestAttributeCoerce(t *testing.T) {
	id := albumType().ID()

	v, err := id.Coerce(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = id.Coerce(int64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	_, err = id.Coerce("42")
	assert.ErrorIs(t, err, ErrAttributeType)

	_, err = id.Coerce(uint64(1 << 63))
	assert.ErrorIs(t, err, ErrAttributeType, "overflowing conversions are rejected")
}
