package source

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

type stubSource struct {
	name  string
	types TypeSet
}

func (s stubSource) Name() string                         { return s.name }
func (s stubSource) SupportedTypes() TypeSet              { return s.types }
func (s stubSource) Status() ConnStatus                   { return Connected }
func (s stubSource) Connect(context.Context) error        { return nil }
func (s stubSource) Delete(context.Context, slot.ID) error { return nil }
func (s stubSource) Close() error                         { return nil }
func (s stubSource) Push(context.Context, slot.Info, []byte) error {
	return nil
}
func (s stubSource) Pull(context.Context, slot.ID) (slot.Info, []byte, error) {
	return slot.Info{}, nil, nil
}
func (s stubSource) ListMetadata(context.Context, slot.Type) (map[slot.ID]slot.Info, error) {
	return nil, nil
}

func TestTypeSet(t *testing.T) {
	s := NewTypeSet(slot.TypeVehicle, slot.TypeLevel, slot.Type(99))

	assert.True(t, s.Has(slot.TypeVehicle))
	assert.True(t, s.Has(slot.TypeLevel))
	assert.False(t, s.Has(slot.TypeActor))
	assert.False(t, s.Has(slot.Type(99)))
	assert.Equal(t, []slot.Type{slot.TypeVehicle, slot.TypeLevel}, s.Types())
	assert.Equal(t, "vehicle,level", s.String())

	assert.Len(t, AllTypes.Types(), len(slot.AllTypes))
}

func TestParseTypeSet(t *testing.T) {
	s, err := ParseTypeSet(nil)
	require.NoError(t, err)
	assert.Equal(t, AllTypes, s)

	s, err = ParseTypeSet([]string{"actor", "Vehicle-Component"})
	require.NoError(t, err)
	assert.Equal(t, NewTypeSet(slot.TypeActor, slot.TypeVehicleComponent), s)

	_, err = ParseTypeSet([]string{"boat"})
	assert.Error(t, err)
}

func TestCheckType(t *testing.T) {
	src := stubSource{name: "levels", types: NewTypeSet(slot.TypeLevel)}
	assert.NoError(t, CheckType(src, "push", slot.TypeLevel))
	assert.Error(t, CheckType(src, "push", slot.TypeVehicle))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(stubSource{name: "b"}))
	require.NoError(t, r.Register(stubSource{name: "a"}))
	assert.Error(t, r.Register(stubSource{name: "a"}), "duplicate names are rejected")
	assert.Error(t, r.Register(stubSource{name: ""}))

	names := []string{}
	for _, src := range r.List() {
		names = append(names, src.Name())
	}
	assert.Equal(t, []string{"a", "b"}, names)

	src, ok := r.Unregister("a")
	require.True(t, ok)
	assert.Equal(t, "a", src.Name())

	_, ok = r.Unregister("a")
	assert.False(t, ok)
	assert.Len(t, r.List(), 1)

	_, ok = r.Get("b")
	assert.True(t, ok)
}

func TestConnStatus_String(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "failed", Failed.String())
}

func TestUnreadableError(t *testing.T) {
	var empty UnreadableError
	assert.NoError(t, empty.Err())

	id := uuid.MustParse("0190b6a4-0000-7000-8000-000000000001")
	decodeErr := errors.New("missing field hash")

	ue := &UnreadableError{Source: "central"}
	ue.Add(id, decodeErr)
	ue.Add(slot.ID{}, errors.New("bad id"))

	err := fmt.Errorf("list: %w", ue.Err())
	got, ok := AsUnreadable(err)
	require.True(t, ok)
	assert.Equal(t, []slot.ID{id}, got.IDs)
	assert.Len(t, got.Errs, 2)
	assert.ErrorIs(t, err, decodeErr)
	assert.Contains(t, err.Error(), "2 unreadable record(s)")

	_, ok = AsUnreadable(errors.New("plain"))
	assert.False(t, ok)
}
