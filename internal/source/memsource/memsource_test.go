package memsource

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
	"github.com/soda-auto/soda-sim-sub008/internal/source"
)

func TestSource_PushListPullDelete(t *testing.T) {
	ctx := context.Background()
	src := New("mem", source.AllTypes)
	assert.Equal(t, source.Disconnected, src.Status())

	info := slot.Info{
		ID:           uuid.New(),
		Type:         slot.TypeVehicle,
		Label:        "Car",
		LastModified: time.Date(2024, 5, 1, 12, 0, 0, 999, time.UTC),
		Hash:         slot.Sum([]byte("abc")),
	}
	require.NoError(t, src.Push(ctx, info, []byte("abc")))
	assert.Equal(t, source.Connected, src.Status())

	listed, err := src.ListMetadata(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	require.Contains(t, listed, info.ID)
	assert.Equal(t, int64(0), int64(listed[info.ID].LastModified.Nanosecond()), "kept at whole seconds")

	levels, err := src.ListMetadata(ctx, slot.TypeLevel)
	require.NoError(t, err)
	assert.Empty(t, levels)

	got, payload, err := src.Pull(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.Hash, got.Hash)
	assert.Equal(t, []byte("abc"), payload)

	require.NoError(t, src.Delete(ctx, info.ID))
	require.NoError(t, src.Delete(ctx, info.ID), "delete is idempotent")

	_, _, err = src.Pull(ctx, info.ID)
	assert.True(t, slot.IsNotFound(err))
}

func TestSource_Offline(t *testing.T) {
	ctx := context.Background()
	src := New("mem", source.AllTypes)
	src.SetOffline(true)

	_, err := src.ListMetadata(ctx, slot.TypeVehicle)
	assert.True(t, slot.IsConnectionFailure(err))
	assert.Equal(t, source.Failed, src.Status())

	err = src.Push(ctx, slot.Info{ID: uuid.New(), Type: slot.TypeVehicle}, nil)
	assert.True(t, slot.IsConnectionFailure(err))

	src.SetOffline(false)
	_, err = src.ListMetadata(ctx, slot.TypeVehicle)
	assert.NoError(t, err)
	assert.Equal(t, 2, src.Calls("list"))
}

func TestSource_RejectsUnsupportedType(t *testing.T) {
	ctx := context.Background()
	src := New("levels", source.NewTypeSet(slot.TypeLevel))

	err := src.Push(ctx, slot.Info{ID: uuid.New(), Type: slot.TypeVehicle}, nil)
	assert.Error(t, err)

	_, err = src.ListMetadata(ctx, slot.TypeVehicle)
	assert.Error(t, err)
}
