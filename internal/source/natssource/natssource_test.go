package natssource

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
	"github.com/soda-auto/soda-sim-sub008/internal/source"
)

func testInfo() slot.Info {
	return slot.Info{
		ID:           uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057"),
		Type:         slot.TypeActor,
		Label:        "Traffic Cone",
		Description:  "orange",
		ClassName:    "/Game/Actors/Cone",
		LastModified: time.Date(2024, 7, 8, 9, 10, 11, 500, time.UTC),
		Hash:         slot.Sum([]byte("cone")),
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	info := testInfo()
	value, err := encodeRecord(info, 4)
	require.NoError(t, err)

	got, err := decodeRecord(slotKey(info.Type, info.ID), value)
	require.NoError(t, err)

	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, info.Type, got.Type)
	assert.Equal(t, info.Label, got.Label)
	assert.Equal(t, info.ClassName, got.ClassName)
	assert.Equal(t, info.Hash, got.Hash)
	assert.Equal(t, info.ModifiedUnix(), got.LastModified.Unix())
	assert.Zero(t, got.LastModified.Nanosecond())
}

func TestRecord_RejectsWrongKey(t *testing.T) {
	info := testInfo()
	value, err := encodeRecord(info, 4)
	require.NoError(t, err)

	_, err = decodeRecord(slotKey(slot.TypeLevel, info.ID), value)
	assert.ErrorContains(t, err, "belongs under")
}

func TestRecord_Malformed(t *testing.T) {
	key := slotKey(slot.TypeActor, testInfo().ID)

	tests := []struct {
		name  string
		value map[string]any
	}{
		{"bad id", map[string]any{"id": "nope", "type": 3, "last_modified": 1, "hash": slot.Sum(nil).String()}},
		{"missing type", map[string]any{"id": testInfo().ID.String(), "last_modified": 1, "hash": slot.Sum(nil).String()}},
		{"missing time", map[string]any{"id": testInfo().ID.String(), "type": 3, "hash": slot.Sum(nil).String()}},
		{"bad hash", map[string]any{"id": testInfo().ID.String(), "type": 3, "last_modified": 1, "hash": "zz"}},
		{"unknown type", map[string]any{"id": testInfo().ID.String(), "type": 9, "last_modified": 1, "hash": slot.Sum(nil).String()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := json.Marshal(tt.value)
			require.NoError(t, err)
			got, err := decodeRecord(key, value)
			assert.Error(t, err)
			assert.Equal(t, testInfo().ID, got.ID, "id recovered for the listing")
		})
	}

	got, err := decodeRecord(key, []byte("{not json"))
	assert.Error(t, err)
	assert.Equal(t, testInfo().ID, got.ID)

	got, err = decodeRecord("3.garbage", []byte("{not json"))
	assert.Error(t, err)
	assert.Equal(t, slot.ID{}, got.ID)
}

func TestKeys(t *testing.T) {
	info := testInfo()
	assert.Equal(t, "3.01890a5d-ac96-774b-bcce-b302099a8057", slotKey(info.Type, info.ID))
	assert.Equal(t, "3.*", typeFilter(slot.TypeActor))
	assert.Equal(t, info.ID.String()+"/"+info.Hash.String(), objectName(info.ID, info.Hash))
}

func TestNew_Defaults(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	s, err := New(Config{Name: "edge"})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, DefaultURL, s.cfg.URL)
	assert.Equal(t, DefaultBucket, s.cfg.Bucket)
	assert.Equal(t, source.AllTypes, s.SupportedTypes())
	assert.Equal(t, source.Disconnected, s.Status())
}

func TestConnect_Unreachable(t *testing.T) {
	s, err := New(Config{Name: "edge", URL: "nats://127.0.0.1:1", ConnectTimeout: 500 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = s.Connect(ctx)
	require.Error(t, err)
	assert.True(t, slot.IsConnectionFailure(err))
	assert.Equal(t, source.Failed, s.Status())

	err = s.Delete(ctx, testInfo().ID)
	assert.True(t, slot.IsConnectionFailure(err))
}
