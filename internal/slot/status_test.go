package slot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func infoAt(payload string, sec int64) *Info {
	return &Info{
		Hash:         Sum([]byte(payload)),
		LastModified: time.Unix(sec, 0),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		local  *Info
		remote *Info
		want   SyncStatus
	}{
		{"neither side", nil, nil, NotChecked},
		{"local only", infoAt("ABC", 100), nil, LocalOnly},
		{"remote only", nil, infoAt("ABC", 100), RemoteOnly},
		{"same hash same time", infoAt("ABC", 100), infoAt("ABC", 100), Synchronized},
		{"same hash different time", infoAt("ABC", 200), infoAt("ABC", 100), Synchronized},
		{"remote newer", infoAt("ABC", 100), infoAt("ABD", 200), RemoteIsNewer},
		{"local newer", infoAt("ABD", 200), infoAt("ABC", 100), LocalIsNewer},
		{"same second different content", infoAt("ABC", 100), infoAt("ABD", 100), Conflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.local, tt.remote))
		})
	}
}

func TestClassify_SubSecondLocalTime(t *testing.T) {
	at := func(payload string, sec int64, ms int) *Info {
		return &Info{
			Hash:         Sum([]byte(payload)),
			LastModified: time.Unix(sec, int64(ms)*int64(time.Millisecond)),
		}
	}

	tests := []struct {
		name   string
		local  *Info
		remote *Info
		want   SyncStatus
	}{
		{"edit after push in the same second", at("ABD", 100, 400), at("ABC", 100, 0), LocalIsNewer},
		{"remote time is read at whole seconds", at("ABD", 100, 400), at("ABC", 100, 700), LocalIsNewer},
		{"remote in the next second", at("ABD", 100, 900), at("ABC", 101, 0), RemoteIsNewer},
		{"equal instants", at("ABD", 100, 0), at("ABC", 100, 0), Conflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.local, tt.remote))
		})
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, LocalOnly, Summarize())
	assert.Equal(t, Synchronized, Summarize(Synchronized, Synchronized))
	assert.Equal(t, NotChecked, Summarize(Synchronized, NotChecked))
	assert.Equal(t, Conflict, Summarize(LocalIsNewer, Conflict, Synchronized))
	assert.Equal(t, RemoteIsNewer, Summarize(LocalIsNewer, RemoteIsNewer))
	assert.Equal(t, LocalOnly, Summarize(Synchronized, LocalOnly))
}

func TestSyncStatus_TextRoundTrip(t *testing.T) {
	for s := NotChecked; s <= Conflict; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var got SyncStatus
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	var bad SyncStatus
	assert.Error(t, bad.UnmarshalText([]byte("maybe")))
}
