package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

// steppingClock returns a clock that advances one second on every call,
// starting at start.
func steppingClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(time.Second)
		return t
	}
}

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ssdb")
	opts = append([]Option{WithClock(steppingClock(testEpoch))}, opts...)
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestInfo creates slot metadata with minimal required fields.
func createTestInfo(typ slot.Type, label string) slot.Info {
	return slot.Info{
		Type:        typ,
		Label:       label,
		Description: label + " description",
		ClassName:   "/Game/Vehicles/" + label,
		Metadata:    `{"seats":4}`,
	}
}
