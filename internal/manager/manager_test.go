package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soda-auto/soda-sim-sub008/internal/metrics"
	"github.com/soda-auto/soda-sim-sub008/internal/slot"
	"github.com/soda-auto/soda-sim-sub008/internal/source"
	"github.com/soda-auto/soda-sim-sub008/internal/source/memsource"
	"github.com/soda-auto/soda-sim-sub008/internal/store"
	"github.com/soda-auto/soda-sim-sub008/internal/testutil"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager creates a manager over roots whose stores stamp writes
// with a clock advancing one second per write.
func newTestManager(t *testing.T, roots ...string) (*Manager, *testutil.DeterministicClock) {
	t.Helper()
	clock := testutil.NewDeterministicClock(epoch, time.Second)
	return newTestManagerWithClock(t, clock, roots...), clock
}

func newTestManagerWithClock(t *testing.T, clock *testutil.DeterministicClock, roots ...string) *Manager {
	t.Helper()
	if len(roots) == 0 {
		roots = []string{t.TempDir()}
	}

	m, err := New(Options{
		Roots:         roots,
		RemoteTimeout: 2 * time.Second,
		StoreOptions:  []store.Option{store.WithClock(clock.Now)},
		Logger:        quietLogger(),
		Metrics:       metrics.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func vehicle(label string) slot.Info {
	return slot.Info{Type: slot.TypeVehicle, Label: label, ClassName: "/Game/Vehicles/" + label}
}

func TestNew_RequiresRootOrDefault(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	m, err := New(Options{DefaultStore: filepath.Join(t.TempDir(), "only.ssdb"), Logger: quietLogger()})
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Rescan(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, m.DefaultStorePath())
}

func TestScenario_LocalThenPushedThenLocallyModified(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, err := m.AddSlot(ctx, vehicle("TestCar"), []byte("ABC"))
	require.NoError(t, err)

	slots, err := m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	require.Contains(t, slots, id)
	assert.Equal(t, slot.LocalOnly, slots[id].Status, "no source registered")
	assert.Equal(t, slot.Sum([]byte("ABC")), slots[id].Info.Hash)

	src := memsource.New("central", source.AllTypes)
	require.NoError(t, m.RegisterSource(src))
	require.NoError(t, m.PushSlot(ctx, id, "central"))

	slots, err = m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	assert.Equal(t, slot.Synchronized, slots[id].Status)
	assert.Equal(t, slot.Synchronized, slots[id].Sources["central"])

	require.NoError(t, m.UpdateSlotData(ctx, id, []byte("ABD")))

	slots, err = m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	assert.Equal(t, slot.LocalIsNewer, slots[id].Status)
	assert.Equal(t, slot.Sum([]byte("ABD")), slots[id].Info.Hash)
}

func TestScenario_EditWithinPushSecondIsLocalIsNewer(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewDeterministicClock(epoch.Add(100*time.Millisecond), 100*time.Millisecond)
	m := newTestManagerWithClock(t, clock)

	id, err := m.AddSlot(ctx, vehicle("TestCar"), []byte("ABC"))
	require.NoError(t, err)

	src := memsource.New("central", source.AllTypes)
	require.NoError(t, m.RegisterSource(src))
	require.NoError(t, m.PushSlot(ctx, id, "central"))
	require.NoError(t, m.UpdateSlotData(ctx, id, []byte("ABD")))
	require.Equal(t, epoch.Unix(), clock.Current().Unix(), "every write lands in the push second")

	slots, err := m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	require.Contains(t, slots, id)
	assert.Equal(t, slot.LocalIsNewer, slots[id].Status)
	assert.Equal(t, slot.LocalIsNewer, slots[id].Sources["central"])
}

func TestScenario_RemoteOnlyThenPulled(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	src := memsource.New("central", source.AllTypes)
	remote := vehicle("Ghost")
	remote.ID = uuid.New()
	remote.LastModified = epoch.Add(-time.Hour)
	remote.Hash = slot.Sum([]byte("ghost-bytes"))
	src.Put(remote, []byte("ghost-bytes"))
	require.NoError(t, m.RegisterSource(src))

	slots, err := m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	require.Contains(t, slots, remote.ID)
	ghost := slots[remote.ID]
	assert.Equal(t, slot.RemoteOnly, ghost.Status)
	assert.False(t, ghost.Local())
	assert.Equal(t, "Ghost", ghost.Info.Label)

	pulled, err := m.PullSlot(ctx, remote.ID, "central")
	require.NoError(t, err)
	assert.Equal(t, remote.Hash, pulled.Hash)

	data, err := m.GetSlotData(ctx, remote.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("ghost-bytes"), data)

	owner, err := m.SlotStore(ctx, remote.ID)
	require.NoError(t, err)
	assert.Equal(t, m.DefaultStorePath(), owner)

	slots, err = m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	assert.Equal(t, slot.Synchronized, slots[remote.ID].Status)
}

func TestScenario_CorruptStoreSkipped(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	var ids []slot.ID
	for _, name := range []string{"a.ssdb", "c.ssdb"} {
		st, err := store.Open(filepath.Join(root, name))
		require.NoError(t, err)
		id, err := st.Upsert(ctx, vehicle(name), []byte(name))
		require.NoError(t, err)
		require.NoError(t, st.Close())
		ids = append(ids, id)
	}
	corrupt := filepath.Join(root, "b.ssdb")
	require.NoError(t, os.WriteFile(corrupt, []byte("corrupted beyond recognition, not a database"), 0o644))

	m, _ := newTestManager(t, root)

	report, err := m.Rescan(ctx)
	require.NoError(t, err)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, corrupt, report.Skipped[0].Path)
	assert.Equal(t, 3, report.Open, "default store and two valid files")

	slots, err := m.GetSlots(ctx, slot.TypeVehicle, WithoutRescan())
	require.NoError(t, err)
	assert.Len(t, slots, 2)
	for _, id := range ids {
		assert.Contains(t, slots, id)
	}
}

func TestScenario_UnreachableSourceIsNotChecked(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	src := memsource.New("central", source.AllTypes)
	require.NoError(t, m.RegisterSource(src))

	a, err := m.AddSlot(ctx, vehicle("A"), []byte("a"))
	require.NoError(t, err)
	b, err := m.AddSlot(ctx, vehicle("B"), []byte("b"))
	require.NoError(t, err)
	require.NoError(t, m.PushSlot(ctx, a, "central"))

	slots, err := m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	assert.Equal(t, slot.Synchronized, slots[a].Status)
	assert.Equal(t, slot.LocalOnly, slots[b].Status)

	src.SetOffline(true)

	slots, err = m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err, "a failed source does not fail the listing")
	for _, id := range []slot.ID{a, b} {
		assert.Equal(t, slot.NotChecked, slots[id].Status)
		assert.Equal(t, slot.NotChecked, slots[id].Sources["central"])
	}

	slots, err = m.GetSlots(ctx, slot.TypeVehicle, FromCache())
	require.NoError(t, err)
	assert.Equal(t, slot.NotChecked, slots[a].Status, "failed listing drops the cache")
}

func TestGetSlots_RemoteIsNewerAndConflict(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	newer, err := m.AddSlot(ctx, vehicle("Newer"), []byte("local"))
	require.NoError(t, err)
	same, err := m.AddSlot(ctx, vehicle("Same"), []byte("local"))
	require.NoError(t, err)

	newerInfo, err := m.GetSlot(ctx, newer)
	require.NoError(t, err)
	sameInfo, err := m.GetSlot(ctx, same)
	require.NoError(t, err)

	src := memsource.New("central", source.AllTypes)
	r1 := newerInfo
	r1.LastModified = newerInfo.LastModified.Add(time.Minute)
	r1.Hash = slot.Sum([]byte("remote"))
	src.Put(r1, []byte("remote"))

	r2 := sameInfo
	r2.Hash = slot.Sum([]byte("remote"))
	src.Put(r2, []byte("remote"))
	require.NoError(t, m.RegisterSource(src))

	slots, err := m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	assert.Equal(t, slot.RemoteIsNewer, slots[newer].Status)
	assert.Equal(t, slot.Conflict, slots[same].Status)
}

func TestGetSlots_MultipleSources(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, err := m.AddSlot(ctx, vehicle("Shared"), []byte("v1"))
	require.NoError(t, err)

	synced := memsource.New("a-synced", source.AllTypes)
	empty := memsource.New("b-empty", source.AllTypes)
	levels := memsource.New("c-levels", source.NewTypeSet(slot.TypeLevel))
	for _, src := range []source.Source{synced, empty, levels} {
		require.NoError(t, m.RegisterSource(src))
	}
	require.NoError(t, m.PushSlot(ctx, id, "a-synced"))

	slots, err := m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	entry := slots[id]
	assert.Equal(t, slot.Synchronized, entry.Sources["a-synced"])
	assert.Equal(t, slot.LocalOnly, entry.Sources["b-empty"])
	assert.NotContains(t, entry.Sources, "c-levels", "unsupported type is not consulted")
	assert.Equal(t, slot.LocalOnly, entry.Status)
	assert.Zero(t, levels.Calls("list"))

	slots, err = m.GetSlots(ctx, slot.TypeVehicle, WithSource("a-synced"))
	require.NoError(t, err)
	assert.Equal(t, slot.Synchronized, slots[id].Status)
	assert.NotContains(t, slots[id].Sources, "b-empty")
}

func TestGetSlots_FromCache(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, err := m.AddSlot(ctx, vehicle("Cached"), []byte("x"))
	require.NoError(t, err)
	src := memsource.New("central", source.AllTypes)
	require.NoError(t, m.RegisterSource(src))

	slots, err := m.GetSlots(ctx, slot.TypeVehicle, FromCache())
	require.NoError(t, err)
	assert.Equal(t, slot.NotChecked, slots[id].Status, "never queried")
	assert.Zero(t, src.Calls("list"))

	_, err = m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	require.NoError(t, m.PushSlot(ctx, id, "central"))

	slots, err = m.GetSlots(ctx, slot.TypeVehicle, FromCache())
	require.NoError(t, err)
	assert.Equal(t, slot.Synchronized, slots[id].Status)
	assert.Equal(t, 1, src.Calls("list"))
}

func TestGetSlots_LaterRootShadowsEarlier(t *testing.T) {
	ctx := context.Background()
	first, second := t.TempDir(), t.TempDir()
	id := uuid.New()

	for _, tc := range []struct{ root, label string }{{first, "builtin"}, {second, "override"}} {
		st, err := store.Open(filepath.Join(tc.root, "content.ssdb"))
		require.NoError(t, err)
		info := vehicle(tc.label)
		info.ID = id
		_, err = st.Upsert(ctx, info, []byte(tc.label))
		require.NoError(t, err)
		require.NoError(t, st.Close())
	}

	m, _ := newTestManager(t, first, second)

	slots, err := m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	require.Contains(t, slots, id)
	assert.Equal(t, "override", slots[id].Info.Label)
	assert.Equal(t, filepath.Join(second, "content.ssdb"), slots[id].Store)

	info, err := m.GetSlot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "override", info.Label)

	data, err := m.GetSlotData(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("override"), data)
}

func TestAddOrUpdateSlotInfo(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, err := m.AddOrUpdateSlotInfo(ctx, vehicle("Draft"))
	require.NoError(t, err)

	data, err := m.GetSlotData(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, m.UpdateSlotData(ctx, id, []byte("payload")))
	before, err := m.GetSlot(ctx, id)
	require.NoError(t, err)

	info := before
	info.Label = "Final"
	got, err := m.AddOrUpdateSlotInfo(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	after, err := m.GetSlot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Final", after.Label)
	assert.Equal(t, before.Hash, after.Hash, "metadata update keeps the payload")
	assert.True(t, after.LastModified.After(before.LastModified))
}

func TestDeleteSlot_Idempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, err := m.AddSlot(ctx, vehicle("Doomed"), []byte("x"))
	require.NoError(t, err)

	removed, err := m.DeleteSlot(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.DeleteSlot(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = m.GetSlot(ctx, id)
	assert.True(t, slot.IsNotFound(err))
	_, err = m.GetSlotData(ctx, id)
	assert.True(t, slot.IsNotFound(err))
	assert.True(t, slot.IsNotFound(m.UpdateSlotData(ctx, id, []byte("y"))))
}

func TestDeleteRemoteSlot(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, err := m.AddSlot(ctx, vehicle("Remote"), []byte("x"))
	require.NoError(t, err)
	src := memsource.New("central", source.AllTypes)
	require.NoError(t, m.RegisterSource(src))
	require.NoError(t, m.PushSlot(ctx, id, "central"))

	require.NoError(t, m.DeleteRemoteSlot(ctx, id, "central"))
	require.NoError(t, m.DeleteRemoteSlot(ctx, id, "central"), "absent is success")

	slots, err := m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	assert.Equal(t, slot.LocalOnly, slots[id].Status)

	assert.Error(t, m.DeleteRemoteSlot(ctx, id, "nope"))
}

func TestPullSlot_Failures(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	src := memsource.New("central", source.AllTypes)
	require.NoError(t, m.RegisterSource(src))

	_, err := m.PullSlot(ctx, uuid.New(), "central")
	assert.True(t, slot.IsNotFound(err))

	bad := vehicle("Tampered")
	bad.ID = uuid.New()
	bad.LastModified = epoch
	bad.Hash = slot.Sum([]byte("claimed"))
	src.Put(bad, []byte("actual"))

	_, err = m.PullSlot(ctx, bad.ID, "central")
	assert.True(t, slot.IsSerialization(err))
	_, err = m.GetSlot(ctx, bad.ID)
	assert.True(t, slot.IsNotFound(err), "rejected pull writes nothing")

	src.SetOffline(true)
	_, err = m.PullSlot(ctx, bad.ID, "central")
	assert.True(t, slot.IsConnectionFailure(err))
}

func TestPushSlot_Failures(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, err := m.AddSlot(ctx, vehicle("Car"), []byte("x"))
	require.NoError(t, err)

	levels := memsource.New("levels", source.NewTypeSet(slot.TypeLevel))
	require.NoError(t, m.RegisterSource(levels))

	assert.Error(t, m.PushSlot(ctx, id, "levels"))
	assert.Error(t, m.PushSlot(ctx, id, "missing"))
	assert.True(t, slot.IsNotFound(m.PushSlot(ctx, uuid.New(), "levels")))

	offline := memsource.New("offline", source.AllTypes)
	offline.SetOffline(true)
	require.NoError(t, m.RegisterSource(offline))
	assert.True(t, slot.IsConnectionFailure(m.PushSlot(ctx, id, "offline")))
}

func TestRegisterAndUnregisterSource(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	src := memsource.New("central", source.AllTypes)
	require.NoError(t, m.RegisterSource(src))
	assert.Error(t, m.RegisterSource(memsource.New("central", source.AllTypes)))

	require.NoError(t, m.ConnectSource(ctx, "central"))
	infos := m.Sources()
	require.Len(t, infos, 1)
	assert.Equal(t, "central", infos[0].Name)
	assert.Equal(t, source.Connected, infos[0].Status)

	require.NoError(t, m.UnregisterSource("central"))
	assert.Equal(t, source.Disconnected, src.Status(), "unregister closes the source")
	assert.Empty(t, m.Sources())
	assert.Error(t, m.UnregisterSource("central"))
}

func TestRescan_OpensNewAndClosesVanished(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	m, _ := newTestManager(t, root)

	report, err := m.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{m.DefaultStorePath()}, report.Opened)

	extra := filepath.Join(root, "extra.ssdb")
	st, err := store.Open(extra)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	report, err = m.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{extra}, report.Opened)
	assert.Equal(t, 2, report.Open)

	report, err = m.Rescan(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Opened, "open stores are kept")

	require.NoError(t, os.Remove(extra))
	report, err = m.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{extra}, report.Closed)

	stores, err := m.Stores(ctx)
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.True(t, stores[0].Default)
}

func TestClose_Idempotent(t *testing.T) {
	m, _ := newTestManager(t)
	src := memsource.New("central", source.AllTypes)
	require.NoError(t, m.RegisterSource(src))
	_, err := m.Rescan(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, source.Disconnected, src.Status())

	_, err = m.GetSlots(context.Background(), slot.TypeVehicle)
	assert.Error(t, err)
}

// stallingSource lists nothing until its context ends.
type stallingSource struct {
	*memsource.Source
}

func (s stallingSource) ListMetadata(ctx context.Context, typ slot.Type) (map[slot.ID]slot.Info, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGetSlots_TimeoutIsNotChecked(t *testing.T) {
	ctx := context.Background()
	m, err := New(Options{
		Roots:         []string{t.TempDir()},
		RemoteTimeout: 20 * time.Millisecond,
		Logger:        quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	id, err := m.AddSlot(ctx, vehicle("Car"), []byte("x"))
	require.NoError(t, err)
	require.NoError(t, m.RegisterSource(stallingSource{memsource.New("slow", source.AllTypes)}))

	slots, err := m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	require.Contains(t, slots, id)
	assert.Equal(t, slot.NotChecked, slots[id].Status)
	assert.Equal(t, slot.NotChecked, slots[id].Sources["slow"])
}

func TestConnectSource_TimeoutIsConnectionFailure(t *testing.T) {
	m, err := New(Options{
		Roots:         []string{t.TempDir()},
		RemoteTimeout: 20 * time.Millisecond,
		Logger:        quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	require.NoError(t, m.RegisterSource(stallingSource{memsource.New("slow", source.AllTypes)}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = m.ConnectSource(ctx, "slow")
	assert.True(t, slot.IsConnectionFailure(err), "got %v", err)
}

// unreadableSource reports the record of bad as malformed.
type unreadableSource struct {
	*memsource.Source
	bad slot.ID
}

func (s unreadableSource) ListMetadata(ctx context.Context, typ slot.Type) (map[slot.ID]slot.Info, error) {
	slots, err := s.Source.ListMetadata(ctx, typ)
	if err != nil {
		return nil, err
	}
	delete(slots, s.bad)
	ue := &source.UnreadableError{Source: s.Name()}
	ue.Add(s.bad, errors.New("missing field hash"))
	return slots, ue.Err()
}

func TestGetSlots_UnreadableRecordIsNotChecked(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	good, err := m.AddSlot(ctx, vehicle("Good"), []byte("g"))
	require.NoError(t, err)
	bad, err := m.AddSlot(ctx, vehicle("Bad"), []byte("b"))
	require.NoError(t, err)

	mem := memsource.New("central", source.AllTypes)
	require.NoError(t, m.RegisterSource(unreadableSource{Source: mem, bad: bad}))
	require.NoError(t, m.PushSlot(ctx, good, "central"))
	require.NoError(t, m.PushSlot(ctx, bad, "central"))

	slots, err := m.GetSlots(ctx, slot.TypeVehicle)
	require.NoError(t, err)
	assert.Equal(t, slot.Synchronized, slots[good].Status)
	assert.Equal(t, slot.NotChecked, slots[bad].Status, "a malformed record is not evidence of absence")
	assert.Equal(t, slot.NotChecked, slots[bad].Sources["central"])

	slots, err = m.GetSlots(ctx, slot.TypeVehicle, FromCache())
	require.NoError(t, err)
	assert.Equal(t, slot.Synchronized, slots[good].Status)
	assert.Equal(t, slot.NotChecked, slots[bad].Status)
}

func TestGetSlots_UnknownSourceFilter(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.NoError(t, m.RegisterSource(memsource.New("central", source.AllTypes)))

	_, err := m.GetSlots(ctx, slot.TypeVehicle, WithSource("central", "nosuch"))
	assert.ErrorIs(t, err, ErrUnknownSource)
	assert.ErrorContains(t, err, `"nosuch"`)

	_, err = m.GetSlots(ctx, slot.TypeVehicle, WithSource("central"))
	assert.NoError(t, err)

	assert.ErrorIs(t, m.PushSlot(ctx, uuid.New(), "nosuch"), ErrUnknownSource)
}
