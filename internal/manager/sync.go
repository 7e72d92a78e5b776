package manager

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

// PushSlot uploads a local slot to the named source, creating or replacing
// the remote copy.
func (m *Manager) PushSlot(ctx context.Context, id slot.ID, sourceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(ctx); err != nil {
		return err
	}

	src, err := m.source(sourceName)
	if err != nil {
		return err
	}
	st, info, err := m.locate(ctx, "manager.push_slot", id)
	if err != nil {
		return err
	}
	if !src.SupportedTypes().Has(info.Type) {
		return fmt.Errorf("push slot: source %q does not support slot type %s", sourceName, info.Type)
	}
	payload, err := st.GetPayload(ctx, id)
	if err != nil {
		return err
	}

	err = m.remote(ctx, src, "push", []attribute.KeyValue{attribute.String("slot.id", id.String())},
		func(ctx context.Context) error {
			return src.Push(ctx, info, payload)
		})
	if err != nil {
		return err
	}

	// The pushed copy is now known; keep a cached listing consistent with
	// it rather than forcing a refresh.
	if cached, ok := m.cache[cacheKey{sourceName, info.Type}]; ok && cached.slots != nil {
		remote := info
		remote.LastModified = time.Unix(info.ModifiedUnix(), 0).UTC()
		cached.slots[id] = remote
		delete(cached.unreadable, id)
	}

	m.logger.Info("slot pushed", "id", id, "source", sourceName, "hash", info.Hash.Short())
	return nil
}

// PullSlot downloads a slot from the named source into the store owning
// it, or into the default store if no local copy exists. The payload must
// match the advertised hash. The local copy is restamped on write.
func (m *Manager) PullSlot(ctx context.Context, id slot.ID, sourceName string) (slot.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(ctx); err != nil {
		return slot.Info{}, err
	}

	src, err := m.source(sourceName)
	if err != nil {
		return slot.Info{}, err
	}

	var (
		info    slot.Info
		payload []byte
	)
	err = m.remote(ctx, src, "pull", []attribute.KeyValue{attribute.String("slot.id", id.String())},
		func(ctx context.Context) error {
			var err error
			info, payload, err = src.Pull(ctx, id)
			return err
		})
	if err != nil {
		return slot.Info{}, err
	}

	if info.ID != id {
		return slot.Info{}, slot.NewSerialization("manager.pull_slot", sourceName, id,
			fmt.Errorf("source returned slot %s", info.ID))
	}
	if got := slot.Sum(payload); got != info.Hash {
		return slot.Info{}, slot.NewSerialization("manager.pull_slot", sourceName, id,
			fmt.Errorf("payload hash %s does not match advertised %s", got.Short(), info.Hash.Short()))
	}

	st, err := m.targetStore(ctx, "manager.pull_slot", info)
	if err != nil {
		return slot.Info{}, err
	}
	if _, err := st.Upsert(ctx, info, payload); err != nil {
		return slot.Info{}, err
	}

	stored, err := st.Get(ctx, id)
	if err != nil {
		return slot.Info{}, err
	}
	m.logger.Info("slot pulled", "id", id, "source", sourceName, "store", st.Path(), "hash", stored.Hash.Short())
	return stored, nil
}

// DeleteRemoteSlot deletes a slot from the named source. Deleting a slot
// the source does not hold succeeds. Local copies are untouched.
func (m *Manager) DeleteRemoteSlot(ctx context.Context, id slot.ID, sourceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.source(sourceName)
	if err != nil {
		return err
	}

	err = m.remote(ctx, src, "delete", []attribute.KeyValue{attribute.String("slot.id", id.String())},
		func(ctx context.Context) error {
			return src.Delete(ctx, id)
		})
	if err != nil {
		return err
	}

	for key, cached := range m.cache {
		if key.source == sourceName {
			delete(cached.slots, id)
			delete(cached.unreadable, id)
		}
	}
	m.logger.Info("remote slot deleted", "id", id, "source", sourceName)
	return nil
}
