package manager

import (
	"context"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
	"github.com/soda-auto/soda-sim-sub008/internal/store"
)

// localSlot is a slot as held by its owning store.
type localSlot struct {
	info  slot.Info
	store string
}

// locate finds the store owning id: the last store in precedence order
// that holds it.
func (m *Manager) locate(ctx context.Context, op string, id slot.ID) (*store.Store, slot.Info, error) {
	for i := len(m.order) - 1; i >= 0; i-- {
		st := m.stores[m.order[i]]
		info, err := st.Get(ctx, id)
		if slot.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, slot.Info{}, err
		}
		return st, info, nil
	}
	return nil, slot.Info{}, slot.NewNotFound(op, "", id)
}

// localSlots merges every store's slots of typ. Later stores shadow
// earlier ones.
func (m *Manager) localSlots(ctx context.Context, typ slot.Type) (map[slot.ID]localSlot, error) {
	out := make(map[slot.ID]localSlot)
	for _, path := range m.order {
		for info, err := range m.stores[path].List(ctx, typ) {
			if err != nil {
				return nil, err
			}
			if prev, ok := out[info.ID]; ok {
				m.logger.Warn("slot shadowed by later store",
					"id", info.ID, "shadowed", prev.store, "owner", path)
			}
			out[info.ID] = localSlot{info: info, store: path}
		}
	}
	return out, nil
}

// GetSlot returns the metadata of a local slot. No source is contacted.
func (m *Manager) GetSlot(ctx context.Context, id slot.ID) (slot.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(ctx); err != nil {
		return slot.Info{}, err
	}

	_, info, err := m.locate(ctx, "manager.get_slot", id)
	return info, err
}

// SlotStore returns the path of the store owning id.
func (m *Manager) SlotStore(ctx context.Context, id slot.ID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(ctx); err != nil {
		return "", err
	}

	st, _, err := m.locate(ctx, "manager.slot_store", id)
	if err != nil {
		return "", err
	}
	return st.Path(), nil
}

// AddSlot stores a slot with its payload and returns its ID. An existing
// slot is replaced in its owning store; a new one goes to the default
// store. The hash and timestamp are always computed by the store.
func (m *Manager) AddSlot(ctx context.Context, info slot.Info, payload []byte) (slot.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(ctx); err != nil {
		return slot.ID{}, err
	}

	st, err := m.targetStore(ctx, "manager.add_slot", info)
	if err != nil {
		return slot.ID{}, err
	}
	return st.Upsert(ctx, info, payload)
}

// AddOrUpdateSlotInfo writes slot metadata. An existing slot keeps its
// payload; a new slot is created in the default store with an empty
// payload.
func (m *Manager) AddOrUpdateSlotInfo(ctx context.Context, info slot.Info) (slot.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(ctx); err != nil {
		return slot.ID{}, err
	}

	if info.HasID() {
		st, _, err := m.locate(ctx, "manager.add_or_update_slot_info", info.ID)
		if err == nil {
			return info.ID, st.UpdateInfo(ctx, info)
		}
		if !slot.IsNotFound(err) {
			return slot.ID{}, err
		}
	}

	st, err := m.defaultStore("manager.add_or_update_slot_info")
	if err != nil {
		return slot.ID{}, err
	}
	return st.Upsert(ctx, info, []byte{})
}

// DeleteSlot removes a slot from every local store holding it. Deleting an
// absent slot is not an error; the result reports whether anything was
// removed. Remote copies are untouched.
func (m *Manager) DeleteSlot(ctx context.Context, id slot.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(ctx); err != nil {
		return false, err
	}

	removed := false
	for _, path := range m.order {
		ok, err := m.stores[path].Delete(ctx, id)
		if err != nil {
			return removed, err
		}
		removed = removed || ok
	}
	return removed, nil
}

// GetSlotData returns the payload of a local slot.
func (m *Manager) GetSlotData(ctx context.Context, id slot.ID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	st, _, err := m.locate(ctx, "manager.get_slot_data", id)
	if err != nil {
		return nil, err
	}
	return st.GetPayload(ctx, id)
}

// UpdateSlotData replaces the payload of a local slot. The owning store
// recomputes the hash and restamps the slot.
func (m *Manager) UpdateSlotData(ctx context.Context, id slot.ID, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(ctx); err != nil {
		return err
	}

	st, _, err := m.locate(ctx, "manager.update_slot_data", id)
	if err != nil {
		return err
	}
	return st.UpdatePayloadOnly(ctx, id, payload)
}

// targetStore picks the store that receives a write of info.
func (m *Manager) targetStore(ctx context.Context, op string, info slot.Info) (*store.Store, error) {
	if info.HasID() {
		st, _, err := m.locate(ctx, op, info.ID)
		if err == nil {
			return st, nil
		}
		if !slot.IsNotFound(err) {
			return nil, err
		}
	}
	return m.defaultStore(op)
}

// ready checks the manager is open and stores have been scanned.
func (m *Manager) ready(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.ensureScanned(ctx)
}
