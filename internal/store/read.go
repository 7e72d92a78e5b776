package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/soda-auto/soda-sim-sub008/internal/compression"
	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

// List streams the metadata of every slot of the given type, ordered by ID.
// Payloads are not read. Iteration stops at the first error, which is
// yielded with a zero Info.
func (s *Store) List(ctx context.Context, typ slot.Type) iter.Seq2[slot.Info, error] {
	return func(yield func(slot.Info, error) bool) {
		rows, err := s.db.QueryxContext(ctx,
			`SELECT `+slotColumns+` FROM slots WHERE type = ? ORDER BY id ASC`,
			int64(typ))
		if err != nil {
			yield(slot.Info{}, s.storageErr("store.list", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var r slotRow
			if err := rows.StructScan(&r); err != nil {
				yield(slot.Info{}, s.storageErr("store.list", err))
				return
			}
			info, err := r.info()
			if err != nil {
				yield(slot.Info{}, s.storageErr("store.list", err))
				return
			}
			if !yield(info, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(slot.Info{}, s.storageErr("store.list", err))
		}
	}
}

// Get returns the metadata of one slot. Returns NotFound if absent.
func (s *Store) Get(ctx context.Context, id slot.ID) (slot.Info, error) {
	var r slotRow
	err := s.db.GetContext(ctx, &r,
		`SELECT `+slotColumns+` FROM slots WHERE id = ?`, idBytes(id))
	if errors.Is(err, sql.ErrNoRows) {
		return slot.Info{}, slot.NewNotFound("store.get", s.path, id)
	}
	if err != nil {
		return slot.Info{}, s.storageErr("store.get", err)
	}

	info, err := r.info()
	if err != nil {
		return slot.Info{}, s.storageErr("store.get", err)
	}
	return info, nil
}

// Has reports whether the store holds a slot with the given ID.
func (s *Store) Has(ctx context.Context, id slot.ID) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM slots WHERE id = ?`, idBytes(id))
	if err != nil {
		return false, s.storageErr("store.has", err)
	}
	return n > 0, nil
}

// GetPayload returns the decoded payload of one slot. Returns NotFound if
// the slot is absent.
func (s *Store) GetPayload(ctx context.Context, id slot.ID) ([]byte, error) {
	var r payloadRow
	err := s.db.GetContext(ctx, &r,
		`SELECT encoding, size, data FROM payloads WHERE id = ?`, idBytes(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, slot.NewNotFound("store.get_payload", s.path, id)
	}
	if err != nil {
		return nil, s.storageErr("store.get_payload", err)
	}

	data, err := s.codec.Decode(r.Data, compression.Encoding(r.Encoding))
	if err != nil {
		return nil, s.storageErr("store.get_payload", fmt.Errorf("slot %s: %w", id, err))
	}
	if int64(len(data)) != r.Size {
		return nil, s.storageErr("store.get_payload",
			fmt.Errorf("slot %s: payload size %d, recorded %d", id, len(data), r.Size))
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Count returns the number of slots in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM slots`); err != nil {
		return 0, s.storageErr("store.count", err)
	}
	return n, nil
}
