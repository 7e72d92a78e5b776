package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

// Upsert writes a slot's metadata and payload as one atomic unit and
// returns the slot ID.
//
// If info.ID is unset a new ID is assigned. The content hash is always
// recomputed from payload and LastModified is always stamped with the
// store clock; info.Hash and info.LastModified are ignored.
func (s *Store) Upsert(ctx context.Context, info slot.Info, payload []byte) (slot.ID, error) {
	if !info.Type.Valid() {
		return uuid.Nil, fmt.Errorf("store upsert: invalid slot type %d", uint8(info.Type))
	}
	if !info.HasID() {
		info.ID = s.ids.NewID()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, s.storageErr("store.upsert", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	hash := slot.Sum(payload)
	stamp := s.now().UnixNano()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO slots
		(id, type, label, description, class_name, metadata, last_modified, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			label = excluded.label,
			description = excluded.description,
			class_name = excluded.class_name,
			metadata = excluded.metadata,
			last_modified = excluded.last_modified,
			hash = excluded.hash
	`,
		idBytes(info.ID),
		int64(info.Type),
		info.Label,
		info.Description,
		info.ClassName,
		info.Metadata,
		stamp,
		hash.Bytes(),
	)
	if err != nil {
		return uuid.Nil, s.storageErr("store.upsert", fmt.Errorf("write slot: %w", err))
	}

	if err := s.writePayload(ctx, tx, info.ID, payload); err != nil {
		return uuid.Nil, s.storageErr("store.upsert", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, s.storageErr("store.upsert", fmt.Errorf("commit: %w", err))
	}

	return info.ID, nil
}

// UpdateInfo rewrites the descriptive metadata of an existing slot and
// restamps LastModified. The payload and hash are left untouched.
// Returns NotFound if the slot does not exist in this store.
func (s *Store) UpdateInfo(ctx context.Context, info slot.Info) error {
	if !info.Type.Valid() {
		return fmt.Errorf("store update info: invalid slot type %d", uint8(info.Type))
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE slots SET
			type = ?, label = ?, description = ?, class_name = ?, metadata = ?, last_modified = ?
		WHERE id = ?
	`,
		int64(info.Type),
		info.Label,
		info.Description,
		info.ClassName,
		info.Metadata,
		s.now().UnixNano(),
		idBytes(info.ID),
	)
	if err != nil {
		return s.storageErr("store.update_info", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return s.storageErr("store.update_info", fmt.Errorf("rows affected: %w", err))
	}
	if n == 0 {
		return slot.NewNotFound("store.update_info", s.path, info.ID)
	}
	return nil
}

// UpdatePayloadOnly replaces the payload of an existing slot without
// revalidating its metadata. Hash and LastModified are still recomputed,
// in the same transaction as the payload write.
func (s *Store) UpdatePayloadOnly(ctx context.Context, id slot.ID, payload []byte) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.storageErr("store.update_payload", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE slots SET hash = ?, last_modified = ? WHERE id = ?
	`, slot.Sum(payload).Bytes(), s.now().UnixNano(), idBytes(id))
	if err != nil {
		return s.storageErr("store.update_payload", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return s.storageErr("store.update_payload", fmt.Errorf("rows affected: %w", err))
	}
	if n == 0 {
		return slot.NewNotFound("store.update_payload", s.path, id)
	}

	if err := s.writePayload(ctx, tx, id, payload); err != nil {
		return s.storageErr("store.update_payload", err)
	}

	if err := tx.Commit(); err != nil {
		return s.storageErr("store.update_payload", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Delete removes a slot and its payload. Deleting an absent ID is not an
// error; the returned bool reports whether a slot was removed.
func (s *Store) Delete(ctx context.Context, id slot.ID) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, s.storageErr("store.delete", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM payloads WHERE id = ?`, idBytes(id)); err != nil {
		return false, s.storageErr("store.delete", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE id = ?`, idBytes(id))
	if err != nil {
		return false, s.storageErr("store.delete", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, s.storageErr("store.delete", fmt.Errorf("rows affected: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return false, s.storageErr("store.delete", fmt.Errorf("commit: %w", err))
	}
	return n > 0, nil
}

// writePayload stores the encoded payload for id inside tx.
func (s *Store) writePayload(ctx context.Context, tx *sqlx.Tx, id slot.ID, payload []byte) error {
	if payload == nil {
		payload = []byte{} // nil binds as NULL
	}
	data, enc := s.codec.Encode(payload)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO payloads (id, encoding, size, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			encoding = excluded.encoding,
			size = excluded.size,
			data = excluded.data
	`, idBytes(id), int64(enc), int64(len(payload)), data)
	if err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}
