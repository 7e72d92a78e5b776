package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

// slotRow mirrors one row of the slots table.
type slotRow struct {
	ID           []byte `db:"id"`
	Type         int64  `db:"type"`
	Label        string `db:"label"`
	Description  string `db:"description"`
	ClassName    string `db:"class_name"`
	Metadata     string `db:"metadata"`
	LastModified int64  `db:"last_modified"`
	Hash         []byte `db:"hash"`
}

// payloadRow mirrors one row of the payloads table.
type payloadRow struct {
	Encoding uint8  `db:"encoding"`
	Size     int64  `db:"size"`
	Data     []byte `db:"data"`
}

const slotColumns = `id, type, label, description, class_name, metadata, last_modified, hash`

func (r slotRow) info() (slot.Info, error) {
	id, err := uuid.FromBytes(r.ID)
	if err != nil {
		return slot.Info{}, fmt.Errorf("decode id: %w", err)
	}
	typ, err := slot.TypeFromCode(r.Type)
	if err != nil {
		return slot.Info{}, fmt.Errorf("decode slot %s: %w", id, err)
	}
	hash, err := slot.HashFromBytes(r.Hash)
	if err != nil {
		return slot.Info{}, fmt.Errorf("decode slot %s: %w", id, err)
	}
	return slot.Info{
		ID:           id,
		Type:         typ,
		Label:        r.Label,
		Description:  r.Description,
		ClassName:    r.ClassName,
		Metadata:     r.Metadata,
		LastModified: time.Unix(0, r.LastModified).UTC(),
		Hash:         hash,
	}, nil
}

// idBytes returns the 16-byte binary form used as the primary key.
// uuid.UUID's driver.Valuer produces text, so IDs are always bound as bytes.
func idBytes(id slot.ID) []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}
