package natssource

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

// record is the metadata value stored under a slot's key.
type record struct {
	ID           string `json:"id"`
	Type         *int   `json:"type"`
	Label        string `json:"label"`
	Description  string `json:"description,omitempty"`
	ClassName    string `json:"class,omitempty"`
	Metadata     string `json:"metadata,omitempty"`
	LastModified *int64 `json:"last_modified"`
	Hash         string `json:"hash"`
	Size         int    `json:"size"`
}

// slotKey is the key of a slot's metadata: "<type code>.<id>". Listing one
// type is a single wildcard watch on "<type code>.*".
func slotKey(typ slot.Type, id slot.ID) string {
	return strconv.Itoa(int(typ)) + "." + id.String()
}

func typeFilter(typ slot.Type) string {
	return strconv.Itoa(int(typ)) + ".*"
}

// objectName names the payload object of one content version. Payloads are
// written under a new name before the metadata that points at them, so a
// reader never pairs metadata with a payload of another version.
func objectName(id slot.ID, hash slot.Hash) string {
	return id.String() + "/" + hash.String()
}

func encodeRecord(info slot.Info, size int) ([]byte, error) {
	typ := int(info.Type)
	modified := info.ModifiedUnix()
	return json.Marshal(record{
		ID:           info.ID.String(),
		Type:         &typ,
		Label:        info.Label,
		Description:  info.Description,
		ClassName:    info.ClassName,
		Metadata:     info.Metadata,
		LastModified: &modified,
		Hash:         info.Hash.String(),
		Size:         size,
	})
}

// keyID recovers the slot ID from a metadata key, or the zero ID.
func keyID(key string) slot.ID {
	_, rest, ok := strings.Cut(key, ".")
	if !ok {
		return slot.ID{}
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return slot.ID{}
	}
	return id
}

// decodeRecord parses a metadata entry. On failure the returned Info still
// carries the ID named by the key when it is readable.
func decodeRecord(key string, value []byte) (slot.Info, error) {
	var r record
	if err := json.Unmarshal(value, &r); err != nil {
		return slot.Info{ID: keyID(key)}, fmt.Errorf("key %s: %w", key, err)
	}

	id, err := uuid.Parse(r.ID)
	if err != nil {
		return slot.Info{ID: keyID(key)}, fmt.Errorf("key %s: id: %w", key, err)
	}
	if r.Type == nil {
		return slot.Info{ID: id}, fmt.Errorf("key %s: missing field type", key)
	}
	if r.LastModified == nil {
		return slot.Info{ID: id}, fmt.Errorf("key %s: missing field last_modified", key)
	}
	typ, err := slot.TypeFromCode(int64(*r.Type))
	if err != nil {
		return slot.Info{ID: id}, fmt.Errorf("key %s: %w", key, err)
	}
	hash, err := slot.ParseHash(r.Hash)
	if err != nil {
		return slot.Info{ID: id}, fmt.Errorf("key %s: hash: %w", key, err)
	}
	if want := slotKey(typ, id); !strings.EqualFold(want, key) {
		return slot.Info{ID: id}, fmt.Errorf("key %s: record belongs under %s", key, want)
	}

	return slot.Info{
		ID:           id,
		Type:         typ,
		Label:        r.Label,
		Description:  r.Description,
		ClassName:    r.ClassName,
		Metadata:     r.Metadata,
		LastModified: time.Unix(*r.LastModified, 0).UTC(),
		Hash:         hash,
	}, nil
}
