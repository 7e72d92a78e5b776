package mongosource

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
	"github.com/soda-auto/soda-sim-sub008/internal/source"
)

// Document field names. Existing collections spell the label field "lable".
const (
	fieldID           = "_id"
	fieldType         = "type"
	fieldLabel        = "lable"
	fieldDescription  = "description"
	fieldClass        = "class"
	fieldMetadata     = "metadata"
	fieldLastModified = "last_modified"
	fieldHash         = "hash"
	fieldData         = "data"
)

// document is one slot as stored in the collection. Pointer fields detect
// required fields that are absent.
type document struct {
	ID           primitive.Binary  `bson:"_id"`
	Type         *int32            `bson:"type"`
	Label        *string           `bson:"lable"`
	Description  *string           `bson:"description"`
	ClassName    *string           `bson:"class"`
	Metadata     string            `bson:"metadata,omitempty"`
	LastModified *int64            `bson:"last_modified"`
	Hash         *primitive.Binary `bson:"hash"`
	Data         *primitive.Binary `bson:"data,omitempty"`
}

// legacyHashSize is the width of the MD5 digest older writers stored in the
// hash field. Such a digest cannot be compared with a content hash, so the
// content hash of a legacy document is computed from its payload.
const legacyHashSize = 16

// errLegacyHash marks a legacy document read without its payload.
var errLegacyHash = errors.New("legacy md5 hash: payload required")

// binaryID is the fixed-width binary form of a slot ID.
func binaryID(id slot.ID) primitive.Binary {
	return primitive.Binary{Subtype: bson.TypeBinaryGeneric, Data: append([]byte{}, id[:]...)}
}

// idFilter selects one document by ID.
func idFilter(id slot.ID) bson.D {
	return bson.D{{Key: fieldID, Value: binaryID(id)}}
}

// metadataProjection excludes the payload from listings.
var metadataProjection = bson.D{{Key: fieldData, Value: 0}}

// newDocument encodes info and payload. LastModified is sent as whole
// seconds since the epoch.
func newDocument(info slot.Info, payload []byte) document {
	typ := int32(info.Type)
	modified := info.ModifiedUnix()
	hash := primitive.Binary{Subtype: bson.TypeBinaryGeneric, Data: info.Hash.Bytes()}
	if payload == nil {
		payload = []byte{}
	}
	data := primitive.Binary{Subtype: bson.TypeBinaryGeneric, Data: payload}

	return document{
		ID:           binaryID(info.ID),
		Type:         &typ,
		Label:        &info.Label,
		Description:  &info.Description,
		ClassName:    &info.ClassName,
		Metadata:     info.Metadata,
		LastModified: &modified,
		Hash:         &hash,
		Data:         &data,
	}
}

// decodeDocument parses a raw document. When withPayload is set the data
// field is required.
func decodeDocument(raw bson.Raw, withPayload bool) (slot.Info, []byte, error) {
	var doc document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return slot.Info{ID: rawID(raw)}, nil, fmt.Errorf("unmarshal: %w", err)
	}

	id, err := uuid.FromBytes(doc.ID.Data)
	if err != nil {
		return slot.Info{}, nil, fmt.Errorf("field %s: %w", fieldID, err)
	}

	var missing []error
	if doc.Type == nil {
		missing = append(missing, fmt.Errorf("missing field %s", fieldType))
	}
	if doc.Label == nil {
		missing = append(missing, fmt.Errorf("missing field %s", fieldLabel))
	}
	if doc.LastModified == nil {
		missing = append(missing, fmt.Errorf("missing field %s", fieldLastModified))
	}
	if doc.Hash == nil {
		missing = append(missing, fmt.Errorf("missing field %s", fieldHash))
	}
	if withPayload && doc.Data == nil {
		missing = append(missing, fmt.Errorf("missing field %s", fieldData))
	}
	if len(missing) > 0 {
		return slot.Info{ID: id}, nil, errors.Join(missing...)
	}

	typ, err := slot.TypeFromCode(int64(*doc.Type))
	if err != nil {
		return slot.Info{ID: id}, nil, fmt.Errorf("field %s: %w", fieldType, err)
	}
	var hash slot.Hash
	switch {
	case len(doc.Hash.Data) != legacyHashSize:
		hash, err = slot.HashFromBytes(doc.Hash.Data)
		if err != nil {
			return slot.Info{ID: id}, nil, fmt.Errorf("field %s: %w", fieldHash, err)
		}
	case doc.Data != nil:
		hash = slot.Sum(doc.Data.Data)
	default:
		return slot.Info{ID: id}, nil, errLegacyHash
	}

	info := slot.Info{
		ID:           id,
		Type:         typ,
		Label:        *doc.Label,
		Description:  deref(doc.Description),
		ClassName:    deref(doc.ClassName),
		Metadata:     doc.Metadata,
		LastModified: time.Unix(*doc.LastModified, 0).UTC(),
		Hash:         hash,
	}

	var payload []byte
	if doc.Data != nil {
		payload = append([]byte{}, doc.Data.Data...)
	}
	return info, payload, nil
}

// rawID recovers the slot ID of a document that failed to decode. It
// returns the zero ID when the _id field is unusable too.
func rawID(raw bson.Raw) slot.ID {
	val, err := raw.LookupErr(fieldID)
	if err != nil {
		return slot.ID{}
	}
	_, data, ok := val.BinaryOK()
	if !ok {
		return slot.ID{}
	}
	id, err := uuid.FromBytes(data)
	if err != nil {
		return slot.ID{}
	}
	return id
}

// listCollector sorts the documents of one listing into decoded slots,
// legacy documents that need their payload, and unreadable ones.
type listCollector struct {
	slots      map[slot.ID]slot.Info
	legacy     []slot.ID
	unreadable *source.UnreadableError
}

func newListCollector(name string) *listCollector {
	return &listCollector{
		slots:      make(map[slot.ID]slot.Info),
		unreadable: &source.UnreadableError{Source: name},
	}
}

// add decodes one projected document.
func (c *listCollector) add(raw bson.Raw) {
	info, _, err := decodeDocument(raw, false)
	switch {
	case errors.Is(err, errLegacyHash):
		c.legacy = append(c.legacy, info.ID)
	case err != nil:
		c.unreadable.Add(info.ID, err)
	default:
		c.slots[info.ID] = info
	}
}

// addLegacy decodes a full legacy document fetched for id.
func (c *listCollector) addLegacy(id slot.ID, raw bson.Raw) {
	info, _, err := decodeDocument(raw, true)
	if err != nil {
		c.unreadable.Add(id, err)
		return
	}
	c.slots[info.ID] = info
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
