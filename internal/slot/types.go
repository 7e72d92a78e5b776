package slot

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID uniquely identifies a slot across all local stores and remote sources.
type ID = uuid.UUID

// Type is the closed set of slot kinds. The numeric values are the wire
// codes used by local stores and remote documents.
type Type uint8

const (
	TypeVehicle Type = iota
	TypeVehicleComponent
	TypeLevel
	TypeActor
)

// AllTypes lists every slot type in wire-code order.
var AllTypes = []Type{TypeVehicle, TypeVehicleComponent, TypeLevel, TypeActor}

var typeNames = map[Type]string{
	TypeVehicle:          "vehicle",
	TypeVehicleComponent: "vehicle_component",
	TypeLevel:            "level",
	TypeActor:            "actor",
}

// String returns the lower-case name used in configuration and CLI flags.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t is one of the known slot types.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid slot type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType parses a type name. Matching is case-insensitive and accepts
// "vehicle-component" as an alias of "vehicle_component".
func ParseType(s string) (Type, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown slot type %q", s)
}

// TypeFromCode converts a wire code into a Type.
func TypeFromCode(code int64) (Type, error) {
	t := Type(code)
	if code < 0 || code > 255 || !t.Valid() {
		return 0, fmt.Errorf("unknown slot type code %d", code)
	}
	return t, nil
}

// Info is the metadata of a slot. It never carries payload bytes.
type Info struct {
	ID          ID
	Type        Type
	Label       string
	Description string

	// ClassName is the engine class path of the payload, stored as an
	// opaque string.
	ClassName string

	// Metadata is free-form structured description, typically JSON.
	Metadata string

	LastModified time.Time
	Hash         Hash
}

// HasID reports whether an ID has been assigned.
func (i Info) HasID() bool {
	return i.ID != uuid.Nil
}

// ModifiedUnix returns LastModified as whole seconds since the epoch, the
// resolution used on the remote wire.
func (i Info) ModifiedUnix() int64 {
	if i.LastModified.IsZero() {
		return 0
	}
	return i.LastModified.Unix()
}
