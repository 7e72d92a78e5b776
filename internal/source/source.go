// Package source defines the contract for remote slot backends and the
// plumbing shared by its implementations.
//
// A Source lists, pulls, pushes and deletes slots of the types it supports.
// Every operation takes a context; implementations must return when it is
// done. Listing never transfers payload bytes, so its cost tracks slot count
// rather than slot size.
//
// Implementations serialize requests on their own connection, typically
// through a Dispatcher, so callers never need to lock around a Source.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

// Source is a named remote slot backend.
type Source interface {
	// Name identifies the source in the registry and in sync results.
	Name() string

	// SupportedTypes is the set of slot types the source holds. Slots of
	// other types are never queried against it.
	SupportedTypes() TypeSet

	// Status reports the connection state.
	Status() ConnStatus

	// Connect establishes the connection. Operations on a source that is
	// not connected attempt to connect first.
	Connect(ctx context.Context) error

	// ListMetadata returns the metadata of every slot of typ held by the
	// source, without payloads. When some records cannot be decoded it
	// returns the decoded ones together with an *UnreadableError.
	ListMetadata(ctx context.Context, typ slot.Type) (map[slot.ID]slot.Info, error)

	// Pull fetches one slot with its payload. Returns NotFound if absent.
	Pull(ctx context.Context, id slot.ID) (slot.Info, []byte, error)

	// Push creates or replaces the slot keyed by info.ID. A record is never
	// partially written.
	Push(ctx context.Context, info slot.Info, payload []byte) error

	// Delete removes a slot. Deleting an absent slot succeeds.
	Delete(ctx context.Context, id slot.ID) error

	// Close releases the connection. Calling Close more than once is safe.
	Close() error
}

// ConnStatus is the connection state of a Source.
type ConnStatus uint8

const (
	Disconnected ConnStatus = iota
	Connecting
	Connected
	Failed
)

func (s ConnStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("conn_status(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnreadableError reports records a listing found but could not decode.
// The slots named by IDs exist on the source in an unknown state.
type UnreadableError struct {
	Source string

	// IDs holds the IDs recovered from malformed records.
	IDs []slot.ID

	// Errs holds one decode error per malformed record, including records
	// whose ID could not be recovered.
	Errs []error
}

// Add records a malformed record. A nil id means the ID was unreadable too.
func (e *UnreadableError) Add(id slot.ID, err error) {
	if id != (slot.ID{}) {
		e.IDs = append(e.IDs, id)
	}
	e.Errs = append(e.Errs, err)
}

// Err returns e if any record was added, nil otherwise.
func (e *UnreadableError) Err() error {
	if e == nil || len(e.Errs) == 0 {
		return nil
	}
	return e
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("source %s: %d unreadable record(s): %v", e.Source, len(e.Errs), e.Errs[0])
}

func (e *UnreadableError) Unwrap() []error {
	return e.Errs
}

// AsUnreadable reports whether err carries an *UnreadableError.
func AsUnreadable(err error) (*UnreadableError, bool) {
	var ue *UnreadableError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// CheckType returns an error if typ is not in the source's supported set.
func CheckType(src Source, op string, typ slot.Type) error {
	if src.SupportedTypes().Has(typ) {
		return nil
	}
	return fmt.Errorf("%s: source %q does not support slot type %s", op, src.Name(), typ)
}
