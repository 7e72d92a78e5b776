package slot

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error is the structured error returned by stores, sources and the manager.
//
// Error categories:
//   - StorageUnavailable: a local file is missing, locked or corrupt
//   - NotFound: the requested ID is absent in the queried store or source
//   - ConnectionFailure: a remote source is unreachable or the request failed
//   - Serialization: a remote document is malformed
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the failed operation, e.g. "store.get" or "mongo.pull".
	Op string

	// Source is the remote source name or local store path, when known.
	Source string

	// ID is the slot involved, when known.
	ID ID

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes slot errors.
type ErrorCode string

const (
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeConnectionFailure  ErrorCode = "CONNECTION_FAILURE"
	ErrCodeSerialization      ErrorCode = "SERIALIZATION"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	switch {
	case e.Source != "" && e.ID != uuid.Nil:
		msg += fmt.Sprintf(" (source=%s, id=%s)", e.Source, e.ID)
	case e.Source != "":
		msg += fmt.Sprintf(" (source=%s)", e.Source)
	case e.ID != uuid.Nil:
		msg += fmt.Sprintf(" (id=%s)", e.ID)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsStorageUnavailable reports whether err is a StorageUnavailable error.
func IsStorageUnavailable(err error) bool { return hasCode(err, ErrCodeStorageUnavailable) }

// IsConnectionFailure reports whether err is a ConnectionFailure error.
func IsConnectionFailure(err error) bool { return hasCode(err, ErrCodeConnectionFailure) }

// IsSerialization reports whether err is a Serialization error.
func IsSerialization(err error) bool { return hasCode(err, ErrCodeSerialization) }

// NewNotFound creates a NotFound error for id.
func NewNotFound(op, source string, id ID) *Error {
	return &Error{Code: ErrCodeNotFound, Op: op, Source: source, ID: id, Err: errors.New("slot not found")}
}

// NewStorageUnavailable creates a StorageUnavailable error for a store path.
func NewStorageUnavailable(op, path string, err error) *Error {
	return &Error{Code: ErrCodeStorageUnavailable, Op: op, Source: path, Err: err}
}

// NewConnectionFailure creates a ConnectionFailure error for a source.
func NewConnectionFailure(op, source string, err error) *Error {
	return &Error{Code: ErrCodeConnectionFailure, Op: op, Source: source, Err: err}
}

// NewSerialization creates a Serialization error for a malformed record.
func NewSerialization(op, source string, id ID, err error) *Error {
	return &Error{Code: ErrCodeSerialization, Op: op, Source: source, ID: id, Err: err}
}
