package slot

import (
	"fmt"
	"time"
)

// SyncStatus classifies the relationship between a local slot and one
// source's copy of it.
type SyncStatus uint8

const (
	// NotChecked means the source has not been queried, or the query failed.
	// It is never upgraded to a definite state without a successful listing.
	NotChecked SyncStatus = iota

	// LocalOnly means the source was queried and does not hold the slot, or
	// the source does not support the slot's type.
	LocalOnly

	// RemoteOnly means the source holds a slot no local store has.
	RemoteOnly

	// LocalIsNewer means contents differ and the local copy was written later.
	LocalIsNewer

	// RemoteIsNewer means contents differ and the source copy was written later.
	RemoteIsNewer

	// Synchronized means both copies have the same content hash.
	Synchronized

	// Conflict means contents differ but both copies carry the same
	// modification instant. No winner is chosen.
	Conflict
)

var statusNames = [...]string{
	NotChecked:    "not_checked",
	LocalOnly:     "local_only",
	RemoteOnly:    "remote_only",
	LocalIsNewer:  "local_is_newer",
	RemoteIsNewer: "remote_is_newer",
	Synchronized:  "synchronized",
	Conflict:      "conflict",
}

func (s SyncStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s SyncStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SyncStatus) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = SyncStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown sync status %q", text)
}

// Classify compares a local record with one source's record of the same ID.
// A nil argument means that side does not hold the slot. Passing two nils
// returns NotChecked; such a slot does not exist and callers never surface it.
//
// Remote times carry whole seconds. The local time is compared at full
// precision against the remote second, so a local edit made after a push in
// the same second is LocalIsNewer.
func Classify(local, remote *Info) SyncStatus {
	switch {
	case local == nil && remote == nil:
		return NotChecked
	case remote == nil:
		return LocalOnly
	case local == nil:
		return RemoteOnly
	case local.Hash == remote.Hash:
		return Synchronized
	}

	l := local.LastModified
	if l.IsZero() {
		l = time.Unix(0, 0)
	}
	r := time.Unix(remote.ModifiedUnix(), 0)
	switch {
	case r.After(l):
		return RemoteIsNewer
	case l.After(r):
		return LocalIsNewer
	default:
		return Conflict
	}
}

// statusPriority orders statuses from most to least attention-worthy. It is
// used to fold per-source statuses into one summary value.
var statusPriority = []SyncStatus{
	NotChecked,
	Conflict,
	RemoteIsNewer,
	LocalIsNewer,
	RemoteOnly,
	LocalOnly,
	Synchronized,
}

// Summarize folds several per-source statuses into one. An unknown status
// dominates, then conflicts, then pending changes. An empty input yields
// LocalOnly: with no source to compare against, a local slot is local only.
func Summarize(statuses ...SyncStatus) SyncStatus {
	if len(statuses) == 0 {
		return LocalOnly
	}
	for _, candidate := range statusPriority {
		for _, s := range statuses {
			if s == candidate {
				return candidate
			}
		}
	}
	return statuses[0]
}
