package types

import "fmt"

// Status describes the relationship of an in-memory item state to its
// persisted copy.
type Status uint8

const (
	// StatusUndefined is a transient placeholder. It is never valid at a
	// transaction boundary.
	StatusUndefined Status = iota
	// StatusNew marks a state created locally and not yet persisted.
	StatusNew
	// StatusExisting marks a state in sync with its persisted copy.
	StatusExisting
	// StatusModified is a transient mid-transaction marker.
	StatusModified
	// StatusExistingModified marks a persisted state with local changes.
	StatusExistingModified
	// StatusExistingRemoved marks a persisted state scheduled for removal.
	StatusExistingRemoved
	// StatusStaleModified marks a locally modified state whose persisted copy
	// changed underneath it.
	StatusStaleModified
	// StatusStaleDestroyed marks a locally modified state whose persisted copy
	// was removed underneath it.
	StatusStaleDestroyed
	// StatusInvalidated marks a state that must be reloaded before use.
	StatusInvalidated
	// StatusRemoved marks a state whose persisted copy is gone.
	StatusRemoved
)

var statusNames = map[Status]string{
	StatusUndefined:        "undefined",
	StatusNew:              "new",
	StatusExisting:         "existing",
	StatusModified:         "modified",
	StatusExistingModified: "existing-modified",
	StatusExistingRemoved:  "existing-removed",
	StatusStaleModified:    "stale-modified",
	StatusStaleDestroyed:   "stale-destroyed",
	StatusInvalidated:      "invalidated",
	StatusRemoved:          "removed",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Terminal reports whether the status may be held by a state no change log
// references anymore.
func (s Status) Terminal() bool {
	switch s {
	case StatusExisting, StatusRemoved, StatusInvalidated:
		return true
	}
	return false
}

// Mutable reports whether a state with this status accepts local edits.
// Stale and removed states must be reloaded first.
func (s Status) Mutable() bool {
	switch s {
	case StatusNew, StatusExisting, StatusExistingModified:
		return true
	}
	return false
}

// Stale reports whether the persisted copy changed underneath the state.
func (s Status) Stale() bool {
	return s == StatusStaleModified || s == StatusStaleDestroyed
}

// ValidTransition reports whether a state may move from one status to
// another. The table mirrors the lifecycle: NEW becomes EXISTING on persist,
// EXISTING picks up EXISTING_MODIFIED on the first edit, any EXISTING*
// status may be marked stale by an external commit, and stale or invalidated
// states only leave through a reload.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusNew:
		return to == StatusExisting || to == StatusRemoved
	case StatusExisting:
		switch to {
		case StatusExistingModified, StatusExistingRemoved,
			StatusStaleModified, StatusStaleDestroyed,
			StatusInvalidated, StatusRemoved, StatusModified:
			return true
		}
	case StatusExistingModified:
		switch to {
		case StatusExisting, StatusExistingRemoved,
			StatusStaleModified, StatusStaleDestroyed:
			return true
		}
	case StatusExistingRemoved:
		switch to {
		case StatusExisting, StatusRemoved:
			return true
		}
	case StatusStaleModified, StatusStaleDestroyed:
		switch to {
		case StatusExisting, StatusInvalidated, StatusRemoved:
			return true
		}
	case StatusInvalidated:
		switch to {
		case StatusExisting, StatusRemoved:
			return true
		}
	case StatusModified, StatusUndefined:
		// transient markers may settle anywhere
		return true
	}
	return false
}
