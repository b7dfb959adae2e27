package types

import "errors"

// Error categories shared across the storage core. Callers match them with
// errors.Is; lower layers wrap them with context via fmt.Errorf.
var (
	// ErrNotFound reports an absent bundle, record or blob. Expected during
	// normal operation and during idempotent cluster replay.
	ErrNotFound = errors.New("sylva: not found")

	// ErrInvalidState reports an operation invoked outside its valid
	// lifecycle phase. Always a programming error.
	ErrInvalidState = errors.New("sylva: invalid state")

	// ErrStale reports an optimistic-concurrency conflict. The caller must
	// reload the affected items and retry the save.
	ErrStale = errors.New("sylva: stale state")

	// ErrNotInitialized reports use of a manager before Init or after Close.
	ErrNotInitialized = errors.New("sylva: not initialized")
)
