package state

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sylvadb/sylva/pkg/types"
)

func isNotFound(err error) bool { return errors.Is(err, types.ErrNotFound) }

// ChangeLog collects the operations and affected states of one save attempt.
// It is consumed exactly once, by either Persisted or Undo.
type ChangeLog struct {
	log *slog.Logger

	target   ItemState
	ops      []Operation
	affected []ItemState
	seen     map[ItemState]struct{}

	// strict makes illegal mid-transaction statuses fail the transaction
	// instead of being logged and coerced. Off by default; mainly for tests.
	strict   bool
	consumed bool
}

// NewChangeLog creates an empty change log for the subtree rooted at target.
func NewChangeLog(target ItemState, logger *slog.Logger) *ChangeLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeLog{
		log:    logger,
		target: target,
		seen:   make(map[ItemState]struct{}),
	}
}

// SetStrict toggles strict handling of illegal statuses.
func (c *ChangeLog) SetStrict(strict bool) { c.strict = strict }

// Add records an operation and registers the states it touches.
func (c *ChangeLog) Add(op Operation) {
	c.ops = append(c.ops, op)
	for _, s := range op.States() {
		c.AddAffected(s)
	}
}

// AddAffected registers a state touched outside any recorded operation,
// such as an implicitly modified parent.
func (c *ChangeLog) AddAffected(s ItemState) {
	if _, ok := c.seen[s]; ok {
		return
	}
	c.seen[s] = struct{}{}
	c.affected = append(c.affected, s)
}

// Target returns the subtree root this change log saves.
func (c *ChangeLog) Target() ItemState { return c.target }

// IsEmpty reports whether any operation was recorded. Empty logs let
// callers skip no-op saves.
func (c *ChangeLog) IsEmpty() bool { return len(c.ops) == 0 }

// Operations returns the recorded operations in insertion order.
func (c *ChangeLog) Operations() []Operation {
	out := make([]Operation, len(c.ops))
	copy(out, c.ops)
	return out
}

// AffectedStates returns every state this change log touches.
func (c *ChangeLog) AffectedStates() []ItemState {
	out := make([]ItemState, len(c.affected))
	copy(out, c.affected)
	return out
}

func (c *ChangeLog) consume() error {
	if c.consumed {
		return fmt.Errorf("%w: change log already consumed", types.ErrInvalidState)
	}
	c.consumed = true
	return nil
}

// Persisted transitions every recorded operation and affected state to its
// post-save status. Call it once, after the persistence manager durably
// stored the changes.
func (c *ChangeLog) Persisted() error {
	if err := c.consume(); err != nil {
		return err
	}
	defer c.Reset()

	changedMixins := make(map[*NodeState]struct{})
	for _, op := range c.ops {
		if err := op.Persisted(); err != nil {
			return fmt.Errorf("persisted hook of %s: %w", op, err)
		}
		if sm, ok := op.(*SetMixins); ok {
			changedMixins[sm.NodeState()] = struct{}{}
		}
	}

	for _, s := range c.affected {
		entry := s.Entry()
		switch st := s.Status(); st {
		case types.StatusExistingModified:
			if err := s.SetStatus(types.StatusExisting); err != nil {
				return err
			}
			if e, ok := entry.(*CacheEntry); ok {
				e.Checkpoint()
			}
			c.invalidateIfMixinsChanged(s, entry, changedMixins)
		case types.StatusExistingRemoved:
			if entry != nil {
				entry.Remove()
			}
		case types.StatusNew:
			// must have been covered by an operation
			if c.strict {
				return fmt.Errorf("%w: change log still contains new state", types.ErrInvalidState)
			}
			c.log.Error("change log still contains new state, coercing to existing",
				"status", st.String())
			c.coerceExisting(s)
		case types.StatusModified, types.StatusUndefined,
			types.StatusStaleModified, types.StatusStaleDestroyed:
			if c.strict {
				return fmt.Errorf("%w: change log contains state with illegal status %s",
					types.ErrInvalidState, st)
			}
			c.log.Error("change log contains state with illegal status, coercing to existing",
				"status", st.String())
			c.coerceExisting(s)
		case types.StatusExisting:
			// operations already completed; only mixin tracking remains
			c.invalidateIfMixinsChanged(s, entry, changedMixins)
		case types.StatusInvalidated, types.StatusRemoved:
			// already settled
		}
	}
	return nil
}

// Undo reverses the recorded operations in reverse insertion order, then
// reverts every remaining touched state to its last-known-good snapshot.
func (c *ChangeLog) Undo() error {
	if err := c.consume(); err != nil {
		return err
	}
	defer c.Reset()

	for i := len(c.ops) - 1; i >= 0; i-- {
		if err := c.ops[i].Undo(); err != nil {
			return fmt.Errorf("undo of %s: %w", c.ops[i], err)
		}
	}

	for _, s := range c.affected {
		switch st := s.Status(); st {
		case types.StatusExistingModified, types.StatusExistingRemoved,
			types.StatusStaleModified, types.StatusStaleDestroyed:
			if e := s.Entry(); e != nil {
				e.Revert()
			}
		case types.StatusNew:
			// must have been covered by an operation
			if c.strict {
				return fmt.Errorf("%w: change log still contains new state", types.ErrInvalidState)
			}
			c.log.Error("change log still contains new state on undo, discarding",
				"status", st.String())
			if e := s.Entry(); e != nil {
				e.Revert()
			}
		case types.StatusModified, types.StatusUndefined:
			if c.strict {
				return fmt.Errorf("%w: change log contains state with illegal status %s",
					types.ErrInvalidState, st)
			}
			c.log.Error("change log contains state with illegal status on undo",
				"status", st.String())
		case types.StatusExisting, types.StatusRemoved, types.StatusInvalidated:
			// already settled
		}
	}
	return nil
}

// Reset empties the change log. The consumed flag stays set; a reset log
// cannot be replayed.
func (c *ChangeLog) Reset() {
	c.ops = nil
	c.affected = nil
	c.seen = make(map[ItemState]struct{})
}

func (c *ChangeLog) invalidateIfMixinsChanged(s ItemState, entry HierarchyEntry, changed map[*NodeState]struct{}) {
	n, ok := s.(*NodeState)
	if !ok {
		return
	}
	if _, ok := changed[n]; ok && entry != nil {
		// a changed mixin set can alter the node's effective identity
		// semantics; force a reload on next access
		entry.Invalidate()
	}
}

func (c *ChangeLog) coerceExisting(s ItemState) {
	switch st := s.(type) {
	case *NodeState:
		st.forceStatus(types.StatusExisting)
	case *PropertyState:
		st.forceStatus(types.StatusExisting)
	}
}
