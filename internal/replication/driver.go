package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sylvadb/sylva/internal/journal"
	"github.com/sylvadb/sylva/internal/persistence"
	"github.com/sylvadb/sylva/internal/state"
	"github.com/sylvadb/sylva/pkg/types"
)

// StaleHandler is invoked during replay for every node touched by an
// external change record, so the caller can flag open in-memory states
// for the same node before they are committed on top of stale data.
type StaleHandler func(id types.NodeID)

// Driver serializes writes across cluster members. Commit persists a
// change set locally while holding the journal revision lock and appends
// the encoded record; Replay applies records other members produced.
type Driver struct {
	log     *slog.Logger
	manager *persistence.BundleManager
	journal *journal.DatabaseJournal

	mu            sync.Mutex
	localRevision int64
	onStale       StaleHandler
}

// NewDriver wires the local persistence manager to the cluster journal.
// The driver starts with a local revision watermark of zero; callers that
// persist the watermark across restarts seed it with SetLocalRevision.
func NewDriver(manager *persistence.BundleManager, jnl *journal.DatabaseJournal, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{log: logger, manager: manager, journal: jnl}
}

// SetStaleHandler registers the callback invoked for nodes touched by
// replayed external records. Not safe to change while a replay runs.
func (d *Driver) SetStaleHandler(fn StaleHandler) { d.onStale = fn }

// LocalRevision returns the highest journal revision this member has
// produced or replayed.
func (d *Driver) LocalRevision() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localRevision
}

// SetLocalRevision seeds the replay watermark, typically from a revision
// file written on shutdown.
func (d *Driver) SetLocalRevision(rev int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localRevision = rev
}

// Commit persists a change set under the cluster revision lock. The
// sequence is lock, apply locally, append the encoded record, unlock.
// On success the change log transitions its states to their persisted
// statuses; on any failure the change log is rolled back in memory and
// the journal record is discarded. Local writes that already reached the
// store before a late failure are repaired by replay, because the record
// carrying them was never published.
func (d *Driver) Commit(ctx context.Context, log *state.ChangeLog, changes []Change) error {
	if len(changes) == 0 && (log == nil || log.IsEmpty()) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.journal.Lock(ctx); err != nil {
		d.undo(log)
		return fmt.Errorf("acquire journal lock: %w", err)
	}

	// encode before the local store pass so the record carries the same
	// pre-store mod counts every member increments from
	payload, err := EncodeChanges(changes)
	if err != nil {
		d.journal.Unlock(false)
		d.undo(log)
		return fmt.Errorf("encode change set: %w", err)
	}

	if err := d.apply(changes, false); err != nil {
		d.journal.Unlock(false)
		d.undo(log)
		return fmt.Errorf("persist change set: %w", err)
	}
	if err := d.journal.Append(ctx, d.journal.JournalID(), payload); err != nil {
		d.journal.Unlock(false)
		d.undo(log)
		return fmt.Errorf("append journal record: %w", err)
	}
	rev := d.journal.LockedRevision()
	d.journal.Unlock(true)
	d.localRevision = rev

	if log != nil {
		if err := log.Persisted(); err != nil {
			return fmt.Errorf("transition states after commit: %w", err)
		}
	}
	d.log.Debug("change set committed", "revision", rev, "changes", len(changes))
	return nil
}

// Replay applies all journal records past the local watermark. Records
// this member produced are skipped; external records are applied
// idempotently, tolerating destroys of items that never arrived. Returns
// the number of external records applied.
func (d *Driver) Replay(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	it, err := d.journal.GetRecords(ctx, d.localRevision)
	if err != nil {
		return 0, fmt.Errorf("read journal records: %w", err)
	}
	defer it.Close()

	applied := 0
	for it.Next() {
		rec := it.Record()
		if rec.JournalID == d.journal.JournalID() {
			d.localRevision = rec.Revision
			continue
		}
		changes, err := DecodeChanges(rec.Data)
		if err != nil {
			return applied, fmt.Errorf("decode record %d: %w", rec.Revision, err)
		}
		if err := d.apply(changes, true); err != nil {
			return applied, fmt.Errorf("apply record %d: %w", rec.Revision, err)
		}
		if d.onStale != nil {
			for _, c := range changes {
				d.onStale(c.NodeID)
			}
		}
		d.localRevision = rec.Revision
		applied++
		d.log.Debug("journal record replayed",
			"revision", rec.Revision, "producer", rec.ProducerID, "changes", len(changes))
	}
	if err := it.Err(); err != nil {
		return applied, fmt.Errorf("iterate journal records: %w", err)
	}
	return applied, nil
}

// apply writes a change set through the persistence manager. In replay
// mode destroys of missing items succeed silently, so re-running a record
// is harmless.
func (d *Driver) apply(changes []Change, replay bool) error {
	for _, c := range changes {
		switch c.Kind {
		case ChangeStoreBundle:
			if err := d.manager.StoreBundle(c.Bundle); err != nil {
				return fmt.Errorf("store bundle %s: %w", c.Bundle.ID, err)
			}
		case ChangeDestroyBundle:
			bnd, err := d.manager.LoadBundle(c.NodeID)
			if err != nil {
				if replay && errors.Is(err, types.ErrNotFound) {
					continue
				}
				return fmt.Errorf("load bundle %s for destroy: %w", c.NodeID, err)
			}
			if err := d.manager.DestroyBundle(bnd); err != nil {
				if replay && errors.Is(err, types.ErrNotFound) {
					continue
				}
				return fmt.Errorf("destroy bundle %s: %w", c.NodeID, err)
			}
		case ChangeStoreReferences:
			if err := d.manager.StoreReferences(c.Refs); err != nil {
				return fmt.Errorf("store references %s: %w", c.Refs.Target, err)
			}
		case ChangeDestroyReferences:
			if err := d.manager.DestroyReferences(c.NodeID); err != nil {
				if replay && errors.Is(err, types.ErrNotFound) {
					continue
				}
				return fmt.Errorf("destroy references %s: %w", c.NodeID, err)
			}
		default:
			return fmt.Errorf("unknown change kind %d", c.Kind)
		}
	}
	return nil
}

func (d *Driver) undo(log *state.ChangeLog) {
	if log == nil {
		return
	}
	if err := log.Undo(); err != nil {
		d.log.Warn("change log rollback reported errors", "error", err)
	}
}
