// Package sylva is the durable storage core of a hierarchical content
// repository: persistent item states with a transactional change log,
// bundle persistence over pluggable physical stores, and a database-backed
// cluster journal for replication.
package sylva

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sylvadb/sylva/internal/blob"
	"github.com/sylvadb/sylva/internal/bundle"
	"github.com/sylvadb/sylva/internal/journal"
	"github.com/sylvadb/sylva/internal/persistence"
	"github.com/sylvadb/sylva/internal/replication"
	"github.com/sylvadb/sylva/internal/state"
	"github.com/sylvadb/sylva/internal/store"
	"github.com/sylvadb/sylva/pkg/types"
)

var (
	ErrNotStarted = errors.New("sylva: repository not started")
	ErrClosed     = errors.New("sylva: repository closed")
)

// Repository is the main handle. It owns the physical store, the bundle
// persistence manager, and optionally the cluster journal. New does not
// perform I/O; call Start to initialize subsystems.
type Repository struct {
	log    *slog.Logger
	config Config

	mu      sync.RWMutex
	store   store.PhysicalStore
	blobs   blob.BlobStore
	manager *persistence.BundleManager
	journal *journal.DatabaseJournal
	driver  *replication.Driver

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// defaultLogger returns a logger that writes text logs to stderr at Info
// level. Applications can inject their own slog.Logger for JSON, different
// levels, etc.
func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// New constructs a repository handle. New does not perform heavy I/O or
// open any files. Call Start to initialize subsystems.
func New(conf Config) (*Repository, error) {
	conf.applyDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	return &Repository{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start opens the physical store, the blob store, the persistence manager
// and, if configured, the cluster journal. Start is safe to call multiple
// times; only the first call has effect.
func (r *Repository) Start(ctx context.Context) error {
	var startErr error
	r.startOnce.Do(func() {
		if err := os.MkdirAll(r.config.Path, 0o700); err != nil {
			startErr = fmt.Errorf("mkdir %s: %w", r.config.Path, err)
			return
		}

		ps, badgerStore, err := r.openStore()
		if err != nil {
			startErr = err
			return
		}
		blobs, err := r.openBlobs(ps, badgerStore)
		if err != nil {
			ps.Close()
			startErr = err
			return
		}

		// a negative configured threshold means offloading is disabled,
		// which the manager expresses as zero
		minBlob := r.config.MinBlobSize
		if minBlob < 0 {
			minBlob = 0
		}
		manager := persistence.NewBundleManager()
		if err := manager.Init(persistence.Config{
			Store:       ps,
			Blobs:       blobs,
			MinBlobSize: minBlob,
			Logger:      r.log,
		}); err != nil {
			blobs.Close()
			ps.Close()
			startErr = fmt.Errorf("init persistence manager: %w", err)
			return
		}

		var jnl *journal.DatabaseJournal
		var driver *replication.Driver
		if r.config.Journal.DSN != "" {
			jnl, err = journal.Open(journal.Config{
				Driver:             r.config.Journal.Driver,
				DSN:                r.config.Journal.DSN,
				SchemaObjectPrefix: r.config.Journal.SchemaObjectPrefix,
				JournalID:          r.config.Journal.JournalID,
				Logger:             r.log,
			})
			if err != nil {
				manager.Close()
				startErr = fmt.Errorf("open journal: %w", err)
				return
			}
			driver = replication.NewDriver(manager, jnl, r.log)
		}

		r.mu.Lock()
		r.store = ps
		r.blobs = blobs
		r.manager = manager
		r.journal = jnl
		r.driver = driver
		r.mu.Unlock()

		r.started.Store(true)
		r.log.Info("repository started",
			"path", r.config.Path,
			"store", r.config.StoreBackend,
			"blobs", r.config.BlobBackend,
			"clustered", jnl != nil)
	})
	return startErr
}

func (r *Repository) openStore() (store.PhysicalStore, *store.BadgerStore, error) {
	switch r.config.StoreBackend {
	case StoreBackendBadger:
		bs, err := store.NewBadgerStore(store.BadgerConfig{
			Path:          filepath.Join(r.config.Path, "store"),
			MinimumFreeGB: int(r.config.MinimumFreeGB),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open badger store: %w", err)
		}
		return bs, bs, nil
	default:
		ls, err := store.NewLocalStore(filepath.Join(r.config.Path, "store"))
		if err != nil {
			return nil, nil, fmt.Errorf("open local store: %w", err)
		}
		return ls, nil, nil
	}
}

func (r *Repository) openBlobs(ps store.PhysicalStore, badgerStore *store.BadgerStore) (blob.BlobStore, error) {
	switch r.config.BlobBackend {
	case BlobBackendStore:
		return blob.NewStoreBlobStore(ps), nil
	case BlobBackendChunked:
		if badgerStore == nil {
			return nil, fmt.Errorf("chunked blob backend requires the badger store")
		}
		return blob.NewChunkedBlobStore(badgerStore.DB()), nil
	default:
		fbs, err := blob.NewFSBlobStore(filepath.Join(r.config.Path, "blobs"))
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		return fbs, nil
	}
}

// Run starts the repository, blocks until ctx is canceled, then performs a
// bounded graceful shutdown. It is a convenience for services.
func (r *Repository) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.Close(shutdownCtx)
}

// Close releases the journal, the persistence manager and the physical
// store. Close is idempotent.
func (r *Repository) Close(ctx context.Context) error {
	var closeErr error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		jnl := r.journal
		manager := r.manager
		r.journal = nil
		r.manager = nil
		r.store = nil
		r.blobs = nil
		r.driver = nil
		r.mu.Unlock()

		r.started.Store(false)

		if jnl != nil {
			if err := jnl.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close journal: %w", err))
			}
		}
		if manager != nil {
			// the manager releases its blob store and physical store
			if err := manager.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close persistence manager: %w", err))
			}
		}
		r.log.Info("repository closed")
	})
	return closeErr
}

// CloseWithoutContext closes the repository using a background context.
func (r *Repository) CloseWithoutContext() error {
	return r.Close(context.Background())
}

func (r *Repository) managerHandle() (*persistence.BundleManager, error) {
	if !r.started.Load() {
		return nil, ErrNotStarted
	}
	r.mu.RLock()
	m := r.manager
	r.mu.RUnlock()
	if m == nil {
		return nil, ErrClosed
	}
	return m, nil
}

// Manager exposes the bundle persistence manager. Mainly used in tests and
// by integration code that drives persistence directly.
func (r *Repository) Manager() (*persistence.BundleManager, error) {
	return r.managerHandle()
}

// Journal returns the cluster journal, or nil when running standalone.
func (r *Repository) Journal() *journal.DatabaseJournal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.journal
}

// NewChangeLog returns an empty change log bound to this repository's
// strictness setting.
func (r *Repository) NewChangeLog(target state.ItemState) *state.ChangeLog {
	cl := state.NewChangeLog(target, r.log)
	cl.SetStrict(r.config.StrictTransitions)
	return cl
}

// Commit persists a change set. Clustered repositories commit under the
// journal revision lock and publish a change record; standalone ones apply
// the changes directly and transition the change log in memory.
func (r *Repository) Commit(ctx context.Context, log *state.ChangeLog, changes []replication.Change) error {
	if !r.started.Load() {
		return ErrNotStarted
	}
	r.mu.RLock()
	driver := r.driver
	manager := r.manager
	r.mu.RUnlock()
	if manager == nil {
		return ErrClosed
	}

	if driver != nil {
		return driver.Commit(ctx, log, changes)
	}
	if err := applyStandalone(manager, changes); err != nil {
		if log != nil {
			if undoErr := log.Undo(); undoErr != nil {
				r.log.Warn("change log rollback reported errors", "error", undoErr)
			}
		}
		return err
	}
	if log != nil {
		return log.Persisted()
	}
	return nil
}

func applyStandalone(manager *persistence.BundleManager, changes []replication.Change) error {
	for _, c := range changes {
		switch c.Kind {
		case replication.ChangeStoreBundle:
			if err := manager.StoreBundle(c.Bundle); err != nil {
				return fmt.Errorf("store bundle %s: %w", c.Bundle.ID, err)
			}
		case replication.ChangeDestroyBundle:
			bnd, err := manager.LoadBundle(c.NodeID)
			if err != nil {
				return fmt.Errorf("load bundle %s for destroy: %w", c.NodeID, err)
			}
			if err := manager.DestroyBundle(bnd); err != nil {
				return fmt.Errorf("destroy bundle %s: %w", c.NodeID, err)
			}
		case replication.ChangeStoreReferences:
			if err := manager.StoreReferences(c.Refs); err != nil {
				return fmt.Errorf("store references %s: %w", c.Refs.Target, err)
			}
		case replication.ChangeDestroyReferences:
			if err := manager.DestroyReferences(c.NodeID); err != nil {
				return fmt.Errorf("destroy references %s: %w", c.NodeID, err)
			}
		default:
			return fmt.Errorf("unknown change kind %d", c.Kind)
		}
	}
	return nil
}

// Replay applies journal records produced by other cluster members. It is
// a no-op for standalone repositories.
func (r *Repository) Replay(ctx context.Context) (int, error) {
	if !r.started.Load() {
		return 0, ErrNotStarted
	}
	r.mu.RLock()
	driver := r.driver
	r.mu.RUnlock()
	if driver == nil {
		return 0, nil
	}
	return driver.Replay(ctx)
}

// SetStaleHandler registers the callback invoked when replay touches a
// node, so open in-memory states for that node can be flagged stale.
func (r *Repository) SetStaleHandler(fn replication.StaleHandler) {
	r.mu.RLock()
	driver := r.driver
	r.mu.RUnlock()
	if driver != nil {
		driver.SetStaleHandler(fn)
	}
}

// LoadNode reads a node bundle.
func (r *Repository) LoadNode(ctx context.Context, id types.NodeID) (*bundle.NodeBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := r.managerHandle()
	if err != nil {
		return nil, err
	}
	return m.LoadBundle(id)
}

// NodeExists reports whether a node bundle is stored.
func (r *Repository) NodeExists(ctx context.Context, id types.NodeID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m, err := r.managerHandle()
	if err != nil {
		return false, err
	}
	return m.ExistsBundle(id)
}

// ListNodes returns the ids of all stored node bundles.
func (r *Repository) ListNodes(ctx context.Context) ([]types.NodeID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := r.managerHandle()
	if err != nil {
		return nil, err
	}
	return m.ListBundleIDs()
}
