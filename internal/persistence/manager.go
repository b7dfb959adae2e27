// Package persistence orchestrates the bundle codec and blob store against
// a folder/key addressed physical store. One manager instance serializes
// all physical I/O through a single lock; the backing store is not assumed
// to offer per-record transactional isolation.
package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sylvadb/sylva/internal/blob"
	"github.com/sylvadb/sylva/internal/bundle"
	"github.com/sylvadb/sylva/internal/store"
	"github.com/sylvadb/sylva/pkg/types"
)

const (
	itemPrefix     = "items/"
	nodeFileSuffix = ".node"
	refsFileSuffix = ".refs"
	nameIndexKey   = "names.idx"
)

// Config wires a manager to its physical store and blob store. MinBlobSize
// is the inline threshold in bytes; values at or above it are offloaded.
type Config struct {
	Store       store.PhysicalStore
	Blobs       blob.BlobStore
	MinBlobSize int
	Logger      *slog.Logger
}

// BundleManager stores, loads and destroys node bundles and node-references
// records.
type BundleManager struct {
	mu  sync.Mutex
	log *slog.Logger

	store   store.PhysicalStore
	blobs   blob.BlobStore
	binding *bundle.Binding

	initialized bool
}

// NewBundleManager returns an uninitialized manager; call Init before use.
func NewBundleManager() *BundleManager {
	return &BundleManager{}
}

// Init opens the name index and binds the codec. Initializing an already
// initialized manager is an invalid-state error.
func (m *BundleManager) Init(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return fmt.Errorf("%w: already initialized", types.ErrInvalidState)
	}
	if cfg.Store == nil {
		return errors.New("persistence: no physical store configured")
	}
	if cfg.Blobs == nil {
		return errors.New("persistence: no blob store configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	names, err := bundle.LoadNameIndex(cfg.Store, nameIndexKey)
	if err != nil {
		return fmt.Errorf("persistence: %w", err)
	}

	m.log = cfg.Logger
	m.store = cfg.Store
	m.blobs = cfg.Blobs
	m.binding = bundle.NewBinding(names, cfg.Blobs, cfg.MinBlobSize)
	m.initialized = true
	return nil
}

// Close releases the blob store and the physical store. Both are released
// even if the first close fails. Closing twice before a re-init is an
// invalid-state error.
func (m *BundleManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return fmt.Errorf("%w: close on uninitialized manager", types.ErrInvalidState)
	}
	m.initialized = false

	blobErr := m.blobs.Close()
	storeErr := m.store.Close()
	if blobErr != nil {
		return fmt.Errorf("close blob store: %w", blobErr)
	}
	if storeErr != nil {
		return fmt.Errorf("close physical store: %w", storeErr)
	}
	return nil
}

func (m *BundleManager) checkInitialized() error {
	if !m.initialized {
		return types.ErrNotInitialized
	}
	return nil
}

// nodeKey derives the bundle key for a node id. The leading id bytes give a
// two-level fan-out so no folder accumulates unbounded entries.
func nodeKey(id types.NodeID) string {
	hex := id.String()
	return itemPrefix + hex[0:2] + "/" + hex[2:4] + "/" + hex + nodeFileSuffix
}

// refsKey derives the node-references key; same fan-out, distinct suffix.
func refsKey(id types.NodeID) string {
	hex := id.String()
	return itemPrefix + hex[0:2] + "/" + hex[2:4] + "/" + hex + refsFileSuffix
}

// LoadBundle reads and deserializes the bundle, stamping it with its
// on-disk byte size.
func (m *BundleManager) LoadBundle(id types.NodeID) (*bundle.NodeBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInitialized(); err != nil {
		return nil, err
	}
	data, err := m.store.Read(nodeKey(id))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: bundle %s", types.ErrNotFound, id)
		}
		return nil, fmt.Errorf("load bundle %s: %w", id, err)
	}
	bnd, err := m.binding.ReadBundle(data, id)
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", id, err)
	}
	return bnd, nil
}

// StoreBundle serializes and durably writes the bundle, bumping its
// modification count.
func (m *BundleManager) StoreBundle(bnd *bundle.NodeBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInitialized(); err != nil {
		return err
	}
	bnd.ModCount++
	data, err := m.binding.WriteBundle(bnd)
	if err != nil {
		bnd.ModCount--
		return fmt.Errorf("store bundle %s: %w", bnd.ID, err)
	}
	if err := m.store.Write(nodeKey(bnd.ID), data); err != nil {
		bnd.ModCount--
		return fmt.Errorf("store bundle %s: %w", bnd.ID, err)
	}
	bnd.Size = int64(len(data))
	return nil
}

// DestroyBundle deletes the physical record and releases offloaded values.
// Destroying an absent bundle yields types.ErrNotFound so replay can treat
// "already gone" idempotently.
func (m *BundleManager) DestroyBundle(bnd *bundle.NodeBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInitialized(); err != nil {
		return err
	}
	if err := m.store.Delete(nodeKey(bnd.ID)); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: bundle %s", types.ErrNotFound, bnd.ID)
		}
		return fmt.Errorf("destroy bundle %s: %w", bnd.ID, err)
	}
	if err := m.binding.RemoveBlobs(bnd); err != nil {
		// the record is gone; losing a blob leaks storage but must not fail
		// the destroy
		m.log.Error("releasing blobs of destroyed bundle",
			"node", bnd.ID.String(), "err", err)
	}
	return nil
}

// ExistsBundle reports whether the bundle is stored.
func (m *BundleManager) ExistsBundle(id types.NodeID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInitialized(); err != nil {
		return false, err
	}
	ok, err := m.store.Exists(nodeKey(id))
	if err != nil {
		return false, fmt.Errorf("check bundle %s: %w", id, err)
	}
	return ok, nil
}

// LoadReferences reads the node-references record of the target node.
func (m *BundleManager) LoadReferences(target types.NodeID) (*NodeReferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInitialized(); err != nil {
		return nil, err
	}
	data, err := m.store.Read(refsKey(target))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: references of %s", types.ErrNotFound, target)
		}
		return nil, fmt.Errorf("load references of %s: %w", target, err)
	}
	return decodeReferences(target, data)
}

// StoreReferences durably writes the node-references record.
func (m *BundleManager) StoreReferences(refs *NodeReferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInitialized(); err != nil {
		return err
	}
	if err := m.store.Write(refsKey(refs.Target), encodeReferences(refs)); err != nil {
		return fmt.Errorf("store references of %s: %w", refs.Target, err)
	}
	return nil
}

// DestroyReferences deletes the record, with the same idempotent not-found
// contract as DestroyBundle.
func (m *BundleManager) DestroyReferences(target types.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInitialized(); err != nil {
		return err
	}
	if err := m.store.Delete(refsKey(target)); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: references of %s", types.ErrNotFound, target)
		}
		return fmt.Errorf("destroy references of %s: %w", target, err)
	}
	return nil
}

// ExistsReferences reports whether a node-references record is stored.
func (m *BundleManager) ExistsReferences(target types.NodeID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInitialized(); err != nil {
		return false, err
	}
	ok, err := m.store.Exists(refsKey(target))
	if err != nil {
		return false, fmt.Errorf("check references of %s: %w", target, err)
	}
	return ok, nil
}

// ListBundleIDs returns the ids of all stored bundles. Used by replication
// bootstrap and backup.
func (m *BundleManager) ListBundleIDs() ([]types.NodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInitialized(); err != nil {
		return nil, err
	}
	keys, err := m.store.List(itemPrefix)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	var ids []types.NodeID
	for _, key := range keys {
		if !strings.HasSuffix(key, nodeFileSuffix) {
			continue
		}
		base := key[strings.LastIndex(key, "/")+1:]
		id, err := types.ParseNodeID(strings.TrimSuffix(base, nodeFileSuffix))
		if err != nil {
			m.log.Warn("skipping unparsable bundle key", "key", key)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
