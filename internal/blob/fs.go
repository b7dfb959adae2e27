package blob

import (
	"fmt"

	"github.com/sylvadb/sylva/internal/store"
	"github.com/sylvadb/sylva/pkg/types"
)

// FSBlobStore keeps each blob as one file under its own root directory.
type FSBlobStore struct {
	fs *store.LocalStore
}

// NewFSBlobStore opens a blob store rooted at the given directory.
func NewFSBlobStore(root string) (*FSBlobStore, error) {
	fs, err := store.NewLocalStore(root)
	if err != nil {
		return nil, fmt.Errorf("open blob root: %w", err)
	}
	return &FSBlobStore{fs: fs}, nil
}

func (b *FSBlobStore) CreateID(prop types.PropertyID, index int) string {
	return blobKey(prop, index)
}

func (b *FSBlobStore) Put(id string, data []byte) error {
	return b.fs.Write(id, data)
}

func (b *FSBlobStore) Get(id string) ([]byte, error) {
	return b.fs.Read(id)
}

func (b *FSBlobStore) Remove(id string) error {
	return b.fs.Delete(id)
}

func (b *FSBlobStore) Close() error {
	return b.fs.Close()
}

// StoreBlobStore keeps blobs inside the item store itself, under a distinct
// namespace. It does not own the store; Close is a no-op.
type StoreBlobStore struct {
	ps store.PhysicalStore
}

const storeBlobPrefix = "blobs/"

// NewStoreBlobStore wraps the given physical store.
func NewStoreBlobStore(ps store.PhysicalStore) *StoreBlobStore {
	return &StoreBlobStore{ps: ps}
}

func (b *StoreBlobStore) CreateID(prop types.PropertyID, index int) string {
	return storeBlobPrefix + blobKey(prop, index)
}

func (b *StoreBlobStore) Put(id string, data []byte) error {
	return b.ps.Write(id, data)
}

func (b *StoreBlobStore) Get(id string) ([]byte, error) {
	return b.ps.Read(id)
}

func (b *StoreBlobStore) Remove(id string) error {
	return b.ps.Delete(id)
}

func (b *StoreBlobStore) Close() error { return nil }
