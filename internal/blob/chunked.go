package blob

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	chunker "github.com/ipfs/boxo/chunker"
	"github.com/ulikunitz/xz/lzma"

	"github.com/sylvadb/sylva/pkg/types"
)

const (
	prefixManifest = "blob:m:"
	prefixChunk    = "blob:c:"
	prefixRefCount = "blob:r:"
)

// ChunkedBlobStore is the embedded block-store backing. Blobs are split
// with buzhash content-defined chunking, each chunk is lzma-compressed and
// stored under its SHA-512 address, so identical regions across blobs are
// stored once. A manifest per blob id lists the chunk addresses in order.
type ChunkedBlobStore struct {
	db *badger.DB
}

// NewChunkedBlobStore wraps an existing Badger handle. The store does not
// own the handle; Close is a no-op.
func NewChunkedBlobStore(db *badger.DB) *ChunkedBlobStore {
	return &ChunkedBlobStore{db: db}
}

func (b *ChunkedBlobStore) CreateID(prop types.PropertyID, index int) string {
	return blobKey(prop, index)
}

func (b *ChunkedBlobStore) Put(id string, data []byte) error {
	chunks, err := splitChunks(data)
	if err != nil {
		return fmt.Errorf("chunking blob %s: %w", id, err)
	}

	manifestKey := []byte(prefixManifest + id)
	manifest := make([]byte, 0, len(chunks)*sha512.Size)
	for _, chunk := range chunks {
		hash := sha512.Sum512(chunk)
		manifest = append(manifest, hash[:]...)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		old, err := readValue(txn, manifestKey)
		exists := err == nil
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if exists && bytes.Equal(old, manifest) {
			return nil
		}
		for _, chunk := range chunks {
			hash := sha512.Sum512(chunk)
			refKey := append([]byte(prefixRefCount), hash[:]...)
			refs, err := readCounter(txn, refKey)
			if err != nil {
				return err
			}
			if refs == 0 {
				compressed, err := compressChunk(chunk)
				if err != nil {
					return err
				}
				chunkKey := append([]byte(prefixChunk), hash[:]...)
				if err := txn.Set(chunkKey, compressed); err != nil {
					return err
				}
			}
			if err := writeCounter(txn, refKey, refs+1); err != nil {
				return err
			}
		}
		// the overwritten manifest gives back its references after the new
		// ones are taken, so chunks shared between both versions stay stored
		if exists {
			if err := releaseChunks(txn, old); err != nil {
				return err
			}
		}
		return txn.Set(manifestKey, manifest)
	})
	if err != nil {
		return fmt.Errorf("storing blob %s: %w", id, err)
	}
	return nil
}

func (b *ChunkedBlobStore) Get(id string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		manifest, err := readValue(txn, []byte(prefixManifest+id))
		if err != nil {
			return err
		}
		for off := 0; off < len(manifest); off += sha512.Size {
			chunkKey := append([]byte(prefixChunk), manifest[off:off+sha512.Size]...)
			compressed, err := readValue(txn, chunkKey)
			if err != nil {
				return err
			}
			chunk, err := decompressChunk(compressed)
			if err != nil {
				return err
			}
			data = append(data, chunk...)
		}
		return nil
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: blob %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", id, err)
	}
	return data, nil
}

func (b *ChunkedBlobStore) Remove(id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		manifestKey := []byte(prefixManifest + id)
		manifest, err := readValue(txn, manifestKey)
		if err != nil {
			return err
		}
		if err := releaseChunks(txn, manifest); err != nil {
			return err
		}
		return txn.Delete(manifestKey)
	})
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: blob %s", types.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("removing blob %s: %w", id, err)
	}
	return nil
}

func (b *ChunkedBlobStore) Close() error { return nil }

// releaseChunks drops one reference per chunk listed in the manifest and
// deletes chunks whose count reaches zero.
func releaseChunks(txn *badger.Txn, manifest []byte) error {
	for off := 0; off < len(manifest); off += sha512.Size {
		hash := manifest[off : off+sha512.Size]
		refKey := append([]byte(prefixRefCount), hash...)
		refs, err := readCounter(txn, refKey)
		if err != nil {
			return err
		}
		if refs <= 1 {
			if err := txn.Delete(append([]byte(prefixChunk), hash...)); err != nil {
				return err
			}
			if err := txn.Delete(refKey); err != nil {
				return err
			}
			continue
		}
		if err := writeCounter(txn, refKey, refs-1); err != nil {
			return err
		}
	}
	return nil
}

// splitChunks runs buzhash content-defined chunking over the blob. Empty
// blobs produce no chunks.
func splitChunks(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	bz := chunker.NewBuzhash(bytes.NewReader(data))
	var chunks [][]byte
	for {
		chunk, err := bz.NextBytes()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
}

func compressChunk(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating lzma writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compressing chunk: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing lzma writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressChunk(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating lzma reader: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing chunk: %w", err)
	}
	return out, nil
}

func readValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func readCounter(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("malformed refcount of length %d", len(v))
		}
		n = binary.BigEndian.Uint64(v)
		return nil
	})
	return n, err
}

func writeCounter(txn *badger.Txn, key []byte, n uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return txn.Set(key, buf[:])
}
