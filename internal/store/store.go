// Package store provides the folder/key addressed physical stores the
// persistence manager writes node bundles to.
package store

// PhysicalStore is a flat namespace of slash-separated keys. Writes are
// atomic: a concurrent reader sees either the previous record or the new
// one, never a torn record.
type PhysicalStore interface {
	// Exists reports whether a record is stored under the key.
	Exists(key string) (bool, error)
	// Read returns the record bytes, or types.ErrNotFound when absent.
	Read(key string) ([]byte, error)
	// Write stores the record atomically, creating missing folders.
	Write(key string, data []byte) error
	// Delete removes the record, returning types.ErrNotFound when absent.
	Delete(key string) error
	// List returns all keys with the given prefix.
	List(prefix string) ([]string, error)
	// Close releases the underlying handles.
	Close() error
}
