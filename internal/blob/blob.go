// Package blob stores large property values outside their node bundle. A
// bundle references an offloaded value by the deterministic id derived from
// the property id and value index.
package blob

import (
	"encoding/hex"
	"fmt"

	"github.com/sylvadb/sylva/pkg/types"
)

// BlobStore is content storage keyed by the id returned from CreateID.
type BlobStore interface {
	// CreateID derives the storage key for one value of a property. The
	// result is deterministic and collision-free across properties.
	CreateID(prop types.PropertyID, index int) string
	// Put stores the value bytes under the id.
	Put(id string, data []byte) error
	// Get returns the value bytes, or types.ErrNotFound when absent.
	Get(id string) ([]byte, error)
	// Remove deletes the value, returning types.ErrNotFound when absent.
	Remove(id string) error
	// Close releases backing resources.
	Close() error
}

// blobKey derives the canonical blob key. The node id provides a two-level
// fan-out; the property name is hex-encoded so arbitrary names cannot
// collide or escape the namespace.
func blobKey(prop types.PropertyID, index int) string {
	node := prop.Node.String()
	return fmt.Sprintf("%s/%s/%s.%s.%d",
		node[0:2], node[2:4], node,
		hex.EncodeToString([]byte(prop.Name)), index)
}
