// Package bundle defines the on-disk unit of node persistence and its
// binary codec. A bundle aggregates one node's full state: types, property
// records and child references are written and read as one record, with
// large property values offloaded to the blob store.
package bundle

import (
	"sort"

	"github.com/sylvadb/sylva/pkg/types"
)

// NodeBundle is the serialized form of one node's full state.
type NodeBundle struct {
	ID          types.NodeID
	ParentID    types.NodeID
	PrimaryType string
	Mixins      []string
	Properties  []PropertyEntry
	Children    []types.ChildEntry

	// ModCount increments on every store; used to detect external commits.
	ModCount uint32

	// Size is the on-disk byte size stamped after a load. Not serialized;
	// upstream caches use it for size-based eviction.
	Size int64
}

// PropertyEntry is one property record inside a bundle.
type PropertyEntry struct {
	Name   string
	Type   types.PropertyType
	Multi  bool
	Values []Value
	DefRef string
}

// Value is one property value, either inline or offloaded. After a load an
// offloaded value carries both its blob reference and the fetched bytes.
type Value struct {
	Data    []byte
	BlobRef string
}

// Property returns the entry with the given name, or nil.
func (b *NodeBundle) Property(name string) *PropertyEntry {
	for i := range b.Properties {
		if b.Properties[i].Name == name {
			return &b.Properties[i]
		}
	}
	return nil
}

// sortedProperties returns the property entries ordered by name so two
// stores of the same bundle produce identical bytes.
func (b *NodeBundle) sortedProperties() []PropertyEntry {
	out := make([]PropertyEntry, len(b.Properties))
	copy(out, b.Properties)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// sortedMixins returns the mixin names in sorted order.
func (b *NodeBundle) sortedMixins() []string {
	out := make([]string, len(b.Mixins))
	copy(out, b.Mixins)
	sort.Strings(out)
	return out
}
