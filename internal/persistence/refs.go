package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/sylvadb/sylva/pkg/types"
)

// NodeReferences is the reverse-reference record of one target node: the
// set of reference-type properties pointing at it. The record is created
// when the first referring property appears and destroyed with the last.
type NodeReferences struct {
	Target     types.NodeID
	Properties []types.PropertyID
}

// NewNodeReferences returns an empty record for the target.
func NewNodeReferences(target types.NodeID) *NodeReferences {
	return &NodeReferences{Target: target}
}

// Has reports whether the property already refers to the target.
func (r *NodeReferences) Has(prop types.PropertyID) bool {
	for _, p := range r.Properties {
		if p == prop {
			return true
		}
	}
	return false
}

// Add registers a referring property. Duplicates are ignored.
func (r *NodeReferences) Add(prop types.PropertyID) {
	if r.Has(prop) {
		return
	}
	r.Properties = append(r.Properties, prop)
}

// Remove drops a referring property.
func (r *NodeReferences) Remove(prop types.PropertyID) {
	for i, p := range r.Properties {
		if p == prop {
			r.Properties = append(r.Properties[:i], r.Properties[i+1:]...)
			return
		}
	}
}

// IsEmpty reports whether no property refers to the target anymore; the
// caller destroys the record then.
func (r *NodeReferences) IsEmpty() bool { return len(r.Properties) == 0 }

func encodeReferences(r *NodeReferences) []byte {
	props := make([]types.PropertyID, len(r.Properties))
	copy(props, r.Properties)
	sort.Slice(props, func(i, j int) bool {
		return props[i].String() < props[j].String()
	})

	buf := binary.AppendUvarint(nil, uint64(len(props)))
	for _, p := range props {
		buf = append(buf, p.Node[:]...)
		buf = binary.AppendUvarint(buf, uint64(len(p.Name)))
		buf = append(buf, p.Name...)
	}
	return buf
}

func decodeReferences(target types.NodeID, data []byte) (*NodeReferences, error) {
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("references of %s: malformed count: %w", target, err)
	}
	refs := NewNodeReferences(target)
	for i := uint64(0); i < count; i++ {
		var p types.PropertyID
		if _, err := io.ReadFull(r, p.Node[:]); err != nil {
			return nil, fmt.Errorf("references of %s: entry %d: %w", target, i, err)
		}
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("references of %s: entry %d name: %w", target, i, err)
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("references of %s: entry %d name: %w", target, i, err)
		}
		p.Name = string(name)
		refs.Properties = append(refs.Properties, p)
	}
	return refs, nil
}
