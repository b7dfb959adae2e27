// Package replication drives the commit and replay paths between the local
// persistence manager and the cluster journal.
package replication

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sylvadb/sylva/internal/bundle"
	"github.com/sylvadb/sylva/internal/persistence"
	"github.com/sylvadb/sylva/pkg/types"
)

// ChangeKind discriminates the operations inside a journal payload.
type ChangeKind byte

const (
	ChangeStoreBundle ChangeKind = iota + 1
	ChangeDestroyBundle
	ChangeStoreReferences
	ChangeDestroyReferences
)

// Change is one replicated operation. Bundles travel fully inline: the
// receiving member applies its own blob threshold when storing, so blob
// references never cross node boundaries.
type Change struct {
	Kind   ChangeKind
	NodeID types.NodeID
	Bundle *bundle.NodeBundle
	Refs   *persistence.NodeReferences
}

const payloadVersion = 1

// EncodeChanges serializes a change set into a journal record payload.
func EncodeChanges(changes []Change) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(payloadVersion)
	writeUvarint(&buf, uint64(len(changes)))
	for i, c := range changes {
		buf.WriteByte(byte(c.Kind))
		switch c.Kind {
		case ChangeStoreBundle:
			if c.Bundle == nil {
				return nil, fmt.Errorf("change %d: store-bundle without bundle", i)
			}
			encodeBundle(&buf, c.Bundle)
		case ChangeDestroyBundle, ChangeDestroyReferences:
			buf.Write(c.NodeID[:])
		case ChangeStoreReferences:
			if c.Refs == nil {
				return nil, fmt.Errorf("change %d: store-references without record", i)
			}
			encodeRefs(&buf, c.Refs)
		default:
			return nil, fmt.Errorf("change %d: unknown kind %d", i, c.Kind)
		}
	}
	return buf.Bytes(), nil
}

// DecodeChanges parses a journal record payload back into a change set.
func DecodeChanges(data []byte) ([]Change, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty payload")
	}
	if version != payloadVersion {
		return nil, fmt.Errorf("unsupported payload version %d", version)
	}
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("malformed change count: %w", err)
	}
	changes := make([]Change, 0, count)
	for i := uint64(0); i < count; i++ {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("change %d: missing kind: %w", i, err)
		}
		c := Change{Kind: ChangeKind(kind)}
		switch c.Kind {
		case ChangeStoreBundle:
			bnd, err := decodeBundle(r)
			if err != nil {
				return nil, fmt.Errorf("change %d: %w", i, err)
			}
			c.Bundle = bnd
			c.NodeID = bnd.ID
		case ChangeDestroyBundle, ChangeDestroyReferences:
			if _, err := io.ReadFull(r, c.NodeID[:]); err != nil {
				return nil, fmt.Errorf("change %d: node id: %w", i, err)
			}
		case ChangeStoreReferences:
			refs, err := decodeRefs(r)
			if err != nil {
				return nil, fmt.Errorf("change %d: %w", i, err)
			}
			c.Refs = refs
			c.NodeID = refs.Target
		default:
			return nil, fmt.Errorf("change %d: unknown kind %d", i, kind)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func encodeBundle(buf *bytes.Buffer, bnd *bundle.NodeBundle) {
	buf.Write(bnd.ID[:])
	buf.Write(bnd.ParentID[:])
	writeString(buf, bnd.PrimaryType)
	writeUvarint(buf, uint64(len(bnd.Mixins)))
	for _, m := range bnd.Mixins {
		writeString(buf, m)
	}
	writeUvarint(buf, uint64(bnd.ModCount))
	writeUvarint(buf, uint64(len(bnd.Properties)))
	for _, p := range bnd.Properties {
		writeString(buf, p.Name)
		buf.WriteByte(byte(p.Type))
		if p.Multi {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeString(buf, p.DefRef)
		writeUvarint(buf, uint64(len(p.Values)))
		for _, v := range p.Values {
			writeUvarint(buf, uint64(len(v.Data)))
			buf.Write(v.Data)
		}
	}
	writeUvarint(buf, uint64(len(bnd.Children)))
	for _, c := range bnd.Children {
		writeString(buf, c.Name)
		writeUvarint(buf, uint64(c.Index))
		buf.Write(c.ID[:])
	}
}

func decodeBundle(r *bytes.Reader) (*bundle.NodeBundle, error) {
	bnd := &bundle.NodeBundle{}
	if _, err := io.ReadFull(r, bnd.ID[:]); err != nil {
		return nil, fmt.Errorf("bundle id: %w", err)
	}
	if _, err := io.ReadFull(r, bnd.ParentID[:]); err != nil {
		return nil, fmt.Errorf("parent id: %w", err)
	}
	var err error
	if bnd.PrimaryType, err = readString(r); err != nil {
		return nil, fmt.Errorf("primary type: %w", err)
	}
	mixinCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("mixin count: %w", err)
	}
	for i := uint64(0); i < mixinCount; i++ {
		m, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("mixin %d: %w", i, err)
		}
		bnd.Mixins = append(bnd.Mixins, m)
	}
	modCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("mod count: %w", err)
	}
	bnd.ModCount = uint32(modCount)

	propCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("property count: %w", err)
	}
	for i := uint64(0); i < propCount; i++ {
		var p bundle.PropertyEntry
		if p.Name, err = readString(r); err != nil {
			return nil, fmt.Errorf("property %d name: %w", i, err)
		}
		typ, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("property %d type: %w", i, err)
		}
		p.Type = types.PropertyType(typ)
		multi, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("property %d flags: %w", i, err)
		}
		p.Multi = multi == 1
		if p.DefRef, err = readString(r); err != nil {
			return nil, fmt.Errorf("property %d defref: %w", i, err)
		}
		valueCount, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("property %d value count: %w", i, err)
		}
		for vi := uint64(0); vi < valueCount; vi++ {
			data, err := readBytes(r)
			if err != nil {
				return nil, fmt.Errorf("property %d value %d: %w", i, vi, err)
			}
			p.Values = append(p.Values, bundle.Value{Data: data})
		}
		bnd.Properties = append(bnd.Properties, p)
	}

	childCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("child count: %w", err)
	}
	for i := uint64(0); i < childCount; i++ {
		var c types.ChildEntry
		if c.Name, err = readString(r); err != nil {
			return nil, fmt.Errorf("child %d name: %w", i, err)
		}
		index, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("child %d index: %w", i, err)
		}
		c.Index = int(index)
		if _, err := io.ReadFull(r, c.ID[:]); err != nil {
			return nil, fmt.Errorf("child %d id: %w", i, err)
		}
		bnd.Children = append(bnd.Children, c)
	}
	return bnd, nil
}

func encodeRefs(buf *bytes.Buffer, refs *persistence.NodeReferences) {
	buf.Write(refs.Target[:])
	writeUvarint(buf, uint64(len(refs.Properties)))
	for _, p := range refs.Properties {
		buf.Write(p.Node[:])
		writeString(buf, p.Name)
	}
}

func decodeRefs(r *bytes.Reader) (*persistence.NodeReferences, error) {
	var target types.NodeID
	if _, err := io.ReadFull(r, target[:]); err != nil {
		return nil, fmt.Errorf("references target: %w", err)
	}
	refs := persistence.NewNodeReferences(target)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("references count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		var p types.PropertyID
		if _, err := io.ReadFull(r, p.Node[:]); err != nil {
			return nil, fmt.Errorf("reference %d: %w", i, err)
		}
		if p.Name, err = readString(r); err != nil {
			return nil, fmt.Errorf("reference %d name: %w", i, err)
		}
		refs.Properties = append(refs.Properties, p)
	}
	return refs, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("truncated payload: %d bytes declared, %d remain", n, r.Len())
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}
