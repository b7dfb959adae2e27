package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sylvadb/sylva/internal/blob"
	"github.com/sylvadb/sylva/pkg/types"
)

const formatVersion = 1

const (
	valueInline  = 0
	valueBlobRef = 1
)

const flagMultiValued = 0x01

// Binding is the bundle codec. It serializes a bundle to its binary form,
// offloading property values at or above the configured minimum size to the
// blob store. The inline-or-offload decision is recorded per value in the
// stream, so changing the threshold never invalidates stored bundles.
type Binding struct {
	names       *NameIndex
	blobs       blob.BlobStore
	minBlobSize int
}

// NewBinding creates a codec over the shared name index and blob store.
func NewBinding(names *NameIndex, blobs blob.BlobStore, minBlobSize int) *Binding {
	return &Binding{names: names, blobs: blobs, minBlobSize: minBlobSize}
}

// MinBlobSize returns the configured inline threshold.
func (b *Binding) MinBlobSize() int { return b.minBlobSize }

// WriteBundle serializes the bundle. Offloaded values get their BlobRef
// recorded on the bundle so a later destroy can release them.
func (b *Binding) WriteBundle(bnd *NodeBundle) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(formatVersion)
	buf.Write(bnd.ParentID[:])

	if err := b.writeName(&buf, bnd.PrimaryType); err != nil {
		return nil, err
	}

	mixins := bnd.sortedMixins()
	writeUvarint(&buf, uint64(len(mixins)))
	for _, m := range mixins {
		if err := b.writeName(&buf, m); err != nil {
			return nil, err
		}
	}

	writeUvarint(&buf, uint64(bnd.ModCount))

	props := bnd.sortedProperties()
	writeUvarint(&buf, uint64(len(props)))
	for pi := range props {
		p := &props[pi]
		if err := b.writeName(&buf, p.Name); err != nil {
			return nil, err
		}
		buf.WriteByte(byte(p.Type))
		var flags byte
		if p.Multi {
			flags |= flagMultiValued
		}
		buf.WriteByte(flags)
		writeBytes(&buf, []byte(p.DefRef))

		writeUvarint(&buf, uint64(len(p.Values)))
		propID := types.PropertyID{Node: bnd.ID, Name: p.Name}
		// p.Values aliases the caller's slice, so recorded BlobRefs are
		// visible on the original bundle
		for vi := range p.Values {
			v := &p.Values[vi]
			if len(v.Data) >= b.minBlobSize && b.minBlobSize > 0 {
				ref := b.blobs.CreateID(propID, vi)
				if err := b.blobs.Put(ref, v.Data); err != nil {
					return nil, fmt.Errorf("offload value %d of %s: %w", vi, propID, err)
				}
				v.BlobRef = ref
				buf.WriteByte(valueBlobRef)
				writeBytes(&buf, []byte(ref))
			} else {
				v.BlobRef = ""
				buf.WriteByte(valueInline)
				writeBytes(&buf, v.Data)
			}
		}
	}

	writeUvarint(&buf, uint64(len(bnd.Children)))
	for _, c := range bnd.Children {
		if err := b.writeName(&buf, c.Name); err != nil {
			return nil, err
		}
		writeUvarint(&buf, uint64(c.Index))
		buf.Write(c.ID[:])
	}

	return buf.Bytes(), nil
}

// ReadBundle deserializes a bundle, resolving offloaded values through the
// blob store so their bytes are available alongside the reference.
func (b *Binding) ReadBundle(data []byte, id types.NodeID) (*NodeBundle, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: empty record", id)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("read bundle %s: unsupported format version %d", id, version)
	}

	bnd := &NodeBundle{ID: id, Size: int64(len(data))}
	if _, err := io.ReadFull(r, bnd.ParentID[:]); err != nil {
		return nil, fmt.Errorf("read bundle %s: parent id: %w", id, err)
	}

	if bnd.PrimaryType, err = b.readName(r); err != nil {
		return nil, fmt.Errorf("read bundle %s: primary type: %w", id, err)
	}

	mixinCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: mixin count: %w", id, err)
	}
	for i := uint64(0); i < mixinCount; i++ {
		m, err := b.readName(r)
		if err != nil {
			return nil, fmt.Errorf("read bundle %s: mixin %d: %w", id, i, err)
		}
		bnd.Mixins = append(bnd.Mixins, m)
	}

	modCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: mod count: %w", id, err)
	}
	bnd.ModCount = uint32(modCount)

	propCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: property count: %w", id, err)
	}
	for i := uint64(0); i < propCount; i++ {
		p, err := b.readProperty(r, id)
		if err != nil {
			return nil, fmt.Errorf("read bundle %s: property %d: %w", id, i, err)
		}
		bnd.Properties = append(bnd.Properties, p)
	}

	childCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: child count: %w", id, err)
	}
	for i := uint64(0); i < childCount; i++ {
		var c types.ChildEntry
		if c.Name, err = b.readName(r); err != nil {
			return nil, fmt.Errorf("read bundle %s: child %d: %w", id, i, err)
		}
		index, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("read bundle %s: child %d index: %w", id, i, err)
		}
		c.Index = int(index)
		if _, err := io.ReadFull(r, c.ID[:]); err != nil {
			return nil, fmt.Errorf("read bundle %s: child %d id: %w", id, i, err)
		}
		bnd.Children = append(bnd.Children, c)
	}

	return bnd, nil
}

func (b *Binding) readProperty(r *bytes.Reader, id types.NodeID) (PropertyEntry, error) {
	var p PropertyEntry
	var err error
	if p.Name, err = b.readName(r); err != nil {
		return p, err
	}
	typ, err := r.ReadByte()
	if err != nil {
		return p, err
	}
	p.Type = types.PropertyType(typ)
	flags, err := r.ReadByte()
	if err != nil {
		return p, err
	}
	p.Multi = flags&flagMultiValued != 0
	defRef, err := readBytes(r)
	if err != nil {
		return p, err
	}
	p.DefRef = string(defRef)

	valueCount, err := binary.ReadUvarint(r)
	if err != nil {
		return p, err
	}
	for i := uint64(0); i < valueCount; i++ {
		disc, err := r.ReadByte()
		if err != nil {
			return p, err
		}
		switch disc {
		case valueInline:
			data, err := readBytes(r)
			if err != nil {
				return p, err
			}
			p.Values = append(p.Values, Value{Data: data})
		case valueBlobRef:
			ref, err := readBytes(r)
			if err != nil {
				return p, err
			}
			data, err := b.blobs.Get(string(ref))
			if err != nil {
				return p, fmt.Errorf("resolve blob %s: %w", ref, err)
			}
			p.Values = append(p.Values, Value{Data: data, BlobRef: string(ref)})
		default:
			return p, fmt.Errorf("unknown value discriminator %d", disc)
		}
	}
	return p, nil
}

// RemoveBlobs releases every offloaded value the bundle references.
// Missing blobs are tolerated so a replayed destroy stays idempotent.
func (b *Binding) RemoveBlobs(bnd *NodeBundle) error {
	for pi := range bnd.Properties {
		for vi := range bnd.Properties[pi].Values {
			ref := bnd.Properties[pi].Values[vi].BlobRef
			if ref == "" {
				continue
			}
			if err := b.blobs.Remove(ref); err != nil && !isNotFound(err) {
				return fmt.Errorf("remove blob %s: %w", ref, err)
			}
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}

func (b *Binding) writeName(buf *bytes.Buffer, name string) error {
	idx, err := b.names.Index(name)
	if err != nil {
		return fmt.Errorf("intern name %q: %w", name, err)
	}
	writeUvarint(buf, uint64(idx))
	return nil
}

func (b *Binding) readName(r *bytes.Reader) (string, error) {
	idx, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	return b.names.Name(uint32(idx))
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	writeUvarint(buf, uint64(len(data)))
	buf.Write(data)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("truncated record: %d bytes declared, %d remain", n, r.Len())
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
