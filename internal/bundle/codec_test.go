package bundle

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sylvadb/sylva/internal/blob"
	"github.com/sylvadb/sylva/internal/store"
	"github.com/sylvadb/sylva/pkg/types"
)

func newBinding(t *testing.T, minBlobSize int) (*Binding, store.PhysicalStore) {
	t.Helper()
	ps, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })
	names, err := LoadNameIndex(ps, "names.idx")
	require.NoError(t, err)
	return NewBinding(names, blob.NewStoreBlobStore(ps), minBlobSize), ps
}

func sampleBundle() *NodeBundle {
	parent := types.NewNodeID()
	return &NodeBundle{
		ID:          types.NewNodeID(),
		ParentID:    parent,
		PrimaryType: "nt:file",
		Mixins:      []string{"mix:versionable", "mix:referenceable"},
		ModCount:    3,
		Properties: []PropertyEntry{
			{
				Name:   "jcr:title",
				Type:   types.TypeString,
				Values: []Value{{Data: []byte("hello")}},
				DefRef: "nt:file/jcr:title",
			},
			{
				Name:  "tags",
				Type:  types.TypeString,
				Multi: true,
				Values: []Value{
					{Data: []byte("a")},
					{Data: []byte("b")},
				},
			},
		},
		Children: []types.ChildEntry{
			{Name: "jcr:content", ID: types.NewNodeID(), Index: 1},
			{Name: "copy", ID: types.NewNodeID(), Index: 1},
			{Name: "copy", ID: types.NewNodeID(), Index: 2},
		},
	}
}

func TestBundleRoundTrip(t *testing.T) {
	b, _ := newBinding(t, 0)
	bnd := sampleBundle()

	data, err := b.WriteBundle(bnd)
	require.NoError(t, err)

	got, err := b.ReadBundle(data, bnd.ID)
	require.NoError(t, err)

	require.Equal(t, bnd.ID, got.ID)
	require.Equal(t, bnd.ParentID, got.ParentID)
	require.Equal(t, bnd.PrimaryType, got.PrimaryType)
	require.ElementsMatch(t, bnd.Mixins, got.Mixins)
	require.Equal(t, bnd.ModCount, got.ModCount)
	require.Equal(t, bnd.Children, got.Children)
	require.Equal(t, int64(len(data)), got.Size)

	title := got.Property("jcr:title")
	require.NotNil(t, title)
	require.Equal(t, "hello", string(title.Values[0].Data))
	require.Equal(t, "nt:file/jcr:title", title.DefRef)
	require.False(t, title.Multi)

	tags := got.Property("tags")
	require.NotNil(t, tags)
	require.True(t, tags.Multi)
	require.Len(t, tags.Values, 2)
}

func TestBundleBytesDeterministic(t *testing.T) {
	b, _ := newBinding(t, 0)
	bnd := sampleBundle()

	first, err := b.WriteBundle(bnd)
	require.NoError(t, err)

	// shuffle property and mixin order; the stored bytes must not change
	bnd.Properties[0], bnd.Properties[1] = bnd.Properties[1], bnd.Properties[0]
	bnd.Mixins[0], bnd.Mixins[1] = bnd.Mixins[1], bnd.Mixins[0]

	second, err := b.WriteBundle(bnd)
	require.NoError(t, err)
	require.True(t, bytes.Equal(first, second))
}

func TestBundleBlobOffload(t *testing.T) {
	b, ps := newBinding(t, 64)
	bnd := sampleBundle()
	big := bytes.Repeat([]byte("x"), 4096)
	bnd.Properties = append(bnd.Properties, PropertyEntry{
		Name:   "jcr:data",
		Type:   types.TypeBinary,
		Values: []Value{{Data: big}},
	})

	data, err := b.WriteBundle(bnd)
	require.NoError(t, err)

	// the encoded record must stay small; the payload lives in the blob store
	require.Less(t, len(data), 1024)
	require.NotEmpty(t, bnd.Property("jcr:data").Values[0].BlobRef)
	require.Empty(t, bnd.Property("jcr:title").Values[0].BlobRef)

	blobs, err := ps.List("blobs/")
	require.NoError(t, err)
	require.Len(t, blobs, 1)

	got, err := b.ReadBundle(data, bnd.ID)
	require.NoError(t, err)
	val := got.Property("jcr:data").Values[0]
	require.Equal(t, big, val.Data)
	require.NotEmpty(t, val.BlobRef)
}

func TestBundleSurvivesThresholdChange(t *testing.T) {
	b, ps := newBinding(t, 64)
	bnd := sampleBundle()
	big := bytes.Repeat([]byte("y"), 4096)
	bnd.Properties = append(bnd.Properties, PropertyEntry{
		Name:   "jcr:data",
		Type:   types.TypeBinary,
		Values: []Value{{Data: big}},
	})

	data, err := b.WriteBundle(bnd)
	require.NoError(t, err)

	// reopen with a different threshold; old records keep their per-value
	// inline-or-offload decision
	names, err := LoadNameIndex(ps, "names.idx")
	require.NoError(t, err)
	reopened := NewBinding(names, blob.NewStoreBlobStore(ps), 1<<20)

	got, err := reopened.ReadBundle(data, bnd.ID)
	require.NoError(t, err)
	require.Equal(t, big, got.Property("jcr:data").Values[0].Data)
}

func TestBundleZeroThresholdNeverOffloads(t *testing.T) {
	b, ps := newBinding(t, 0)
	bnd := sampleBundle()
	bnd.Properties[0].Values[0].Data = bytes.Repeat([]byte("z"), 1<<16)

	_, err := b.WriteBundle(bnd)
	require.NoError(t, err)

	blobs, err := ps.List("blobs/")
	require.NoError(t, err)
	require.Empty(t, blobs)
}

func TestRemoveBlobsIdempotent(t *testing.T) {
	b, _ := newBinding(t, 16)
	bnd := sampleBundle()
	bnd.Properties[0].Values[0].Data = bytes.Repeat([]byte("w"), 256)

	_, err := b.WriteBundle(bnd)
	require.NoError(t, err)
	require.NotEmpty(t, bnd.Properties[0].Values[0].BlobRef)

	require.NoError(t, b.RemoveBlobs(bnd))
	// a second pass finds nothing to remove and still succeeds
	require.NoError(t, b.RemoveBlobs(bnd))
}

func TestReadBundleRejectsCorruptRecords(t *testing.T) {
	b, _ := newBinding(t, 0)
	bnd := sampleBundle()
	data, err := b.WriteBundle(bnd)
	require.NoError(t, err)

	_, err = b.ReadBundle(nil, bnd.ID)
	require.Error(t, err)

	_, err = b.ReadBundle([]byte{99}, bnd.ID)
	require.Error(t, err)

	_, err = b.ReadBundle(data[:len(data)/2], bnd.ID)
	require.Error(t, err)
}

func TestNameIndexPersists(t *testing.T) {
	ps, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	defer ps.Close()

	names, err := LoadNameIndex(ps, "names.idx")
	require.NoError(t, err)

	first, err := names.Index("nt:unstructured")
	require.NoError(t, err)
	second, err := names.Index("jcr:title")
	require.NoError(t, err)
	again, err := names.Index("nt:unstructured")
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.NotEqual(t, first, second)

	reloaded, err := LoadNameIndex(ps, "names.idx")
	require.NoError(t, err)
	name, err := reloaded.Name(second)
	require.NoError(t, err)
	require.Equal(t, "jcr:title", name)

	_, err = reloaded.Name(999)
	require.True(t, errors.Is(err, types.ErrNotFound))
}

func TestNameIndexRejectsTruncatedTable(t *testing.T) {
	ps, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	defer ps.Close()

	names, err := LoadNameIndex(ps, "names.idx")
	require.NoError(t, err)
	_, err = names.Index("nt:unstructured")
	require.NoError(t, err)
	_, err = names.Index("jcr:title")
	require.NoError(t, err)

	// a table cut mid-entry must fail to load, not yield padded names
	data, err := ps.Read("names.idx")
	require.NoError(t, err)
	require.NoError(t, ps.Write("names.idx", data[:len(data)-4]))

	_, err = LoadNameIndex(ps, "names.idx")
	require.Error(t, err)
}
