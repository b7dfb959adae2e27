package persistence

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sylvadb/sylva/internal/blob"
	"github.com/sylvadb/sylva/internal/bundle"
	"github.com/sylvadb/sylva/internal/store"
	"github.com/sylvadb/sylva/internal/testutil"
	"github.com/sylvadb/sylva/pkg/types"
)

func newManager(t *testing.T, minBlobSize int) (*BundleManager, *store.LocalStore) {
	t.Helper()
	ps, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	m := NewBundleManager()
	require.NoError(t, m.Init(Config{
		Store:       ps,
		Blobs:       blob.NewStoreBlobStore(ps),
		MinBlobSize: minBlobSize,
		Logger:      testutil.SilentLogger(),
	}))
	t.Cleanup(func() { m.Close() })
	return m, ps
}

func testBundle() *bundle.NodeBundle {
	return &bundle.NodeBundle{
		ID:          types.NewNodeID(),
		ParentID:    types.NewNodeID(),
		PrimaryType: "nt:unstructured",
		Properties: []bundle.PropertyEntry{
			{
				Name:   "jcr:title",
				Type:   types.TypeString,
				Values: []bundle.Value{{Data: []byte("stored")}},
			},
		},
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := NewBundleManager()

	// every operation fails before init
	_, err := m.LoadBundle(types.NewNodeID())
	require.ErrorIs(t, err, types.ErrNotInitialized)
	require.ErrorIs(t, m.StoreBundle(testBundle()), types.ErrNotInitialized)
	require.ErrorIs(t, m.Close(), types.ErrInvalidState)

	ps, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	cfg := Config{Store: ps, Blobs: blob.NewStoreBlobStore(ps), Logger: testutil.SilentLogger()}
	require.NoError(t, m.Init(cfg))

	// double init is rejected
	require.ErrorIs(t, m.Init(cfg), types.ErrInvalidState)

	require.NoError(t, m.Close())
	require.ErrorIs(t, m.Close(), types.ErrInvalidState)

	// operations after close fail again
	_, err = m.ExistsBundle(types.NewNodeID())
	require.ErrorIs(t, err, types.ErrNotInitialized)
}

func TestStoreAndLoadBundle(t *testing.T) {
	m, _ := newManager(t, 0)
	bnd := testBundle()

	require.NoError(t, m.StoreBundle(bnd))
	require.Equal(t, uint32(1), bnd.ModCount)
	require.Greater(t, bnd.Size, int64(0))

	got, err := m.LoadBundle(bnd.ID)
	require.NoError(t, err)
	require.Equal(t, bnd.ID, got.ID)
	require.Equal(t, bnd.ParentID, got.ParentID)
	require.Equal(t, uint32(1), got.ModCount)
	require.Equal(t, "stored", string(got.Property("jcr:title").Values[0].Data))

	// every store bumps the mod count
	require.NoError(t, m.StoreBundle(bnd))
	got, err = m.LoadBundle(bnd.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(2), got.ModCount)
}

func TestLoadBundleNotFound(t *testing.T) {
	m, _ := newManager(t, 0)
	_, err := m.LoadBundle(types.NewNodeID())
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestDestroyBundle(t *testing.T) {
	m, _ := newManager(t, 0)
	bnd := testBundle()
	require.NoError(t, m.StoreBundle(bnd))

	ok, err := m.ExistsBundle(bnd.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.DestroyBundle(bnd))

	ok, err = m.ExistsBundle(bnd.ID)
	require.NoError(t, err)
	require.False(t, ok)

	// destroying again distinguishes "already gone"
	require.ErrorIs(t, m.DestroyBundle(bnd), types.ErrNotFound)
}

func TestDestroyBundleReleasesBlobs(t *testing.T) {
	m, ps := newManager(t, 32)
	bnd := testBundle()
	bnd.Properties[0].Values[0].Data = bytes.Repeat([]byte("b"), 1024)

	require.NoError(t, m.StoreBundle(bnd))
	blobs, err := ps.List("blobs/")
	require.NoError(t, err)
	require.Len(t, blobs, 1)

	require.NoError(t, m.DestroyBundle(bnd))
	blobs, err = ps.List("blobs/")
	require.NoError(t, err)
	require.Empty(t, blobs)
}

func TestBundleFanOutLayout(t *testing.T) {
	m, ps := newManager(t, 0)
	bnd := testBundle()
	require.NoError(t, m.StoreBundle(bnd))

	hex := bnd.ID.String()
	want := "items/" + hex[0:2] + "/" + hex[2:4] + "/" + hex + ".node"
	ok, err := ps.Exists(want)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReferencesRoundTrip(t *testing.T) {
	m, _ := newManager(t, 0)
	target := types.NewNodeID()

	_, err := m.LoadReferences(target)
	require.ErrorIs(t, err, types.ErrNotFound)

	refs := NewNodeReferences(target)
	p1 := types.PropertyID{Node: types.NewNodeID(), Name: "ref"}
	p2 := types.PropertyID{Node: types.NewNodeID(), Name: "link"}
	refs.Add(p1)
	refs.Add(p2)
	refs.Add(p1) // duplicate is ignored
	require.Len(t, refs.Properties, 2)

	require.NoError(t, m.StoreReferences(refs))

	got, err := m.LoadReferences(target)
	require.NoError(t, err)
	require.Equal(t, target, got.Target)
	require.True(t, got.Has(p1))
	require.True(t, got.Has(p2))

	got.Remove(p1)
	require.False(t, got.Has(p1))
	require.False(t, got.IsEmpty())
	got.Remove(p2)
	require.True(t, got.IsEmpty())

	require.NoError(t, m.DestroyReferences(target))
	require.ErrorIs(t, m.DestroyReferences(target), types.ErrNotFound)

	ok, err := m.ExistsReferences(target)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReferencesSeparateFromBundle(t *testing.T) {
	m, _ := newManager(t, 0)
	bnd := testBundle()
	require.NoError(t, m.StoreBundle(bnd))

	refs := NewNodeReferences(bnd.ID)
	refs.Add(types.PropertyID{Node: types.NewNodeID(), Name: "ref"})
	require.NoError(t, m.StoreReferences(refs))

	// destroying the bundle leaves the references record alone
	require.NoError(t, m.DestroyBundle(bnd))
	ok, err := m.ExistsReferences(bnd.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestListBundleIDs(t *testing.T) {
	m, _ := newManager(t, 0)

	ids, err := m.ListBundleIDs()
	require.NoError(t, err)
	require.Empty(t, ids)

	stored := make(map[types.NodeID]struct{})
	for i := 0; i < 5; i++ {
		bnd := testBundle()
		require.NoError(t, m.StoreBundle(bnd))
		stored[bnd.ID] = struct{}{}
	}
	// a references record must not show up as a bundle
	refs := NewNodeReferences(types.NewNodeID())
	refs.Add(types.PropertyID{Node: types.NewNodeID(), Name: "ref"})
	require.NoError(t, m.StoreReferences(refs))

	ids, err = m.ListBundleIDs()
	require.NoError(t, err)
	require.Len(t, ids, len(stored))
	for _, id := range ids {
		_, ok := stored[id]
		require.True(t, ok)
	}
}

func TestLargeBlobRoundTrip(t *testing.T) {
	testutil.RequireLong(t)

	m, _ := newManager(t, 4096)
	bnd := testBundle()
	big := bytes.Repeat([]byte("0123456789abcdef"), 10*1024*1024/16)
	bnd.Properties[0].Values[0].Data = big

	require.NoError(t, m.StoreBundle(bnd))
	got, err := m.LoadBundle(bnd.ID)
	require.NoError(t, err)
	require.True(t, bytes.Equal(big, got.Property("jcr:title").Values[0].Data))
}
