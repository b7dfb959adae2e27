package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sylvadb/sylva/pkg/types"
)

func newExistingNode(t *testing.T) (*NodeState, *CacheEntry) {
	t.Helper()
	n := NewNodeState(types.NewNodeID(), types.NodeID{}, "nt:unstructured", types.StatusExisting)
	e, err := NewEntry(n)
	require.NoError(t, err)
	return n, e
}

func TestFirstEditMarksModified(t *testing.T) {
	n, _ := newExistingNode(t)
	require.Equal(t, types.StatusExisting, n.Status())

	_, err := n.AddChild("a", types.NewNodeID())
	require.NoError(t, err)
	require.Equal(t, types.StatusExistingModified, n.Status())

	// further edits keep the status
	_, err = n.AddChild("b", types.NewNodeID())
	require.NoError(t, err)
	require.Equal(t, types.StatusExistingModified, n.Status())
}

func TestSameNameSiblingIndexing(t *testing.T) {
	n, _ := newExistingNode(t)

	idA1 := types.NewNodeID()
	idA2 := types.NewNodeID()
	idB := types.NewNodeID()
	idA3 := types.NewNodeID()

	e1, err := n.AddChild("a", idA1)
	require.NoError(t, err)
	e2, err := n.AddChild("a", idA2)
	require.NoError(t, err)
	eb, err := n.AddChild("b", idB)
	require.NoError(t, err)
	e3, err := n.AddChild("a", idA3)
	require.NoError(t, err)

	require.Equal(t, 1, e1.Index)
	require.Equal(t, 2, e2.Index)
	require.Equal(t, 1, eb.Index)
	require.Equal(t, 3, e3.Index)

	// removing the middle sibling renumbers the ones after it
	removed, err := n.RemoveChild(idA2)
	require.NoError(t, err)
	require.Equal(t, "a", removed.Name)

	children := n.Children()
	require.Len(t, children, 3)
	var indexes []int
	for _, c := range children {
		if c.Name == "a" {
			indexes = append(indexes, c.Index)
		}
	}
	require.Equal(t, []int{1, 2}, indexes)
}

func TestRemoveChildNotFound(t *testing.T) {
	n, _ := newExistingNode(t)
	_, err := n.RemoveChild(types.NewNodeID())
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestStaleStateRejectsEdits(t *testing.T) {
	n, _ := newExistingNode(t)
	require.NoError(t, n.SetStatus(types.StatusStaleModified))

	_, err := n.AddChild("a", types.NewNodeID())
	require.ErrorIs(t, err, types.ErrStale)

	err = n.SetMixins([]string{"mix:referenceable"})
	require.ErrorIs(t, err, types.ErrStale)
}

func TestRemovedStateRejectsEdits(t *testing.T) {
	n, _ := newExistingNode(t)
	n.forceStatus(types.StatusRemoved)

	err := n.SetParent(types.NewNodeID())
	require.ErrorIs(t, err, types.ErrInvalidState)
	require.False(t, errors.Is(err, types.ErrStale))
}

func TestSetStatusRejectsIllegalTransition(t *testing.T) {
	n, _ := newExistingNode(t)
	err := n.SetStatus(types.StatusNew)
	require.ErrorIs(t, err, types.ErrInvalidState)
	require.Equal(t, types.StatusExisting, n.Status())
}

func TestConnectTwiceFails(t *testing.T) {
	n, _ := newExistingNode(t)
	_, err := NewEntry(n)
	require.ErrorIs(t, err, types.ErrInvalidState)
}

func TestSetMixinsTracksChange(t *testing.T) {
	n, _ := newExistingNode(t)
	require.False(t, n.MixinsChanged())

	require.NoError(t, n.SetMixins([]string{"mix:versionable", "mix:referenceable"}))
	require.True(t, n.MixinsChanged())
	require.Equal(t, []string{"mix:referenceable", "mix:versionable"}, n.Mixins())
}

func TestPropertyValuesAreCopied(t *testing.T) {
	p := NewPropertyState(types.PropertyID{Node: types.NewNodeID(), Name: "title"}, types.StatusNew)
	_, err := NewEntry(p)
	require.NoError(t, err)

	in := [][]byte{[]byte("hello")}
	require.NoError(t, p.SetValues(types.TypeString, false, in))
	in[0][0] = 'X'

	out := p.Values()
	require.Equal(t, "hello", string(out[0]))

	out[0][0] = 'Y'
	require.Equal(t, "hello", string(p.Values()[0]))
}
