package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sylvadb/sylva/internal/testutil"
	"github.com/sylvadb/sylva/pkg/types"
)

func newLog(t *testing.T, target ItemState) *ChangeLog {
	t.Helper()
	return NewChangeLog(target, testutil.SilentLogger())
}

func TestPersistedSettlesAllStatuses(t *testing.T) {
	root, rootEntry := newExistingNode(t)
	cl := newLog(t, root)

	addOp, child, err := NewAddNode(root, "child", types.NewNodeID(), "nt:folder")
	require.NoError(t, err)
	childEntry, err := NewEntry(child)
	require.NoError(t, err)
	cl.Add(addOp)

	prop := NewPropertyState(types.PropertyID{Node: child.ID(), Name: "title"}, types.StatusNew)
	_, err = NewEntry(prop)
	require.NoError(t, err)
	require.NoError(t, child.AddPropertyName("title"))
	setOp, err := NewSetProperty(prop, types.TypeString, false, [][]byte{[]byte("hello")})
	require.NoError(t, err)
	cl.Add(setOp)

	require.Equal(t, types.StatusNew, child.Status())
	require.Equal(t, types.StatusExistingModified, root.Status())

	require.NoError(t, cl.Persisted())

	require.Equal(t, types.StatusExisting, child.Status())
	require.Equal(t, types.StatusExisting, prop.Status())
	require.Equal(t, types.StatusExisting, root.Status())
	require.False(t, childEntry.Removed())
	require.False(t, rootEntry.Invalidated())
	require.True(t, cl.IsEmpty())
}

func TestPersistedRemovesScheduledStates(t *testing.T) {
	root, _ := newExistingNode(t)
	child := NewNodeState(types.NewNodeID(), root.ID(), "nt:folder", types.StatusExisting)
	childEntry, err := NewEntry(child)
	require.NoError(t, err)
	_, err = root.AddChild("child", child.ID())
	require.NoError(t, err)

	cl := newLog(t, root)
	rmOp, err := NewRemoveNode(root, child)
	require.NoError(t, err)
	cl.Add(rmOp)

	require.Equal(t, types.StatusExistingRemoved, child.Status())
	require.NoError(t, cl.Persisted())

	require.True(t, childEntry.Removed())
	require.Equal(t, types.StatusRemoved, child.Status())
	require.Empty(t, root.Children())
}

func TestPersistedInvalidatesEntryOnMixinChange(t *testing.T) {
	node, entry := newExistingNode(t)
	cl := newLog(t, node)

	op, err := NewSetMixins(node, []string{"mix:referenceable"})
	require.NoError(t, err)
	cl.Add(op)

	require.NoError(t, cl.Persisted())
	require.True(t, entry.Invalidated())
	require.False(t, node.MixinsChanged())
}

func TestUndoRestoresTreeExactly(t *testing.T) {
	root, _ := newExistingNode(t)
	existingChildID := types.NewNodeID()
	_, err := root.AddChild("keep", existingChildID)
	require.NoError(t, err)
	root.forceStatus(types.StatusExisting)
	rootEntry := root.Entry().(*CacheEntry)
	rootEntry.Checkpoint()

	before := root.Children()

	cl := newLog(t, root)

	addOp, child, err := NewAddNode(root, "new", types.NewNodeID(), "nt:folder")
	require.NoError(t, err)
	_, err = NewEntry(child)
	require.NoError(t, err)
	cl.Add(addOp)

	mixOp, err := NewSetMixins(root, []string{"mix:lockable"})
	require.NoError(t, err)
	cl.Add(mixOp)

	require.NoError(t, cl.Undo())

	require.Equal(t, types.StatusExisting, root.Status())
	require.Equal(t, before, root.Children())
	require.Empty(t, root.Mixins())
	require.Equal(t, types.StatusRemoved, child.Status())
	require.True(t, child.Entry().(*CacheEntry).Removed())
}

func TestUndoReversesInLIFOOrder(t *testing.T) {
	root, _ := newExistingNode(t)
	node := NewNodeState(types.NewNodeID(), root.ID(), "nt:folder", types.StatusExisting)
	_, err := NewEntry(node)
	require.NoError(t, err)
	_, err = root.AddChild("n", node.ID())
	require.NoError(t, err)
	other, _ := newExistingNode(t)
	root.forceStatus(types.StatusExisting)
	root.Entry().(*CacheEntry).Checkpoint()

	cl := newLog(t, root)

	// move away, then remove from the new parent; undo must unwind the
	// removal before the move can put the child back
	mvOp, err := NewMove(node, root, other, "renamed")
	require.NoError(t, err)
	cl.Add(mvOp)

	rmOp, err := NewRemoveNode(other, node)
	require.NoError(t, err)
	cl.Add(rmOp)

	require.NoError(t, cl.Undo())

	children := root.Children()
	require.Len(t, children, 1)
	require.Equal(t, "n", children[0].Name)
	require.Equal(t, node.ID(), children[0].ID)
	require.Empty(t, other.Children())
	require.Equal(t, root.ID(), node.Parent())
}

func TestUndoRestoresPropertyValues(t *testing.T) {
	node, _ := newExistingNode(t)
	prop := NewPropertyState(types.PropertyID{Node: node.ID(), Name: "title"}, types.StatusExisting)
	entry, err := NewEntry(prop)
	require.NoError(t, err)
	require.NoError(t, prop.SetValues(types.TypeString, false, [][]byte{[]byte("old")}))
	prop.forceStatus(types.StatusExisting)
	entry.Checkpoint()

	cl := newLog(t, node)
	op, err := NewSetProperty(prop, types.TypeString, false, [][]byte{[]byte("new")})
	require.NoError(t, err)
	cl.Add(op)

	require.Equal(t, "new", string(prop.Values()[0]))
	require.NoError(t, cl.Undo())

	require.Equal(t, "old", string(prop.Values()[0]))
	require.Equal(t, types.StatusExisting, prop.Status())
}

func TestChangeLogConsumedOnce(t *testing.T) {
	node, _ := newExistingNode(t)
	cl := newLog(t, node)
	op, err := NewSetMixins(node, []string{"mix:referenceable"})
	require.NoError(t, err)
	cl.Add(op)

	require.NoError(t, cl.Persisted())
	require.ErrorIs(t, cl.Persisted(), types.ErrInvalidState)
	require.ErrorIs(t, cl.Undo(), types.ErrInvalidState)
}

func TestPersistedCoercesIllegalStatus(t *testing.T) {
	node, _ := newExistingNode(t)
	node.forceStatus(types.StatusModified)

	cl := newLog(t, node)
	cl.AddAffected(node)
	require.NoError(t, cl.Persisted())
	require.Equal(t, types.StatusExisting, node.Status())
}

func TestPersistedStrictRejectsIllegalStatus(t *testing.T) {
	node, _ := newExistingNode(t)
	node.forceStatus(types.StatusModified)

	cl := newLog(t, node)
	cl.SetStrict(true)
	cl.AddAffected(node)
	require.ErrorIs(t, cl.Persisted(), types.ErrInvalidState)
}

func TestUndoRevertsStaleStates(t *testing.T) {
	node, _ := newExistingNode(t)
	cl := newLog(t, node)
	cl.AddAffected(node)

	require.NoError(t, node.SetStatus(types.StatusExistingModified))
	require.NoError(t, node.SetStatus(types.StatusStaleModified))

	require.NoError(t, cl.Undo())
	require.Equal(t, types.StatusExisting, node.Status())
}

func TestRemovePropertyUndo(t *testing.T) {
	node, _ := newExistingNode(t)
	require.NoError(t, node.AddPropertyName("title"))
	node.forceStatus(types.StatusExisting)
	node.Entry().(*CacheEntry).Checkpoint()

	prop := NewPropertyState(types.PropertyID{Node: node.ID(), Name: "title"}, types.StatusExisting)
	_, err := NewEntry(prop)
	require.NoError(t, err)

	cl := newLog(t, node)
	op, err := NewRemoveProperty(node, prop)
	require.NoError(t, err)
	cl.Add(op)

	require.False(t, node.HasProperty("title"))
	require.NoError(t, cl.Undo())

	require.True(t, node.HasProperty("title"))
	require.Equal(t, types.StatusExisting, prop.Status())
}
