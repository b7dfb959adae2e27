package state

import (
	"fmt"

	"github.com/sylvadb/sylva/pkg/types"
)

// Operation is one reversible high-level edit recorded by a change log.
// Persisted runs operation-specific bookkeeping after a successful save;
// Undo reverses the edit during rollback. States lists every item state the
// operation touches so the change log can pick up leftovers.
type Operation interface {
	Persisted() error
	Undo() error
	States() []ItemState
	String() string
}

// AddNode records the creation of a new child node.
type AddNode struct {
	node   *NodeState
	parent *NodeState
	entry  types.ChildEntry
}

// NewAddNode creates the node state, links it under the parent and returns
// the recorded operation.
func NewAddNode(parent *NodeState, name string, id types.NodeID, primaryType string) (*AddNode, *NodeState, error) {
	node := NewNodeState(id, parent.ID(), primaryType, types.StatusNew)
	entry, err := parent.AddChild(name, id)
	if err != nil {
		return nil, nil, err
	}
	return &AddNode{node: node, parent: parent, entry: entry}, node, nil
}

func (op *AddNode) Persisted() error {
	if err := op.node.SetStatus(types.StatusExisting); err != nil {
		return err
	}
	if e, ok := op.node.Entry().(*CacheEntry); ok {
		e.Checkpoint()
	}
	return nil
}

func (op *AddNode) Undo() error {
	if _, err := op.parent.RemoveChild(op.node.ID()); err != nil && !isNotFound(err) {
		return err
	}
	// the node never existed on disk; discard it
	op.node.forceStatus(types.StatusRemoved)
	if e := op.node.Entry(); e != nil {
		e.Remove()
	}
	return nil
}

func (op *AddNode) States() []ItemState { return []ItemState{op.node, op.parent} }

func (op *AddNode) String() string {
	return fmt.Sprintf("add-node %s under %s", op.node.ID(), op.parent.ID())
}

// SetProperty records a property value change, keeping the prior value set
// for rollback.
type SetProperty struct {
	prop *PropertyState

	hadValues bool
	oldStatus types.Status
	oldType   types.PropertyType
	oldMulti  bool
	oldValues [][]byte
}

// NewSetProperty applies the value change and records the prior attributes.
func NewSetProperty(prop *PropertyState, typ types.PropertyType, multi bool, values [][]byte) (*SetProperty, error) {
	op := &SetProperty{
		prop:      prop,
		hadValues: len(prop.values) > 0,
		oldStatus: prop.Status(),
		oldType:   prop.typ,
		oldMulti:  prop.multi,
		oldValues: prop.Values(),
	}
	if err := prop.SetValues(typ, multi, values); err != nil {
		return nil, err
	}
	return op, nil
}

func (op *SetProperty) Persisted() error {
	switch op.prop.Status() {
	case types.StatusNew, types.StatusExistingModified:
		if err := op.prop.SetStatus(types.StatusExisting); err != nil {
			return err
		}
	}
	if e, ok := op.prop.Entry().(*CacheEntry); ok {
		e.Checkpoint()
	}
	return nil
}

func (op *SetProperty) Undo() error {
	op.prop.typ = op.oldType
	op.prop.multi = op.oldMulti
	op.prop.values = make([][]byte, len(op.oldValues))
	for i, v := range op.oldValues {
		op.prop.values[i] = append([]byte(nil), v...)
	}
	op.prop.forceStatus(op.oldStatus)
	return nil
}

func (op *SetProperty) States() []ItemState { return []ItemState{op.prop} }

func (op *SetProperty) String() string {
	return fmt.Sprintf("set-property %s", op.prop.ID())
}

// SetMixins records a mixin set change on a node. The change log tracks the
// node so its hierarchy entry is invalidated after commit.
type SetMixins struct {
	node       *NodeState
	oldStatus  types.Status
	oldMixins  []string
	oldChanged bool
}

// NewSetMixins applies the mixin change and records the prior set.
func NewSetMixins(node *NodeState, names []string) (*SetMixins, error) {
	op := &SetMixins{
		node:       node,
		oldStatus:  node.Status(),
		oldMixins:  node.Mixins(),
		oldChanged: node.MixinsChanged(),
	}
	if err := node.SetMixins(names); err != nil {
		return nil, err
	}
	return op, nil
}

// NodeState exposes the edited node for mixin-change tracking.
func (op *SetMixins) NodeState() *NodeState { return op.node }

func (op *SetMixins) Persisted() error {
	op.node.clearMixinsChanged()
	return nil
}

func (op *SetMixins) Undo() error {
	op.node.mixins = make(map[string]struct{}, len(op.oldMixins))
	for _, m := range op.oldMixins {
		op.node.mixins[m] = struct{}{}
	}
	op.node.mixinsChanged = op.oldChanged
	op.node.forceStatus(op.oldStatus)
	return nil
}

func (op *SetMixins) States() []ItemState { return []ItemState{op.node} }

func (op *SetMixins) String() string {
	return fmt.Sprintf("set-mixins %s", op.node.ID())
}

// RemoveNode records the scheduled removal of a child node.
type RemoveNode struct {
	node      *NodeState
	parent    *NodeState
	entry     types.ChildEntry
	oldStatus types.Status
}

// NewRemoveNode detaches the child from the parent and marks it removed.
func NewRemoveNode(parent *NodeState, node *NodeState) (*RemoveNode, error) {
	op := &RemoveNode{node: node, parent: parent, oldStatus: node.Status()}
	entry, err := parent.RemoveChild(node.ID())
	if err != nil {
		return nil, err
	}
	op.entry = entry
	if err := node.SetStatus(types.StatusExistingRemoved); err != nil {
		op.parent.restoreChild(entry)
		return nil, err
	}
	return op, nil
}

func (op *RemoveNode) Persisted() error {
	// entry removal happens in the affected-states pass
	return nil
}

func (op *RemoveNode) Undo() error {
	op.parent.restoreChild(op.entry)
	op.node.forceStatus(op.oldStatus)
	return nil
}

func (op *RemoveNode) States() []ItemState { return []ItemState{op.node, op.parent} }

func (op *RemoveNode) String() string {
	return fmt.Sprintf("remove-node %s from %s", op.node.ID(), op.parent.ID())
}

// RemoveProperty records the scheduled removal of a property.
type RemoveProperty struct {
	prop      *PropertyState
	owner     *NodeState
	oldStatus types.Status
}

// NewRemoveProperty detaches the property name from its owner and marks the
// property removed.
func NewRemoveProperty(owner *NodeState, prop *PropertyState) (*RemoveProperty, error) {
	op := &RemoveProperty{prop: prop, owner: owner, oldStatus: prop.Status()}
	if err := owner.RemovePropertyName(prop.ID().Name); err != nil {
		return nil, err
	}
	if err := prop.SetStatus(types.StatusExistingRemoved); err != nil {
		op.owner.propNames[prop.ID().Name] = struct{}{}
		return nil, err
	}
	return op, nil
}

func (op *RemoveProperty) Persisted() error { return nil }

func (op *RemoveProperty) Undo() error {
	op.owner.propNames[op.prop.ID().Name] = struct{}{}
	op.prop.forceStatus(op.oldStatus)
	return nil
}

func (op *RemoveProperty) States() []ItemState { return []ItemState{op.prop, op.owner} }

func (op *RemoveProperty) String() string {
	return fmt.Sprintf("remove-property %s", op.prop.ID())
}

// Move records relinking a node under a new parent, possibly with a new
// name.
type Move struct {
	node      *NodeState
	oldParent *NodeState
	newParent *NodeState
	oldEntry  types.ChildEntry
	newEntry  types.ChildEntry
}

// NewMove detaches the node from its old parent and links it under the new
// one.
func NewMove(node *NodeState, oldParent, newParent *NodeState, newName string) (*Move, error) {
	op := &Move{node: node, oldParent: oldParent, newParent: newParent}
	oldEntry, err := oldParent.RemoveChild(node.ID())
	if err != nil {
		return nil, err
	}
	op.oldEntry = oldEntry
	newEntry, err := newParent.AddChild(newName, node.ID())
	if err != nil {
		oldParent.restoreChild(oldEntry)
		return nil, err
	}
	op.newEntry = newEntry
	if err := node.SetParent(newParent.ID()); err != nil {
		return nil, err
	}
	return op, nil
}

func (op *Move) Persisted() error { return nil }

func (op *Move) Undo() error {
	if _, err := op.newParent.RemoveChild(op.node.ID()); err != nil && !isNotFound(err) {
		return err
	}
	op.oldParent.restoreChild(op.oldEntry)
	op.node.parent = op.oldParent.ID()
	return nil
}

func (op *Move) States() []ItemState {
	return []ItemState{op.node, op.oldParent, op.newParent}
}

func (op *Move) String() string {
	return fmt.Sprintf("move %s from %s to %s", op.node.ID(), op.oldParent.ID(), op.newParent.ID())
}
