// Package state holds the in-memory representation of nodes and properties
// and the change log that moves them through a save or rollback atomically.
package state

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sylvadb/sylva/pkg/types"
)

// HierarchyEntry is the stable locator that owns an item state. The entry
// outlives any particular loaded state; its lifetime bounds the state's
// lifetime.
type HierarchyEntry interface {
	// Revert restores the state to the last-known-good snapshot.
	Revert()
	// Invalidate marks the entry for reload on next access without evicting
	// the state from its cache.
	Invalidate()
	// Remove drops the entry after its state was physically removed.
	Remove()
}

// ItemState is the common contract of node and property states.
type ItemState interface {
	Status() types.Status
	SetStatus(next types.Status) error
	IsNode() bool
	Entry() HierarchyEntry
}

// itemState carries the pieces shared by NodeState and PropertyState.
// Status may be read from several goroutines; mutation is confined to the
// goroutine owning the enclosing change log.
type itemState struct {
	mu     sync.RWMutex
	status types.Status
	entry  HierarchyEntry
}

func (s *itemState) Status() types.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus moves the state to the next status, rejecting transitions the
// lifecycle does not allow.
func (s *itemState) SetStatus(next types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !types.ValidTransition(s.status, next) {
		return fmt.Errorf("%w: cannot move status %s to %s",
			types.ErrInvalidState, s.status, next)
	}
	s.status = next
	return nil
}

// forceStatus bypasses transition checks. Used by the change log when it
// coerces an illegal mid-transaction status back to a terminal one.
func (s *itemState) forceStatus(next types.Status) {
	s.mu.Lock()
	s.status = next
	s.mu.Unlock()
}

func (s *itemState) Entry() HierarchyEntry { return s.entry }

// Connect attaches the owning hierarchy entry. A state has exactly one
// owner; reconnecting is a programming error.
func (s *itemState) Connect(entry HierarchyEntry) error {
	if s.entry != nil {
		return fmt.Errorf("%w: state already owned by an entry", types.ErrInvalidState)
	}
	s.entry = entry
	return nil
}

// checkMutable rejects edits on states that must be reloaded first. Stale
// states surface the retryable conflict category.
func (s *itemState) checkMutable() error {
	st := s.Status()
	if st.Stale() {
		return fmt.Errorf("%w: status %s requires reload", types.ErrStale, st)
	}
	if !st.Mutable() {
		return fmt.Errorf("%w: cannot modify state with status %s",
			types.ErrInvalidState, st)
	}
	return nil
}

// markModified flips EXISTING to EXISTING_MODIFIED on the first local edit.
func (s *itemState) markModified() {
	s.mu.Lock()
	if s.status == types.StatusExisting {
		s.status = types.StatusExistingModified
	}
	s.mu.Unlock()
}

// NodeState is the in-memory representation of one node.
type NodeState struct {
	itemState

	id          types.NodeID
	parent      types.NodeID
	primaryType string

	mixins    map[string]struct{}
	children  []types.ChildEntry
	propNames map[string]struct{}

	// mixinsChanged is set when the mixin set was edited locally. A changed
	// mixin set can alter the node's effective identity semantics, so the
	// hierarchy entry must be reloaded after commit.
	mixinsChanged bool
}

// NewNodeState creates a node state with the given status.
func NewNodeState(id types.NodeID, parent types.NodeID, primaryType string, status types.Status) *NodeState {
	return &NodeState{
		itemState:   itemState{status: status},
		id:          id,
		parent:      parent,
		primaryType: primaryType,
		mixins:      make(map[string]struct{}),
		propNames:   make(map[string]struct{}),
	}
}

func (n *NodeState) IsNode() bool         { return true }
func (n *NodeState) ID() types.NodeID     { return n.id }
func (n *NodeState) Parent() types.NodeID { return n.parent }
func (n *NodeState) PrimaryType() string  { return n.primaryType }

func (n *NodeState) SetParent(parent types.NodeID) error {
	if err := n.checkMutable(); err != nil {
		return err
	}
	n.parent = parent
	n.markModified()
	return nil
}

// Mixins returns the mixin type names in sorted order.
func (n *NodeState) Mixins() []string {
	out := make([]string, 0, len(n.mixins))
	for m := range n.mixins {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// SetMixins replaces the mixin set and marks the entry for forced reload
// after the enclosing change log commits.
func (n *NodeState) SetMixins(names []string) error {
	if err := n.checkMutable(); err != nil {
		return err
	}
	n.mixins = make(map[string]struct{}, len(names))
	for _, name := range names {
		n.mixins[name] = struct{}{}
	}
	n.mixinsChanged = true
	n.markModified()
	return nil
}

// MixinsChanged reports whether the mixin set was edited since the state was
// loaded or last persisted.
func (n *NodeState) MixinsChanged() bool { return n.mixinsChanged }

func (n *NodeState) clearMixinsChanged() { n.mixinsChanged = false }

// Children returns the ordered child entries.
func (n *NodeState) Children() []types.ChildEntry {
	out := make([]types.ChildEntry, len(n.children))
	copy(out, n.children)
	return out
}

// AddChild appends a child entry, assigning the next same-name-sibling
// index for the given name.
func (n *NodeState) AddChild(name string, id types.NodeID) (types.ChildEntry, error) {
	if err := n.checkMutable(); err != nil {
		return types.ChildEntry{}, err
	}
	index := 1
	for _, e := range n.children {
		if e.Name == name {
			index++
		}
	}
	entry := types.ChildEntry{Name: name, ID: id, Index: index}
	n.children = append(n.children, entry)
	n.markModified()
	return entry, nil
}

// RemoveChild removes the child entry with the given id and renumbers the
// same-name-sibling indexes of the remaining entries with the same name.
func (n *NodeState) RemoveChild(id types.NodeID) (types.ChildEntry, error) {
	if err := n.checkMutable(); err != nil {
		return types.ChildEntry{}, err
	}
	for i, e := range n.children {
		if e.ID == id {
			n.children = append(n.children[:i], n.children[i+1:]...)
			n.renumberSiblings(e.Name)
			n.markModified()
			return e, nil
		}
	}
	return types.ChildEntry{}, fmt.Errorf("%w: child %s of node %s", types.ErrNotFound, id, n.id)
}

func (n *NodeState) renumberSiblings(name string) {
	index := 1
	for i := range n.children {
		if n.children[i].Name == name {
			n.children[i].Index = index
			index++
		}
	}
}

// restoreChild reinserts a previously removed child entry at its position,
// used by operation undo.
func (n *NodeState) restoreChild(entry types.ChildEntry) {
	n.children = append(n.children, entry)
	n.renumberSiblings(entry.Name)
}

// PropertyNames returns the names of the node's properties in sorted order.
func (n *NodeState) PropertyNames() []string {
	out := make([]string, 0, len(n.propNames))
	for name := range n.propNames {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (n *NodeState) HasProperty(name string) bool {
	_, ok := n.propNames[name]
	return ok
}

func (n *NodeState) AddPropertyName(name string) error {
	if err := n.checkMutable(); err != nil {
		return err
	}
	n.propNames[name] = struct{}{}
	n.markModified()
	return nil
}

func (n *NodeState) RemovePropertyName(name string) error {
	if err := n.checkMutable(); err != nil {
		return err
	}
	delete(n.propNames, name)
	n.markModified()
	return nil
}

// PropertyState is the in-memory representation of one property.
type PropertyState struct {
	itemState

	id     types.PropertyID
	typ    types.PropertyType
	multi  bool
	values [][]byte
	defRef string
}

// NewPropertyState creates a property state with the given status.
func NewPropertyState(id types.PropertyID, status types.Status) *PropertyState {
	return &PropertyState{
		itemState: itemState{status: status},
		id:        id,
	}
}

func (p *PropertyState) IsNode() bool                { return false }
func (p *PropertyState) ID() types.PropertyID        { return p.id }
func (p *PropertyState) Type() types.PropertyType    { return p.typ }
func (p *PropertyState) IsMultiValued() bool         { return p.multi }
func (p *PropertyState) DefinitionRef() string       { return p.defRef }
func (p *PropertyState) SetDefinitionRef(ref string) { p.defRef = ref }

// Values returns the ordered value list. Single-valued properties hold
// exactly one entry.
func (p *PropertyState) Values() [][]byte {
	out := make([][]byte, len(p.values))
	for i, v := range p.values {
		out[i] = append([]byte(nil), v...)
	}
	return out
}

// SetValues replaces type tag, multi-valued flag and values in one edit.
func (p *PropertyState) SetValues(typ types.PropertyType, multi bool, values [][]byte) error {
	if err := p.checkMutable(); err != nil {
		return err
	}
	p.typ = typ
	p.multi = multi
	p.values = make([][]byte, len(values))
	for i, v := range values {
		p.values[i] = append([]byte(nil), v...)
	}
	p.markModified()
	return nil
}
