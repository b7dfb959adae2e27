package state

import (
	"github.com/sylvadb/sylva/pkg/types"
)

// CacheEntry is the in-memory hierarchy entry owning one item state. It
// keeps a snapshot of the last-known-good attributes so a rollback can
// restore them without reloading from the persistence manager.
type CacheEntry struct {
	state       ItemState
	snap        snapshot
	invalidated bool
	removed     bool
}

// NewEntry connects a fresh entry to the given state and records the
// current attributes as the last-known-good snapshot.
func NewEntry(s ItemState) (*CacheEntry, error) {
	e := &CacheEntry{state: s}
	switch st := s.(type) {
	case *NodeState:
		if err := st.Connect(e); err != nil {
			return nil, err
		}
	case *PropertyState:
		if err := st.Connect(e); err != nil {
			return nil, err
		}
	}
	e.Checkpoint()
	return e, nil
}

// State returns the owned item state.
func (e *CacheEntry) State() ItemState { return e.state }

// Checkpoint records the current attributes as the new last-known-good
// snapshot. The persistence layer calls this after a successful store.
func (e *CacheEntry) Checkpoint() {
	switch st := e.state.(type) {
	case *NodeState:
		e.snap = snapshotNode(st)
	case *PropertyState:
		e.snap = snapshotProperty(st)
	}
}

// Revert restores the snapshot. A state that was never persisted has no
// good copy to return to; it is discarded instead.
func (e *CacheEntry) Revert() {
	if e.removed {
		return
	}
	if e.snap == nil || e.snap.wasNew() {
		e.removed = true
		switch st := e.state.(type) {
		case *NodeState:
			st.forceStatus(types.StatusRemoved)
		case *PropertyState:
			st.forceStatus(types.StatusRemoved)
		}
		return
	}
	e.snap.restore()
}

// Invalidate marks the entry for reload on next access. The state stays
// cached; only the freshness flag flips.
func (e *CacheEntry) Invalidate() {
	e.invalidated = true
}

// Invalidated reports whether the entry requires a reload before use.
func (e *CacheEntry) Invalidated() bool { return e.invalidated }

// Remove drops the entry after its state was physically removed.
func (e *CacheEntry) Remove() {
	e.removed = true
	switch st := e.state.(type) {
	case *NodeState:
		st.forceStatus(types.StatusRemoved)
	case *PropertyState:
		st.forceStatus(types.StatusRemoved)
	}
}

// Removed reports whether the entry was dropped.
func (e *CacheEntry) Removed() bool { return e.removed }

type snapshot interface {
	restore()
	wasNew() bool
}

type nodeSnapshot struct {
	n           *NodeState
	status      types.Status
	parent      types.NodeID
	primaryType string
	mixins      map[string]struct{}
	children    []types.ChildEntry
	propNames   map[string]struct{}
}

func snapshotNode(n *NodeState) *nodeSnapshot {
	s := &nodeSnapshot{
		n:           n,
		status:      n.Status(),
		parent:      n.parent,
		primaryType: n.primaryType,
		mixins:      make(map[string]struct{}, len(n.mixins)),
		children:    make([]types.ChildEntry, len(n.children)),
		propNames:   make(map[string]struct{}, len(n.propNames)),
	}
	for m := range n.mixins {
		s.mixins[m] = struct{}{}
	}
	copy(s.children, n.children)
	for p := range n.propNames {
		s.propNames[p] = struct{}{}
	}
	return s
}

func (s *nodeSnapshot) wasNew() bool { return s.status == types.StatusNew }

func (s *nodeSnapshot) restore() {
	n := s.n
	n.parent = s.parent
	n.primaryType = s.primaryType
	n.mixins = make(map[string]struct{}, len(s.mixins))
	for m := range s.mixins {
		n.mixins[m] = struct{}{}
	}
	n.children = make([]types.ChildEntry, len(s.children))
	copy(n.children, s.children)
	n.propNames = make(map[string]struct{}, len(s.propNames))
	for p := range s.propNames {
		n.propNames[p] = struct{}{}
	}
	n.mixinsChanged = false
	n.forceStatus(types.StatusExisting)
}

type propertySnapshot struct {
	p      *PropertyState
	status types.Status
	typ    types.PropertyType
	multi  bool
	values [][]byte
	defRef string
}

func snapshotProperty(p *PropertyState) *propertySnapshot {
	s := &propertySnapshot{
		p:      p,
		status: p.Status(),
		typ:    p.typ,
		multi:  p.multi,
		values: make([][]byte, len(p.values)),
		defRef: p.defRef,
	}
	for i, v := range p.values {
		s.values[i] = append([]byte(nil), v...)
	}
	return s
}

func (s *propertySnapshot) wasNew() bool { return s.status == types.StatusNew }

func (s *propertySnapshot) restore() {
	p := s.p
	p.typ = s.typ
	p.multi = s.multi
	p.values = make([][]byte, len(s.values))
	for i, v := range s.values {
		p.values[i] = append([]byte(nil), v...)
	}
	p.defRef = s.defRef
	p.forceStatus(types.StatusExisting)
}
