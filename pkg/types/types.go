// Package types holds the stable identifiers and small value types shared by
// the state, persistence and journal layers.
package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NodeID is the stable identity of a node. It never changes for the lifetime
// of the node, independent of moves or renames.
type NodeID [16]byte

// NewNodeID returns a fresh random NodeID.
func NewNodeID() NodeID {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("types: reading random node id: %v", err))
	}
	return id
}

// ParseNodeID parses the 32-character hex form produced by String.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	if len(s) != hex.EncodedLen(len(id)) {
		return id, fmt.Errorf("types: invalid node id %q", s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("types: invalid node id %q: %w", s, err)
	}
	return id, nil
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the id is the all-zero id, used as "no parent".
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// PropertyID identifies a property by its owning node and name.
type PropertyID struct {
	Node NodeID
	Name string
}

func (p PropertyID) String() string {
	return p.Node.String() + "/" + p.Name
}

// ChildEntry is one entry in a node's ordered child list. Index is the
// same-name-sibling index, starting at 1.
type ChildEntry struct {
	Name  string
	ID    NodeID
	Index int
}

// PropertyType tags the value domain of a property.
type PropertyType uint8

const (
	TypeUndefined PropertyType = iota
	TypeString
	TypeBinary
	TypeLong
	TypeDouble
	TypeBoolean
	TypeDate
	TypeName
	TypePath
	TypeReference
)

var propertyTypeNames = map[PropertyType]string{
	TypeUndefined: "undefined",
	TypeString:    "string",
	TypeBinary:    "binary",
	TypeLong:      "long",
	TypeDouble:    "double",
	TypeBoolean:   "boolean",
	TypeDate:      "date",
	TypeName:      "name",
	TypePath:      "path",
	TypeReference: "reference",
}

func (t PropertyType) String() string {
	if n, ok := propertyTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("propertytype(%d)", uint8(t))
}
