package types

import (
	"strings"
	"testing"
)

func TestNodeIDRoundTrip(t *testing.T) {
	id := NewNodeID()
	if id.IsZero() {
		t.Fatal("fresh id must not be zero")
	}
	parsed, err := ParseNodeID(id.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: %s != %s", parsed, id)
	}
}

func TestNodeIDUnique(t *testing.T) {
	seen := make(map[NodeID]struct{})
	for i := 0; i < 1000; i++ {
		id := NewNodeID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id after %d draws: %s", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestParseNodeIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"abc",
		strings.Repeat("g", 32),
		strings.Repeat("a", 31),
		strings.Repeat("a", 33),
	} {
		if _, err := ParseNodeID(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestPropertyIDString(t *testing.T) {
	var id NodeID
	id[15] = 1
	p := PropertyID{Node: id, Name: "title"}
	want := id.String() + "/title"
	if p.String() != want {
		t.Fatalf("got %q want %q", p.String(), want)
	}
}
