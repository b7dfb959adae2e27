package types

import "testing"

func TestStatusLifecycleTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusNew, StatusExisting},
		{StatusNew, StatusRemoved},
		{StatusExisting, StatusExistingModified},
		{StatusExisting, StatusExistingRemoved},
		{StatusExisting, StatusStaleModified},
		{StatusExisting, StatusInvalidated},
		{StatusExistingModified, StatusExisting},
		{StatusExistingModified, StatusStaleDestroyed},
		{StatusExistingRemoved, StatusRemoved},
		{StatusExistingRemoved, StatusExisting},
		{StatusStaleModified, StatusExisting},
		{StatusStaleDestroyed, StatusRemoved},
		{StatusInvalidated, StatusExisting},
	}
	for _, tc := range allowed {
		if !ValidTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusNew, StatusExistingModified},
		{StatusNew, StatusStaleModified},
		{StatusExisting, StatusNew},
		{StatusExistingModified, StatusNew},
		{StatusExistingModified, StatusInvalidated},
		{StatusRemoved, StatusExisting},
		{StatusRemoved, StatusNew},
		{StatusStaleModified, StatusExistingModified},
		{StatusInvalidated, StatusExistingModified},
	}
	for _, tc := range forbidden {
		if ValidTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusExisting.Terminal() || !StatusRemoved.Terminal() || !StatusInvalidated.Terminal() {
		t.Error("existing, removed and invalidated must be terminal")
	}
	if StatusExistingModified.Terminal() || StatusNew.Terminal() {
		t.Error("pending statuses must not be terminal")
	}

	for _, s := range []Status{StatusNew, StatusExisting, StatusExistingModified} {
		if !s.Mutable() {
			t.Errorf("%s must be mutable", s)
		}
	}
	for _, s := range []Status{StatusExistingRemoved, StatusStaleModified, StatusStaleDestroyed, StatusInvalidated, StatusRemoved} {
		if s.Mutable() {
			t.Errorf("%s must not be mutable", s)
		}
	}

	if !StatusStaleModified.Stale() || !StatusStaleDestroyed.Stale() {
		t.Error("stale statuses not detected")
	}
	if StatusExistingModified.Stale() {
		t.Error("existing-modified is not stale")
	}
}

func TestStatusStringUnknown(t *testing.T) {
	if got := Status(200).String(); got != "status(200)" {
		t.Errorf("unexpected string for unknown status: %q", got)
	}
}
