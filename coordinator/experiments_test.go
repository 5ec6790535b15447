package coordinator

import (
	"strconv"
	"testing"
)

func TestAssignVariantIsDeterministic(t *testing.T) {
	a := assignVariant("model-routing", "user-42", 0.5)
	b := assignVariant("model-routing", "user-42", 0.5)
	if a != b {
		t.Fatalf("expected same subject to always land on the same variant, got %q then %q", a, b)
	}
}

func TestAssignVariantOnlyReturnsAOrB(t *testing.T) {
	for i := 0; i < 200; i++ {
		v := assignVariant("model-routing", "subject-"+strconv.Itoa(i), 0.5)
		if v != "A" && v != "B" {
			t.Fatalf("unexpected variant %q", v)
		}
	}
}

func TestAssignVariantZeroSplitAlwaysA(t *testing.T) {
	for i := 0; i < 50; i++ {
		v := assignVariant("exp", "subject-"+strconv.Itoa(i), 0)
		if v != "A" {
			t.Fatalf("traffic_split=0 should never route to B, got %q for subject %d", v, i)
		}
	}
}

func TestAssignVariantFullSplitAlwaysB(t *testing.T) {
	for i := 0; i < 50; i++ {
		v := assignVariant("exp", "subject-"+strconv.Itoa(i), 1)
		if v != "B" {
			t.Fatalf("traffic_split=1 should always route to B, got %q for subject %d", v, i)
		}
	}
}
