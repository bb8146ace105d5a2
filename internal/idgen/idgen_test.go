package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix(Contract)
	if !strings.HasPrefix(id, "ctr_") {
		t.Fatalf("expected ctr_ prefix, got %s", id)
	}
	if len(id) != len("ctr_")+32 {
		t.Errorf("expected 36 chars, got %d (%s)", len(id), id)
	}
	if strings.Contains(id, "-") {
		t.Errorf("prefixed id should not contain dashes: %s", id)
	}
}

func TestWithPrefix_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix(Wallet)
		if seen[id] {
			t.Fatalf("duplicate id after %d iterations: %s", i, id)
		}
		seen[id] = true
	}
}
