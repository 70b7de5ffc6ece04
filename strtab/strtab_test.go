package strtab_test

import (
	"testing"

	"github.com/vinegar97/sonic3air/strtab"
)

func TestInternDedup(t *testing.T) {
	tab := strtab.New()
	h1 := tab.Intern("update")
	h2 := tab.Intern("update")
	if h1 != h2 {
		t.Fatalf("interning the same string twice produced different hashes: %v != %v", h1, h2)
	}
	if tab.Len() != 1 {
		t.Fatalf("expected 1 distinct string, got %d", tab.Len())
	}
}

func TestInternRoundTrip(t *testing.T) {
	tab := strtab.New()
	h := tab.Intern("player.x")
	s, ok := tab.Lookup(h)
	if !ok || s != "player.x" {
		t.Fatalf("Lookup(%v) = %q, %v; want %q, true", h, s, ok, "player.x")
	}
}

func TestLookupMiss(t *testing.T) {
	tab := strtab.New()
	if _, ok := tab.Lookup(strtab.Sum("never interned")); ok {
		t.Fatalf("Lookup of a never-interned hash should fail")
	}
}

func TestDistinctStringsDistinctHashes(t *testing.T) {
	tab := strtab.New()
	seen := map[strtab.Hash]string{}
	for _, s := range []string{"a", "b", "ab", "ba", "update", "onFrame"} {
		h := tab.Intern(s)
		if prev, ok := seen[h]; ok && prev != s {
			t.Fatalf("hash collision between %q and %q", prev, s)
		}
		seen[h] = s
	}
}
