package util

import (
	"strings"
	"testing"
)

func TestNewPrefixedID(t *testing.T) {
	a, b := NewPrefixedID("inst"), NewPrefixedID("inst")
	if !strings.HasPrefix(a, "inst_") {
		t.Fatalf("missing prefix: %q", a)
	}
	if a == b {
		t.Fatalf("ids should differ")
	}
}

func TestNewToken(t *testing.T) {
	tok := NewToken(32)
	if len(tok) != 32 {
		t.Fatalf("token length = %d, want 32", len(tok))
	}
	for _, r := range tok {
		if !strings.ContainsRune(tokenAlphabet, r) {
			t.Fatalf("unexpected rune %q in token", r)
		}
	}
	if NewToken(0) != "" {
		t.Fatalf("zero length token should be empty")
	}
}
