package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefixAndOrder(t *testing.T) {
	a := NewID(PrefixMessage)
	b := NewID(PrefixMessage)
	if !strings.HasPrefix(a, "msg_") {
		t.Fatalf("expected msg_ prefix, got %q", a)
	}
	if a >= b {
		t.Fatalf("expected increasing ids, got %q then %q", a, b)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Fatalf("expected %q, got %q", "hé", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("expected unchanged, got %q", got)
	}
}

func TestNormalizePhone(t *testing.T) {
	if got := NormalizePhone(" +1 (555) 123-4567 "); got != "+15551234567" {
		t.Fatalf("unexpected normalized phone %q", got)
	}
}
