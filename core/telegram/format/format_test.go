package format

import "testing"

func TestBold(t *testing.T) {
	if got := Bold("a<b>@x"); got != "<b>a&lt;b&gt;@x</b>" {
		t.Fatalf("Bold = %q", got)
	}
}

func TestDerefString(t *testing.T) {
	v := "2026-01-01T00:00:00Z"
	empty := ""
	if got := DerefString(&v, "never"); got != v {
		t.Fatalf("got %q", got)
	}
	if got := DerefString(nil, "never"); got != "never" {
		t.Fatalf("got %q", got)
	}
	if got := DerefString(&empty, "never"); got != "" {
		t.Fatalf("empty value must be kept, got %q", got)
	}
}
