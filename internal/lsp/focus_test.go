package lsp

import "testing"

func TestFocusStatePrecedence(t *testing.T) {
	var fs focusState

	steps := []struct {
		name string
		kind focusKind
		path string
		want bool
	}{
		{"first open counts", focusOpen, "a", true},
		{"activity counts", focusActivity, "b", true},
		{"open after activity ignored", focusOpen, "c", false},
		{"manual latches", focusManual, "d", true},
		{"activity under latch suppressed", focusActivity, "e", false},
	}
	for _, s := range steps {
		if got := fs.note(s.kind, s.path); got != s.want {
			t.Fatalf("%s: note = %v, want %v", s.name, got, s.want)
		}
	}

	// The suppressed activity on e was still recorded for the fallback.
	if got := fs.release(); got != "e" {
		t.Fatalf("release = %q, want e", got)
	}

	if !fs.note(focusActivity, "f") {
		t.Fatal("activity after release should count again")
	}
	if fs.note(focusOpen, "g") {
		t.Fatal("open must stay ignored once activity has been seen")
	}
}

func TestFocusStateOpenOnly(t *testing.T) {
	var fs focusState

	// With no activity and no manual focus, every open retargets.
	for _, p := range []string{"x", "y", "z"} {
		if !fs.note(focusOpen, p) {
			t.Fatalf("open %s suppressed", p)
		}
	}
	if got := fs.release(); got != "z" {
		t.Fatalf("release = %q, want z", got)
	}
}
