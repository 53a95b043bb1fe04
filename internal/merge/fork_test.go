package merge

import (
	"testing"
)

func TestComputeSplice(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		modified string
		want     Splice
	}{
		{"no change", "hello", "hello", Splice{5, 5, ""}},
		{"append", "abc", "abcdef", Splice{3, 3, "def"}},
		{"prepend", "abc", "xyzabc", Splice{0, 0, "xyz"}},
		{"delete middle", "abcdef", "abef", Splice{2, 4, ""}},
		{"replace middle", "line1\nline2\nline3", "line1\nLINE2\nline3", Splice{6, 10, "LINE"}},
		{"delete all", "abc", "", Splice{0, 3, ""}},
		{"insert into empty", "", "abc", Splice{0, 0, "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSplice(tt.base, tt.modified)
			if got != tt.want {
				t.Fatalf("ComputeSplice(%q, %q) = %+v, want %+v", tt.base, tt.modified, got, tt.want)
			}
			if applied := got.Apply(tt.base); applied != tt.modified {
				t.Fatalf("Apply round trip = %q, want %q", applied, tt.modified)
			}
		})
	}
}

func TestSpliceOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Splice
		want bool
	}{
		{"disjoint", Splice{0, 2, "x"}, Splice{5, 7, "y"}, false},
		{"touching boundary", Splice{0, 3, "x"}, Splice{3, 5, "y"}, false},
		{"strict intersection", Splice{0, 4, "x"}, Splice{3, 6, "y"}, true},
		{"containment", Splice{1, 8, "x"}, Splice{3, 5, "y"}, true},
		{"same point insertions", Splice{4, 4, "x"}, Splice{4, 4, "y"}, true},
		{"insert inside deletion", Splice{2, 6, ""}, Splice{4, 4, "y"}, true},
		{"insert at deletion edge", Splice{2, 6, ""}, Splice{6, 6, "y"}, false},
		{"zero splice", Splice{3, 3, ""}, Splice{0, 9, "y"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Fatalf("Overlaps = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Fatalf("Overlaps not symmetric: reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func syncedGate() *Gate {
	g := NewGate()
	g.Connected()
	g.Synced()
	return g
}

func TestReconcileOfflineFailsFast(t *testing.T) {
	var ctl ForkController
	fork := ctl.BeginFork([]byte("state"), "base", NewFakeClock().Now())

	res := ctl.Reconcile(fork, "base edited", "base remote", NewGate())
	if res.Outcome != OutcomeDiverged {
		t.Fatalf("outcome = %s, want diverged", res.Outcome)
	}
	if res.Merged != "base edited" {
		t.Fatalf("merged = %q, want local text kept", res.Merged)
	}
	if res.Conflict == nil || res.Conflict.Base != "base" {
		t.Fatalf("conflict not retained: %+v", res.Conflict)
	}
}

func TestReconcileRemoteUnchanged(t *testing.T) {
	var ctl ForkController
	fork := ctl.BeginFork(nil, "line1\nline2\n", NewFakeClock().Now())

	res := ctl.Reconcile(fork, "line1\nline2 edited\n", "line1\nline2\n", syncedGate())
	if res.Outcome != OutcomeSynced {
		t.Fatalf("outcome = %s, want synced", res.Outcome)
	}
	if res.Merged != "line1\nline2 edited\n" {
		t.Fatalf("merged = %q", res.Merged)
	}
}

func TestReconcileLocalUnchanged(t *testing.T) {
	var ctl ForkController
	fork := ctl.BeginFork(nil, "base", NewFakeClock().Now())

	res := ctl.Reconcile(fork, "base", "base plus remote", syncedGate())
	if res.Outcome != OutcomeSynced {
		t.Fatalf("outcome = %s, want synced", res.Outcome)
	}
	if res.Merged != "base plus remote" {
		t.Fatalf("merged = %q", res.Merged)
	}
}

func TestReconcileComposesDisjointDeltas(t *testing.T) {
	base := "line1\nline2\nline3"
	var ctl ForkController
	fork := ctl.BeginFork(nil, base, NewFakeClock().Now())

	// Disk touched line3, remote touched line1.
	res := ctl.Reconcile(fork, "line1\nline2\nLINE3", "LINE1\nline2\nline3", syncedGate())
	if res.Outcome != OutcomeSynced {
		t.Fatalf("outcome = %s, want synced", res.Outcome)
	}
	if res.Merged != "LINE1\nline2\nLINE3" {
		t.Fatalf("merged = %q, want both deltas composed", res.Merged)
	}
}

func TestReconcileOverlapDiverges(t *testing.T) {
	base := "shared line\n"
	var ctl ForkController
	fork := ctl.BeginFork(nil, base, NewFakeClock().Now())

	res := ctl.Reconcile(fork, "shared DISK\n", "shared REMOTE\n", syncedGate())
	if res.Outcome != OutcomeDiverged {
		t.Fatalf("outcome = %s, want diverged", res.Outcome)
	}
	if res.Merged != "shared DISK\n" {
		t.Fatalf("merged = %q, want disk content kept", res.Merged)
	}
	c := res.Conflict
	if c == nil || c.Base != base || c.Local != "shared DISK\n" || c.Remote != "shared REMOTE\n" {
		t.Fatalf("conflict candidates wrong: %+v", c)
	}
}

func TestReconcileSamePointInsertionsDiverge(t *testing.T) {
	base := "ab"
	var ctl ForkController
	fork := ctl.BeginFork(nil, base, NewFakeClock().Now())

	res := ctl.Reconcile(fork, "aXb", "aYb", syncedGate())
	if res.Outcome != OutcomeDiverged {
		t.Fatalf("outcome = %s, want diverged for competing insertions", res.Outcome)
	}
}

func TestBeginForkCopiesState(t *testing.T) {
	var ctl ForkController
	state := []byte("mutable")
	fork := ctl.BeginFork(state, "mutable", NewFakeClock().Now())
	state[0] = 'X'
	if string(fork.Base) != "mutable" {
		t.Fatalf("fork base aliases caller buffer: %q", fork.Base)
	}
}
