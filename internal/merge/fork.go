package merge

import (
	"time"
)

// Fork is a frozen snapshot of the local document's CRDT state, captured
// immediately before an external disk edit is ingested. It serves as the
// common ancestor for the 3-way reconcile that follows.
type Fork struct {
	Base      []byte
	BaseText  string
	CreatedAt time.Time
}

// Splice describes a contiguous change against a base text: the range
// [Start, End) was replaced with Insert. Coordinates are in base runes.
type Splice struct {
	Start  int
	End    int
	Insert string
}

// IsZero reports whether the splice changes nothing.
func (s Splice) IsZero() bool { return s.Start == s.End && s.Insert == "" }

// Overlaps reports whether two base-coordinate splices conflict. Only
// strictly intersecting ranges conflict; ranges that merely share a
// boundary compose cleanly. Two insertions at the same point do conflict:
// there is no authoritative order for them.
func (s Splice) Overlaps(o Splice) bool {
	if s.IsZero() || o.IsZero() {
		return false
	}
	if s.Start == o.Start && s.End == s.Start && o.End == o.Start {
		return true // competing pure insertions at one point
	}
	return s.Start < o.End && o.Start < s.End
}

// ComputeSplice finds the single contiguous change between base and
// modified by trimming the common prefix and suffix.
func ComputeSplice(base, modified string) Splice {
	b := []rune(base)
	m := []rune(modified)

	prefix := 0
	for prefix < len(b) && prefix < len(m) && b[prefix] == m[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(b)-prefix && suffix < len(m)-prefix &&
		b[len(b)-1-suffix] == m[len(m)-1-suffix] {
		suffix++
	}
	return Splice{
		Start:  prefix,
		End:    len(b) - suffix,
		Insert: string(m[prefix : len(m)-suffix]),
	}
}

// Apply replays the splice onto a text (base coordinates).
func (s Splice) Apply(base string) string {
	b := []rune(base)
	start, end := s.Start, s.End
	if start > len(b) {
		start = len(b)
	}
	if end > len(b) {
		end = len(b)
	}
	return string(b[:start]) + s.Insert + string(b[end:])
}

// ReconcileOutcome is the result status of a reconcile step.
type ReconcileOutcome string

const (
	OutcomeSynced   ReconcileOutcome = "synced"
	OutcomeDiverged ReconcileOutcome = "diverged"
)

// ReconcileResult is everything the machine needs to settle after a
// fork-reconcile invoke.
type ReconcileResult struct {
	Outcome ReconcileOutcome

	// Merged is the content the local document should hold afterwards.
	// On a clean merge it composes both deltas; on divergence it is the
	// disk content (the disk edit is never discarded).
	Merged string

	// Conflict carries both candidates when Outcome is diverged.
	Conflict *Conflict
}

// ForkController implements the snapshot-and-reconcile protocol. It is
// stateless; the single-fork invariant belongs to the machine.
type ForkController struct{}

// BeginFork freezes the local state. Must be called before the disk edit
// is ingested.
func (ForkController) BeginFork(localState []byte, localText string, now time.Time) *Fork {
	base := make([]byte, len(localState))
	copy(base, localState)
	return &Fork{Base: base, BaseText: localText, CreatedAt: now}
}

// Reconcile merges the fork base, the ingested disk change, and the current
// remote state. Pure over its inputs aside from consulting the gate for
// connectivity. Always returns a result; the caller clears its fork
// reference on every outcome.
//
// diskText is the local document's text after the disk edit was ingested;
// remoteText is the remote document's current text.
func (ForkController) Reconcile(fork *Fork, diskText, remoteText string, gate *Gate) ReconcileResult {
	return reconcileTexts(fork.BaseText, diskText, remoteText, gate)
}

// reconcileTexts is the text-level core, shared with the diverged-state
// passive retry path, which no longer holds a Fork.
func reconcileTexts(baseText, localText, remoteText string, gate *Gate) ReconcileResult {
	if !gate.ProviderSynced() {
		// Fail fast: without a synced provider the remote side of the
		// 3-way merge cannot be trusted.
		return ReconcileResult{
			Outcome: OutcomeDiverged,
			Merged:  localText,
			Conflict: &Conflict{
				Base:   baseText,
				Local:  localText,
				Remote: remoteText,
			},
		}
	}

	local := ComputeSplice(baseText, localText)
	remote := ComputeSplice(baseText, remoteText)

	if remote.IsZero() {
		return ReconcileResult{Outcome: OutcomeSynced, Merged: localText}
	}
	if local.IsZero() {
		return ReconcileResult{Outcome: OutcomeSynced, Merged: remoteText}
	}

	if local.Overlaps(remote) {
		return ReconcileResult{
			Outcome: OutcomeDiverged,
			Merged:  localText,
			Conflict: &Conflict{
				Base:   baseText,
				Local:  localText,
				Remote: remoteText,
			},
		}
	}

	// Non-overlapping: compose both deltas against the base, later range
	// first so earlier coordinates stay valid.
	first, second := local, remote
	if second.Start < first.Start {
		first, second = second, first
	}
	merged := second.Apply(baseText)
	merged = first.Apply(merged)
	return ReconcileResult{Outcome: OutcomeSynced, Merged: merged}
}
