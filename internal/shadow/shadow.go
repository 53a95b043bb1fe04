// Package shadow runs the merge machine in parallel with a legacy
// implementation without letting it touch the world. Effects are
// intercepted instead of executed and compared against the actions the
// legacy system reports; disagreements are classified and aggregated so a
// rollout can be judged from the mismatch record.
package shadow

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// MismatchType classifies what the two implementations disagreed about.
type MismatchType string

const (
	MismatchDiskWrite        MismatchType = "disk-write"
	MismatchEditorDispatch   MismatchType = "editor-dispatch"
	MismatchSyncTiming       MismatchType = "sync-timing"
	MismatchBannerVisibility MismatchType = "banner-visibility"
	MismatchStateTransition  MismatchType = "state-transition"
	MismatchMergeResult      MismatchType = "merge-result"
)

// Severity grades a mismatch.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// rank orders severities for worst-of aggregation.
func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Mismatch is one recorded disagreement between the machine and the
// legacy implementation.
type Mismatch struct {
	Type     MismatchType `json:"type"`
	Severity Severity     `json:"severity"`
	Doc      string       `json:"doc"`
	Detail   string       `json:"detail"`
	// Diff is a unified diff of the two sides' content, when content is
	// what they disagreed about.
	Diff string `json:"diff,omitempty"`
}

// ActionKind names a legacy-system action reported to the harness.
type ActionKind string

const (
	ActionWriteDisk       ActionKind = "write-disk"
	ActionDispatchEditor  ActionKind = "dispatch-editor"
	ActionSyncToRemote    ActionKind = "sync-to-remote"
	ActionStatusBanner    ActionKind = "status-banner"
	ActionStateTransition ActionKind = "state-transition"
	ActionMergeResult     ActionKind = "merge-result"
)

// LegacyAction is one observed action of the legacy implementation,
// reported by its instrumentation.
type LegacyAction struct {
	Kind ActionKind `json:"kind"`
	Doc  string     `json:"doc"`

	// write-disk / dispatch-editor / merge-result: resulting content.
	Content string `json:"content,omitempty"`
	// status-banner: the status it displayed.
	Status string `json:"status,omitempty"`
	// state-transition: the state path it entered.
	StatePath string `json:"state_path,omitempty"`
}

// contentDiff renders a unified diff between the machine's content and the
// legacy system's.
func contentDiff(machine, legacy string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(machine),
		B:        difflib.SplitLines(legacy),
		FromFile: "machine",
		ToFile:   "legacy",
		Context:  3,
	})
	if err != nil {
		return fmt.Sprintf("diff unavailable: %v", err)
	}
	return diff
}
