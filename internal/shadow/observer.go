package shadow

import (
	"fmt"
	"log/slog"

	"docsyncd/internal/merge"
)

// Observer decorates one document's machine for shadow mode. Events are
// dispatched into the real transition function and run to settlement, but
// the resulting effects are intercepted and held as expectations instead
// of being executed. Legacy actions reported for the same document are
// matched against those expectations.
//
// Like the machine it wraps, an Observer is single-threaded.
type Observer struct {
	machine *merge.Machine
	doc     string
	agg     *Aggregator
	log     *slog.Logger

	pendingWrites []string
	pendingEditor []string
	pendingSync   int
	statusDirty   bool
}

// NewObserver wraps a machine. Mismatches land in agg, which may be shared
// across the session's observers.
func NewObserver(machine *merge.Machine, doc merge.DocumentID, agg *Aggregator, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		machine: machine,
		doc:     doc.GUID.String(),
		agg:     agg,
		log:     logger.With("doc", doc.GUID.String(), "mode", "shadow"),
	}
}

// Observe dispatches an event, runs pending invokes to settlement, and
// absorbs the effects as expectations. The effects are returned for
// inspection; the caller must not execute them.
func (o *Observer) Observe(ev merge.Event) []merge.Effect {
	effects := o.machine.Dispatch(ev)
	effects = append(effects, o.machine.Settle()...)

	for _, e := range effects {
		switch e.Kind {
		case merge.EffectWriteDisk:
			o.pendingWrites = append(o.pendingWrites, string(e.Contents))
		case merge.EffectDispatchEditor:
			o.pendingEditor = append(o.pendingEditor, renderChanges(e.Changes))
		case merge.EffectSyncToRemote:
			o.pendingSync++
		case merge.EffectStatusChanged:
			o.statusDirty = true
		}
	}
	return effects
}

// Snapshot exposes the shadow machine's state for diagnostics.
func (o *Observer) Snapshot() merge.Snapshot { return o.machine.Snapshot() }

// ReportLegacy feeds one legacy-system action into the matcher.
func (o *Observer) ReportLegacy(action LegacyAction) {
	switch action.Kind {
	case ActionWriteDisk:
		if len(o.pendingWrites) == 0 {
			o.record(MismatchDiskWrite, SeverityError,
				"legacy wrote to disk when the machine would not", "")
			return
		}
		expected := o.pendingWrites[0]
		o.pendingWrites = o.pendingWrites[1:]
		if expected != action.Content {
			o.record(MismatchDiskWrite, SeverityCritical,
				"disk write content disagrees", contentDiff(expected, action.Content))
		}

	case ActionDispatchEditor:
		if len(o.pendingEditor) == 0 {
			o.record(MismatchEditorDispatch, SeverityError,
				"legacy dispatched to the editor when the machine would not", "")
			return
		}
		expected := o.pendingEditor[0]
		o.pendingEditor = o.pendingEditor[1:]
		if expected != action.Content {
			o.record(MismatchEditorDispatch, SeverityError,
				"editor dispatch content disagrees", contentDiff(expected, action.Content))
		}

	case ActionSyncToRemote:
		if o.pendingSync == 0 {
			o.record(MismatchSyncTiming, SeverityWarning,
				"legacy pushed to remote when the machine's gate was closed", "")
			return
		}
		o.pendingSync--

	case ActionStatusBanner:
		o.statusDirty = false
		if got := string(o.machine.Status()); got != action.Status {
			o.record(MismatchBannerVisibility, SeverityWarning,
				fmt.Sprintf("legacy banner shows %q, machine status is %q", action.Status, got), "")
		}

	case ActionStateTransition:
		if got := o.machine.State().Path(); got != action.StatePath {
			o.record(MismatchStateTransition, SeverityError,
				fmt.Sprintf("legacy entered %q, machine is in %q", action.StatePath, got), "")
		}

	case ActionMergeResult:
		if got := o.machine.Text(); got != action.Content {
			o.record(MismatchMergeResult, SeverityCritical,
				"merge produced different content", contentDiff(got, action.Content))
		}

	default:
		o.log.Warn("unknown legacy action", "kind", string(action.Kind))
	}
}

// Flush settles the ledger: expectations the legacy system never fulfilled
// become mismatches. Call at session end or at a comparison checkpoint.
func (o *Observer) Flush() {
	for range o.pendingWrites {
		o.record(MismatchDiskWrite, SeverityError,
			"machine would write to disk, legacy did not", "")
	}
	o.pendingWrites = nil

	for range o.pendingEditor {
		o.record(MismatchEditorDispatch, SeverityError,
			"machine would dispatch to the editor, legacy did not", "")
	}
	o.pendingEditor = nil

	if o.pendingSync > 0 {
		o.record(MismatchSyncTiming, SeverityWarning,
			fmt.Sprintf("%d machine pushes unreported by legacy", o.pendingSync), "")
		o.pendingSync = 0
	}

	if o.statusDirty {
		o.record(MismatchBannerVisibility, SeverityInfo,
			"machine status changed with no legacy banner report", "")
		o.statusDirty = false
	}
}

func (o *Observer) record(typ MismatchType, sev Severity, detail, diff string) {
	m := Mismatch{Type: typ, Severity: sev, Doc: o.doc, Detail: detail, Diff: diff}
	o.agg.Add(m)
	o.log.Warn("shadow mismatch",
		"type", string(typ), "severity", string(sev), "detail", detail)
}

// renderChanges flattens editor changes into a comparable string.
func renderChanges(changes []merge.TextEdit) string {
	out := ""
	for _, c := range changes {
		out += fmt.Sprintf("[%d:%d)%q", c.Start, c.End, c.Insert)
	}
	return out
}
