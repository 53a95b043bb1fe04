package merge

import (
	"crypto/sha256"
	"log/slog"
	"time"

	"docsyncd/internal/crdt"
)

// InvokeKind discriminates the machine's async sub-procedures.
type InvokeKind int

const (
	InvokeIdleMerge InvokeKind = iota
	InvokeForkReconcile
	InvokeAcquireLock
)

func (k InvokeKind) String() string {
	switch k {
	case InvokeIdleMerge:
		return "idle-merge"
	case InvokeForkReconcile:
		return "fork-reconcile"
	case InvokeAcquireLock:
		return "acquire-lock"
	default:
		return "unknown"
	}
}

// Invoke is an in-flight async sub-procedure. The driver runs it while the
// machine is suspended and feeds the result back through CompleteInvoke.
// An invoke is not preemptible: events dispatched while one is pending are
// queued and applied after it settles.
type Invoke struct {
	Kind InvokeKind
	run  func() InvokeResult
}

// Run executes the sub-procedure. Must only be called while the machine is
// otherwise quiescent; the invoke may read and mutate the machine's
// documents.
func (iv *Invoke) Run() InvokeResult { return iv.run() }

// InvokeResult is the settlement of an Invoke, delivered back to the
// machine as a synthetic completion event.
type InvokeResult struct {
	Kind InvokeKind
	Err  error

	// idle-merge
	Forked       bool
	Fork         *Fork
	IngestUpdate []byte

	// fork-reconcile
	Reconcile *ReconcileResult
}

// Config configures a Machine.
type Config struct {
	Document DocumentID

	// Local is the source of truth for disk and editor; Remote mirrors
	// the sync provider. Both are exclusively owned by this machine.
	Local  crdt.Document
	Remote crdt.Document

	Clock  Clock
	Logger *slog.Logger

	// Strict makes invariant violations panic instead of no-op. Enabled
	// in tests, off in production.
	Strict bool
}

// Machine is the per-document merge state machine. It owns the MergeState
// for its document; collaborators see read-only snapshots.
//
// Execution is single-threaded and cooperative: the caller dispatches one
// event at a time and runs pending invokes to settlement. Machine methods
// must not be called concurrently.
type Machine struct {
	doc    DocumentID
	local  crdt.Document
	remote crdt.Document
	clock  Clock
	log    *slog.Logger
	strict bool

	state    State
	status   Status
	fork     *Fork
	isOnline bool
	conflict *Conflict

	gate  *Gate
	forks ForkController

	// Last known on-disk content, kept current so the machine can tell an
	// echo of its own WRITE_DISK from an external edit.
	diskContent string
	diskMtime   time.Time
	saveHash    [32]byte
	hasSaveHash bool

	pending *Invoke
	queue   []Event
}

// New creates a machine in the unloaded state.
func New(cfg Config) *Machine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Machine{
		doc:    cfg.Document,
		local:  cfg.Local,
		remote: cfg.Remote,
		clock:  clock,
		log:    log.With("doc", cfg.Document.GUID.String(), "path", cfg.Document.Path),
		strict: cfg.Strict,
		state:  StateUnloaded,
		status: StatusOffline,
		gate:   NewGate(),
	}
}

// State returns the current leaf state.
func (m *Machine) State() State { return m.state }

// Text returns the local document's current content.
func (m *Machine) Text() string { return m.local.Text() }

// Status returns the current sync status.
func (m *Machine) Status() Status { return m.status }

// Matches reports whether the current state path matches the pattern,
// e.g. Matches("idle") or Matches("active.tracking").
func (m *Machine) Matches(pattern string) bool { return m.state.Matches(pattern) }

// Gate exposes the sync gate for inspection.
func (m *Machine) Gate() *Gate { return m.gate }

// Conflict returns the retained conflict, or nil.
func (m *Machine) Conflict() *Conflict { return m.conflict }

// ForkActive reports whether a fork snapshot currently exists.
func (m *Machine) ForkActive() bool { return m.fork != nil }

// PendingInvoke returns the in-flight invoke, or nil when quiescent.
func (m *Machine) PendingInvoke() *Invoke { return m.pending }

// Snapshot returns a read-only copy of the machine's MergeState.
func (m *Machine) Snapshot() Snapshot {
	snap := Snapshot{
		Document:       m.doc,
		StatePath:      m.state.Path(),
		Status:         m.status,
		IsOnline:       m.isOnline,
		PendingInbound: m.gate.PendingInboundCount(),
		DiskMtime:      m.diskMtime,
	}
	if m.fork != nil {
		snap.Fork = &ForkInfo{CreatedAt: m.fork.CreatedAt}
	}
	if m.conflict != nil {
		c := *m.conflict
		snap.Conflict = &c
	}
	return snap
}

// Dispatch feeds an external event to the machine and returns the effects
// it produced. While an invoke is pending the event is queued and applied
// after the invoke settles; Dispatch then returns no effects.
func (m *Machine) Dispatch(ev Event) []Effect {
	if m.pending != nil {
		// Remote updates during an active fork go straight to the remote
		// mirror and the gate's inbound queue: the reconcile must see the
		// provider's latest state, while the local document stays frozen
		// until the fork clears.
		if ev.Kind == EventRemoteUpdate && m.gate.ForkActive() {
			if err := m.remote.ApplyUpdate(ev.Update); err != nil {
				m.log.Warn("dropping corrupt remote update", "error", err)
				return nil
			}
			m.gate.EnqueueInbound(ev.Update)
			return nil
		}
		m.queue = append(m.queue, ev)
		m.log.Debug("event queued behind invoke",
			"event", ev.Kind.String(),
			"invoke", m.pending.Kind.String(),
		)
		return nil
	}
	return m.handle(ev)
}

// CompleteInvoke settles the pending invoke with its result, then drains
// any events queued while it was in flight (unless the settlement itself
// scheduled a new invoke).
func (m *Machine) CompleteInvoke(res InvokeResult) []Effect {
	if m.pending == nil {
		m.log.Error("invoke completion without pending invoke", "kind", res.Kind.String())
		return nil
	}
	if res.Kind != m.pending.Kind {
		m.log.Error("invoke completion kind mismatch",
			"pending", m.pending.Kind.String(),
			"got", res.Kind.String(),
		)
		return nil
	}
	m.pending = nil
	m.log.Debug("event", "kind", doneEventKind(res.Kind).String(), "state", m.state.Path())
	effects := m.handleInvokeDone(res)

	for m.pending == nil && len(m.queue) > 0 {
		ev := m.queue[0]
		m.queue = m.queue[1:]
		effects = append(effects, m.handle(ev)...)
	}
	return effects
}

// Step runs the pending invoke synchronously and settles it. Returns nil
// when the machine is quiescent.
func (m *Machine) Step() []Effect {
	if m.pending == nil {
		return nil
	}
	res := m.pending.Run()
	return m.CompleteInvoke(res)
}

// Settle runs pending invokes until the machine is quiescent.
func (m *Machine) Settle() []Effect {
	var effects []Effect
	for m.pending != nil {
		effects = append(effects, m.Step()...)
	}
	return effects
}

// handle is the transition function for external events.
func (m *Machine) handle(ev Event) []Effect {
	m.log.Debug("event", "kind", ev.Kind.String(), "state", m.state.Path())

	switch ev.Kind {
	case EventLoad:
		return m.handleLoad(ev)
	case EventDiskChanged:
		return m.handleDiskChanged(ev)
	case EventEditorEdit:
		return m.handleEditorEdit(ev)
	case EventSaveComplete:
		return m.handleSaveComplete(ev)
	case EventAcquireLock:
		return m.handleAcquireLock()
	case EventReleaseLock:
		return m.handleReleaseLock()
	case EventConnected:
		return m.handleConnectivity(ev.Kind)
	case EventDisconnected:
		return m.handleDisconnected()
	case EventProviderSynced:
		return m.handleConnectivity(ev.Kind)
	case EventRemoteUpdate:
		return m.handleRemoteUpdate(ev)
	default:
		m.log.Warn("unhandled event", "kind", ev.Kind.String())
		return nil
	}
}

func (m *Machine) handleLoad(ev Event) []Effect {
	if m.state != StateUnloaded {
		m.log.Warn("LOAD ignored: document already loaded", "state", m.state.Path())
		return nil
	}

	// Validate-before-apply: a corrupted record is dropped with a
	// diagnostic and never partially mutates the document.
	for i, update := range ev.Updates {
		if err := m.local.ApplyUpdate(update); err != nil {
			m.log.Warn("dropping corrupt persisted update", "index", i, "error", err)
			continue
		}
		if err := m.remote.ApplyUpdate(update); err != nil {
			m.log.Warn("remote mirror rejected persisted update", "index", i, "error", err)
		}
	}

	m.diskContent = string(ev.Content)
	m.diskMtime = ev.Mtime

	var effects []Effect
	if m.local.Text() != m.diskContent {
		m.transition(StateIdleDiskAhead)
		effects = m.setStatus(StatusDiskAhead, effects)
		m.scheduleIdleMerge()
	} else {
		m.transition(StateIdleSynced)
		effects = m.setStatus(StatusSynced, effects)
	}
	return append(effects, m.persistState())
}

func (m *Machine) handleDiskChanged(ev Event) []Effect {
	content := string(ev.Content)

	switch {
	case m.state == StateUnloaded:
		m.log.Warn("DISK_CHANGED before LOAD ignored")
		return nil

	case m.state.active():
		// The active writer is authoritative. An echo of its own save is
		// not an external edit; anything else is a hard conflict for the
		// editor layer to surface. Never routed through the fork protocol.
		if content == m.local.Text() || (m.hasSaveHash && sha256.Sum256(ev.Content) == m.saveHash) {
			m.diskContent = content
			m.diskMtime = ev.Mtime
			return nil
		}
		m.conflict = &Conflict{
			Base:   m.diskContent,
			Local:  m.local.Text(),
			Remote: content,
		}
		m.diskContent = content
		m.diskMtime = ev.Mtime
		m.log.Warn("external disk edit while active", "state", m.state.Path())
		effects := m.setStatus(StatusDiverged, nil)
		return append(effects, m.persistState())

	default: // idle
		if content == m.local.Text() {
			// Idempotent: disk already agrees with the local document.
			m.diskContent = content
			m.diskMtime = ev.Mtime
			return nil
		}
		m.diskContent = content
		m.diskMtime = ev.Mtime
		if m.state == StateIdleDiskAhead {
			// Already awaiting idle-merge; the invoke reads the latest
			// disk content when it runs.
			return nil
		}
		m.transition(StateIdleDiskAhead)
		effects := m.setStatus(StatusDiskAhead, nil)
		m.scheduleIdleMerge()
		return append(effects, m.persistState())
	}
}

func (m *Machine) handleEditorEdit(ev Event) []Effect {
	if m.state != StateActiveTracking {
		m.log.Warn("EDITOR_EDIT outside active.tracking ignored", "state", m.state.Path())
		return nil
	}

	var updates [][]byte
	for _, e := range ev.Edits {
		update, err := m.local.Splice(e.Start, e.End-e.Start, e.Insert)
		if err != nil {
			m.log.Error("editor edit rejected", "error", err, "start", e.Start, "end", e.End)
			continue
		}
		if update != nil {
			updates = append(updates, update)
		}
	}
	if len(updates) == 0 {
		return nil
	}

	var effects []Effect
	effects = append(effects, Effect{Kind: EffectPersistUpdates, Updates: updates})
	effects = append(effects, m.writeDisk())
	if m.gate.LocalToRemote() {
		effects = append(effects, m.syncToRemote(updates))
	}
	effects = m.setStatus(StatusLocalAhead, effects)
	return append(effects, m.persistState())
}

func (m *Machine) handleSaveComplete(ev Event) []Effect {
	if !m.state.active() {
		m.log.Debug("SAVE_COMPLETE outside active ignored")
		return nil
	}
	// The save echo carries our own content back; record it so the disk
	// watcher's echo is recognized and fork logic stays untriggered.
	m.diskContent = m.local.Text()
	m.diskMtime = ev.Mtime
	m.saveHash = ev.Hash
	m.hasSaveHash = true

	effects := m.setStatus(StatusSynced, nil)
	return append(effects, m.persistState())
}

func (m *Machine) handleAcquireLock() []Effect {
	switch {
	case m.state == StateUnloaded:
		m.log.Warn("ACQUIRE_LOCK before LOAD ignored")
		return nil
	case m.state.active():
		return nil
	}
	m.transition(StateActiveEntering)
	m.scheduleAcquireLock()
	return []Effect{m.persistState()}
}

func (m *Machine) handleReleaseLock() []Effect {
	if !m.state.active() {
		m.log.Warn("RELEASE_LOCK outside active ignored", "state", m.state.Path())
		return nil
	}
	m.hasSaveHash = false
	return m.reEvaluateIdle()
}

// reEvaluateIdle resolves into the proper idle sub-state exactly as LOAD
// does, without reloading.
func (m *Machine) reEvaluateIdle() []Effect {
	var effects []Effect
	switch {
	case m.local.Text() != m.diskContent:
		m.transition(StateIdleDiskAhead)
		effects = m.setStatus(StatusDiskAhead, effects)
		m.scheduleIdleMerge()
	case m.conflict != nil:
		m.transition(StateIdleDiverged)
		effects = m.setStatus(StatusDiverged, effects)
	default:
		m.transition(StateIdleSynced)
		effects = m.setStatus(StatusSynced, effects)
	}
	return append(effects, m.persistState())
}

func (m *Machine) handleDisconnected() []Effect {
	m.gate.Disconnected()
	m.isOnline = false
	effects := m.setStatus(StatusOffline, nil)
	return append(effects, m.persistState())
}

// handleConnectivity covers CONNECTED and PROVIDER_SYNCED: update the gate,
// recompute the visible status, and give a diverged document its passive
// retry.
func (m *Machine) handleConnectivity(kind EventKind) []Effect {
	switch kind {
	case EventConnected:
		m.gate.Connected()
		m.isOnline = true
	case EventProviderSynced:
		m.gate.Synced()
	}

	var effects []Effect
	if m.state == StateIdleDiverged && m.gate.ProviderSynced() {
		effects = append(effects, m.retryDiverged()...)
	} else {
		effects = m.setStatus(m.statusForState(), effects)
	}
	return append(effects, m.persistState())
}

// retryDiverged re-attempts the reconciliation that previously failed.
// Triggered only by connectivity events, never by a busy loop.
func (m *Machine) retryDiverged() []Effect {
	if m.conflict == nil {
		return m.setStatus(m.statusForState(), nil)
	}
	res := reconcileTexts(m.conflict.Base, m.local.Text(), m.remote.Text(), m.gate)
	return m.settleReconcile(res)
}

func (m *Machine) handleRemoteUpdate(ev Event) []Effect {
	if m.state == StateUnloaded {
		m.log.Warn("REMOTE_UPDATE before LOAD ignored")
		return nil
	}

	// The remote document always mirrors the provider.
	if err := m.remote.ApplyUpdate(ev.Update); err != nil {
		m.log.Warn("dropping corrupt remote update", "error", err)
		return nil
	}

	if !m.gate.RemoteToLocal() {
		// A fork is in flight; queue rather than mutate the local
		// document out from under the reconciliation.
		m.gate.EnqueueInbound(ev.Update)
		return []Effect{m.persistState()}
	}

	if m.state == StateIdleDiverged {
		// The local document holds the disk-side candidate and stays
		// frozen until the divergence resolves. The update is already
		// in the mirror and the log; keep the retained remote
		// candidate current for the next retry.
		if m.conflict != nil {
			m.conflict.Remote = m.remote.Text()
		}
		return []Effect{
			{Kind: EffectPersistUpdates, Updates: [][]byte{ev.Update}},
			m.persistState(),
		}
	}

	before := m.local.Text()
	if err := m.local.ApplyUpdate(ev.Update); err != nil {
		m.log.Warn("local document rejected remote update", "error", err)
		return nil
	}
	after := m.local.Text()

	effects := []Effect{{Kind: EffectPersistUpdates, Updates: [][]byte{ev.Update}}}
	if m.state == StateActiveTracking {
		if before != after {
			sp := ComputeSplice(before, after)
			effects = append(effects, Effect{
				Kind:    EffectDispatchEditor,
				Changes: []TextEdit{{Start: sp.Start, End: sp.End, Insert: sp.Insert}},
			})
		}
	} else if before != after && m.state == StateIdleSynced {
		effects = append(effects, m.writeDisk())
	}
	return append(effects, m.persistState())
}

// handleInvokeDone is the transition function for invoke settlements.
func (m *Machine) handleInvokeDone(res InvokeResult) []Effect {
	switch res.Kind {
	case InvokeIdleMerge:
		return m.settleIdleMerge(res)
	case InvokeForkReconcile:
		return m.settleForkReconcile(res)
	case InvokeAcquireLock:
		return m.settleAcquireLock(res)
	default:
		m.log.Error("unknown invoke settlement", "kind", res.Kind.String())
		return nil
	}
}

func (m *Machine) settleIdleMerge(res InvokeResult) []Effect {
	if res.Err != nil {
		// Abort back to idle.diskAhead unchanged; a later event retries.
		m.log.Error("idle-merge failed", "error", res.Err)
		m.transition(StateIdleDiskAhead)
		effects := m.setStatus(StatusDiskAhead, nil)
		return append(effects, m.persistState())
	}

	m.fork = res.Fork
	if err := m.gate.BeginFork(); err != nil {
		m.invariantViolation("gate fork already active at idle-merge settlement")
	}
	m.transition(StateIdleLocalAhead)

	var effects []Effect
	if res.IngestUpdate != nil {
		effects = append(effects, Effect{Kind: EffectPersistUpdates, Updates: [][]byte{res.IngestUpdate}})
	}
	effects = m.setStatus(StatusLocalAhead, effects)
	effects = append(effects, m.persistState())
	m.scheduleForkReconcile()
	return effects
}

func (m *Machine) settleForkReconcile(res InvokeResult) []Effect {
	// The fork never survives the reconcile step, win or lose.
	baseText := ""
	if m.fork != nil {
		baseText = m.fork.BaseText
	}
	m.fork = nil
	queued := m.gate.ClearFork()

	var effects []Effect
	if res.Err != nil {
		m.log.Error("fork-reconcile failed", "error", res.Err)
		m.conflict = &Conflict{Base: baseText, Local: m.local.Text(), Remote: m.remote.Text()}
		m.transition(StateIdleDiverged)
		effects = m.setStatus(StatusDiverged, effects)
	} else {
		effects = append(effects, m.settleReconcile(*res.Reconcile)...)
	}

	// Flush updates queued while the fork was active, in receipt order.
	effects = append(effects, m.flushInbound(queued)...)
	return effects
}

// settleReconcile applies a reconcile result to the machine. Shared by the
// fork-reconcile settlement and the diverged passive retry.
func (m *Machine) settleReconcile(res ReconcileResult) []Effect {
	var effects []Effect
	switch res.Outcome {
	case OutcomeSynced:
		if merged := res.Merged; merged != m.local.Text() {
			sp := ComputeSplice(m.local.Text(), merged)
			update, err := m.local.Splice(sp.Start, sp.End-sp.Start, sp.Insert)
			if err != nil {
				m.log.Error("applying merged content failed", "error", err)
			} else if update != nil {
				effects = append(effects, Effect{Kind: EffectPersistUpdates, Updates: [][]byte{update}})
			}
		}
		m.conflict = nil
		m.transition(StateIdleSynced)
		if m.local.Text() != m.diskContent {
			effects = append(effects, m.writeDisk())
		}
		if m.gate.LocalToRemote() {
			if diff := m.local.Diff(m.remote.EncodeStateVector()); !crdt.IsEmptyUpdate(diff) {
				effects = append(effects, m.syncToRemote([][]byte{diff}))
			}
		}
		effects = m.setStatus(StatusSynced, effects)

	case OutcomeDiverged:
		// No data is discarded: both candidates are retained for manual
		// resolution and the local document keeps the disk content.
		m.conflict = res.Conflict
		m.transition(StateIdleDiverged)
		effects = m.setStatus(StatusDiverged, effects)
	}
	return append(effects, m.persistState())
}

func (m *Machine) settleAcquireLock(res InvokeResult) []Effect {
	if res.Err != nil {
		m.log.Error("lock acquisition failed", "error", res.Err)
		return m.reEvaluateIdle()
	}
	m.transition(StateActiveTracking)
	var effects []Effect
	switch {
	case m.conflict != nil:
		// An unresolved divergence survives the lock cycle; matching
		// texts do not resolve it.
		effects = m.setStatus(StatusDiverged, effects)
	case m.local.Text() == m.diskContent:
		effects = m.setStatus(StatusSynced, effects)
	default:
		effects = m.setStatus(StatusLocalAhead, effects)
	}
	return append(effects, m.persistState())
}

// flushInbound applies queued inbound updates to the local document in
// receipt order after a fork clears.
func (m *Machine) flushInbound(queued [][]byte) []Effect {
	if len(queued) == 0 {
		return nil
	}
	before := m.local.Text()
	var applied [][]byte
	for _, update := range queued {
		if err := m.local.ApplyUpdate(update); err != nil {
			m.log.Warn("dropping corrupt queued inbound update", "error", err)
			continue
		}
		applied = append(applied, update)
	}
	if len(applied) == 0 {
		return nil
	}
	effects := []Effect{{Kind: EffectPersistUpdates, Updates: applied}}
	// Write through only on a clean settle; a diverged document keeps the
	// disk content and an active one belongs to the editor.
	if m.local.Text() != before && m.state == StateIdleSynced {
		effects = append(effects, m.writeDisk())
	}
	return effects
}

// Invoke scheduling. Exactly one invoke may be pending at a time; the
// transition table never schedules a second.

func (m *Machine) scheduleIdleMerge() {
	if m.fork != nil {
		m.invariantViolation("idle-merge scheduled while fork exists")
		return
	}
	m.pending = &Invoke{
		Kind: InvokeIdleMerge,
		run: func() InvokeResult {
			fork := m.forks.BeginFork(m.local.EncodeStateAsUpdate(), m.local.Text(), m.clock.Now())
			sp := ComputeSplice(m.local.Text(), m.diskContent)
			update, err := m.local.Splice(sp.Start, sp.End-sp.Start, sp.Insert)
			if err != nil {
				return InvokeResult{Kind: InvokeIdleMerge, Err: err}
			}
			return InvokeResult{
				Kind:         InvokeIdleMerge,
				Forked:       true,
				Fork:         fork,
				IngestUpdate: update,
			}
		},
	}
}

func (m *Machine) scheduleForkReconcile() {
	fork := m.fork
	m.pending = &Invoke{
		Kind: InvokeForkReconcile,
		run: func() InvokeResult {
			res := m.forks.Reconcile(fork, m.local.Text(), m.remote.Text(), m.gate)
			return InvokeResult{Kind: InvokeForkReconcile, Reconcile: &res}
		},
	}
}

func (m *Machine) scheduleAcquireLock() {
	m.pending = &Invoke{
		Kind: InvokeAcquireLock,
		run: func() InvokeResult {
			// The lock is per-document and per-machine; acquisition is
			// local bookkeeping and always succeeds here. The entering
			// state still exists so observers see the guard.
			return InvokeResult{Kind: InvokeAcquireLock}
		},
	}
}

// doneEventKind maps an invoke to its synthetic completion event, used for
// logging the run-to-completion step.
func doneEventKind(k InvokeKind) EventKind {
	switch k {
	case InvokeIdleMerge:
		return eventIdleMergeDone
	case InvokeForkReconcile:
		return eventForkReconcileDone
	default:
		return eventLockAcquired
	}
}

// Effect helpers.

func (m *Machine) writeDisk() Effect {
	// Record the expected content so the watcher's echo of this write is
	// recognized and not treated as an external edit.
	m.diskContent = m.local.Text()
	return Effect{Kind: EffectWriteDisk, Path: m.doc.Path, Contents: []byte(m.diskContent)}
}

func (m *Machine) syncToRemote(updates [][]byte) Effect {
	// Optimistically mirror pushed updates into the remote document; the
	// provider holds them once the push lands.
	for _, u := range updates {
		if err := m.remote.ApplyUpdate(u); err != nil {
			m.log.Warn("remote mirror rejected pushed update", "error", err)
		}
	}
	return Effect{Kind: EffectSyncToRemote, Updates: updates}
}

func (m *Machine) setStatus(status Status, effects []Effect) []Effect {
	if m.status == status {
		return effects
	}
	m.status = status
	m.log.Info("status changed", "status", string(status), "state", m.state.Path())
	return append(effects, Effect{Kind: EffectStatusChanged, Status: status})
}

func (m *Machine) persistState() Effect {
	return Effect{Kind: EffectPersistState, State: m.Snapshot()}
}

func (m *Machine) statusForState() Status {
	switch m.state {
	case StateIdleSynced:
		return StatusSynced
	case StateIdleDiskAhead:
		return StatusDiskAhead
	case StateIdleLocalAhead:
		return StatusLocalAhead
	case StateIdleDiverged:
		return StatusDiverged
	case StateActiveTracking, StateActiveEntering:
		return m.status
	default:
		return StatusOffline
	}
}

func (m *Machine) transition(next State) {
	if m.state == next {
		return
	}
	m.log.Debug("transition", "from", m.state.Path(), "to", next.Path())
	m.state = next
}

// invariantViolation fails loudly under Strict and no-ops defensively in
// production.
func (m *Machine) invariantViolation(msg string) {
	if m.strict {
		panic("merge: invariant violation: " + msg)
	}
	m.log.Error("invariant violation", "detail", msg)
}
