package manager

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/spf13/afero"

	"docsyncd/internal/crdt"
	"docsyncd/internal/merge"
	"docsyncd/internal/provider"
	"docsyncd/internal/shadow"
)

// message is one unit of work for a worker: an event for the machine, a
// legacy action for the shadow observer, or a flush request.
type message struct {
	ev     *merge.Event
	legacy *shadow.LegacyAction
	flush  func()
}

// worker owns one document's machine and runs it on a dedicated goroutine.
// The machine is single-threaded; everything reaches it through the
// worker's inbox.
type worker struct {
	mgr     *Manager
	id      merge.DocumentID
	machine *merge.Machine
	local   crdt.Document
	obs     *shadow.Observer
	log     *slog.Logger

	inbox chan message
	done  chan struct{}
	once  sync.Once

	snapMu   sync.RWMutex
	lastSnap merge.Snapshot
}

func newWorker(mgr *Manager, id merge.DocumentID, machine *merge.Machine, local crdt.Document) *worker {
	return &worker{
		mgr:      mgr,
		id:       id,
		machine:  machine,
		local:    local,
		log:      mgr.log.With("doc", id.GUID.String(), "path", id.Path),
		inbox:    make(chan message, 256),
		done:     make(chan struct{}),
		lastSnap: machine.Snapshot(),
	}
}

func (w *worker) enqueueEvent(ev merge.Event) {
	w.enqueue(message{ev: &ev})
}

func (w *worker) enqueue(msg message) {
	select {
	case w.inbox <- msg:
	case <-w.done:
		if msg.flush != nil {
			msg.flush()
		}
	}
}

func (w *worker) stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *worker) snapshot() merge.Snapshot {
	w.snapMu.RLock()
	defer w.snapMu.RUnlock()
	return w.lastSnap
}

func (w *worker) run() {
	defer w.mgr.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case msg := <-w.inbox:
			w.handle(msg)
		}
	}
}

func (w *worker) handle(msg message) {
	switch {
	case msg.ev != nil:
		w.dispatch(*msg.ev)
	case msg.legacy != nil:
		if w.obs != nil {
			w.obs.ReportLegacy(*msg.legacy)
		}
	case msg.flush != nil:
		if w.obs != nil {
			w.obs.Flush()
		}
		msg.flush()
	}
}

func (w *worker) dispatch(ev merge.Event) {
	var produced []merge.Effect
	if w.obs != nil {
		// Shadow mode: the observer absorbs externally visible effects as
		// expectations. Persistence still runs so the shadow log stays
		// current across restarts.
		produced = w.obs.Observe(ev)
		for _, e := range produced {
			if e.Kind == merge.EffectPersistUpdates || e.Kind == merge.EffectPersistState {
				w.execute(e)
			}
		}
	} else {
		produced = w.machine.Dispatch(ev)
		produced = append(produced, w.machine.Settle()...)
		for _, e := range produced {
			w.execute(e)
		}
	}

	if feed := w.mgr.cfg.Effects; feed != nil {
		feed.Emit(produced...)
	}

	w.snapMu.Lock()
	w.lastSnap = w.machine.Snapshot()
	w.snapMu.Unlock()

	// The initial sync request needs the state vector of the loaded
	// document, so the subscription waits until LOAD has been applied.
	if ev.Kind == merge.EventLoad && w.mgr.cfg.Provider != nil {
		w.mgr.cfg.Provider.Track(w.id.GUID, w.local.EncodeStateVector())
	}
}

func (w *worker) execute(e merge.Effect) {
	switch e.Kind {
	case merge.EffectWriteDisk:
		if err := afero.WriteFile(w.mgr.fs, e.Path, e.Contents, 0o644); err != nil {
			w.log.Error("disk write failed", "error", err)
		}

	case merge.EffectDispatchEditor:
		w.mgr.cfg.Editor.ApplyEdits(w.id, e.Changes)

	case merge.EffectSyncToRemote:
		if w.mgr.cfg.Provider == nil {
			return
		}
		if err := w.mgr.cfg.Provider.Push(w.id.GUID, e.Updates); err != nil {
			if errors.Is(err, provider.ErrNotConnected) {
				w.log.Debug("push skipped, provider offline")
				return
			}
			w.log.Warn("push failed", "error", err)
		}

	case merge.EffectStatusChanged:
		w.log.Info("status changed", "status", string(e.Status))
		w.mgr.cfg.Editor.StatusChanged(w.id, e.Status)

	case merge.EffectPersistState:
		if w.mgr.cfg.Saver != nil {
			w.mgr.cfg.Saver.Queue(e.State)
		}

	case merge.EffectPersistUpdates:
		if err := w.mgr.cfg.Store.AppendUpdates(w.id.GUID, e.Updates); err != nil {
			w.log.Error("update append failed", "error", err)
			return
		}
		w.maybeCompact()
	}
}

// maybeCompact collapses the document's update log into one snapshot update
// once it crosses the configured threshold.
func (w *worker) maybeCompact() {
	threshold := w.mgr.cfg.CompactThreshold
	if threshold <= 0 {
		return
	}
	n, err := w.mgr.cfg.Store.UpdateCount(w.id.GUID)
	if err != nil {
		w.log.Warn("update count failed", "error", err)
		return
	}
	if n < threshold {
		return
	}
	if err := w.mgr.cfg.Store.CompactUpdates(w.id.GUID, w.local.EncodeStateAsUpdate()); err != nil {
		w.log.Warn("compaction failed", "error", err)
		return
	}
	w.log.Info("update log compacted", "had", n)
}
