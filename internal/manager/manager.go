// Package manager wires the per-document merge machines to their
// collaborators: the disk watcher, the update store, the sync provider,
// and the editor surface. Each tracked document gets one worker goroutine
// that owns its machine; the manager routes events in and executes the
// effects that come out.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"docsyncd/internal/crdt"
	"docsyncd/internal/merge"
	"docsyncd/internal/provider"
	"docsyncd/internal/shadow"
	"docsyncd/internal/store"
	"docsyncd/internal/watcher"
)

// ErrNotTracked is returned for operations on a document the manager has
// not been asked to track.
var ErrNotTracked = errors.New("manager: document not tracked")

// EditorSink receives editor-bound effects. Implementations are called
// from worker goroutines and must be safe for concurrent use across
// documents.
type EditorSink interface {
	// ApplyEdits delivers range replacements for the document's buffer.
	ApplyEdits(doc merge.DocumentID, edits []merge.TextEdit)
	// StatusChanged reports a new banner status for the document.
	StatusChanged(doc merge.DocumentID, status merge.Status)
}

// NopEditor discards editor effects. Used when no editor is attached.
type NopEditor struct{}

func (NopEditor) ApplyEdits(merge.DocumentID, []merge.TextEdit) {}
func (NopEditor) StatusChanged(merge.DocumentID, merge.Status)  {}

// Config configures a Manager.
type Config struct {
	Store *store.Store
	Saver *store.StateSaver

	// Provider is the sync client, or nil for offline-only operation.
	Provider *provider.Client

	// Watcher feeds settled disk changes; may be nil in tests.
	Watcher *watcher.Watcher

	// Editor receives DISPATCH_EDITOR and status effects. Nil gets
	// NopEditor.
	Editor EditorSink

	FS     afero.Fs
	Logger *slog.Logger

	// Site identifies this replica in CRDT operations.
	Site string

	// Strict propagates to the machines; invariant violations panic.
	Strict bool

	// CompactThreshold is the update-log length that triggers compaction.
	// 0 disables compaction.
	CompactThreshold int

	// Shadow runs machines in shadow mode: effects become expectations
	// compared against reported legacy actions instead of being executed.
	Shadow bool

	// Effects, when set, receives every effect in emission order after it
	// is executed (or, in shadow mode, absorbed). The subscriber must
	// drain the feed.
	Effects *merge.Feed
}

// Manager owns the tracked document set.
type Manager struct {
	cfg Config
	fs  afero.Fs
	log *slog.Logger
	agg *shadow.Aggregator

	mu     sync.RWMutex
	byPath map[string]*worker
	byGUID map[uuid.UUID]*worker
	closed bool
	wg     sync.WaitGroup
}

// New creates a manager. The provider's callbacks must be built with
// Callbacks before its Run loop starts.
func New(cfg Config) *Manager {
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.Editor == nil {
		cfg.Editor = NopEditor{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Site == "" {
		cfg.Site = uuid.NewString()
	}
	return &Manager{
		cfg:    cfg,
		fs:     cfg.FS,
		log:    log,
		agg:    shadow.NewAggregator(),
		byPath: make(map[string]*worker),
		byGUID: make(map[uuid.UUID]*worker),
	}
}

// SetProvider attaches the sync client. Must be called before the first
// Track.
func (m *Manager) SetProvider(p *provider.Client) {
	m.cfg.Provider = p
}

// Callbacks returns the provider callbacks that route connectivity and
// remote updates into the tracked machines. Pass to provider.New.
func (m *Manager) Callbacks() provider.Callbacks {
	return provider.Callbacks{
		Connected: func() {
			m.broadcast(merge.Event{Kind: merge.EventConnected})
		},
		Disconnected: func() {
			m.broadcast(merge.Event{Kind: merge.EventDisconnected})
		},
		DocSynced: func(doc uuid.UUID) {
			m.routeGUID(doc, merge.Event{Kind: merge.EventProviderSynced})
		},
		Update: func(doc uuid.UUID, update []byte) {
			m.routeGUID(doc, merge.RemoteUpdateEvent(update))
		},
	}
}

// Track registers a document, loads its persisted updates and current disk
// state into a fresh machine, and subscribes it to the provider. Tracking
// an already tracked path is a no-op.
func (m *Manager) Track(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("manager: closed")
	}
	if _, ok := m.byPath[abs]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	id, err := m.cfg.Store.EnsureDoc(abs)
	if err != nil {
		return fmt.Errorf("registering %s: %w", abs, err)
	}

	updates, err := m.cfg.Store.LoadUpdates(id.GUID)
	if err != nil {
		return fmt.Errorf("loading updates for %s: %w", abs, err)
	}

	content, mtime, err := m.readDisk(abs)
	if err != nil {
		return fmt.Errorf("reading %s: %w", abs, err)
	}

	local := crdt.New(m.cfg.Site)
	remote := crdt.New(m.cfg.Site + "/mirror")
	machine := merge.New(merge.Config{
		Document: id,
		Local:    local,
		Remote:   remote,
		Logger:   m.log,
		Strict:   m.cfg.Strict,
	})

	w := newWorker(m, id, machine, local)
	if m.cfg.Shadow {
		w.obs = shadow.NewObserver(machine, id, m.agg, m.log)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("manager: closed")
	}
	m.byPath[abs] = w
	m.byGUID[id.GUID] = w
	m.mu.Unlock()

	m.wg.Add(1)
	go w.run()

	w.enqueueEvent(merge.LoadEvent(updates, content, mtime))
	m.log.Info("tracking document", "path", abs, "guid", id.GUID.String(), "updates", len(updates))
	return nil
}

// Untrack stops the document's worker. Persisted state is kept.
func (m *Manager) Untrack(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	w, ok := m.byPath[abs]
	if ok {
		delete(m.byPath, abs)
		delete(m.byGUID, w.id.GUID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotTracked
	}
	w.stop()
	return nil
}

// Run services the watcher until ctx is canceled. Disk changes for tracked
// paths become DISK_CHANGED events; changes under watched directories for
// unknown paths start tracking them.
func (m *Manager) Run(ctx context.Context) error {
	if m.cfg.Watcher == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-m.cfg.Watcher.Events():
			if !ok {
				return nil
			}
			m.handleDiskEvent(ev)
		case err, ok := <-m.cfg.Watcher.Errors():
			if !ok {
				return nil
			}
			m.log.Warn("watch error", "error", err)
		}
	}
}

// AcquireLock requests an active editing session for the document.
func (m *Manager) AcquireLock(path string) error {
	return m.routePath(path, merge.Event{Kind: merge.EventAcquireLock})
}

// ReleaseLock ends the document's active editing session.
func (m *Manager) ReleaseLock(path string) error {
	return m.routePath(path, merge.Event{Kind: merge.EventReleaseLock})
}

// EditorEdit applies editor buffer changes to the document.
func (m *Manager) EditorEdit(path string, edits ...merge.TextEdit) error {
	return m.routePath(path, merge.EditorEditEvent(edits...))
}

// SaveComplete reports an editor-initiated save of the document.
func (m *Manager) SaveComplete(path string, mtime time.Time, hash [32]byte) error {
	return m.routePath(path, merge.SaveCompleteEvent(mtime, hash))
}

// Snapshot returns the document's current merge state.
func (m *Manager) Snapshot(path string) (merge.Snapshot, error) {
	w, err := m.lookupPath(path)
	if err != nil {
		return merge.Snapshot{}, err
	}
	return w.snapshot(), nil
}

// Tracked returns the identities of all tracked documents.
func (m *Manager) Tracked() []merge.DocumentID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]merge.DocumentID, 0, len(m.byPath))
	for _, w := range m.byPath {
		out = append(out, w.id)
	}
	return out
}

// ReportLegacy feeds a legacy-system action into the document's shadow
// observer. Only meaningful in shadow mode.
func (m *Manager) ReportLegacy(path string, action shadow.LegacyAction) error {
	w, err := m.lookupPath(path)
	if err != nil {
		return err
	}
	w.enqueue(message{legacy: &action})
	return nil
}

// ShadowSummary flushes all observers' outstanding expectations and
// returns the session rollup.
func (m *Manager) ShadowSummary() shadow.Summary {
	m.mu.RLock()
	workers := make([]*worker, 0, len(m.byPath))
	for _, w := range m.byPath {
		workers = append(workers, w)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		w.enqueue(message{flush: func() { wg.Done() }})
	}
	wg.Wait()
	return m.agg.Summarize()
}

// Close stops all workers and waits for them to drain.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	workers := make([]*worker, 0, len(m.byPath))
	for _, w := range m.byPath {
		workers = append(workers, w)
	}
	m.byPath = make(map[string]*worker)
	m.byGUID = make(map[uuid.UUID]*worker)
	m.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	m.wg.Wait()
	return nil
}

func (m *Manager) handleDiskEvent(ev watcher.Event) {
	w, err := m.lookupPath(ev.Path)
	if errors.Is(err, ErrNotTracked) {
		// A new file appeared under a watched directory.
		if err := m.Track(ev.Path); err != nil {
			m.log.Warn("auto-track failed", "path", ev.Path, "error", err)
		}
		return
	}
	if err != nil {
		m.log.Warn("disk event dropped", "path", ev.Path, "error", err)
		return
	}
	w.enqueueEvent(merge.DiskChangedEvent(ev.Content, ev.Mtime))
}

func (m *Manager) lookupPath(path string) (*worker, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	w, ok := m.byPath[abs]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotTracked
	}
	return w, nil
}

func (m *Manager) routePath(path string, ev merge.Event) error {
	w, err := m.lookupPath(path)
	if err != nil {
		return err
	}
	w.enqueueEvent(ev)
	return nil
}

func (m *Manager) routeGUID(guid uuid.UUID, ev merge.Event) {
	m.mu.RLock()
	w, ok := m.byGUID[guid]
	m.mu.RUnlock()
	if !ok {
		m.log.Debug("event for untracked document", "guid", guid.String())
		return
	}
	w.enqueueEvent(ev)
}

func (m *Manager) broadcast(ev merge.Event) {
	m.mu.RLock()
	workers := make([]*worker, 0, len(m.byPath))
	for _, w := range m.byPath {
		workers = append(workers, w)
	}
	m.mu.RUnlock()
	for _, w := range workers {
		w.enqueueEvent(ev)
	}
}

func (m *Manager) readDisk(path string) ([]byte, time.Time, error) {
	content, err := afero.ReadFile(m.fs, path)
	if os.IsNotExist(err) {
		// Not on disk yet; the document starts empty.
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	info, err := m.fs.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return content, info.ModTime(), nil
}
