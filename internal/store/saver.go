package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"docsyncd/internal/merge"
)

// StateSaver coalesces snapshot writes per document so a burst of machine
// transitions costs one row update instead of one per effect. Only the
// newest snapshot per document survives a flush interval.
type StateSaver struct {
	store    *Store
	interval time.Duration
	log      *slog.Logger

	mu    sync.Mutex
	dirty map[uuid.UUID]merge.Snapshot

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewStateSaver creates a saver flushing at the given interval.
func NewStateSaver(store *Store, interval time.Duration, logger *slog.Logger) *StateSaver {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateSaver{
		store:    store,
		interval: interval,
		log:      logger,
		dirty:    make(map[uuid.UUID]merge.Snapshot),
		stop:     make(chan struct{}),
	}
}

// Start launches the flush loop.
func (sv *StateSaver) Start() {
	sv.wg.Add(1)
	go sv.run()
}

// Stop flushes pending snapshots and stops the loop.
func (sv *StateSaver) Stop() {
	close(sv.stop)
	sv.wg.Wait()
	sv.flush()
}

// Queue records a snapshot for the next flush, superseding any earlier
// snapshot for the same document.
func (sv *StateSaver) Queue(snap merge.Snapshot) {
	sv.mu.Lock()
	sv.dirty[snap.Document.GUID] = snap
	sv.mu.Unlock()
}

func (sv *StateSaver) run() {
	defer sv.wg.Done()
	ticker := time.NewTicker(sv.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sv.flush()
		case <-sv.stop:
			return
		}
	}
}

func (sv *StateSaver) flush() {
	sv.mu.Lock()
	if len(sv.dirty) == 0 {
		sv.mu.Unlock()
		return
	}
	batch := sv.dirty
	sv.dirty = make(map[uuid.UUID]merge.Snapshot)
	sv.mu.Unlock()

	for _, snap := range batch {
		if err := sv.store.SaveState(snap); err != nil {
			sv.log.Error("persisting snapshot failed",
				"doc", snap.Document.GUID.String(), "error", err)
		}
	}
}
