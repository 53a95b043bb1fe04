// Package watcher monitors tracked documents for disk changes and emits
// debounced change events carrying the file's content.
package watcher

import (
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// Event is one settled disk change. Content is the full file at the time
// the change stabilized; documents are small text files, so whole-file
// reads are fine.
type Event struct {
	Path    string
	Content []byte
	Hash    [32]byte
	Size    int64
	Mtime   time.Time
}

// Watcher monitors directories and files for document changes. Raw
// fsnotify events are debounced: a burst of writes from an editor save or
// an rsync run collapses into one event once the file goes quiet.
type Watcher struct {
	fs        afero.Fs
	fsWatcher *fsnotify.Watcher
	paths     []string
	exts      map[string]bool
	debounce  time.Duration
	log       *slog.Logger

	// State tracking: path -> time of last raw change
	state   map[string]time.Time
	stateMu sync.RWMutex

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// Config configures a Watcher.
type Config struct {
	// Paths are files or directories to watch.
	Paths []string
	// Extensions filters directory entries, e.g. [".md", ".txt"].
	// Empty means all files.
	Extensions []string
	// Debounce is how long a file must stay quiet before its change is
	// reported.
	Debounce time.Duration

	FS     afero.Fs
	Logger *slog.Logger
}

// New creates a watcher. Start begins delivery.
func New(cfg Config) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(e)] = true
	}

	return &Watcher{
		fs:        cfg.FS,
		fsWatcher: fsWatcher,
		paths:     cfg.Paths,
		exts:      exts,
		debounce:  cfg.Debounce,
		log:       log,
		state:     make(map[string]time.Time),
		events:    make(chan Event, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of settled disk changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching all configured paths.
func (w *Watcher) Start() error {
	for _, path := range w.paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return err
		}

		if info.IsDir() {
			if err := w.fsWatcher.Add(absPath); err != nil {
				return err
			}
		} else {
			// Watch single file by watching its directory; editors that
			// save via rename replace the inode.
			if err := w.fsWatcher.Add(filepath.Dir(absPath)); err != nil {
				return err
			}
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// wants reports whether a path is a document we track.
func (w *Watcher) wants(path string) bool {
	if len(w.exts) == 0 {
		return true
	}
	return w.exts[strings.ToLower(filepath.Ext(path))]
}

// eventLoop folds raw fsnotify events into the state map.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			// Writes, creates and renames all mean the content may have
			// changed; atomic-save editors rename a temp file into place.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !w.wants(event.Name) {
				continue
			}

			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}

			w.stateMu.Lock()
			w.state[event.Name] = time.Now()
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				w.log.Warn("watch error dropped", "error", err)
			}
		}
	}
}

// debounceLoop emits events for files that have gone quiet.
func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	tick := w.debounce / 4
	if tick < 25*time.Millisecond {
		tick = 25 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.emitQuietFiles(now)
		}
	}
}

// quietFile is a file whose change burst has settled.
type quietFile struct {
	path    string
	lastMod time.Time
}

// emitQuietFiles reads and reports files untouched for the debounce
// window. The lock is released during file I/O so eventLoop never stalls.
func (w *Watcher) emitQuietFiles(now time.Time) {
	threshold := now.Add(-w.debounce)

	var quiet []quietFile
	w.stateMu.RLock()
	for path, lastMod := range w.state {
		if lastMod.Before(threshold) {
			quiet = append(quiet, quietFile{path: path, lastMod: lastMod})
		}
	}
	w.stateMu.RUnlock()

	if len(quiet) == 0 {
		return
	}

	type readResult struct {
		quietFile
		content []byte
		mtime   time.Time
		err     error
	}
	results := make([]readResult, 0, len(quiet))
	for _, qf := range quiet {
		content, err := afero.ReadFile(w.fs, qf.path)
		r := readResult{quietFile: qf, content: content, err: err}
		if err == nil {
			if info, serr := w.fs.Stat(qf.path); serr == nil {
				r.mtime = info.ModTime()
			}
		}
		results = append(results, r)
	}

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	for _, r := range results {
		if r.err != nil {
			// Deleted mid-burst or unreadable; forget it until the next
			// raw event re-arms it.
			delete(w.state, r.path)
			select {
			case w.errors <- r.err:
			default:
			}
			continue
		}

		// Re-armed during the read: let it stabilize again.
		current, exists := w.state[r.path]
		if !exists || current != r.lastMod {
			continue
		}

		event := Event{
			Path:    r.path,
			Content: r.content,
			Hash:    sha256.Sum256(r.content),
			Size:    int64(len(r.content)),
			Mtime:   r.mtime,
		}

		select {
		case w.events <- event:
			delete(w.state, r.path)
		default:
			// Channel full; try again next tick.
		}
	}
}

// WatchedPaths returns the configured watch roots.
func (w *Watcher) WatchedPaths() []string {
	return w.paths
}

// PendingFiles returns the number of files waiting out their debounce.
func (w *Watcher) PendingFiles() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.state)
}
