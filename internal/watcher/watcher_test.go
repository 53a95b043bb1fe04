package watcher

import (
	"crypto/sha256"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, dir string, debounce time.Duration, exts ...string) *Watcher {
	t.Helper()
	w, err := New(Config{
		Paths:      []string{dir},
		Extensions: exts,
		Debounce:   debounce,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestWatcherCreation(t *testing.T) {
	w := newTestWatcher(t, t.TempDir(), time.Second)

	if len(w.WatchedPaths()) != 1 {
		t.Errorf("expected 1 watched path, got %d", len(w.WatchedPaths()))
	}
	if w.PendingFiles() != 0 {
		t.Errorf("expected 0 pending files before start, got %d", w.PendingFiles())
	}
	if err := w.fsWatcher.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestWatcherEmitsContent(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, tmpDir, 200*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	testFile := filepath.Join(tmpDir, "doc.md")
	content := []byte("# heading\n\nbody text\n")
	if err := os.WriteFile(testFile, content, 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case event := <-w.Events():
		if event.Path != testFile {
			t.Errorf("path = %s, want %s", event.Path, testFile)
		}
		if string(event.Content) != string(content) {
			t.Errorf("content = %q", event.Content)
		}
		if event.Hash != sha256.Sum256(content) {
			t.Error("hash does not match content")
		}
		if event.Size != int64(len(content)) {
			t.Errorf("size = %d, want %d", event.Size, len(content))
		}
		if event.Mtime.IsZero() {
			t.Error("mtime not recorded")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, tmpDir, time.Second)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	testFile := filepath.Join(tmpDir, "burst.md")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(testFile, []byte("v"+string(rune('0'+i))), 0600); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	eventCount := 0
	timeout := time.After(4 * time.Second)
	for {
		select {
		case event := <-w.Events():
			eventCount++
			if eventCount > 1 {
				t.Fatal("burst produced more than one event")
			}
			if string(event.Content) != "v4" {
				t.Errorf("event carries stale content %q", event.Content)
			}
		case <-timeout:
			if eventCount != 1 {
				t.Fatalf("expected 1 event, got %d", eventCount)
			}
			return
		}
	}
}

func TestWatcherFiltersExtensions(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, tmpDir, 200*time.Millisecond, ".md")
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	ignored := filepath.Join(tmpDir, "ignored.bin")
	wanted := filepath.Join(tmpDir, "wanted.md")
	if err := os.WriteFile(ignored, []byte("binary"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(wanted, []byte("document"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case event := <-w.Events():
		if event.Path != wanted {
			t.Fatalf("unexpected event for %s", event.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Nothing further should arrive for the filtered file.
	select {
	case event := <-w.Events():
		t.Fatalf("filtered file produced an event: %s", event.Path)
	case <-time.After(time.Second):
	}
}

func TestWatcherRearmsAfterEmit(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, tmpDir, 200*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	testFile := filepath.Join(tmpDir, "doc.md")
	if err := os.WriteFile(testFile, []byte("first"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-w.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for first event")
	}

	if err := os.WriteFile(testFile, []byte("second"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case event := <-w.Events():
		if string(event.Content) != "second" {
			t.Errorf("content = %q, want second", event.Content)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for second event")
	}
}
