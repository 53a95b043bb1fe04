package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsyncd/internal/crdt"
	"docsyncd/internal/merge"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(filepath.Join(t.TempDir(), "docs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeUpdate(t *testing.T, text string) []byte {
	t.Helper()
	doc := crdt.New("test")
	update, err := doc.Splice(0, 0, text)
	require.NoError(t, err)
	return update
}

func TestIsReady(t *testing.T) {
	s := testStore(t)
	assert.True(t, s.IsReady(), "fresh store not ready")
	s.Close()
	assert.False(t, s.IsReady(), "ready after close")
}

func TestEnsureDocStableGUID(t *testing.T) {
	s := testStore(t)

	first, err := s.EnsureDoc("/notes/a.md")
	require.NoError(t, err)
	again, err := s.EnsureDoc("/notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, first.GUID, again.GUID, "GUID changed across lookups")

	other, err := s.EnsureDoc("/notes/b.md")
	require.NoError(t, err)
	assert.NotEqual(t, first.GUID, other.GUID, "distinct paths share a GUID")
}

func TestRenameDocKeepsGUID(t *testing.T) {
	s := testStore(t)

	doc, err := s.EnsureDoc("/notes/old.md")
	require.NoError(t, err)
	require.NoError(t, s.RenameDoc(doc.GUID, "/notes/new.md"))

	moved, err := s.EnsureDoc("/notes/new.md")
	require.NoError(t, err)
	assert.Equal(t, doc.GUID, moved.GUID, "rename minted a new GUID")
}

func TestAppendAndLoadUpdates(t *testing.T) {
	s := testStore(t)
	doc, err := s.EnsureDoc("/notes/a.md")
	require.NoError(t, err)

	u1 := makeUpdate(t, "hello")
	u2 := makeUpdate(t, "world")
	require.NoError(t, s.AppendUpdate(doc.GUID, u1))
	require.NoError(t, s.AppendUpdates(doc.GUID, [][]byte{u2}))

	got, err := s.LoadUpdates(doc.GUID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, u1, got[0], "updates out of append order")
	assert.Equal(t, u2, got[1], "updates out of append order")
}

func TestAppendRejectsCorruptUpdate(t *testing.T) {
	s := testStore(t)
	doc, err := s.EnsureDoc("/notes/a.md")
	require.NoError(t, err)

	assert.Error(t, s.AppendUpdate(doc.GUID, []byte("not an update")))
	n, err := s.UpdateCount(doc.GUID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "corrupt update reached the log")
}

func TestLoadUpdatesDropsCorruptRecords(t *testing.T) {
	s := testStore(t)
	doc, err := s.EnsureDoc("/notes/a.md")
	require.NoError(t, err)

	good := makeUpdate(t, "survives")
	require.NoError(t, s.AppendUpdate(doc.GUID, good))
	// Simulate on-disk corruption behind the API's back.
	_, err = s.db.Exec(`INSERT INTO updates (doc_guid, payload, appended_at) VALUES (?, ?, ?)`,
		doc.GUID[:], []byte("corrupted row"), time.Now().UnixNano())
	require.NoError(t, err)

	got, err := s.LoadUpdates(doc.GUID)
	require.NoError(t, err)
	require.Len(t, got, 1, "corrupt record not filtered")
	assert.Equal(t, good, got[0])
}

func TestCompactUpdates(t *testing.T) {
	s := testStore(t)
	doc, err := s.EnsureDoc("/notes/a.md")
	require.NoError(t, err)

	crdtDoc := crdt.New("c")
	var updates [][]byte
	for _, text := range []string{"a", "b", "c"} {
		u, err := crdtDoc.Splice(crdtDoc.Len(), 0, text)
		require.NoError(t, err)
		updates = append(updates, u)
	}
	require.NoError(t, s.AppendUpdates(doc.GUID, updates))

	require.NoError(t, s.CompactUpdates(doc.GUID, crdtDoc.EncodeStateAsUpdate()))
	n, err := s.UpdateCount(doc.GUID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "log not compacted")

	// The compacted log must rebuild the same content.
	loaded, err := s.LoadUpdates(doc.GUID)
	require.NoError(t, err)
	rebuilt := crdt.New("rebuild")
	for _, u := range loaded {
		require.NoError(t, rebuilt.ApplyUpdate(u))
	}
	assert.Equal(t, "abc", rebuilt.Text())
}

func TestSaveAndLoadState(t *testing.T) {
	s := testStore(t)
	doc, err := s.EnsureDoc("/notes/a.md")
	require.NoError(t, err)

	snap := merge.Snapshot{
		Document:  doc,
		StatePath: "idle.diverged",
		Status:    merge.StatusDiverged,
		Conflict:  &merge.Conflict{Base: "b", Local: "l", Remote: "r"},
	}
	require.NoError(t, s.SaveState(snap))

	loaded, err := s.LoadState(doc.GUID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "idle.diverged", loaded.StatePath)
	assert.Equal(t, merge.StatusDiverged, loaded.Status)
	require.NotNil(t, loaded.Conflict, "conflict lost")
	assert.Equal(t, "r", loaded.Conflict.Remote)

	// Upsert keeps one row per document.
	snap.StatePath = "idle.synced"
	snap.Status = merge.StatusSynced
	snap.Conflict = nil
	require.NoError(t, s.SaveState(snap))
	loaded, err = s.LoadState(doc.GUID)
	require.NoError(t, err)
	assert.Equal(t, "idle.synced", loaded.StatePath, "upsert did not replace")
	assert.Nil(t, loaded.Conflict, "upsert did not replace")
}

func TestLoadStateMissing(t *testing.T) {
	s := testStore(t)
	doc, err := s.EnsureDoc("/notes/a.md")
	require.NoError(t, err)

	loaded, err := s.LoadState(doc.GUID)
	require.NoError(t, err)
	assert.Nil(t, loaded, "expected nil for unsaved state")
}

func TestStateSaverCoalesces(t *testing.T) {
	s := testStore(t)
	doc, err := s.EnsureDoc("/notes/a.md")
	require.NoError(t, err)

	sv := NewStateSaver(s, time.Hour, nil) // flush only on Stop
	sv.Start()
	sv.Queue(merge.Snapshot{Document: doc, StatePath: "idle.diskAhead", Status: merge.StatusDiskAhead})
	sv.Queue(merge.Snapshot{Document: doc, StatePath: "idle.synced", Status: merge.StatusSynced})
	sv.Stop()

	loaded, err := s.LoadState(doc.GUID)
	require.NoError(t, err)
	require.NotNil(t, loaded, "saver dropped the snapshot")
	assert.Equal(t, "idle.synced", loaded.StatePath, "saver kept stale snapshot")
}
