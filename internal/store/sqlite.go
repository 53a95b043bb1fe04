// Package store persists the per-document CRDT update log and machine
// snapshots in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"docsyncd/internal/crdt"
	"docsyncd/internal/merge"
)

// Schema for the docsyncd document store.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
    guid        BLOB PRIMARY KEY,
    path        TEXT NOT NULL UNIQUE,
    created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS updates (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    doc_guid    BLOB NOT NULL REFERENCES documents(guid),
    payload     BLOB NOT NULL,
    appended_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_updates_doc ON updates(doc_guid, id);

CREATE TABLE IF NOT EXISTS doc_state (
    doc_guid    BLOB PRIMARY KEY REFERENCES documents(guid),
    state_path  TEXT NOT NULL,
    status      TEXT NOT NULL,
    snapshot    TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);
`

// Store is the SQLite-backed document store.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens or creates the SQLite database at the given path and applies
// the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, log: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// IsReady reports whether the store can serve queries.
func (s *Store) IsReady() bool {
	if s.db == nil {
		return false
	}
	var one int
	return s.db.QueryRow(`SELECT 1`).Scan(&one) == nil
}

// EnsureDoc returns the identity for the document at path, minting a new
// GUID on first sight. The GUID is stable across renames; the path column
// follows the file.
func (s *Store) EnsureDoc(path string) (merge.DocumentID, error) {
	var guidBytes []byte
	err := s.db.QueryRow(`SELECT guid FROM documents WHERE path = ?`, path).Scan(&guidBytes)
	if err == nil {
		guid, err := uuid.FromBytes(guidBytes)
		if err != nil {
			return merge.DocumentID{}, fmt.Errorf("stored guid malformed: %w", err)
		}
		return merge.DocumentID{GUID: guid, Path: path}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return merge.DocumentID{}, fmt.Errorf("look up document: %w", err)
	}

	guid := uuid.New()
	_, err = s.db.Exec(`INSERT INTO documents (guid, path, created_at) VALUES (?, ?, ?)`,
		guid[:], path, time.Now().UnixNano())
	if err != nil {
		return merge.DocumentID{}, fmt.Errorf("insert document: %w", err)
	}
	return merge.DocumentID{GUID: guid, Path: path}, nil
}

// RenameDoc moves a document to a new path, keeping its GUID.
func (s *Store) RenameDoc(guid uuid.UUID, newPath string) error {
	result, err := s.db.Exec(`UPDATE documents SET path = ? WHERE guid = ?`, newPath, guid[:])
	if err != nil {
		return fmt.Errorf("rename document: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document not found: %s", guid)
	}
	return nil
}

// ListDocs returns the identities of all tracked documents.
func (s *Store) ListDocs() ([]merge.DocumentID, error) {
	rows, err := s.db.Query(`SELECT guid, path FROM documents ORDER BY path ASC`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []merge.DocumentID
	for rows.Next() {
		var guidBytes []byte
		var path string
		if err := rows.Scan(&guidBytes, &path); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		guid, err := uuid.FromBytes(guidBytes)
		if err != nil {
			return nil, fmt.Errorf("stored guid malformed: %w", err)
		}
		docs = append(docs, merge.DocumentID{GUID: guid, Path: path})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// AppendUpdate appends one CRDT update to a document's log. The update is
// validated before it is written; a corrupt payload never enters the log.
func (s *Store) AppendUpdate(guid uuid.UUID, update []byte) error {
	if err := crdt.ValidateUpdate(update); err != nil {
		return fmt.Errorf("refusing corrupt update: %w", err)
	}
	_, err := s.db.Exec(`INSERT INTO updates (doc_guid, payload, appended_at) VALUES (?, ?, ?)`,
		guid[:], update, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("append update: %w", err)
	}
	return nil
}

// AppendUpdates appends a batch of updates in one transaction.
func (s *Store) AppendUpdates(guid uuid.UUID, updates [][]byte) error {
	if len(updates) == 0 {
		return nil
	}
	for _, u := range updates {
		if err := crdt.ValidateUpdate(u); err != nil {
			return fmt.Errorf("refusing corrupt update: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO updates (doc_guid, payload, appended_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, u := range updates {
		if _, err := stmt.Exec(guid[:], u, now); err != nil {
			return fmt.Errorf("append update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadUpdates returns a document's update log in append order. Records
// that fail validation are dropped with a diagnostic rather than poisoning
// the load; the document rebuilds from the surviving records.
func (s *Store) LoadUpdates(guid uuid.UUID) ([][]byte, error) {
	rows, err := s.db.Query(`SELECT id, payload FROM updates WHERE doc_guid = ? ORDER BY id ASC`, guid[:])
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	var updates [][]byte
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		if err := crdt.ValidateUpdate(payload); err != nil {
			s.log.Warn("dropping corrupt update record",
				"doc", guid.String(), "record", id, "error", err)
			continue
		}
		updates = append(updates, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return updates, nil
}

// UpdateCount returns the number of log records for a document.
func (s *Store) UpdateCount(guid uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM updates WHERE doc_guid = ?`, guid[:]).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count updates: %w", err)
	}
	return n, nil
}

// CompactUpdates replaces a document's update log with a single state
// snapshot update, atomically.
func (s *Store) CompactUpdates(guid uuid.UUID, snapshot []byte) error {
	if err := crdt.ValidateUpdate(snapshot); err != nil {
		return fmt.Errorf("refusing corrupt snapshot: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM updates WHERE doc_guid = ?`, guid[:]); err != nil {
		return fmt.Errorf("clear update log: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO updates (doc_guid, payload, appended_at) VALUES (?, ?, ?)`,
		guid[:], snapshot, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("insert snapshot update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SaveState upserts a machine snapshot for a document.
func (s *Store) SaveState(snap merge.Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO doc_state (doc_guid, state_path, status, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		snap.Document.GUID[:], snap.StatePath, string(snap.Status), string(blob), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadState returns the last persisted snapshot for a document, or nil if
// none was saved.
func (s *Store) LoadState(guid uuid.UUID) (*merge.Snapshot, error) {
	var blob string
	err := s.db.QueryRow(`SELECT snapshot FROM doc_state WHERE doc_guid = ?`, guid[:]).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}

	var snap merge.Snapshot
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
