// Package merge implements the per-document merge state machine that
// reconciles the local CRDT document, the on-disk file, and the editor
// buffer, gated against a remote sync provider.
//
// The machine is a hierarchical state machine flattened into a state enum:
// composite states (idle, active) are encoded in the leaf values. Events go
// in, effects come out; the machine performs no I/O itself.
package merge

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the machine's current leaf state.
type State int

const (
	StateUnloaded State = iota
	StateIdleDiskAhead
	StateIdleLocalAhead
	StateIdleSynced
	StateIdleDiverged
	StateActiveEntering
	StateActiveTracking
)

// Path returns the hierarchical state path, e.g. "idle.diskAhead".
func (s State) Path() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateIdleDiskAhead:
		return "idle.diskAhead"
	case StateIdleLocalAhead:
		return "idle.localAhead"
	case StateIdleSynced:
		return "idle.synced"
	case StateIdleDiverged:
		return "idle.diverged"
	case StateActiveEntering:
		return "active.entering"
	case StateActiveTracking:
		return "active.tracking"
	default:
		return "unknown"
	}
}

// Matches reports whether the state path equals pattern or lies under it:
// "idle" matches every idle sub-state, "idle.synced" matches exactly.
func (s State) Matches(pattern string) bool {
	path := s.Path()
	return path == pattern || strings.HasPrefix(path, pattern+".")
}

func (s State) idle() bool   { return s >= StateIdleDiskAhead && s <= StateIdleDiverged }
func (s State) active() bool { return s == StateActiveEntering || s == StateActiveTracking }

// Status is the user-visible synchronization status.
type Status string

const (
	StatusSynced     Status = "synced"
	StatusDiskAhead  Status = "diskAhead"
	StatusLocalAhead Status = "localAhead"
	StatusDiverged   Status = "diverged"
	StatusOffline    Status = "offline"
)

// DocumentID identifies a tracked document. The GUID is immutable once
// loaded; the path may change under rename without changing the GUID.
type DocumentID struct {
	GUID uuid.UUID `json:"guid"`
	Path string    `json:"path"`
}

// Conflict holds both candidate contents of an unresolved divergence.
// Nothing is discarded: the conflict is retained until externally resolved.
type Conflict struct {
	Base   string `json:"base"`
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// ForkInfo is the externally visible slice of a fork.
type ForkInfo struct {
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a read-only view of MergeState for persistence and
// diagnostics. It is safe to retain: all fields are copies.
type Snapshot struct {
	Document       DocumentID `json:"document"`
	StatePath      string     `json:"state_path"`
	Status         Status     `json:"status"`
	Fork           *ForkInfo  `json:"fork,omitempty"`
	IsOnline       bool       `json:"is_online"`
	PendingInbound int        `json:"pending_inbound"`
	Conflict       *Conflict  `json:"conflict,omitempty"`
	DiskMtime      time.Time  `json:"disk_mtime"`
}
