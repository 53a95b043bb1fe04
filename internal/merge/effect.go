package merge

import "fmt"

// EffectKind discriminates machine outputs.
type EffectKind int

const (
	EffectWriteDisk EffectKind = iota
	EffectDispatchEditor
	EffectSyncToRemote
	EffectStatusChanged
	EffectPersistState
	EffectPersistUpdates
)

func (k EffectKind) String() string {
	switch k {
	case EffectWriteDisk:
		return "WRITE_DISK"
	case EffectDispatchEditor:
		return "DISPATCH_EDITOR"
	case EffectSyncToRemote:
		return "SYNC_TO_REMOTE"
	case EffectStatusChanged:
		return "STATUS_CHANGED"
	case EffectPersistState:
		return "PERSIST_STATE"
	case EffectPersistUpdates:
		return "PERSIST_UPDATES"
	default:
		return fmt.Sprintf("EFFECT(%d)", int(k))
	}
}

// Effect is a pure description of a side effect for a collaborator to
// execute. The machine never performs the underlying I/O.
type Effect struct {
	Kind EffectKind

	// WRITE_DISK: target path and full contents.
	Path     string
	Contents []byte

	// DISPATCH_EDITOR: ordered range replacements for the editor buffer.
	Changes []TextEdit

	// SYNC_TO_REMOTE / PERSIST_UPDATES: CRDT updates to push or log.
	Updates [][]byte

	// STATUS_CHANGED: new user-visible status.
	Status Status

	// PERSIST_STATE: snapshot to persist (debounced by the store layer).
	State Snapshot
}

// Feed delivers effects to a collaborator in emission order over a buffered
// channel. The consumer must drain the channel; when the buffer fills, Emit
// blocks rather than drop or reorder effects.
type Feed struct {
	ch chan Effect
}

// NewFeed creates a feed with the given buffer size.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{ch: make(chan Effect, buffer)}
}

// Effects returns the receive side of the feed.
func (f *Feed) Effects() <-chan Effect { return f.ch }

// Emit publishes effects in order.
func (f *Feed) Emit(effects ...Effect) {
	for _, e := range effects {
		f.ch <- e
	}
}

// Close closes the feed. Emit must not be called afterwards.
func (f *Feed) Close() { close(f.ch) }
