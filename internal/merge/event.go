package merge

import (
	"fmt"
	"time"
)

// EventKind discriminates machine inputs.
type EventKind int

const (
	EventLoad EventKind = iota
	EventAcquireLock
	EventReleaseLock
	EventDiskChanged
	EventEditorEdit
	EventSaveComplete
	EventConnected
	EventDisconnected
	EventProviderSynced
	EventRemoteUpdate
	// Internal completions, synthesized from invoke results.
	eventIdleMergeDone
	eventForkReconcileDone
	eventLockAcquired
)

func (k EventKind) String() string {
	switch k {
	case EventLoad:
		return "LOAD"
	case EventAcquireLock:
		return "ACQUIRE_LOCK"
	case EventReleaseLock:
		return "RELEASE_LOCK"
	case EventDiskChanged:
		return "DISK_CHANGED"
	case EventEditorEdit:
		return "EDITOR_EDIT"
	case EventSaveComplete:
		return "SAVE_COMPLETE"
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventProviderSynced:
		return "PROVIDER_SYNCED"
	case EventRemoteUpdate:
		return "REMOTE_UPDATE"
	case eventIdleMergeDone:
		return "done.invoke.idle-merge"
	case eventForkReconcileDone:
		return "done.invoke.fork-reconcile"
	case eventLockAcquired:
		return "done.invoke.acquire-lock"
	default:
		return fmt.Sprintf("EVENT(%d)", int(k))
	}
}

// TextEdit is a single range replacement in visible-character coordinates:
// delete [Start, End) then insert Insert at Start.
type TextEdit struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Insert string `json:"insert"`
}

// Event is the tagged variant of all machine inputs. Only the fields for
// the given Kind are meaningful.
type Event struct {
	Kind EventKind

	// LOAD: persisted updates and current disk state.
	// DISK_CHANGED: new disk content and mtime.
	Updates [][]byte
	Content []byte
	Mtime   time.Time

	// EDITOR_EDIT: ordered range replacements from the editor buffer.
	Edits []TextEdit

	// SAVE_COMPLETE: observed mtime and content hash of the saved file.
	Hash [32]byte

	// REMOTE_UPDATE: one CRDT update delivered by the provider.
	Update []byte
}

// LoadEvent builds a LOAD event from persisted updates and disk state.
func LoadEvent(updates [][]byte, diskContent []byte, mtime time.Time) Event {
	return Event{Kind: EventLoad, Updates: updates, Content: diskContent, Mtime: mtime}
}

// DiskChangedEvent builds a DISK_CHANGED event.
func DiskChangedEvent(content []byte, mtime time.Time) Event {
	return Event{Kind: EventDiskChanged, Content: content, Mtime: mtime}
}

// EditorEditEvent builds an EDITOR_EDIT event.
func EditorEditEvent(edits ...TextEdit) Event {
	return Event{Kind: EventEditorEdit, Edits: edits}
}

// SaveCompleteEvent builds a SAVE_COMPLETE event.
func SaveCompleteEvent(mtime time.Time, hash [32]byte) Event {
	return Event{Kind: EventSaveComplete, Mtime: mtime, Hash: hash}
}

// RemoteUpdateEvent builds a REMOTE_UPDATE event.
func RemoteUpdateEvent(update []byte) Event {
	return Event{Kind: EventRemoteUpdate, Update: update}
}
