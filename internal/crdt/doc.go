// Package crdt implements the replicated text document used by the merge core.
//
// The document is an RGA-style sequence CRDT: every character carries a
// globally unique ID (site, per-site sequence) and an origin (the ID of its
// left neighbour at creation time). Concurrent inserts at the same origin are
// ordered by Lamport clock, then site ID, so all replicas converge without
// coordination. Deletes are tombstones.
//
// A single Doc is owned by exactly one merge state machine and is not safe
// for concurrent use.
package crdt

import (
	"errors"
	"fmt"
	"time"
)

// Document is the operation surface the merge core consumes. Implemented by
// Doc; test doubles may substitute their own.
type Document interface {
	// ApplyUpdate integrates a remote update. Unknown operations are
	// applied, already-seen operations are skipped. Returns an error if
	// the update is corrupt; the document is never partially mutated by
	// a corrupt update.
	ApplyUpdate(update []byte) error

	// EncodeStateAsUpdate encodes the full operation history as one update.
	EncodeStateAsUpdate() []byte

	// EncodeStateVector encodes the per-site high-water marks.
	EncodeStateVector() []byte

	// Diff returns an update containing every operation the holder of the
	// given state vector has not seen.
	Diff(stateVector []byte) []byte

	// Text returns the current visible text.
	Text() string

	// Splice performs a local edit: delete deleteLen visible characters at
	// start, then insert text there. Returns the update encoding the
	// generated operations.
	Splice(start, deleteLen int, insert string) ([]byte, error)

	// Destroy releases the document. Further mutation returns ErrDestroyed.
	Destroy()
}

// ErrDestroyed is returned by operations on a destroyed document.
var ErrDestroyed = errors.New("crdt: document destroyed")

// charID identifies a single character across replicas.
type charID struct {
	Site string `json:"s"`
	Seq  uint64 `json:"q"`
}

func (id charID) isZero() bool { return id.Site == "" && id.Seq == 0 }

// char is one element of the sequence, tombstoned when deleted.
type char struct {
	ID      charID
	Value   rune
	Deleted bool
}

// Doc is the concrete sequence CRDT.
type Doc struct {
	site      string
	clock     uint64
	seq       uint64
	chars     []char
	seen      map[string]uint64 // site -> highest contiguous seq applied
	ops       []Op              // full history in application order
	pending   []Op              // ops waiting on a causal predecessor
	destroyed bool
	createdAt time.Time
}

// New creates an empty document owned by the given site.
func New(site string) *Doc {
	return &Doc{
		site:      site,
		seen:      make(map[string]uint64),
		createdAt: time.Now(),
	}
}

// Site returns the local site ID.
func (d *Doc) Site() string { return d.site }

// Text returns the visible text.
func (d *Doc) Text() string {
	if d.destroyed {
		return ""
	}
	buf := make([]rune, 0, len(d.chars))
	for _, c := range d.chars {
		if !c.Deleted {
			buf = append(buf, c.Value)
		}
	}
	return string(buf)
}

// Len returns the number of visible characters.
func (d *Doc) Len() int {
	n := 0
	for _, c := range d.chars {
		if !c.Deleted {
			n++
		}
	}
	return n
}

// Destroy releases the document.
func (d *Doc) Destroy() {
	d.destroyed = true
	d.chars = nil
	d.ops = nil
	d.pending = nil
	d.seen = nil
}

// Splice deletes deleteLen visible characters at start and inserts text.
func (d *Doc) Splice(start, deleteLen int, insert string) ([]byte, error) {
	if d.destroyed {
		return nil, ErrDestroyed
	}
	visible := d.Len()
	if start < 0 || start > visible {
		return nil, fmt.Errorf("crdt: splice start %d out of range [0,%d]", start, visible)
	}
	if deleteLen < 0 || start+deleteLen > visible {
		return nil, fmt.Errorf("crdt: splice delete %d out of range at %d (len %d)", deleteLen, start, visible)
	}

	var generated []Op

	// Deletes first: target the IDs of the visible run [start, start+deleteLen).
	for i := 0; i < deleteLen; i++ {
		idx := d.visibleIndex(start) // shrinks as chars tombstone
		if idx < 0 {
			return nil, fmt.Errorf("crdt: visible index %d vanished mid-splice", start)
		}
		op := d.newOp(OpDelete)
		op.Target = d.chars[idx].ID
		d.applyLocal(op)
		generated = append(generated, op)
	}

	// Inserts: each character's origin is its left neighbour.
	origin := charID{}
	if start > 0 {
		if idx := d.visibleIndex(start - 1); idx >= 0 {
			origin = d.chars[idx].ID
		}
	}
	for _, r := range insert {
		op := d.newOp(OpInsert)
		op.Origin = origin
		op.Value = string(r)
		d.applyLocal(op)
		origin = op.ID
		generated = append(generated, op)
	}

	if len(generated) == 0 {
		return nil, nil
	}
	return encodeUpdate(generated)
}

// ApplyUpdate integrates operations from another replica.
func (d *Doc) ApplyUpdate(update []byte) error {
	if d.destroyed {
		return ErrDestroyed
	}
	ops, err := decodeUpdate(update)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := validateOp(op); err != nil {
			return fmt.Errorf("crdt: invalid op from %s: %w", op.ID.Site, err)
		}
	}
	d.integrate(ops)
	return nil
}

// EncodeStateAsUpdate encodes the full history.
func (d *Doc) EncodeStateAsUpdate() []byte {
	if d.destroyed || len(d.ops) == 0 {
		empty, _ := encodeUpdate(nil)
		return empty
	}
	u, err := encodeUpdate(d.ops)
	if err != nil {
		// Encoding our own validated history cannot fail.
		panic(err)
	}
	return u
}

// EncodeStateVector encodes per-site high-water marks.
func (d *Doc) EncodeStateVector() []byte {
	sv := make(map[string]uint64, len(d.seen))
	for site, seq := range d.seen {
		sv[site] = seq
	}
	return encodeStateVector(sv)
}

// Diff returns the operations missing from the given state vector.
// A malformed state vector is treated as empty (full history returned).
func (d *Doc) Diff(stateVector []byte) []byte {
	sv, err := decodeStateVector(stateVector)
	if err != nil {
		sv = nil
	}
	var missing []Op
	for _, op := range d.ops {
		if op.ID.Seq > sv[op.ID.Site] {
			missing = append(missing, op)
		}
	}
	u, err := encodeUpdate(missing)
	if err != nil {
		panic(err)
	}
	return u
}

// Clone returns an independent replica with the same history, owned by site.
func Clone(d *Doc, site string) (*Doc, error) {
	c := New(site)
	if err := c.ApplyUpdate(d.EncodeStateAsUpdate()); err != nil {
		return nil, err
	}
	return c, nil
}

// newOp allocates IDs and clocks for a local operation.
func (d *Doc) newOp(kind OpKind) Op {
	d.clock++
	d.seq++
	return Op{
		Kind:  kind,
		ID:    charID{Site: d.site, Seq: d.seq},
		Clock: d.clock,
	}
}

// applyLocal records and applies a locally generated op.
func (d *Doc) applyLocal(op Op) {
	d.ops = append(d.ops, op)
	d.seen[d.site] = op.ID.Seq
	d.applyOp(op)
}

// integrate applies remote ops, buffering those whose causal predecessors
// have not arrived and retrying them after each successful application.
func (d *Doc) integrate(ops []Op) {
	queue := append(append([]Op(nil), d.pending...), ops...)
	d.pending = nil

	progress := true
	for progress {
		progress = false
		var defer_ []Op
		for _, op := range queue {
			switch {
			case op.ID.Seq <= d.seen[op.ID.Site]:
				// Already applied.
				progress = true
			case d.ready(op):
				if op.Clock > d.clock {
					d.clock = op.Clock
				}
				d.ops = append(d.ops, op)
				d.seen[op.ID.Site] = op.ID.Seq
				d.applyOp(op)
				progress = true
			default:
				defer_ = append(defer_, op)
			}
		}
		queue = defer_
	}
	d.pending = queue
}

// ready reports whether op's causal predecessors are present.
func (d *Doc) ready(op Op) bool {
	if op.ID.Seq != d.seen[op.ID.Site]+1 {
		return false
	}
	switch op.Kind {
	case OpInsert:
		return op.Origin.isZero() || d.indexOfID(op.Origin) >= 0
	case OpDelete:
		return d.indexOfID(op.Target) >= 0
	}
	return false
}

// applyOp mutates the sequence. Callers have verified readiness.
func (d *Doc) applyOp(op Op) {
	switch op.Kind {
	case OpInsert:
		idx := 0
		if !op.Origin.isZero() {
			idx = d.indexOfID(op.Origin) + 1
		}
		// RGA order: concurrent siblings sort newest-first after the origin.
		for idx < len(d.chars) {
			c := d.chars[idx]
			if c.ID == op.ID {
				return
			}
			if compareIDs(op.Clock, op.ID, opClockOf(d, c.ID), c.ID) < 0 {
				break
			}
			idx++
		}
		r := []rune(op.Value)
		v := rune(0)
		if len(r) > 0 {
			v = r[0]
		}
		d.chars = append(d.chars, char{})
		copy(d.chars[idx+1:], d.chars[idx:])
		d.chars[idx] = char{ID: op.ID, Value: v}
	case OpDelete:
		if idx := d.indexOfID(op.Target); idx >= 0 {
			d.chars[idx].Deleted = true
		}
	}
}

// indexOfID returns the position of id in the sequence, tombstones included.
func (d *Doc) indexOfID(id charID) int {
	for i, c := range d.chars {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// visibleIndex maps a visible position to a sequence index.
func (d *Doc) visibleIndex(pos int) int {
	n := 0
	for i, c := range d.chars {
		if c.Deleted {
			continue
		}
		if n == pos {
			return i
		}
		n++
	}
	return -1
}

// opClockOf recovers the Lamport clock of an already-integrated character.
func opClockOf(d *Doc, id charID) uint64 {
	for i := len(d.ops) - 1; i >= 0; i-- {
		if d.ops[i].Kind == OpInsert && d.ops[i].ID == id {
			return d.ops[i].Clock
		}
	}
	return 0
}

// compareIDs orders two inserts competing for the same slot: higher clock
// first, site ID as the tiebreak. Returns <0 if a sorts before b.
func compareIDs(aClock uint64, a charID, bClock uint64, b charID) int {
	if aClock != bClock {
		if aClock > bClock {
			return -1
		}
		return 1
	}
	if a.Site != b.Site {
		if a.Site < b.Site {
			return -1
		}
		return 1
	}
	if a.Seq != b.Seq {
		if a.Seq > b.Seq {
			return -1
		}
		return 1
	}
	return 0
}
