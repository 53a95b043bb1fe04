package crdt

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Update wire format:
//
//	[4]byte magic "DSU1"
//	uint32  payload length (big endian)
//	[]byte  JSON payload
//	[32]byte blake2b-256 of payload
//
// The checksum is verified before the payload is decoded, so a corrupt
// record can never partially mutate a document.
const (
	updateMagic    = "DSU1"
	updateOverhead = 4 + 4 + blake2b.Size256
)

// Codec errors.
var (
	ErrTruncatedUpdate = errors.New("crdt: truncated update")
	ErrBadMagic        = errors.New("crdt: bad update magic")
	ErrChecksum        = errors.New("crdt: update checksum mismatch")
)

// OpKind discriminates operation types.
type OpKind uint8

const (
	OpInsert OpKind = 1
	OpDelete OpKind = 2
)

// Op is a single replicated operation.
type Op struct {
	Kind   OpKind `json:"k"`
	ID     charID `json:"id"`
	Clock  uint64 `json:"c"`
	Origin charID `json:"o,omitempty"` // insert: left neighbour at creation
	Value  string `json:"v,omitempty"` // insert: one character
	Target charID `json:"t,omitempty"` // delete: character to tombstone
}

// validateOp rejects structurally invalid operations.
func validateOp(op Op) error {
	if op.ID.Site == "" {
		return errors.New("missing site")
	}
	if op.ID.Seq == 0 {
		return errors.New("zero sequence number")
	}
	switch op.Kind {
	case OpInsert:
		if len([]rune(op.Value)) != 1 {
			return fmt.Errorf("insert value %q is not a single character", op.Value)
		}
	case OpDelete:
		if op.Target.isZero() {
			return errors.New("delete without target")
		}
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}

type updatePayload struct {
	Ops []Op `json:"ops"`
}

func encodeUpdate(ops []Op) ([]byte, error) {
	payload, err := json.Marshal(updatePayload{Ops: ops})
	if err != nil {
		return nil, fmt.Errorf("crdt: encode update: %w", err)
	}
	sum := blake2b.Sum256(payload)

	buf := make([]byte, 0, len(payload)+updateOverhead)
	buf = append(buf, updateMagic...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, sum[:]...)
	return buf, nil
}

func decodeUpdate(update []byte) ([]Op, error) {
	if len(update) < updateOverhead {
		return nil, ErrTruncatedUpdate
	}
	if !bytes.Equal(update[:4], []byte(updateMagic)) {
		return nil, ErrBadMagic
	}
	n := binary.BigEndian.Uint32(update[4:8])
	if len(update) != int(n)+updateOverhead {
		return nil, ErrTruncatedUpdate
	}
	payload := update[8 : 8+n]
	sum := blake2b.Sum256(payload)
	if !bytes.Equal(sum[:], update[8+n:]) {
		return nil, ErrChecksum
	}
	var p updatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("crdt: decode update payload: %w", err)
	}
	return p.Ops, nil
}

// ValidateUpdate verifies framing, checksum, and every contained operation
// without applying anything. Used by the store to filter corrupt records.
func ValidateUpdate(update []byte) error {
	ops, err := decodeUpdate(update)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := validateOp(op); err != nil {
			return fmt.Errorf("crdt: invalid op: %w", err)
		}
	}
	return nil
}

// IsEmptyUpdate reports whether the update carries no operations.
func IsEmptyUpdate(update []byte) bool {
	ops, err := decodeUpdate(update)
	return err == nil && len(ops) == 0
}

func encodeStateVector(sv map[string]uint64) []byte {
	b, err := json.Marshal(sv)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func decodeStateVector(b []byte) (map[string]uint64, error) {
	if len(b) == 0 {
		return map[string]uint64{}, nil
	}
	var sv map[string]uint64
	if err := json.Unmarshal(b, &sv); err != nil {
		return nil, fmt.Errorf("crdt: decode state vector: %w", err)
	}
	if sv == nil {
		sv = map[string]uint64{}
	}
	return sv, nil
}
