// Package record implements the on-disk wire framing shared by the AOF and
// RDB engines: a little-endian (key, size, bytes) triple, as described in
// spec.md §3 and §4.3/§4.4.
//
// AOF records additionally carry a per-record CRC-32C footer seeded at zero
// and recomputed from scratch for every record (spec.md §4.3). RDB records
// carry no per-record footer; the snapshot engine instead folds every emitted
// triple into one running checksum and appends a single trailing CRC-32C over
// the whole payload (spec.md §4.4) — spec.md §3's "the same record framing...
// followed by a single trailing crc32c" is read in light of §4.4's precise
// step-by-step Dump/Load description, which never mentions a per-triple
// footer for the RDB format (see DESIGN.md).
//
// AOF records additionally carry a 1-byte op tag ahead of the key
// (SPEC_FULL.md §13's supplemented DELETE /users/:id): op|key|size|bytes|crc,
// with size always 0 and bytes empty for a delete tombstone. RDB triples
// never carry a delete tag — compaction already omits dead keys by
// iterating only the live index, so a tombstone would never reach the RDB.
package record

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ramforge/ramforge/internal/crc32c"
)

// maxValueSize bounds the size field read from disk so that a corrupted or
// torn length prefix can never trigger a multi-gigabyte allocation.
const maxValueSize = 1 << 30

const (
	opSet    byte = 0
	opDelete byte = 1
)

// Triple is one decoded (key, bytes) pair, reused by both formats.
type Triple struct {
	Key   int32
	Bytes []byte
}

// AOFRecord is one decoded AOF entry, either a value write or a delete
// tombstone.
type AOFRecord struct {
	Key    int32
	Value  []byte
	Delete bool
}

// EncodeAOF serializes op(set)|key|size|bytes|crc32c(op‖key‖size‖bytes) as
// described in spec.md §4.3. The CRC is seeded at zero and computed fresh
// for every call.
func EncodeAOF(key int32, value []byte) []byte {
	return encodeAOFRecord(opSet, key, value)
}

// EncodeAOFDelete serializes a delete tombstone for key (SPEC_FULL.md §13).
func EncodeAOFDelete(key int32) []byte {
	return encodeAOFRecord(opDelete, key, nil)
}

func encodeAOFRecord(op byte, key int32, value []byte) []byte {
	buf := make([]byte, 9+len(value)+4)
	buf[0] = op
	binary.LittleEndian.PutUint32(buf[1:5], uint32(key))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(value)))
	copy(buf[9:9+len(value)], value)

	sum := crc32c.Checksum(0, buf[:9+len(value)])
	binary.LittleEndian.PutUint32(buf[9+len(value):], sum)
	return buf
}

// DecodeAOF reads exactly one framed AOF record from r. It returns io.EOF
// only when the stream ends cleanly between records; any other short read,
// or a CRC mismatch, is reported as ErrCorrupt (spec.md invariant 4: "every
// key is followed by exactly one matching crc footer; any deviation aborts
// load").
func DecodeAOF(r io.Reader) (AOFRecord, error) {
	var head [9]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if err == io.EOF {
			return AOFRecord{}, io.EOF
		}
		return AOFRecord{}, &ErrCorrupt{Reason: fmt.Sprintf("short header read: %v", err)}
	}

	op := head[0]
	if op != opSet && op != opDelete {
		return AOFRecord{}, &ErrCorrupt{Reason: fmt.Sprintf("unknown op tag %d", op)}
	}
	key := int32(binary.LittleEndian.Uint32(head[1:5]))
	size := binary.LittleEndian.Uint32(head[5:9])
	if size > maxValueSize {
		return AOFRecord{}, &ErrCorrupt{Reason: fmt.Sprintf("implausible record size %d", size)}
	}

	value := make([]byte, size)
	if _, err := io.ReadFull(r, value); err != nil {
		return AOFRecord{}, &ErrCorrupt{Reason: fmt.Sprintf("short value read: %v", err)}
	}

	var footer [4]byte
	if _, err := io.ReadFull(r, footer[:]); err != nil {
		return AOFRecord{}, &ErrCorrupt{Reason: fmt.Sprintf("short crc footer read: %v", err)}
	}
	wantCRC := binary.LittleEndian.Uint32(footer[:])

	gotCRC := crc32c.Checksum(0, head[:])
	gotCRC = crc32c.Checksum(gotCRC, value)
	if gotCRC != wantCRC {
		return AOFRecord{}, &ErrCorrupt{Reason: fmt.Sprintf("crc mismatch for key %d: got %#x want %#x", key, gotCRC, wantCRC)}
	}

	return AOFRecord{Key: key, Value: value, Delete: op == opDelete}, nil
}

// EncodeRDBTriple serializes key|size|bytes with no footer, for use inside a
// running RDB checksum (spec.md §4.4).
func EncodeRDBTriple(key int32, value []byte) []byte {
	buf := make([]byte, 8+len(value))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(key))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(value)))
	copy(buf[8:], value)
	return buf
}

// DecodeRDBTriple reads one key|size|bytes triple with no footer. Callers
// fold the returned raw bytes into their own running CRC; DecodeRDBTriple
// itself performs no checksum verification.
func DecodeRDBTriple(r io.Reader) (Triple, []byte, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if err == io.EOF {
			return Triple{}, nil, io.EOF
		}
		return Triple{}, nil, &ErrCorrupt{Reason: fmt.Sprintf("short header read: %v", err)}
	}

	key := int32(binary.LittleEndian.Uint32(head[0:4]))
	size := binary.LittleEndian.Uint32(head[4:8])
	if size > maxValueSize {
		return Triple{}, nil, &ErrCorrupt{Reason: fmt.Sprintf("implausible record size %d", size)}
	}

	value := make([]byte, size)
	if _, err := io.ReadFull(r, value); err != nil {
		return Triple{}, nil, &ErrCorrupt{Reason: fmt.Sprintf("short value read: %v", err)}
	}

	raw := make([]byte, 0, 8+len(value))
	raw = append(raw, head[:]...)
	raw = append(raw, value...)
	return Triple{Key: key, Bytes: value}, raw, nil
}

// ErrCorrupt reports terminal corruption detected while decoding a record.
// Both the AOF and RDB loaders return this type so callers can use
// errors.As to trigger the "refuse to start" contract of spec.md §7.
type ErrCorrupt struct {
	Reason string
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("record: corrupt: %s", e.Reason)
}
