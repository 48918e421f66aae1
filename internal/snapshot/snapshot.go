// Package snapshot implements the point-in-time RDB engine of spec.md §4.4:
// a fork-and-dump writer (emulated without a real fork — see below), a
// footer-verifying loader, and atomic rename.
//
// Grounded on the teacher's internal/snapshot/snapshot.go (a Manager that
// gob-encodes a struct to a file with no atomic rename — loads are keyed by
// ID), generalized here to the single canonical rdb_path spec.md names, the
// CRC-32C trailer format spec.md §3/§4.4 mandates instead of gob, and a
// real atomic tmp-then-rename rotation.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/ramforge/ramforge/internal/crc32c"
	"github.com/ramforge/ramforge/internal/index"
	"github.com/ramforge/ramforge/internal/ramerr"
	"github.com/ramforge/ramforge/internal/record"
)

// Engine dumps and loads the RDB file at Path.
type Engine struct {
	Path   string
	Logger log.Logger
}

// New returns an Engine for the given RDB path.
func New(path string, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Engine{Path: path, Logger: logger}
}

// Load verifies and replays the RDB file into ix (spec.md §4.4 "Load"). A
// missing file is a valid cold-start state. Any short read or trailer
// mismatch is reported as *ramerr.Corrupt.
func (e *Engine) Load(ix *index.Index) error {
	f, err := os.Open(e.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("snapshot: open %s: %w", e.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("snapshot: stat %s: %w", e.Path, err)
	}
	if info.Size() < 4 {
		if info.Size() == 0 {
			return nil
		}
		return &ramerr.Corrupt{Path: e.Path, Reason: "file shorter than trailer"}
	}

	if _, err := f.Seek(info.Size()-4, io.SeekStart); err != nil {
		return fmt.Errorf("snapshot: seek to trailer: %w", err)
	}
	var trailer [4]byte
	if _, err := io.ReadFull(f, trailer[:]); err != nil {
		return &ramerr.Corrupt{Path: e.Path, Reason: fmt.Sprintf("short trailer read: %v", err)}
	}
	wantCRC := binary.LittleEndian.Uint32(trailer[:])

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("snapshot: rewind: %w", err)
	}

	limited := io.LimitReader(f, info.Size()-4)
	r := bufio.NewReader(limited)

	state := crc32c.New(0)
	count := 0
	for {
		rec, raw, err := record.DecodeRDBTriple(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return &ramerr.Corrupt{Path: e.Path, Reason: err.Error()}
		}
		state.Write(raw)
		ix.Save(rec.Key, rec.Bytes)
		count++
	}

	if state.Sum32() != wantCRC {
		return &ramerr.Corrupt{Path: e.Path, Reason: fmt.Sprintf("trailer crc mismatch: got %#x want %#x", state.Sum32(), wantCRC)}
	}

	level.Info(e.Logger).Log("msg", "rdb load complete", "records", count)
	return nil
}

// Dump writes a new RDB file from a point-in-time view of ix and atomically
// replaces the canonical path (spec.md §4.4, invariants 2 and 3).
//
// spec.md models this as a fork(): the child inherits a copy-on-write view
// of the index at the instant of fork and streams it in the background
// while the parent keeps serving writes. Go cannot safely fork a
// multi-threaded process (see SPEC_FULL.md §12), so the "frozen view" is
// obtained instead by briefly read-locking the index for Index.Snapshot
// (spec.md §9's explicitly sanctioned portable alternative), after which
// the actual file write happens with no lock held — the caller decides
// whether that runs on the worker's own loop or a spawned goroutine (the
// periodic timer's mode), so writes are never blocked by a dump in
// progress.
func (e *Engine) Dump(ix *index.Index) error {
	dumpID := uuid.NewString()
	level.Info(e.Logger).Log("msg", "rdb dump starting", "id", dumpID)

	entries := ix.Snapshot()

	tmpPath := e.Path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("snapshot: open dump tmp: %w", err)
	}

	w := bufio.NewWriter(tmp)
	state := crc32c.New(0)
	var writeErr error
	for _, entry := range entries {
		raw := record.EncodeRDBTriple(entry.Key, entry.Bytes)
		if _, err := w.Write(raw); err != nil {
			writeErr = err
			break
		}
		state.Write(raw)
	}
	if writeErr == nil {
		var trailer [4]byte
		binary.LittleEndian.PutUint32(trailer[:], state.Sum32())
		_, writeErr = w.Write(trailer[:])
	}
	if writeErr == nil {
		writeErr = w.Flush()
	}
	if writeErr != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: dump write: %w", writeErr)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: dump fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: dump close tmp: %w", err)
	}

	// A crashed writer leaves the .tmp behind but never replaces the
	// canonical file (spec.md invariant 3); only this rename is visible.
	if err := os.Rename(tmpPath, e.Path); err != nil {
		return fmt.Errorf("snapshot: dump rename: %w", err)
	}

	level.Info(e.Logger).Log("msg", "rdb dump committed", "id", dumpID, "records", len(entries))
	return nil
}
