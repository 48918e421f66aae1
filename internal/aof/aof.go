// Package aof implements the append-only file engine of spec.md §4.3: record
// framing, replay, the sync/batched append path, and compaction.
//
// The structure follows the teacher's own internal/wal package (a mutex-
// guarded *os.File wrapped by Open/Append/ReadAll/Close) generalized to the
// two durability modes and group-commit ring spec.md requires, the way the
// teacher's AppendBatch already hints at by pooling a buffer per batch.
package aof

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/ramforge/ramforge/internal/filelock"
	"github.com/ramforge/ramforge/internal/index"
	"github.com/ramforge/ramforge/internal/ramerr"
	"github.com/ramforge/ramforge/internal/record"
)

// ErrClosed is returned by Append in batched mode once Close has been
// called. In sync mode an Append after Close fails with a *ramerr.IO.
var ErrClosed = errors.New("aof: closed")

// Mode selects the append durability discipline of spec.md §4.3.
type Mode int

const (
	// ModeSync issues write + fsync synchronously on every Append.
	ModeSync Mode = iota
	// ModeBatched enqueues onto a bounded ring, flushed by a background
	// writer on a group-commit interval.
	ModeBatched
)

// Config configures an AOF instance. FlushInterval == 0 selects ModeSync;
// any positive duration selects ModeBatched (spec.md §4.3).
type Config struct {
	Path          string
	RingCapacity  int
	FlushInterval time.Duration
}

func (c Config) mode() Mode {
	if c.FlushInterval <= 0 {
		return ModeSync
	}
	return ModeBatched
}

type queueItem struct {
	encoded []byte
}

// AOF is the append-only file engine for one worker.
type AOF struct {
	cfg    Config
	mode   Mode
	logger log.Logger

	file *os.File
	lock *filelock.Lock

	mu      sync.Mutex
	cond    *sync.Cond
	ring    []queueItem
	head    int
	tail    int
	count   int
	closed  bool
	tickC   chan struct{}
	done    chan struct{}
}

// Open creates or opens the AOF file for appending, per spec.md §4.3's
// configuration tuple (path, ring_capacity, flush_interval_ms).
func Open(cfg Config, logger log.Logger) (*AOF, error) {
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = 4096
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("aof: open %s: %w", cfg.Path, err)
	}

	lock, err := filelock.Open(cfg.Path + ".lock")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("aof: open lock sidecar: %w", err)
	}
	// The lock is only ever held for the duration of a single write or
	// rewrite critical section, never across Open's lifetime, so release
	// it immediately; Open merely validates that the sidecar is creatable.
	lock.Close()

	a := &AOF{
		cfg:    cfg,
		mode:   cfg.mode(),
		logger: logger,
		file:   f,
		ring:   make([]queueItem, cfg.RingCapacity),
		tickC:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	a.cond = sync.NewCond(&a.mu)

	if a.mode == ModeBatched {
		go a.tickerLoop()
		go a.writerLoop()
	}

	return a, nil
}

func (a *AOF) tickerLoop() {
	t := time.NewTicker(a.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.mu.Lock()
			a.cond.Broadcast()
			a.mu.Unlock()
		case <-a.tickC:
			return
		}
	}
}

// writerLoop is the single auxiliary OS thread spec.md §5 allows in batched
// mode: it wakes on a condvar signal (producer enqueue or shutdown) or the
// flush-interval ticker, drains the ring to its end, and issues one fsync
// per drain.
func (a *AOF) writerLoop() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for a.count == 0 && !a.closed {
			a.cond.Wait()
		}
		if a.count == 0 && a.closed {
			a.mu.Unlock()
			return
		}

		batch := make([]queueItem, 0, a.count)
		for a.count > 0 {
			batch = append(batch, a.ring[a.head])
			a.ring[a.head] = queueItem{}
			a.head = (a.head + 1) % len(a.ring)
			a.count--
		}
		a.cond.Broadcast() // wake producers blocked on a full ring
		a.mu.Unlock()

		if err := a.flushBatch(batch); err != nil {
			level.Error(a.logger).Log("msg", "aof background flush failed", "err", err)
		}
	}
}

func (a *AOF) flushBatch(batch []queueItem) error {
	if len(batch) == 0 {
		return nil
	}
	lock, err := filelock.Open(a.cfg.Path + ".lock")
	if err != nil {
		return err
	}
	defer lock.Close()

	for _, item := range batch {
		if _, err := a.file.Write(item.encoded); err != nil {
			return &ramerr.IO{Op: "aof write", Err: err}
		}
	}
	if err := a.file.Sync(); err != nil {
		return &ramerr.IO{Op: "aof fsync", Err: err}
	}
	return nil
}

// Append durably writes one record, per the mode selected at Open. Sync mode
// blocks until write+fsync complete; batched mode enqueues and returns once
// the record has a slot in the ring, blocking only if the ring is full.
//
// Per spec.md invariant 1, the caller must not update the index until
// Append returns nil.
func (a *AOF) Append(key int32, value []byte) error {
	return a.appendEncoded(record.EncodeAOF(key, value))
}

// AppendDelete durably writes a tombstone for key (SPEC_FULL.md §13's
// supplemented DELETE /users/:id), with the same durability contract as
// Append.
func (a *AOF) AppendDelete(key int32) error {
	return a.appendEncoded(record.EncodeAOFDelete(key))
}

func (a *AOF) appendEncoded(encoded []byte) error {
	if a.mode == ModeSync {
		lock, err := filelock.Open(a.cfg.Path + ".lock")
		if err != nil {
			return &ramerr.IO{Op: "aof lock", Err: err}
		}
		defer lock.Close()

		if _, err := a.file.Write(encoded); err != nil {
			return &ramerr.IO{Op: "aof write", Err: err}
		}
		if err := a.file.Sync(); err != nil {
			return &ramerr.IO{Op: "aof fsync", Err: err}
		}
		return nil
	}

	a.mu.Lock()
	for a.count == len(a.ring) && !a.closed {
		a.cond.Wait()
	}
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.ring[a.tail] = queueItem{encoded: encoded}
	a.tail = (a.tail + 1) % len(a.ring)
	a.count++
	a.cond.Signal()
	a.mu.Unlock()
	return nil
}

// Load replays every record in the AOF into ix, per spec.md §4.3. A missing
// file is a valid empty state (cold start); any short read or CRC mismatch
// is reported as *ramerr.Corrupt, which the caller (worker bootstrap) turns
// into exit code 2 rather than ever surfacing at the HTTP boundary.
func (a *AOF) Load(ix *index.Index) error {
	f, err := os.Open(a.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("aof: open for replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	count := 0
	for {
		rec, err := record.DecodeAOF(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return &ramerr.Corrupt{Path: a.cfg.Path, Reason: err.Error()}
		}
		if rec.Delete {
			ix.Remove(rec.Key)
		} else {
			ix.Save(rec.Key, rec.Value)
		}
		count++
	}
	level.Info(a.logger).Log("msg", "aof replay complete", "records", count)
	return nil
}

// Rewrite replaces the AOF with a minimal log reproducing src's current
// state (spec.md §4.3 "Rewrite (compaction)"). In sync mode the spec
// additionally has rewrite reload a scratch index from the on-disk AOF
// before iterating, on the theory in-process state might lag the disk; for
// batched mode src is iterated directly.
func (a *AOF) Rewrite(src *index.Index) error {
	lock, err := filelock.Open(a.cfg.Path + ".lock")
	if err != nil {
		return fmt.Errorf("aof: rewrite lock: %w", err)
	}
	defer lock.Close()

	source := src
	if a.mode == ModeSync {
		scratch := index.New()
		if err := a.Load(scratch); err != nil {
			return err
		}
		source = scratch
	}

	tmpPath := a.cfg.Path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("aof: open rewrite tmp: %w", err)
	}

	w := bufio.NewWriter(tmp)
	var writeErr error
	source.Iterate(func(key int32, value []byte) {
		if writeErr != nil {
			return
		}
		_, writeErr = w.Write(record.EncodeAOF(key, value))
	})
	if writeErr == nil {
		writeErr = w.Flush()
	}
	if writeErr != nil {
		tmp.Close()
		return fmt.Errorf("aof: rewrite write: %w", writeErr)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("aof: rewrite fsync tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("aof: rewrite close tmp: %w", err)
	}

	// Wait until the background writer has taken every pending batched
	// write off the ring, then fsync the current AOF. The writer needs the
	// lock sidecar this rewrite holds, so the batch it took off the ring is
	// written only after the rename, appended to the new AOF rather than
	// to the current one.
	if a.mode == ModeBatched {
		a.drainPending()
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("aof: rewrite fsync current: %w", err)
	}

	if err := os.Rename(tmpPath, a.cfg.Path); err != nil {
		return fmt.Errorf("aof: rewrite rename: %w", err)
	}

	if err := a.file.Close(); err != nil {
		return fmt.Errorf("aof: rewrite close old fd: %w", err)
	}
	newFile, err := os.OpenFile(a.cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("aof: rewrite reopen: %w", err)
	}
	a.file = newFile

	level.Info(a.logger).Log("msg", "aof rewrite complete", "path", a.cfg.Path)
	return nil
}

// drainPending blocks until the ring is empty, i.e. the background writer
// has taken every Append accepted before this call off the ring. It does
// not wait for the writer to finish writing that batch to the file.
func (a *AOF) drainPending() {
	a.mu.Lock()
	for a.count > 0 {
		a.cond.Wait()
	}
	a.mu.Unlock()
}

// Close stops the background writer (if any), flushes and fsyncs, and
// closes the underlying file descriptor (spec.md §4.5 shutdown()).
func (a *AOF) Close() error {
	if a.mode == ModeBatched {
		a.mu.Lock()
		a.closed = true
		a.cond.Broadcast()
		a.mu.Unlock()
		close(a.tickC)
		<-a.done
	}
	if err := a.file.Sync(); err != nil {
		return err
	}
	return a.file.Close()
}
