// Package index implements the Robin-Hood open-addressed hash table that
// holds the engine's authoritative in-memory state, per spec.md §3/§4.2.
//
// Keys are int32; values are owned, arbitrary-length byte blobs. The table
// keeps three per-bucket states (empty, occupied, deleted) in parallel
// arrays, as the teacher's own map-of-struct stores do for their entries
// (internal/store/store.go's Entry), generalized here to open addressing
// because spec.md requires Robin-Hood probing rather than Go's built-in map.
package index

import (
	"sync"

	"github.com/ramforge/ramforge/internal/record"
)

type slotState uint8

const (
	empty slotState = iota
	occupied
	deleted
)

type slot struct {
	state slotState
	key   int32
	buf   []byte
	dist  uint32 // probe distance from home bucket, valid only while occupied
}

// Index is safe for concurrent use: the owning worker's event loop calls
// Save/Get/Remove while a background snapshot goroutine calls Snapshot under
// a read lock to obtain the frozen view spec.md §4.4/§9 describes for a
// fork-less RDB dump.
type Index struct {
	mu       sync.RWMutex
	slots    []slot
	size     int // live (occupied) entries
	occupied int // occupied + deleted, plus one per reused tombstone until the next rehash; drives the rehash threshold
}

// loadFactorCeiling is the 0.7 threshold from spec.md §4.2/§3.
const loadFactorCeiling = 0.7

const initialCapacity = 16

// New returns an empty Index with a small power-of-two starting capacity.
func New() *Index {
	return &Index{
		slots: make([]slot, initialCapacity),
	}
}

// mix is the reversible 32-bit integer hash from spec.md §3: xor-shift plus
// odd multiplies (a Murmur3-style finalizer using the lowbias32 constants),
// applied to the key then masked by
// the caller to the table's capacity.
func mix(key int32) uint32 {
	x := uint32(key)
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

func (ix *Index) mask() uint32 {
	return uint32(len(ix.slots)) - 1
}

func (ix *Index) homeOf(key int32) uint32 {
	return mix(key) & ix.mask()
}

// find performs the linear probe described in spec.md §4.2: start at the
// hashed slot, traverse tombstones without stopping, and stop at the first
// Empty bucket. It returns the index of a matching Occupied slot, or -1.
func (ix *Index) find(key int32) int {
	n := len(ix.slots)
	idx := ix.homeOf(key)
	for i := 0; i < n; i++ {
		s := &ix.slots[idx]
		if s.state == empty {
			return -1
		}
		if s.state == occupied && s.key == key {
			return int(idx)
		}
		idx = (idx + 1) & ix.mask()
	}
	return -1
}

// Save performs an idempotent upsert (spec.md §4.2). bytes is copied into an
// owned buffer; a matching existing key is overwritten in place (its old
// buffer is released) without affecting the load factor.
func (ix *Index) Save(key int32, value []byte) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	owned := append([]byte(nil), value...)

	if i := ix.find(key); i != -1 {
		ix.slots[i].buf = owned
		return
	}

	if float64(ix.occupied+1)/float64(len(ix.slots)) > loadFactorCeiling {
		ix.rehash(len(ix.slots) * 2)
	}

	ix.insertNew(key, owned)
	ix.size++
	ix.occupied++
}

// insertNew places a key known not to already be present, performing the
// Robin-Hood displacement of spec.md §3: when the probe reaches an Occupied
// slot whose recorded distance is shorter than the intruder's, the two swap
// and probing continues with the displaced entry. Empty and Deleted slots
// both terminate the walk and receive the (possibly-displaced) entry.
func (ix *Index) insertNew(key int32, value []byte) {
	idx := ix.homeOf(key)
	var dist uint32

	curKey, curVal := key, value

	for {
		s := &ix.slots[idx]
		switch s.state {
		case empty, deleted:
			s.state = occupied
			s.key = curKey
			s.buf = curVal
			s.dist = dist
			return
		case occupied:
			if s.dist < dist {
				s.key, curKey = curKey, s.key
				s.buf, curVal = curVal, s.buf
				s.dist, dist = dist, s.dist
			}
		}
		idx = (idx + 1) & ix.mask()
		dist++
	}
}

// Get copies the value for key into out and reports whether it was found and
// copied. If key is present but len(out) is too small, Get returns the
// required size and false without copying, so the caller can retry with an
// appropriately sized buffer.
func (ix *Index) Get(key int32, out []byte) (n int, ok bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	i := ix.find(key)
	if i == -1 {
		return 0, false
	}
	val := ix.slots[i].buf
	if len(out) < len(val) {
		return len(val), false
	}
	return copy(out, val), true
}

// GetCopy is a convenience wrapper returning a freshly allocated copy of the
// value for key.
func (ix *Index) GetCopy(key int32) ([]byte, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	i := ix.find(key)
	if i == -1 {
		return nil, false
	}
	val := ix.slots[i].buf
	out := make([]byte, len(val))
	copy(out, val)
	return out, true
}

// Remove deletes key if present, releasing its buffer and turning the slot
// into a tombstone without shifting neighbors (spec.md invariant 5).
func (ix *Index) Remove(key int32) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	i := ix.find(key)
	if i == -1 {
		return false
	}
	ix.slots[i].buf = nil
	ix.slots[i].state = deleted
	ix.size--
	return true
}

// Len returns the number of live (occupied) keys.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.size
}

// Iterate visits every occupied slot exactly once, in capacity order, under
// a read lock held for the duration of the call. fn must not call back into
// the Index. Iteration order is intentionally arbitrary and not stable
// across rehashes (spec.md §4.2).
func (ix *Index) Iterate(fn func(key int32, value []byte)) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for _, s := range ix.slots {
		if s.state == occupied {
			fn(s.key, s.buf)
		}
	}
}

// Snapshot returns a point-in-time copy of every live (key, value) pair,
// each value independently owned. This is the fork-less equivalent of the
// COW view spec.md §4.4/§9 describes: the caller holds the lock only for the
// duration of the copy, then streams the result without blocking writers.
func (ix *Index) Snapshot() []record.Triple {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]record.Triple, 0, ix.size)
	for _, s := range ix.slots {
		if s.state == occupied {
			val := append([]byte(nil), s.buf...)
			out = append(out, record.Triple{Key: s.key, Bytes: val})
		}
	}
	return out
}

// Rehash doubles (or otherwise resizes) the table capacity, copying every
// occupied entry into a fresh array and dropping tombstones. Exported so a
// caller can force a specific size; spec.md notes
// iteration order is "intentionally arbitrary" across a rehash.
func (ix *Index) Rehash(newCapacity int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.rehash(newCapacity)
}

func (ix *Index) rehash(newCapacity int) {
	old := ix.slots
	ix.slots = make([]slot, newCapacity)
	ix.occupied = 0
	for _, s := range old {
		if s.state == occupied {
			ix.insertNew(s.key, s.buf)
			ix.occupied++
		}
	}
}
