// Package hotkeys tracks per-key read frequency so the supplemented
// GET /stats endpoint (SPEC_FULL.md §13) can report which keys are hottest
// — useful for spotting skew before it becomes a rebalancing problem.
package hotkeys

import (
	"container/heap"
	"sync"
	"time"
)

// Entry is a single key's observed access count.
type Entry struct {
	Key   int32 `json:"key"`
	Count int64 `json:"count"`
}

// Tracker counts accesses per key and reports the top-N hottest, decaying
// old counts so it reflects recent traffic rather than all-time totals.
// Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	counts  map[int32]*int64
	topN    int
	window  time.Duration
	started time.Time
}

// New creates a tracker that keeps a counter for every recorded key and
// reports topN keys by default from Top, halving every counter once per
// window and dropping counters that reach zero (0 disables decay).
func New(topN int, window time.Duration) *Tracker {
	if topN <= 0 {
		topN = 100
	}
	t := &Tracker{
		counts:  make(map[int32]*int64, topN*2),
		topN:    topN,
		window:  window,
		started: time.Now(),
	}
	if window > 0 {
		go t.decayLoop()
	}
	return t
}

// Record records one access to key.
func (t *Tracker) Record(key int32) {
	t.mu.Lock()
	if c, ok := t.counts[key]; ok {
		*c++
	} else {
		v := int64(1)
		t.counts[key] = &v
	}
	t.mu.Unlock()
}

// Top returns the n hottest keys, sorted descending by count. n <= 0
// selects the tracker's configured topN.
func (t *Tracker) Top(n int) []Entry {
	if n <= 0 {
		n = t.topN
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	h := &entryHeap{}
	heap.Init(h)

	for key, cnt := range t.counts {
		e := Entry{Key: key, Count: *cnt}
		if h.Len() < n {
			heap.Push(h, e)
		} else if (*h)[0].Count < e.Count {
			(*h)[0] = e
			heap.Fix(h, 0)
		}
	}

	result := make([]Entry, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(Entry)
	}
	return result
}

// Reset clears all counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.counts = make(map[int32]*int64, t.topN*2)
	t.started = time.Now()
	t.mu.Unlock()
}

// Size returns the number of tracked keys.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

func (t *Tracker) decayLoop() {
	ticker := time.NewTicker(t.window)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		for key, cnt := range t.counts {
			*cnt /= 2
			if *cnt == 0 {
				delete(t.counts, key)
			}
		}
		t.mu.Unlock()
	}
}

type entryHeap []Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].Count < h[j].Count }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
