// Package features derives the four decision features of a CAN frame.
//
// The only mutable state is History, the per-identifier record of the last
// timestamp seen. A History belongs to exactly one traffic stream; frames
// must be fed to Extract in arrival order for inter-arrival times to be
// meaningful.
package features

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// History maps arbitration ids to the timestamp of their latest frame. With a
// positive capacity the least recently seen id is evicted once the bound is
// reached, and its next frame counts as a first observation.
type History struct {
	mu       sync.Mutex
	capacity int
	seen     map[uint32]float64
	bounded  *lru.Cache
	evicted  uint64
}

// NewHistory returns an empty History. A capacity of 0 means unbounded.
func NewHistory(capacity int) (*History, error) {
	if capacity < 0 {
		return nil, errors.Errorf("history capacity %d is negative", capacity)
	}
	h := &History{capacity: capacity}
	if capacity == 0 {
		h.seen = make(map[uint32]float64)
		return h, nil
	}
	cache, err := lru.NewWithEvict(capacity, func(_ interface{}, _ interface{}) {
		h.evicted++
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating history cache")
	}
	h.bounded = cache
	return h, nil
}

// Observe records ts for id and returns the time since the previous frame
// with the same id, clamped to zero. The first frame of an id yields 0.
func (h *History) Observe(id uint32, ts float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, ok := h.lookup(id)
	h.store(id, ts)
	if !ok {
		return 0
	}
	if delta := ts - prev; delta > 0 {
		return delta
	}
	return 0
}

// Last returns the stored timestamp for id without updating it.
func (h *History) Last(id uint32) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bounded != nil {
		v, ok := h.bounded.Peek(id)
		if !ok {
			return 0, false
		}
		return v.(float64), true
	}
	v, ok := h.seen[id]
	return v, ok
}

// Len returns the number of ids currently tracked.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bounded != nil {
		return h.bounded.Len()
	}
	return len(h.seen)
}

// Capacity returns the id bound, 0 when unbounded.
func (h *History) Capacity() int {
	return h.capacity
}

// Evictions returns how many ids the capacity bound has pushed out.
func (h *History) Evictions() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evicted
}

// Reset forgets every id, as at the start of a new stream.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bounded != nil {
		h.bounded.Purge()
		h.evicted = 0
		return
	}
	h.seen = make(map[uint32]float64)
}

func (h *History) lookup(id uint32) (float64, bool) {
	if h.bounded != nil {
		v, ok := h.bounded.Get(id)
		if !ok {
			return 0, false
		}
		return v.(float64), true
	}
	v, ok := h.seen[id]
	return v, ok
}

func (h *History) store(id uint32, ts float64) {
	if h.bounded != nil {
		h.bounded.Add(id, ts)
		return
	}
	h.seen[id] = ts
}
