package service

import (
	"sync"

	"apiremote/internal/types"
)

// DashboardRing is a fixed-capacity FIFO of dashboard entries. Appending to a
// full ring evicts the oldest entry.
type DashboardRing struct {
	entries []types.DashboardEntry
	start   int
	count   int
	total   int64
	mutex   sync.RWMutex
}

// NewDashboardRing creates a ring holding at most capacity entries
func NewDashboardRing(capacity int) *DashboardRing {
	if capacity < 1 {
		capacity = 1
	}
	return &DashboardRing{entries: make([]types.DashboardEntry, capacity)}
}

// Append adds an entry and returns the resulting length
func (r *DashboardRing) Append(entry types.DashboardEntry) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	capacity := len(r.entries)
	if r.count < capacity {
		r.entries[(r.start+r.count)%capacity] = entry
		r.count++
	} else {
		r.entries[r.start] = entry
		r.start = (r.start + 1) % capacity
	}
	r.total++
	return r.count
}

// Entries returns a copy of the ring contents, oldest first
func (r *DashboardRing) Entries() []types.DashboardEntry {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]types.DashboardEntry, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.entries[(r.start+i)%len(r.entries)]
	}
	return out
}

// Len returns the current number of entries
func (r *DashboardRing) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.count
}

// Total returns how many entries were ever appended
func (r *DashboardRing) Total() int64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.total
}

// Capacity returns the maximum number of entries kept
func (r *DashboardRing) Capacity() int {
	return len(r.entries)
}
