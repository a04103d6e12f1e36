package timer

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by an explicit clock, used in tests to make
// timer behaviour deterministic. Callbacks fire synchronously from Advance,
// in deadline order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	entries map[int]*manualEntry
}

type manualEntry struct {
	id       int
	deadline time.Time
	fn       func()
}

type manualHandle struct {
	m  *Manual
	id int
}

func (h *manualHandle) Cancel() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if _, ok := h.m.entries[h.id]; !ok {
		return false
	}
	delete(h.m.entries, h.id)
	return true
}

// NewManual creates a Manual scheduler starting at an arbitrary fixed instant.
func NewManual() *Manual {
	return &Manual{
		now:     time.Unix(0, 0),
		entries: make(map[int]*manualEntry),
	}
}

func (m *Manual) Schedule(d time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.entries[id] = &manualEntry{id: id, deadline: m.now.Add(d), fn: fn}
	return &manualHandle{m: m, id: id}
}

// Advance moves the clock forward by d and fires every callback whose
// deadline has passed, in deadline order. Callbacks may schedule further
// callbacks; those fire too if they fall within the advanced window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var due []*manualEntry
		for _, e := range m.entries {
			if !e.deadline.After(target) {
				due = append(due, e)
			}
		}
		if len(due) == 0 {
			m.now = target
			m.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
		next := due[0]
		m.now = next.deadline
		delete(m.entries, next.id)
		m.mu.Unlock()

		next.fn()
	}
}

// Pending reports how many callbacks are scheduled and not yet fired.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
