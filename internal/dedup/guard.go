// Package dedup tracks which message ids an agent has already handled so that
// processing a message is idempotent when polls are retried.
package dedup

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the number of ids remembered when none is configured.
const DefaultCapacity = 100

// Guard is a bounded, insertion-ordered set of message ids. Once full, marking
// a new id evicts the oldest one, so an evicted id would be treated as new if
// it were ever delivered again.
type Guard struct {
	mu       sync.Mutex
	seen     map[string]*list.Element
	order    *list.List // oldest at front
	capacity int
}

// New creates a guard remembering at most capacity ids.
// A non-positive capacity uses DefaultCapacity.
func New(capacity int) *Guard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Guard{
		seen:     make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
	}
}

// Seen reports whether id has been marked and not yet evicted.
func (g *Guard) Seen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[id]
	return ok
}

// CheckAndMark returns true if id was already marked (a duplicate). Otherwise
// it marks id and returns false.
func (g *Guard) CheckAndMark(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[id]; ok {
		return true
	}

	if g.order.Len() >= g.capacity {
		g.evictOldest()
	}
	g.seen[id] = g.order.PushBack(id)
	return false
}

// Len returns the number of remembered ids.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order.Len()
}

// Capacity returns the maximum number of remembered ids.
func (g *Guard) Capacity() int {
	return g.capacity
}

// evictOldest must be called with mu held.
func (g *Guard) evictOldest() {
	front := g.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	g.order.Remove(front)
	delete(g.seen, id)
}
