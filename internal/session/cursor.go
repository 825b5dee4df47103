package session

import (
	"context"
	"sync"
)

// cursorMap is the open-cursor table a query/getMore/killCursors loop
// drives: spec.md §4.7 keeps this local to a session by default, or shared
// across every connection when GlobalCursors is set, in which case one
// cursorMap outlives any single Session.
type cursorMap struct {
	mu      sync.Mutex
	next    uint64
	cursors map[uint64]*cursorEntry
}

func newCursorMap() *cursorMap {
	return &cursorMap{cursors: make(map[uint64]*cursorEntry)}
}

// insert reserves a new, always non-zero, id for e. A cursor id of zero on
// the wire always means "no cursor", so ids start at 1.
func (m *cursorMap) insert(e *cursorEntry) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	m.cursors[id] = e
	return id
}

func (m *cursorMap) get(id uint64) (*cursorEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cursors[id]
	return e, ok
}

func (m *cursorMap) put(id uint64, e *cursorEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[id] = e
}

func (m *cursorMap) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, id)
}

// closeAll releases every remaining cursor, called when a session's
// connection closes so its local (non-global) cursors don't leak.
func (m *cursorMap) closeAll(ctx context.Context) {
	m.mu.Lock()
	cursors := m.cursors
	m.cursors = make(map[uint64]*cursorEntry)
	m.mu.Unlock()
	for _, e := range cursors {
		e.ds.Close(ctx)
	}
}
