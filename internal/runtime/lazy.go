package runtime

import "sync"

// Lazy is a compute-on-read cache with a version counter, per spec.md §9's
// mapping of the source's lazy-initialized invalidatable caches (primary
// endpoint, nearest endpoint, roundtrip-ordered candidate list): readers
// take the cached value under a shared lock when present; a miss recomputes
// under an exclusive lock using recompute. Invalidate bumps the version and
// clears the value without needing a recompute function at hand.
type Lazy[T any] struct {
	mu      sync.RWMutex
	valid   bool
	value   T
	version uint64
}

// Get returns the cached value if present, else calls recompute under an
// exclusive lock, caches, and returns it.
func (l *Lazy[T]) Get(recompute func() T) T {
	l.mu.RLock()
	if l.valid {
		v := l.value
		l.mu.RUnlock()
		return v
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.valid {
		return l.value
	}
	l.value = recompute()
	l.valid = true
	l.version++
	return l.value
}

// Invalidate clears the cached value, forcing the next Get to recompute.
func (l *Lazy[T]) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.valid = false
	l.version++
	var zero T
	l.value = zero
}

// Version returns the current generation counter, bumped on every
// invalidation and every recompute; useful for tests asserting a cache was or wasn't recomputed.
func (l *Lazy[T]) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}
