package shard

import (
	"sync"
)

// Pool is the process-wide interning registry of Shard by connection
// string (spec.md §9 DESIGN NOTES: "Shards are interned in a process-wide
// registry by connection string; holders obtain a handle via lookup").
// Pointers from chunks/databases into shards are stable references into
// this registry for the process lifetime.
type Pool struct {
	mu     sync.RWMutex
	shards map[string]Shard
}

func NewPool() *Pool {
	return &Pool{shards: make(map[string]Shard)}
}

// Get returns the interned shard for connectionString, or false if it has
// not been created yet — callers create it via GetOrCreate.
func (p *Pool) Get(connectionString string) (Shard, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.shards[connectionString]
	return s, ok
}

// GetOrCreate returns the interned shard for connectionString, calling
// create under an exclusive lock if it does not exist yet.
func (p *Pool) GetOrCreate(connectionString string, create func() Shard) Shard {
	p.mu.RLock()
	if s, ok := p.shards[connectionString]; ok {
		p.mu.RUnlock()
		return s
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.shards[connectionString]; ok {
		return s
	}
	s := create()
	p.shards[connectionString] = s
	return s
}

// All returns every interned shard, for the ping/monitoring surfaces.
func (p *Pool) All() []Shard {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Shard, 0, len(p.shards))
	for _, s := range p.shards {
		out = append(out, s)
	}
	return out
}
