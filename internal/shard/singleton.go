package shard

import (
	"context"
	"time"

	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/monitoring"
	"github.com/shardroute/dbproxy/internal/topology"
)

// Singleton is a shard backed by exactly one backend: readOp returns a
// primary connection iff the backend is alive and not excluded.
type Singleton struct {
	id      topology.ShardID
	backend *endpoint.Backend
}

func NewSingleton(id topology.ShardID, backend *endpoint.Backend) *Singleton {
	return &Singleton{id: id, backend: backend}
}

func (s *Singleton) ID() topology.ShardID      { return s.id }
func (s *Singleton) Kind() topology.ShardKind  { return topology.KindSingleton }
func (s *Singleton) Backends() []*endpoint.Backend { return []*endpoint.Backend{s.backend} }

func (s *Singleton) ReadOp(ctx context.Context, _ ReadPreference, exclude string) (*endpoint.Connection, error) {
	if excludeMatches(s.backend, exclude) || !s.backend.Alive() {
		return nil, ErrNoSuitableBackend.WithCausef("shard:%s, backend:%s", s.id, s.backend.Address)
	}
	ep := s.backend.Nearest()
	if ep == nil {
		return nil, ErrNoSuitableBackend.WithCausef("shard:%s: no alive endpoint", s.id)
	}
	return ep.GetPrimary(ctx)
}

func (s *Singleton) WriteOp(ctx context.Context) (*endpoint.Connection, error) {
	if !s.backend.Alive() {
		return nil, ErrNoSuitableBackend.WithCausef("shard:%s: backend not alive", s.id)
	}
	ep := s.backend.Nearest()
	if ep == nil {
		return nil, ErrNoSuitableBackend.WithCausef("shard:%s: no alive endpoint", s.id)
	}
	return ep.GetPrimary(ctx)
}

// Failed handles an ordinary backend failure (spec.md §4.1): mark dead,
// flush the pools, and kick the ping loop, via every endpoint of the
// matching backend. Permanent half-dead status is reserved for the
// establish "metadata init" case, not a plain write timeout.
func (s *Singleton) Failed(addr string) {
	if s.backend.Address != addr {
		return
	}
	for _, ep := range s.backend.Endpoints() {
		ep.Failed()
	}
}

func (s *Singleton) LostMaster() {
	// A singleton has no election to wait out; nothing to invalidate
	// beyond the endpoint's own ping-driven liveness.
}

func (s *Singleton) Status(time.Time, time.Duration) monitoring.Status {
	if s.backend.Alive() {
		return monitoring.OKStatus()
	}
	return monitoring.CriticalStatus(s.backend.Address + " is dead")
}
