package shard

import (
	"context"
	"time"

	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/monitoring"
	"github.com/shardroute/dbproxy/internal/topology"
)

// SyncGroup is an N-writer shard with no replication awareness: reads only,
// picking any alive backend via localThreshold selection (spec.md §4.2).
// Writes are not routed through Shard.WriteOp for a sync group — the write
// engine fans out to every member directly, since there is no primary.
type SyncGroup struct {
	id             topology.ShardID
	backends       []*endpoint.Backend
	localThreshold time.Duration
}

func NewSyncGroup(id topology.ShardID, backends []*endpoint.Backend, localThreshold time.Duration) *SyncGroup {
	return &SyncGroup{id: id, backends: backends, localThreshold: localThreshold}
}

func (g *SyncGroup) ID() topology.ShardID          { return g.id }
func (g *SyncGroup) Kind() topology.ShardKind      { return topology.KindSyncGroup }
func (g *SyncGroup) Backends() []*endpoint.Backend { return g.backends }

func (g *SyncGroup) ReadOp(ctx context.Context, _ ReadPreference, exclude string) (*endpoint.Connection, error) {
	var candidates []*endpoint.Backend
	for _, b := range g.backends {
		if excludeMatches(b, exclude) || !b.Alive() {
			continue
		}
		candidates = append(candidates, b)
	}
	if len(candidates) == 0 {
		return nil, ErrNoSuitableBackend.WithCausef("shard:%s: no alive member", g.id)
	}
	chosen := localThresholdPick(candidates, g.localThreshold)
	ep := chosen.Nearest()
	if ep == nil {
		return nil, ErrNoSuitableBackend.WithCausef("shard:%s: chosen backend has no alive endpoint", g.id)
	}
	return ep.GetAny(ctx)
}

// WriteOp is not meaningful for a sync group; the write engine writes to
// every member directly via Backends().
func (g *SyncGroup) WriteOp(context.Context) (*endpoint.Connection, error) {
	return nil, ErrNoSuitableBackend.WithCausef("shard:%s: sync group has no single primary", g.id)
}

// Failed handles an ordinary backend failure (spec.md §4.1): mark dead,
// flush the pools, and kick the ping loop, via every endpoint of the
// matching member. Permanent half-dead status is reserved for the
// establish "metadata init" case, not a plain write timeout.
func (g *SyncGroup) Failed(addr string) {
	for _, b := range g.backends {
		if b.Address != addr {
			continue
		}
		for _, ep := range b.Endpoints() {
			ep.Failed()
		}
	}
}

func (g *SyncGroup) LostMaster() {}

// Status warns per dead member and escalates to CRITICAL only when every
// member is down, mirroring how a sync group loses no primary election but
// does lose write availability entirely once nothing is left alive.
func (g *SyncGroup) Status(time.Time, time.Duration) monitoring.Status {
	status := monitoring.OKStatus()
	aliveCount := 0
	for _, b := range g.backends {
		if b.Alive() {
			aliveCount++
		} else {
			status = status.Merge(monitoring.WarningStatus(b.Address + " is dead"))
		}
	}
	if aliveCount == 0 {
		status = status.Merge(monitoring.CriticalStatus("shard:" + string(g.id) + " has no alive member"))
	}
	return status
}
