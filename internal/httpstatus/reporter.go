// Package httpstatus implements spec.md §6's HTTP auxiliary surface,
// served on the same listening port as the wire protocol whenever
// internal/session recognizes a connection's first bytes as an HTTP
// request: "/" renders an HTML shard status page, "/monitor" reports a
// one-line OK/WARNING/CRITICAL health verdict for external monitoring.
package httpstatus

import (
	"context"
	"fmt"
	"time"

	"github.com/shardroute/dbproxy/internal/monitoring"
	"github.com/shardroute/dbproxy/internal/read"
	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/topocache"
	"github.com/shardroute/dbproxy/internal/topology"
)

// Reporter aggregates the process's health for both routes: the topology
// cache's own availability and age, plus every shard's own Status.
type Reporter struct {
	Cache            *topocache.Cache
	Resolver         read.ShardResolver
	Clock            runtime.Clock
	MonitorNoPrimary time.Duration
	MonitorConfigAge time.Duration
}

// snapshotView bundles the topology snapshot with the resolved live shards
// so both HTML rendering and the /monitor check walk the same data once.
type snapshotView struct {
	snap   *topology.Map
	shards map[topology.ShardID]shardView
}

type shardView struct {
	identity topology.ShardIdentity
	status   monitoring.Status
	err      error
}

func (r *Reporter) view(ctx context.Context) (*snapshotView, error) {
	snap, err := r.Cache.Get()
	if err != nil {
		return nil, err
	}
	now := r.Clock.Now()
	shards := make(map[topology.ShardID]shardView, len(snap.Shards))
	for id, identity := range snap.Shards {
		sh, err := r.Resolver.Resolve(ctx, id, snap)
		if err != nil {
			shards[id] = shardView{identity: identity, err: err}
			continue
		}
		shards[id] = shardView{identity: identity, status: sh.Status(now, r.MonitorNoPrimary)}
	}
	return &snapshotView{snap: snap, shards: shards}, nil
}

// Check implements monitor.cpp's check(): every shard's Status merged
// together, plus a critical verdict if the config is unavailable or has
// gone stale for longer than MonitorConfigAge.
func (r *Reporter) Check(ctx context.Context) monitoring.Status {
	view, err := r.view(ctx)
	if err != nil {
		return monitoring.CriticalStatus("no config available")
	}

	status := monitoring.OKStatus()
	for _, sv := range view.shards {
		if sv.err != nil {
			status = status.Merge(monitoring.CriticalStatus(fmt.Sprintf("shard %s: %v", sv.identity.ID, sv.err)))
			continue
		}
		status = status.Merge(sv.status)
	}

	if r.MonitorConfigAge != 0 {
		age := r.Clock.Now().Sub(view.snap.CreatedAt)
		if age >= r.MonitorConfigAge {
			status = status.Merge(monitoring.CriticalStatus(
				fmt.Sprintf("cannot update shard config for %s", age.Round(time.Minute))))
		}
	}
	return status
}
