package cluster

import (
	"context"
	"time"

	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/shard"
	"github.com/shardroute/dbproxy/internal/topology"
)

// Resolver is the production read.ShardResolver / write.Engine.Resolver:
// it turns a topology.ShardIdentity into a live shard.Shard, dialing and
// pinging its backends the first time and interning the result in a
// process-wide shard.Pool for every later lookup (spec §9).
type Resolver struct {
	pool           *shard.Pool
	dial           endpoint.Dialer
	endpointCfg    endpoint.Config
	localThreshold time.Duration
	maxReplLag     time.Duration
	clock          runtime.Clock
}

func NewResolver(pool *shard.Pool, dial endpoint.Dialer, endpointCfg endpoint.Config, localThreshold, maxReplLag time.Duration, clock runtime.Clock) *Resolver {
	if clock == nil {
		clock = runtime.SystemClock{}
	}
	return &Resolver{
		pool:           pool,
		dial:           dial,
		endpointCfg:    endpointCfg,
		localThreshold: localThreshold,
		maxReplLag:     maxReplLag,
		clock:          clock,
	}
}

func (r *Resolver) Resolve(_ context.Context, id topology.ShardID, m *topology.Map) (shard.Shard, error) {
	identity, ok := m.Shard(id)
	if !ok {
		return nil, topology.ErrUnknownShard.WithCausef("shard:%s", id)
	}
	return r.pool.GetOrCreate(identity.ConnectionString, func() shard.Shard {
		return r.build(identity)
	}), nil
}

// build dials every host in identity once and wires up the shard variant
// matching its connection-string shape (spec §3/§4.2).
func (r *Resolver) build(identity topology.ShardIdentity) shard.Shard {
	backends := make([]*endpoint.Backend, 0, len(identity.Hosts))
	for _, host := range identity.Hosts {
		b := endpoint.NewBackend(host)
		ep := endpoint.New(host, b, r.endpointCfg, r.dial, newPinger(host, r.dial, identity.Kind), r.clock)
		b.AddEndpoint(ep)
		backends = append(backends, b)
	}

	switch identity.Kind {
	case topology.KindSingleton:
		return shard.NewSingleton(identity.ID, backends[0])
	case topology.KindSyncGroup:
		return shard.NewSyncGroup(identity.ID, backends, r.localThreshold)
	default:
		return shard.NewReplicaSet(identity.ID, backends, r.localThreshold, r.maxReplLag)
	}
}
