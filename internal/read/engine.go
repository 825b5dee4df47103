package read

import (
	"context"
	"time"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/priv"
	"github.com/shardroute/dbproxy/internal/router"
	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/shard"
	"github.com/shardroute/dbproxy/internal/topocache"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/pkg/coderr"
)

// allowedQueryFlags is the set of OpQuery flag bits the ReadEngine accepts
// (spec.md §4.5): slaveOk, exhaust, noTimeout, partial. Tailable/awaitData
// cursors are not implemented.
const allowedQueryFlags = wire.FlagSlaveOK | wire.FlagExhaust | wire.FlagNoTimeout | wire.FlagPartial

// ValidateFlags rejects any OpQuery flag bit outside allowedQueryFlags.
func ValidateFlags(flags uint32) error {
	if flags & ^uint32(allowedQueryFlags) != 0 {
		return ErrBadFlags
	}
	return nil
}

var ErrExplainNotSupported = coderr.NewCodeError(coderr.NotImplemented, "$explain is not supported")

// ShardResolver maps a topology shard id, as seen in a particular snapshot,
// to the live shard.Shard object that serves it. Implementations intern
// shard.Shard instances (spec.md §9's process-wide ShardPool) keyed by
// connection string so the same replica set is never dialed twice.
type ShardResolver interface {
	Resolve(ctx context.Context, id topology.ShardID, m *topology.Map) (shard.Shard, error)
}

// Options are the read engine's process-wide defaults, overridden per
// request by a ReadPreference's own deadlines.
type Options struct {
	ReadTimeout    time.Duration
	ReadRetransmit time.Duration
}

// Engine is spec.md §4.5's ReadEngine: turns a namespace + criteria query
// into a DataSource, retrying on the stale-config/not-master pattern common
// to every operation boundary (readOp, up to three attempts).
type Engine struct {
	Cache    *topocache.Cache
	Resolver ShardResolver
	Clock    runtime.Clock
	Options  Options
}

const maxRetries = 3

// QueryInput is everything the session layer decodes off the wire before
// calling Query.
type QueryInput struct {
	Namespace     topology.Namespace
	Criteria      doc.Doc
	FieldSelector doc.Doc
	HasSelector   bool
	Skip          int32
	BatchSize     int32
	OrderBy       doc.Doc
	HasOrderBy    bool
	Pref          shard.ReadPreference

	SlaveOk   bool
	Partial   bool
}

// checkPrivileges implements spec.md §4.5's privilege rule: system.users
// needs USER_ADMIN, everything else needs READ. A nil privilege set means
// authentication/authorization is disabled process-wide.
func checkPrivileges(ns topology.Namespace, privs *priv.Set) error {
	if privs == nil {
		return nil
	}
	need := priv.Read
	if ns.Collection == "system.users" {
		need = priv.UserAdmin
	}
	if !privs.Has(ns.Database, need) {
		return ErrUnauthorized
	}
	return nil
}

// Query implements spec.md §4.5's entry point: the privilege check, the
// $explain rejection, and the router-then-dispatch retry loop (readOp).
// Query flag bits are not checked here; callers run ValidateFlags first.
func (e *Engine) Query(ctx context.Context, in QueryInput, privs *priv.Set) (DataSource, error) {
	if err := checkPrivileges(in.Namespace, privs); err != nil {
		return nil, err
	}
	if _, isExplain := in.Criteria.Get("$explain"); isExplain {
		return nil, ErrExplainNotSupported
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		snap, err := e.Cache.Get()
		if err != nil {
			return nil, err
		}
		ds, err := e.dispatch(ctx, snap, in)
		if err == nil {
			return ds, nil
		}
		lastErr = err
		switch {
		case coderr.Is(err, coderr.ShardConfigStale):
			_ = e.Cache.Update(ctx)
			continue
		case coderr.Is(err, coderr.NotMaster):
			continue
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

func (e *Engine) dispatch(ctx context.Context, snap *topology.Map, in QueryInput) (DataSource, error) {
	targets, err := router.Find(snap, in.Namespace, in.Criteria)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return NullDataSource{}, nil
	}

	retransmit, timeout := e.timing(in.Pref)

	if len(targets) == 1 {
		sh, err := e.Resolver.Resolve(ctx, targets[0].ShardID, snap)
		if err != nil {
			return nil, err
		}
		return NewBackendDataSource(ctx, sh, e.request(in, targets[0].Version, retransmit, timeout), e.Clock)
	}

	branches := make([]MergeBranch, 0, len(targets))
	for _, t := range targets {
		sh, err := e.Resolver.Resolve(ctx, t.ShardID, snap)
		if err != nil {
			if in.Partial {
				continue
			}
			return nil, err
		}
		branches = append(branches, MergeBranch{Shard: sh, Req: e.request(in, t.Version, retransmit, timeout)})
	}
	return NewMergeDataSource(ctx, branches, in.OrderBy, e.Clock, in.Partial)
}

func (e *Engine) request(in QueryInput, version topology.ChunkVersion, retransmit, timeout time.Duration) Request {
	return Request{
		Namespace:     in.Namespace,
		Version:       version,
		Query:         in.Criteria,
		FieldSelector: in.FieldSelector,
		HasSelector:   in.HasSelector,
		Skip:          in.Skip,
		BatchSize:     in.BatchSize,
		SlaveOk:       in.SlaveOk,
		OrderBy:       in.OrderBy,
		Pref:          in.Pref,
		Retransmit:    retransmit,
		Timeout:       timeout,
	}
}

// timing resolves the per-request deadline overrides a read preference may
// carry over the engine's process-wide defaults (spec.md §5).
func (e *Engine) timing(pref shard.ReadPreference) (retransmit, timeout time.Duration) {
	retransmit = e.Options.ReadRetransmit
	timeout = e.Options.ReadTimeout
	if pref.Retransmit != 0 {
		retransmit = time.Duration(pref.Retransmit)
	}
	if pref.ReadTimeout != 0 {
		timeout = time.Duration(pref.ReadTimeout)
	}
	return retransmit, timeout
}
