package write

import (
	"context"
	"strings"
	"time"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/priv"
	"github.com/shardroute/dbproxy/internal/read"
	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/topology"
)

// Options are the write engine's process-wide deadlines.
type Options struct {
	WriteTimeout    time.Duration
	WriteRetransmit time.Duration
}

// Engine is spec.md §4.6's WriteEngine: privilege checks, the read-only
// guard, and the planner that turns one Batch into an Operation tree.
// Stale-config retry across a whole batch belongs to the session layer
// (spec.md §4.7), which alone knows when to refresh the topology snapshot
// between attempts.
type Engine struct {
	Resolver read.ShardResolver
	Clock    runtime.Clock
	Options  Options
	ReadOnly bool
}

func (e *Engine) timing() Timing {
	return Timing{WriteTimeout: e.Options.WriteTimeout, WriteRetransmit: e.Options.WriteRetransmit}
}

// checkPrivileges implements spec.md §4.6's namespace-pattern privilege
// rule: every write needs WRITE; system.users additionally needs
// USER_ADMIN; the config database needs CLUSTER_ADMIN; any other
// system.* collection needs DB_ADMIN.
func checkPrivileges(ns topology.Namespace, privs *priv.Set) error {
	if privs == nil {
		return nil
	}
	if !privs.Has(ns.Database, priv.Write) {
		return ErrUnauthorized
	}
	switch {
	case ns.Collection == "system.users":
		if !privs.Has(ns.Database, priv.UserAdmin) {
			return ErrUnauthorized
		}
	case ns.IsConfigDB():
		if !privs.Has(ns.Database, priv.ClusterAdmin) {
			return ErrUnauthorized
		}
	case strings.HasPrefix(ns.Collection, "system."):
		if !privs.Has(ns.Database, priv.DBAdmin) {
			return ErrUnauthorized
		}
	}
	return nil
}

// Execute is the write engine's entry point: the read-only and privilege
// guards, then Plan against the given (already fetched) topology snapshot.
func (e *Engine) Execute(ctx context.Context, snap *topology.Map, batch Batch, privs *priv.Set) (Operation, error) {
	if e.ReadOnly {
		return nil, ErrReadOnly
	}
	if err := checkPrivileges(batch.Namespace, privs); err != nil {
		return nil, err
	}
	return e.Plan(ctx, snap, batch)
}

// ExecuteFindAndModify is Execute's counterpart for the findAndModify
// command, which has its own single-command routing shape (plan.go).
func (e *Engine) ExecuteFindAndModify(ctx context.Context, snap *topology.Map, ns topology.Namespace, selector, command doc.Doc, upsert bool, privs *priv.Set) (Operation, error) {
	if e.ReadOnly {
		return nil, ErrReadOnly
	}
	if err := checkPrivileges(ns, privs); err != nil {
		return nil, err
	}
	return e.PlanFindAndModify(ctx, snap, ns, selector, command, upsert)
}
