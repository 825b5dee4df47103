// Package shard implements spec.md §4.2: the three Shard variants over a
// connection string (Singleton, SyncGroup, ReplicaSet), read-preference
// resolution including localThreshold selection, and the process-wide
// Pool interning shards by connection string.
package shard

import (
	"context"
	"time"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/monitoring"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/pkg/coderr"
)

var ErrNoSuitableBackend = coderr.NewCodeError(coderr.NoSuitableBackend, "shard has no suitable backend for the request")

// ReadMode is the resolved read-preference mode of spec.md §4.2.
type ReadMode int

const (
	ModePrimary ReadMode = iota
	ModePrimaryPreferred
	ModeSecondary
	ModeSecondaryPreferred
	ModeNearest
)

// ReadPreference is a document with mode, an optional tags disjunction, and
// per-request deadline overrides (spec.md GLOSSARY).
type ReadPreference struct {
	Mode        ReadMode
	HasMode     bool
	Tags        doc.Array
	ReadTimeout int64 // nanoseconds; 0 = use global default
	Retransmit  int64
	// SlaveOk mirrors the wire query's slaveOk flag, threaded down from the
	// caller: EffectiveMode falls back to it only when no explicit mode was
	// set on the read preference document itself.
	SlaveOk bool
}

// EffectiveMode resolves spec.md §4.2's mode-selection rule: explicit mode
// if present; else "nearest" if slaveOk is set; else "primary".
func (p ReadPreference) EffectiveMode(slaveOk bool) ReadMode {
	if p.HasMode {
		return p.Mode
	}
	if slaveOk {
		return ModeNearest
	}
	return ModePrimary
}

// Effective resolves the mode using the preference's own SlaveOk field,
// the form Shard implementations call so callers only need to set SlaveOk
// once on the ReadPreference before invoking ReadOp.
func (p ReadPreference) Effective() ReadMode {
	return p.EffectiveMode(p.SlaveOk)
}

// Shard is the common contract of the three variants: pick a backend
// satisfying a read preference, exposing an exclusion set for hedge
// retransmission's "pick a different backend" step.
type Shard interface {
	ID() topology.ShardID
	Kind() topology.ShardKind
	// ReadOp returns a connection satisfying pref, excluding the backend
	// identified by exclude (empty string excludes nothing).
	ReadOp(ctx context.Context, pref ReadPreference, exclude string) (*endpoint.Connection, error)
	// WriteOp returns a primary connection, or ErrNoSuitableBackend.
	WriteOp(ctx context.Context) (*endpoint.Connection, error)
	// Failed reports that the backend at addr failed; the shard updates
	// its liveness/primary bookkeeping accordingly.
	Failed(addr string)
	// LostMaster reports a lost primary. A replica set records the loss
	// time and kicks an immediate ping of all backends, coalescing
	// concurrent callers into one in-flight ping; Singleton and SyncGroup
	// do nothing.
	LostMaster()
	Backends() []*endpoint.Backend
	// Status reports the shard's health for the /monitor HTTP endpoint
	// (spec.md §6): a replica set escalates a sustained lack of primary to
	// CRITICAL after monitorNoPrimary elapses, WARNING before that.
	Status(now time.Time, monitorNoPrimary time.Duration) monitoring.Status
}

func backendAddr(b *endpoint.Backend) string { return b.Address }

func excludeMatches(b *endpoint.Backend, exclude string) bool {
	return exclude != "" && b.Address == exclude
}
