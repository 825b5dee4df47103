// Package write implements spec.md §4.6: the WriteEngine, its planner that
// turns a client write batch into a tree of Operation values addressed at
// individual shards, and the acknowledgement-merging rules that reduce a
// tree's replies back into the single getLastError-shaped document the
// client expects.
package write

import (
	"context"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/topology"
)

// OpKind distinguishes the three legacy write shapes a Batch can carry.
type OpKind int

const (
	KindInsert OpKind = iota
	KindUpdate
	KindDelete
)

// SubOp is one write within a batch: an insert document, or an
// update/delete selector plus its modifier/limit.
type SubOp struct {
	Kind      OpKind
	InsertDoc doc.Doc
	Selector  doc.Doc
	Update    doc.Doc
	Upsert    bool
	Multi     bool
	// Limit is meaningful for deletes only: 0 removes every match, 1
	// removes at most one. Any other value is rejected by the planner.
	Limit int32
}

// CriteriaDoc is the document the router matches against: the document
// itself for an insert (its sharding key fields must be present), the
// selector for update and delete.
func (s SubOp) CriteriaDoc() doc.Doc {
	if s.Kind == KindInsert {
		return s.InsertDoc
	}
	return s.Selector
}

// Parallelizable reports whether s may be fanned out to every shard it
// touches concurrently without changing its observable semantics
// (spec.md §4.6): a multi-update with no upsert, or an unlimited delete.
func (s SubOp) Parallelizable() bool {
	switch s.Kind {
	case KindUpdate:
		return s.Multi && !s.Upsert
	case KindDelete:
		return s.Limit == 0
	default:
		return false
	}
}

// Batch is one client write request: a namespace, its ordering rule, one
// or more sub-operations, and the write concern used to size the
// acknowledgement wait once Acknowledge is called.
type Batch struct {
	Namespace    topology.Namespace
	Ordered      bool
	Ops          []SubOp
	WriteConcern doc.Doc
}

// Operation is the uniform shape of every write execution unit, whether it
// talks to one shard directly or composes other Operations: perform the
// write, fetch (and cache) its acknowledgement under a given write
// concern, and release any held resources.
type Operation interface {
	Perform(ctx context.Context) error
	Acknowledge(ctx context.Context, writeConcern doc.Doc) (doc.Doc, error)
	Finish(ctx context.Context)
}

// FailedOp is a pre-resolved Operation for a batch the planner rejected
// before touching any shard (e.g. no sharding key in an insert document).
type FailedOp struct {
	err error
}

func NewFailedOp(err error) *FailedOp { return &FailedOp{err: err} }

func (f *FailedOp) Perform(context.Context) error { return f.err }

func (f *FailedOp) Acknowledge(context.Context, doc.Doc) (doc.Doc, error) {
	return doc.New(
		doc.F("ok", int64(0)),
		doc.F("err", f.err.Error()),
		doc.F("errmsg", f.err.Error()),
	), nil
}

func (f *FailedOp) Finish(context.Context) {}

// NullOp is the null-route Operation: a write whose criteria matched no
// chunk at all (an update or delete against a not-yet-populated range),
// acknowledged as a no-op success per spec.md §4.6.
type NullOp struct{}

func (NullOp) Perform(context.Context) error { return nil }

func (NullOp) Acknowledge(context.Context, doc.Doc) (doc.Doc, error) {
	return doc.New(doc.F("ok", int64(1)), doc.F("n", int64(0))), nil
}

func (NullOp) Finish(context.Context) {}
