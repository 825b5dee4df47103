package write

import (
	"context"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/router"
	"github.com/shardroute/dbproxy/internal/shard"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
)

// bucket accumulates every sub-op routed to one shard, so they can be
// issued as a single local group (one command-form call, or a small
// ParallelOp of wire-form calls) instead of one round trip each.
type bucket struct {
	version topology.ChunkVersion
	ops     []SubOp
}

type seqEntry struct {
	op      SubOp
	targets []router.Target
}

func stopOnError(ack doc.Doc) bool {
	v, ok := ack.Get("err")
	return ok && v != nil
}

// stopOnFirstMatch is the cross-shard sequential's stop rule for a
// non-parallelizable update/delete: stop as soon as a shard reports it
// actually touched a document, or an error.
func stopOnFirstMatch(ack doc.Doc) bool {
	if v, ok := ack.Get("n"); ok {
		if n, ok2 := v.(int64); ok2 && n != 0 {
			return true
		}
	}
	return stopOnError(ack)
}

func stopOnFindAndModifyMatch(ack doc.Doc) bool {
	v, ok := ack.Get("value")
	return ok && v != nil
}

// findAndModifyMerge picks the first non-null "value" among the visited
// shards' replies. Because SequentialOp always stops the round it visits a
// non-null value, at most the last visited ack can carry one; anything
// else indicates a concurrent chunk migration raced the plan, which is
// reported rather than silently resolved.
func findAndModifyMerge(acks []doc.Doc) (doc.Doc, error) {
	if len(acks) == 0 {
		return doc.Doc{}, nil
	}
	last := acks[len(acks)-1]
	if v, ok := last.Get("value"); ok && v != nil {
		for _, a := range acks[:len(acks)-1] {
			if pv, ok := a.Get("value"); ok && pv != nil {
				return doc.Doc{}, ErrFindAndModifyInvariant
			}
		}
		return last, nil
	}
	return last, nil
}

// Plan implements spec.md §4.6's planner: ordered batches with more than
// one sub-op become a SequentialOp of individually-planned single-op
// batches (stopping at the first error); otherwise every sub-op is routed,
// bucketed by target shard (fanning parallelizable multi-shard sub-ops
// into every shard's bucket, and giving each non-parallelizable
// multi-shard sub-op its own cross-shard SequentialOp), and the resulting
// local groups plus sequential entries plus any null/failed routes are
// composed: one entry alone is returned directly, otherwise as a
// ParallelOp.
func (e *Engine) Plan(ctx context.Context, snap *topology.Map, batch Batch) (Operation, error) {
	if batch.Ordered && len(batch.Ops) > 1 {
		children := make([]Operation, 0, len(batch.Ops))
		for _, op := range batch.Ops {
			child, err := e.Plan(ctx, snap, Batch{Namespace: batch.Namespace, Ops: []SubOp{op}, WriteConcern: batch.WriteConcern})
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &SequentialOp{Children: children, StopWhen: stopOnError}, nil
	}

	buckets := make(map[topology.ShardID]*bucket)
	var bucketOrder []topology.ShardID
	var seqEntries []seqEntry
	var direct []Operation

	hasWC := batch.WriteConcern.Len() > 0

	for _, op := range batch.Ops {
		if op.Kind == KindDelete && op.Limit != 0 && op.Limit != 1 {
			return nil, ErrLimitNotImplemented
		}

		targets, err := router.Find(snap, batch.Namespace, op.CriteriaDoc())
		if err != nil {
			return nil, err
		}

		switch {
		case len(targets) == 0:
			switch {
			case op.Kind == KindInsert:
				return nil, ErrInsertRequiresKey
			case op.Kind == KindUpdate && op.Upsert:
				return nil, ErrUpsertRequiresKey
			default:
				direct = append(direct, NullOp{})
			}

		case len(targets) == 1:
			t := targets[0]
			b, ok := buckets[t.ShardID]
			if !ok {
				b = &bucket{version: t.Version}
				buckets[t.ShardID] = b
				bucketOrder = append(bucketOrder, t.ShardID)
			} else if !b.version.Equal(t.Version) {
				return nil, ErrVersionMismatch
			}
			b.ops = append(b.ops, op)

		default:
			if op.Parallelizable() {
				for _, t := range targets {
					b, ok := buckets[t.ShardID]
					if !ok {
						b = &bucket{version: t.Version}
						buckets[t.ShardID] = b
						bucketOrder = append(bucketOrder, t.ShardID)
					}
					b.ops = append(b.ops, op)
				}
			} else {
				seqEntries = append(seqEntries, seqEntry{op: op, targets: targets})
			}
		}
	}

	var entries []Operation
	entries = append(entries, direct...)

	for _, id := range bucketOrder {
		b := buckets[id]
		sh, err := e.Resolver.Resolve(ctx, id, snap)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e.buildLocalGroup(sh, batch.Namespace, b.version, b.ops, batch.WriteConcern, hasWC))
	}

	for _, se := range seqEntries {
		children := make([]Operation, 0, len(se.targets))
		for _, t := range se.targets {
			sh, err := e.Resolver.Resolve(ctx, t.ShardID, snap)
			if err != nil {
				return nil, err
			}
			children = append(children, e.buildLocalGroup(sh, batch.Namespace, t.Version, []SubOp{se.op}, batch.WriteConcern, hasWC))
		}
		entries = append(entries, &SequentialOp{Children: children, StopWhen: stopOnFirstMatch})
	}

	if len(entries) == 1 {
		return entries[0], nil
	}
	return &ParallelOp{Children: entries}, nil
}

// PlanFindAndModify routes a findAndModify command by its selector: one
// matching shard issues it directly, several compose a stop-at-first-match
// SequentialOp (rejected outright if upsert is set, since an upsert must
// know in advance which single shard will own the inserted document).
func (e *Engine) PlanFindAndModify(ctx context.Context, snap *topology.Map, ns topology.Namespace, selector, command doc.Doc, upsert bool) (Operation, error) {
	targets, err := router.Find(snap, ns, selector)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrFindAndModifyNoShard
	}
	if len(targets) == 1 {
		sh, err := e.Resolver.Resolve(ctx, targets[0].ShardID, snap)
		if err != nil {
			return nil, err
		}
		return &FindAndModifyOp{Shard: sh, Namespace: ns, Version: targets[0].Version, Command: command, Timing: e.timing(), Clock: e.Clock}, nil
	}
	if upsert {
		return nil, ErrUpsertRequiresKey
	}
	children := make([]Operation, 0, len(targets))
	for _, t := range targets {
		sh, err := e.Resolver.Resolve(ctx, t.ShardID, snap)
		if err != nil {
			return nil, err
		}
		children = append(children, &FindAndModifyOp{Shard: sh, Namespace: ns, Version: t.Version, Command: command, Timing: e.timing(), Clock: e.Clock})
	}
	return &SequentialOp{Children: children, StopWhen: stopOnFindAndModifyMatch, Merge: findAndModifyMerge}, nil
}

func (e *Engine) buildLocalGroup(sh shard.Shard, ns topology.Namespace, version topology.ChunkVersion, ops []SubOp, wc doc.Doc, hasWC bool) Operation {
	if hasWC && supportsCommandForm(sh) {
		return &CommandOp{Shard: sh, Namespace: ns, Version: version, Command: buildCommandDoc(ns, ops, wc), Timing: e.timing(), Clock: e.Clock}
	}
	if len(ops) == 1 {
		return e.buildWireOp(sh, ns, version, ops[0])
	}
	children := make([]Operation, 0, len(ops))
	for _, op := range ops {
		children = append(children, e.buildWireOp(sh, ns, version, op))
	}
	return &ParallelOp{Children: children}
}

func (e *Engine) buildWireOp(sh shard.Shard, ns topology.Namespace, version topology.ChunkVersion, op SubOp) *WireOp {
	w := &WireOp{Shard: sh, Namespace: ns, Version: version, Timing: e.timing(), Clock: e.Clock}
	switch op.Kind {
	case KindInsert:
		w.OpCode = wire.OpInsert
		w.Docs = []doc.Doc{op.InsertDoc}
	case KindUpdate:
		w.OpCode = wire.OpUpdate
		if op.Upsert {
			w.Flags |= 1
		}
		if op.Multi {
			w.Flags |= 2
		}
		w.Docs = []doc.Doc{op.Selector, op.Update}
	case KindDelete:
		w.OpCode = wire.OpDelete
		if op.Limit == 1 {
			w.Flags |= 1
		}
		w.Docs = []doc.Doc{op.Selector}
	}
	return w
}

// supportsCommandForm reports whether every alive backend of sh accepts
// the newer command write form; a single legacy backend forces the whole
// bucket down to wire form so its replies stay comparable.
func supportsCommandForm(sh shard.Shard) bool {
	for _, b := range sh.Backends() {
		if b.Alive() && !b.SupportsCommandForm() {
			return false
		}
	}
	return true
}

func buildCommandDoc(ns topology.Namespace, ops []SubOp, wc doc.Doc) doc.Doc {
	switch ops[0].Kind {
	case KindInsert:
		arr := make(doc.Array, 0, len(ops))
		for _, op := range ops {
			arr = append(arr, op.InsertDoc)
		}
		return doc.New(doc.F("insert", ns.Collection), doc.F("documents", arr), doc.F("writeConcern", wc))
	case KindUpdate:
		arr := make(doc.Array, 0, len(ops))
		for _, op := range ops {
			arr = append(arr, doc.New(
				doc.F("q", op.Selector), doc.F("u", op.Update),
				doc.F("upsert", op.Upsert), doc.F("multi", op.Multi),
			))
		}
		return doc.New(doc.F("update", ns.Collection), doc.F("updates", arr), doc.F("writeConcern", wc))
	case KindDelete:
		arr := make(doc.Array, 0, len(ops))
		for _, op := range ops {
			arr = append(arr, doc.New(doc.F("q", op.Selector), doc.F("limit", int64(op.Limit))))
		}
		return doc.New(doc.F("delete", ns.Collection), doc.F("deletes", arr), doc.F("writeConcern", wc))
	}
	return doc.Doc{}
}
