package write

import (
	"context"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/shard"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/internal/wireio"
)

// FindAndModifyOp issues a findAndModify command directly at one shard.
// When a findAndModify's selector spans several shards it is composed into
// a SequentialOp of these, one per candidate shard, stopping at the first
// non-null "value" (findAndModifyMerge in plan.go).
type FindAndModifyOp struct {
	Shard     shard.Shard
	Namespace topology.Namespace
	Version   topology.ChunkVersion
	Command   doc.Doc
	Timing    Timing
	Clock     runtime.Clock

	done   bool
	result doc.Doc
	err    error
}

func (f *FindAndModifyOp) Perform(ctx context.Context) error {
	if f.done {
		return f.err
	}
	buf := wire.EncodeQuery(wire.QueryMessage{
		Header:    wire.Header{ReqID: wireio.NextReqID()},
		Namespace: f.Namespace.Database + ".$cmd",
		Return:    -1,
		Query:     f.Command,
	})
	reply, err := executeOnPrimary(ctx, f.Shard, f.Namespace, f.Version, buf, f.Clock, f.Timing)
	f.done = true
	if err != nil {
		f.err = err
		return err
	}
	if len(reply.Docs) == 0 {
		f.err = ErrEmptyAck
		return f.err
	}
	f.result = reply.Docs[0]
	return nil
}

func (f *FindAndModifyOp) Acknowledge(ctx context.Context, _ doc.Doc) (doc.Doc, error) {
	if !f.done {
		if err := f.Perform(ctx); err != nil {
			return doc.Doc{}, err
		}
	}
	return f.result, f.err
}

func (f *FindAndModifyOp) Finish(context.Context) {}
