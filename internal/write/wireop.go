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

// WireOp is the legacy V1Wire variant: the write is issued as a bare
// OP_UPDATE/OP_INSERT/OP_DELETE message with no built-in acknowledgement.
// Acknowledge issues a separate getLastError command against the same
// shard, cached per write concern since a client may call it more than
// once for the same batch.
type WireOp struct {
	Shard     shard.Shard
	Namespace topology.Namespace
	Version   topology.ChunkVersion
	OpCode    wire.OpCode
	Flags     uint32
	Docs      []doc.Doc
	Timing    Timing
	Clock     runtime.Clock

	ack ackCache
}

func (w *WireOp) Perform(ctx context.Context) error {
	buf := wire.EncodeWrite(wire.WriteMessage{
		Header:    wire.Header{ReqID: wireio.NextReqID()},
		OpCode:    w.OpCode,
		Flags:     w.Flags,
		Namespace: w.Namespace.String(),
		Docs:      w.Docs,
	})
	_, err := executeOnPrimary(ctx, w.Shard, w.Namespace, w.Version, buf, w.Clock, w.Timing)
	return err
}

func (w *WireOp) Acknowledge(ctx context.Context, wc doc.Doc) (doc.Doc, error) {
	return w.ack.getOrCompute(wc, func() (doc.Doc, error) {
		cmd := doc.New(doc.F("getLastError", int64(1)))
		for _, f := range wc.Fields() {
			cmd = cmd.With(f.Name, f.Value)
		}
		buf := wire.EncodeQuery(wire.QueryMessage{
			Header:    wire.Header{ReqID: wireio.NextReqID()},
			Namespace: w.Namespace.Database + ".$cmd",
			Return:    -1,
			Query:     cmd,
		})
		reply, err := executeOnPrimary(ctx, w.Shard, w.Namespace, w.Version, buf, w.Clock, w.Timing)
		if err != nil {
			return doc.Doc{}, err
		}
		if len(reply.Docs) == 0 {
			return doc.Doc{}, ErrEmptyAck
		}
		return reply.Docs[0], nil
	})
}

func (w *WireOp) Finish(context.Context) {}

// CommandOp is the V2Command variant: the write is issued as a single
// insert/update/delete command whose reply already is the acknowledgement,
// so Acknowledge never makes a second round trip.
type CommandOp struct {
	Shard     shard.Shard
	Namespace topology.Namespace
	Version   topology.ChunkVersion
	Command   doc.Doc
	Timing    Timing
	Clock     runtime.Clock

	performed bool
	ack       doc.Doc
	err       error
}

func (c *CommandOp) Perform(ctx context.Context) error {
	if c.performed {
		return c.err
	}
	buf := wire.EncodeQuery(wire.QueryMessage{
		Header:    wire.Header{ReqID: wireio.NextReqID()},
		Namespace: c.Namespace.Database + ".$cmd",
		Return:    -1,
		Query:     c.Command,
	})
	reply, err := executeOnPrimary(ctx, c.Shard, c.Namespace, c.Version, buf, c.Clock, c.Timing)
	c.performed = true
	if err != nil {
		c.err = err
		return err
	}
	if len(reply.Docs) == 0 {
		c.err = ErrEmptyAck
		return c.err
	}
	c.ack = reply.Docs[0]
	return nil
}

func (c *CommandOp) Acknowledge(ctx context.Context, _ doc.Doc) (doc.Doc, error) {
	if !c.performed {
		if err := c.Perform(ctx); err != nil {
			return doc.Doc{}, err
		}
	}
	return c.ack, c.err
}

func (c *CommandOp) Finish(context.Context) {}
