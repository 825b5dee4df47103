package session

import (
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/internal/write"
)

// Legacy OP_INSERT/OP_UPDATE/OP_DELETE flag bits. internal/wire only frames
// these opcodes' bodies generically (a flags word plus a document list); the
// bit meanings are opcode-specific and belong here, the one place that
// turns them into a write.Batch.
const (
	legacyContinueOnError uint32 = 1 << 0 // insert
	legacyUpsert          uint32 = 1 << 0 // update
	legacyMultiUpdate     uint32 = 1 << 1 // update
	legacySingleRemove    uint32 = 1 << 0 // delete
)

// decodeLegacyBatch turns a decoded OP_INSERT/OP_UPDATE/OP_DELETE body into
// the single-batch shape write.Engine.Execute expects.
func decodeLegacyBatch(wm wire.WriteMessage, ns topology.Namespace) (write.Batch, error) {
	switch wm.OpCode {
	case wire.OpInsert:
		if len(wm.Docs) == 0 {
			return write.Batch{}, ErrMalformedWrite
		}
		ops := make([]write.SubOp, 0, len(wm.Docs))
		for _, d := range wm.Docs {
			ops = append(ops, write.SubOp{Kind: write.KindInsert, InsertDoc: d})
		}
		ordered := wm.Flags&legacyContinueOnError == 0 && len(ops) > 1
		return write.Batch{Namespace: ns, Ordered: ordered, Ops: ops}, nil

	case wire.OpUpdate:
		if len(wm.Docs) != 2 {
			return write.Batch{}, ErrMalformedWrite
		}
		op := write.SubOp{
			Kind:     write.KindUpdate,
			Selector: wm.Docs[0],
			Update:   wm.Docs[1],
			Upsert:   wm.Flags&legacyUpsert != 0,
			Multi:    wm.Flags&legacyMultiUpdate != 0,
		}
		return write.Batch{Namespace: ns, Ops: []write.SubOp{op}}, nil

	case wire.OpDelete:
		if len(wm.Docs) != 1 {
			return write.Batch{}, ErrMalformedWrite
		}
		limit := int32(0)
		if wm.Flags&legacySingleRemove != 0 {
			limit = 1
		}
		op := write.SubOp{Kind: write.KindDelete, Selector: wm.Docs[0], Limit: limit}
		return write.Batch{Namespace: ns, Ops: []write.SubOp{op}}, nil

	default:
		return write.Batch{}, ErrMalformedWrite
	}
}
