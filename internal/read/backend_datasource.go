package read

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shardroute/dbproxy/internal/config"
	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/shard"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/pkg/coderr"
	"github.com/shardroute/dbproxy/pkg/log"
)

// closeTimeout bounds OP_KILL_CURSORS on Close (§4.5 "Closure").
const closeTimeout = 20 * time.Millisecond

// Request is the read-side input to a shard operation: the query itself
// plus the read-preference-derived timing overrides that talk consumes.
type Request struct {
	Namespace     topology.Namespace
	Version       topology.ChunkVersion
	Query         doc.Doc
	FieldSelector doc.Doc
	HasSelector   bool
	Skip          int32
	BatchSize     int32
	SlaveOk       bool
	OrderBy       doc.Doc

	Pref       shard.ReadPreference
	Retransmit time.Duration
	Timeout    time.Duration
}

// BackendDataSource drives one shard's cursor: the initial batch installed
// by talk, and subsequent batches fetched via OP_GET_MORE on demand.
type BackendDataSource struct {
	sh    shard.Shard
	req   Request
	clock runtime.Clock

	conn     *endpoint.Connection
	batch    []doc.Doc
	pos      int
	cursorID uint64
	atEnd    bool
	err      error
}

// NewBackendDataSource runs talk to obtain the first batch and returns the
// resulting datasource, already positioned at its first document.
func NewBackendDataSource(ctx context.Context, sh shard.Shard, req Request, clock runtime.Clock) (*BackendDataSource, error) {
	if clock == nil {
		clock = runtime.SystemClock{}
	}
	ds := &BackendDataSource{sh: sh, req: req, clock: clock}
	result, err := ds.talk(ctx)
	if err != nil {
		return nil, err
	}
	ds.install(result)
	return ds, nil
}

func (b *BackendDataSource) AtEnd() bool {
	return b.err == nil && b.atEnd && b.pos >= len(b.batch)
}

func (b *BackendDataSource) Get() (doc.Doc, error) {
	if b.err != nil {
		return doc.Doc{}, b.err
	}
	if b.pos >= len(b.batch) {
		return doc.Doc{}, ErrExhausted
	}
	return b.batch[b.pos], nil
}

func (b *BackendDataSource) Advance(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	b.pos++
	if b.pos < len(b.batch) {
		return nil
	}
	if b.cursorID == 0 {
		b.atEnd = true
		return nil
	}
	return b.fetchMore(ctx)
}

func (b *BackendDataSource) Close(ctx context.Context) {
	if b.cursorID == 0 || b.conn == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	msg := wire.EncodeKillCursors(wire.KillCursorsMessage{
		Header:    wire.Header{ReqID: nextReqID()},
		CursorIDs: []uint64{b.cursorID},
	})
	done := make(chan error, 1)
	go func() { done <- writeMessage(b.conn.Conn, msg) }()
	select {
	case err := <-done:
		if err != nil {
			b.conn.Destroy()
			return
		}
		b.conn.Release()
	case <-cctx.Done():
		b.conn.Destroy()
	}
}

type talkResult struct {
	reply wire.ReplyMessage
	conn  *endpoint.Connection
}

// talk implements the hedge routine of spec.md §4.5 steps 1-6: T1 is
// spawned on the shard's first pick, given min(retransmit, timeout) to
// finish; on a retriable failure or timeout, a second, differently-picked
// backend is raced against the survivor of T1 up to the remaining budget.
func (b *BackendDataSource) talk(ctx context.Context) (talkResult, error) {
	start := b.clock.Now()
	retransmit := b.req.Retransmit
	timeout := b.req.Timeout

	conn1, err := b.sh.ReadOp(ctx, b.effectivePref(), "")
	if err != nil {
		return talkResult{}, err
	}
	addr1 := connAddr(conn1)
	t1 := runtime.Spawn(ctx, func(ctx context.Context) (talkResult, error) {
		return b.roundtrip(ctx, conn1)
	})

	r, done := runtime.Wait(t1, minDur(retransmit, timeout))
	if done {
		if r.Err == nil {
			return r.Value, nil
		}
		if coderr.Is(r.Err, coderr.NotMaster) {
			b.sh.LostMaster()
		} else if isClientError(r.Err) {
			return talkResult{}, r.Err
		}
		// any other failure (BackendInternalError, connectivity blips): T1's
		// connection is already destroyed by roundtrip; fall through to the
		// retransmit branch below.
	}

	if !isFinite(retransmit) {
		if done {
			return talkResult{}, r.Err
		}
		remaining := timeout - b.clock.Now().Sub(start)
		final, err := runtime.RaceTwo(t1, nil, remaining)
		if err != nil {
			return talkResult{}, err
		}
		return final.Value, final.Err
	}

	var t2 *runtime.Task[talkResult]
	conn2, err2 := b.sh.ReadOp(ctx, b.effectivePref(), addr1)
	if err2 == nil {
		t2 = runtime.Spawn(ctx, func(ctx context.Context) (talkResult, error) {
			return b.roundtrip(ctx, conn2)
		})
	}

	remaining := timeout - b.clock.Now().Sub(start)
	if remaining < 0 {
		remaining = 0
	}

	if done {
		// T1 already failed; only T2 (if any) is left to wait on.
		if t2 == nil {
			return talkResult{}, r.Err
		}
		final, ok := runtime.Wait(t2, remaining)
		if !ok {
			t2.Cancel()
			return talkResult{}, r.Err
		}
		if final.Err != nil {
			return talkResult{}, r.Err
		}
		return final.Value, nil
	}

	final, err := runtime.RaceTwo(t1, t2, remaining)
	if err != nil {
		return talkResult{}, err
	}
	if final.Err != nil {
		return talkResult{}, final.Err
	}
	return final.Value, nil
}

func (b *BackendDataSource) effectivePref() shard.ReadPreference {
	pref := b.req.Pref
	pref.SlaveOk = b.req.SlaveOk
	return pref
}

func (b *BackendDataSource) roundtrip(ctx context.Context, conn *endpoint.Connection) (talkResult, error) {
	req := wire.QueryMessage{
		Header:    wire.Header{ReqID: nextReqID()},
		Namespace: b.req.Namespace.String(),
		Skip:      uint32(b.req.Skip),
		Return:    b.req.BatchSize,
		Query:     b.req.Query,
	}
	if b.req.HasSelector {
		req.FieldSelector = b.req.FieldSelector
		req.HasSelector = true
	}
	if b.req.SlaveOk {
		req.Flags |= wire.FlagSlaveOK
	}

	reply, err := establish(ctx, conn, b.req.Namespace, b.req.Version, wire.EncodeQuery(req))
	if err != nil {
		if coderr.Is(err, coderr.PermanentFailure) {
			conn.Endpoint.Backend.MarkPermanentFailure()
			b.sh.LostMaster()
		}
		conn.Destroy()
		log.GetLogger().Debug("talk attempt failed", zap.Error(err))
		return talkResult{}, err
	}
	if reply.Flags&wire.ReplyQueryFailure != 0 {
		conn.Destroy()
		return talkResult{}, coderr.NewCodeError(coderr.QueryFailure, "backend reported query failure")
	}
	if reply.Flags&wire.ReplyShardConfigStale != 0 {
		conn.Release()
		return talkResult{}, coderr.NewCodeError(coderr.ShardConfigStale, "backend reports stale shard version")
	}
	return talkResult{reply: reply, conn: conn}, nil
}

func (b *BackendDataSource) install(r talkResult) {
	b.batch = r.reply.Docs
	b.pos = 0
	b.cursorID = r.reply.CursorID
	b.conn = r.conn
	b.atEnd = b.cursorID == 0
}

func (b *BackendDataSource) fetchMore(ctx context.Context) error {
	req := wire.GetMoreMessage{
		Header:    wire.Header{ReqID: nextReqID()},
		Namespace: b.req.Namespace.String(),
		Return:    b.req.BatchSize,
		CursorID:  b.cursorID,
	}
	if err := writeMessage(b.conn.Conn, wire.EncodeGetMore(req)); err != nil {
		b.err = err
		return err
	}
	raw, err := readMessage(b.conn.Conn)
	if err != nil {
		b.err = err
		return err
	}
	reply, err := wire.DecodeReply(raw)
	if err != nil {
		b.err = err
		return err
	}
	if reply.Flags&wire.ReplyCursorNotFound != 0 {
		b.err = ErrCursorNotFound
		return b.err
	}
	b.batch = reply.Docs
	b.pos = 0
	b.cursorID = reply.CursorID
	b.atEnd = b.cursorID == 0
	return nil
}

// UsedConnections reports the single backend address this datasource holds
// a connection open against, or nil once closed.
func (b *BackendDataSource) UsedConnections() []string {
	if b.conn == nil {
		return nil
	}
	return []string{connAddr(b.conn)}
}

func connAddr(c *endpoint.Connection) string {
	return c.Endpoint.Backend.Address
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func isFinite(d time.Duration) bool {
	return d < config.Inf
}

// isClientError reports whether err is one of the well-formed backend
// replies that talk propagates immediately rather than hedging around
// (spec.md §4.5 step 3: "BackendClientError" other than NotMaster).
func isClientError(err error) bool {
	for _, code := range []coderr.Code{
		coderr.QueryFailure,
		coderr.ShardConfigStale,
		coderr.PermanentFailure,
		coderr.ConnectivityError,
		coderr.CursorNotFound,
	} {
		if coderr.Is(err, code) {
			return true
		}
	}
	return false
}
