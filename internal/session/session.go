// Package session implements spec.md §4.7's SessionEngine: the per-connection
// loop that decodes framed client requests, dispatches them to the read and
// write engines (or to the $cmd command table), and encodes their results
// back onto the wire, including the getLastError/authentication and cursor
// bookkeeping a single client connection accumulates over its lifetime.
package session

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/priv"
	"github.com/shardroute/dbproxy/internal/read"
	"github.com/shardroute/dbproxy/internal/shard"
	"github.com/shardroute/dbproxy/internal/topocache"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/internal/wireio"
	"github.com/shardroute/dbproxy/internal/write"
	"github.com/shardroute/dbproxy/pkg/coderr"
	"github.com/shardroute/dbproxy/pkg/log"
)

// maxWriteRetries is spec.md §4.7's stale-config retry budget for a write
// opcode or command: refresh the topology and try again this many times
// before giving up and reporting the last error.
const maxWriteRetries = 8

// HTTPHandler serves the auxiliary HTTP surface (spec.md §6) on a
// connection SessionEngine has recognized as HTTP rather than the framed
// wire protocol. r may already hold buffered bytes read while peeking for
// the HTTP magic number, so callers must read the request from r, not conn.
type HTTPHandler func(conn net.Conn, r *bufio.Reader)

// Engine holds everything a Session needs that outlives any one connection:
// the read/write engines, the topology cache they and the write retry loop
// share, and the cursor table when cursors are process-global rather than
// per-connection.
type Engine struct {
	ReadEngine  *read.Engine
	WriteEngine *write.Engine
	Cache       *topocache.Cache
	HTTPHandler HTTPHandler

	// Auth gates whether Sessions carry a non-nil privilege set at all; a
	// nil set disables every privilege check in ReadEngine/WriteEngine, so
	// leaving this false runs the proxy open exactly as before auth was
	// added, matching spec.md's opt-in auth model.
	Auth bool

	// globalCursors, when non-nil, is shared by every Session instead of
	// each holding its own (spec.md §4.7's GlobalCursors mode).
	globalCursors *cursorMap

	logger *zap.Logger
}

// NewEngine wires a session Engine. globalCursors is nil unless the process
// was configured with GlobalCursors, in which case the caller passes one
// shared cursorMap-backed Engine to every accepted connection.
func NewEngine(readEngine *read.Engine, writeEngine *write.Engine, cache *topocache.Cache, httpHandler HTTPHandler, auth, globalCursors bool) *Engine {
	e := &Engine{
		ReadEngine:  readEngine,
		WriteEngine: writeEngine,
		Cache:       cache,
		HTTPHandler: httpHandler,
		Auth:        auth,
		logger:      log.GetLogger(),
	}
	if globalCursors {
		e.globalCursors = newCursorMap()
	}
	return e
}

// Session is one client connection's state: its privileges (once
// authenticated), its outstanding getLastError target, and its cursor
// table.
type Session struct {
	engine  *Engine
	conn    net.Conn
	r       *bufio.Reader
	cursors *cursorMap
	privs   *priv.Set

	mu        sync.Mutex
	nonce     string
	lastWrite write.Operation
}

// NewSession wraps an accepted connection. Auth disabled means privs stays
// nil for the session's lifetime, so every privilege check downstream is a
// no-op.
func NewSession(engine *Engine, conn net.Conn) *Session {
	cursors := engine.globalCursors
	if cursors == nil {
		cursors = newCursorMap()
	}
	var privs *priv.Set
	if engine.Auth {
		privs = priv.NewSet()
	}
	return &Session{
		engine:  engine,
		conn:    conn,
		r:       bufio.NewReader(conn),
		cursors: cursors,
		privs:   privs,
	}
}

// Run drives the connection until it closes or a protocol error makes it
// unrecoverable: peek for the HTTP magic number once up front, then loop
// decoding and dispatching framed messages.
func (s *Session) Run(ctx context.Context) {
	defer s.close(ctx)

	if peek, err := s.r.Peek(4); err == nil && wire.LooksLikeHTTP(peek) {
		if s.engine.HTTPHandler != nil {
			s.engine.HTTPHandler(s.conn, s.r)
		}
		return
	}

	for {
		raw, err := readFramed(s.r)
		if err != nil {
			return
		}
		reply, ok := s.dispatch(ctx, raw)
		if !ok {
			continue
		}
		if _, err := s.conn.Write(reply); err != nil {
			return
		}
	}
}

func (s *Session) close(ctx context.Context) {
	if s.engine.globalCursors == nil {
		s.cursors.closeAll(ctx)
	}
	if s.lastWrite != nil {
		s.lastWrite.Finish(ctx)
	}
	_ = s.conn.Close()
}

// readFramed duplicates wireio.ReadMessage's framing over a *bufio.Reader:
// wireio's version is typed to net.Conn for the backend connections that
// never need the HTTP-detection peek a client connection does.
func readFramed(r *bufio.Reader) ([]byte, error) {
	hdr := make([]byte, 16)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, wire.ErrMessageTooShort.WithCause(err)
	}
	h, err := wire.PeekHeader(hdr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, h.Length)
	copy(buf, hdr)
	if _, err := io.ReadFull(r, buf[16:]); err != nil {
		return nil, wire.ErrTruncated.WithCause(err)
	}
	return buf, nil
}

// dispatch decodes raw by its header opcode and returns the reply to write
// back, if any (OP_INSERT/UPDATE/DELETE/KILL_CURSORS have none).
func (s *Session) dispatch(ctx context.Context, raw []byte) ([]byte, bool) {
	h, err := wire.PeekHeader(raw)
	if err != nil {
		return nil, false
	}

	switch h.OpCode {
	case wire.OpQuery:
		qm, err := wire.DecodeQuery(raw)
		if err != nil {
			return nil, false
		}
		return wire.EncodeReply(s.handleQuery(ctx, qm)), true

	case wire.OpGetMore:
		gm, err := wire.DecodeGetMore(raw)
		if err != nil {
			return nil, false
		}
		return wire.EncodeReply(s.handleGetMore(ctx, gm)), true

	case wire.OpKillCursors:
		km, err := wire.DecodeKillCursors(raw)
		if err != nil {
			return nil, false
		}
		s.handleKillCursors(ctx, km)
		return nil, false

	case wire.OpInsert, wire.OpUpdate, wire.OpDelete:
		wm, err := wire.DecodeWrite(raw)
		if err != nil {
			return nil, false
		}
		s.handleWrite(ctx, wm)
		return nil, false

	default:
		return nil, false
	}
}

func (s *Session) handleQuery(ctx context.Context, qm wire.QueryMessage) wire.ReplyMessage {
	respondTo := wire.Header{ReqID: wireio.NextReqID(), ResponseTo: qm.Header.ReqID}

	ns, ok := topology.ParseNamespace(qm.Namespace)
	if !ok {
		return withHeader(errorReplyMessage(ErrBadNamespace), respondTo)
	}

	if ns.Collection == "$cmd" {
		reply := s.command(ctx, ns.Database, qm.Query)
		return wire.ReplyMessage{Header: respondTo, Docs: []doc.Doc{reply}, Count: 1}
	}

	if err := read.ValidateFlags(qm.Flags); err != nil {
		return withHeader(errorReplyMessage(err), respondTo)
	}

	criteria, orderBy, hasOrderBy, pref := splitQuerySpec(qm.Query)
	pref.SlaveOk = qm.Flags&wire.FlagSlaveOK != 0

	in := read.QueryInput{
		Namespace:     ns,
		Criteria:      criteria,
		FieldSelector: qm.FieldSelector,
		HasSelector:   qm.HasSelector,
		Skip:          int32(qm.Skip),
		BatchSize:     qm.Return,
		OrderBy:       orderBy,
		HasOrderBy:    hasOrderBy,
		Pref:          pref,
		SlaveOk:       pref.SlaveOk,
		Partial:       qm.Flags&wire.FlagPartial != 0,
	}

	ds, err := s.engine.ReadEngine.Query(ctx, in, s.privs)
	if err != nil {
		return withHeader(errorReplyMessage(err), respondTo)
	}

	entry := &cursorEntry{ds: ds}
	reply := buildBatchReply(ctx, s.cursors, 0, entry, qm.Return)
	return withHeader(reply, respondTo)
}

func (s *Session) handleGetMore(ctx context.Context, gm wire.GetMoreMessage) wire.ReplyMessage {
	respondTo := wire.Header{ReqID: wireio.NextReqID(), ResponseTo: gm.Header.ReqID}

	entry, ok := s.cursors.get(gm.CursorID)
	if !ok {
		return wire.ReplyMessage{Header: respondTo, Flags: wire.ReplyCursorNotFound, CursorID: gm.CursorID}
	}
	reply := buildBatchReply(ctx, s.cursors, gm.CursorID, entry, gm.Return)
	return withHeader(reply, respondTo)
}

func (s *Session) handleKillCursors(ctx context.Context, km wire.KillCursorsMessage) {
	for _, id := range km.CursorIDs {
		if entry, ok := s.cursors.get(id); ok {
			entry.ds.Close(ctx)
			s.cursors.remove(id)
		}
	}
}

func (s *Session) handleWrite(ctx context.Context, wm wire.WriteMessage) {
	ns, ok := topology.ParseNamespace(wm.Namespace)
	if !ok {
		s.setLastWrite(ctx, write.NewFailedOp(ErrBadNamespace))
		return
	}
	batch, err := decodeLegacyBatch(wm, ns)
	if err != nil {
		s.setLastWrite(ctx, write.NewFailedOp(err))
		return
	}
	s.setLastWrite(ctx, s.performWrite(ctx, batch))
}

// performWrite implements spec.md §4.7's write retry policy: invoke the
// write engine with up to maxWriteRetries attempts, refreshing the
// topology snapshot whenever either planning or performing the write
// reports a stale shard version; any other error becomes a FailedOp
// carrying that error as the operation's outcome.
func (s *Session) performWrite(ctx context.Context, batch write.Batch) write.Operation {
	var lastErr error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		snap, err := s.engine.Cache.Get()
		if err != nil {
			return write.NewFailedOp(err)
		}
		op, err := s.engine.WriteEngine.Execute(ctx, snap, batch, s.privs)
		if err != nil {
			if coderr.Is(err, coderr.ShardConfigStale) {
				lastErr = err
				_ = s.engine.Cache.Update(ctx)
				continue
			}
			return write.NewFailedOp(err)
		}
		if err := op.Perform(ctx); err != nil {
			if coderr.Is(err, coderr.ShardConfigStale) {
				lastErr = err
				op.Finish(ctx)
				_ = s.engine.Cache.Update(ctx)
				continue
			}
			return write.NewFailedOp(err)
		}
		return op
	}
	return write.NewFailedOp(lastErr)
}

func (s *Session) performFindAndModify(ctx context.Context, ns topology.Namespace, selector, cmd doc.Doc, upsert bool) (doc.Doc, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		snap, err := s.engine.Cache.Get()
		if err != nil {
			return doc.Doc{}, err
		}
		op, err := s.engine.WriteEngine.ExecuteFindAndModify(ctx, snap, ns, selector, cmd, upsert, s.privs)
		if err != nil {
			if coderr.Is(err, coderr.ShardConfigStale) {
				lastErr = err
				_ = s.engine.Cache.Update(ctx)
				continue
			}
			return doc.Doc{}, err
		}
		result, err := op.Acknowledge(ctx, doc.Doc{})
		op.Finish(ctx)
		if err != nil {
			if coderr.Is(err, coderr.ShardConfigStale) {
				lastErr = err
				_ = s.engine.Cache.Update(ctx)
				continue
			}
			return doc.Doc{}, err
		}
		return result, nil
	}
	if lastErr != nil {
		return doc.Doc{}, lastErr
	}
	return doc.Doc{}, ErrTooManyStaleConfigRetries
}

func (s *Session) setLastWrite(ctx context.Context, op write.Operation) {
	if s.lastWrite != nil {
		s.lastWrite.Finish(ctx)
	}
	s.lastWrite = op
}

func (s *Session) canRead(db string) bool {
	return s.privs == nil || s.privs.Has(db, priv.Read)
}

func (s *Session) canAdmin(db string) bool {
	return s.privs == nil || s.privs.Has(db, priv.DBAdmin)
}

func withHeader(m wire.ReplyMessage, h wire.Header) wire.ReplyMessage {
	m.Header = h
	return m
}

// splitQuerySpec unwraps the client protocol's "$query" query-spec
// envelope: when present, criteria is its "$query" field and "$orderby"/
// "$readPreference" are read off its siblings; otherwise the whole
// document is the criteria as-is.
func splitQuerySpec(q doc.Doc) (criteria, orderBy doc.Doc, hasOrderBy bool, pref shard.ReadPreference) {
	inner, ok := q.GetDoc("$query")
	if !ok {
		return q, doc.Doc{}, false, shard.ReadPreference{}
	}
	criteria = inner
	if ob, ok := q.GetDoc("$orderby"); ok {
		orderBy, hasOrderBy = ob, true
	}
	if rp, ok := q.GetDoc("$readPreference"); ok {
		pref = parseReadPreferenceDoc(rp)
	}
	return criteria, orderBy, hasOrderBy, pref
}

func parseReadPreferenceDoc(rp doc.Doc) shard.ReadPreference {
	var pref shard.ReadPreference
	if m, ok := rp.Get("mode"); ok {
		if s, ok := m.(string); ok {
			if mode, known := readModeFromString(s); known {
				pref.Mode, pref.HasMode = mode, true
			}
		}
	}
	if tags, ok := rp.Get("tags"); ok {
		if arr, ok := tags.(doc.Array); ok {
			pref.Tags = arr
		}
	}
	return pref
}

func readModeFromString(s string) (shard.ReadMode, bool) {
	switch s {
	case "primary":
		return shard.ModePrimary, true
	case "primaryPreferred":
		return shard.ModePrimaryPreferred, true
	case "secondary":
		return shard.ModeSecondary, true
	case "secondaryPreferred":
		return shard.ModeSecondaryPreferred, true
	case "nearest":
		return shard.ModeNearest, true
	default:
		return 0, false
	}
}
