package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/priv"
	"github.com/shardroute/dbproxy/internal/read"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/internal/write"
	"github.com/shardroute/dbproxy/pkg/coderr"
)

// commandName returns a $cmd document's command field: the first field's
// name, by the client-protocol convention that its value names the target
// collection (or is a bare 1).
func commandName(cmd doc.Doc) string {
	fields := cmd.Fields()
	if len(fields) == 0 {
		return ""
	}
	return fields[0].Name
}

func okDoc() doc.Doc {
	return doc.New(doc.F("ok", int64(1)))
}

// failDoc turns an error into the {ok:0, errmsg, code} shape every command
// reply and query-failure document shares.
func failDoc(err error) doc.Doc {
	fields := []doc.Field{doc.F("ok", int64(0)), doc.F("errmsg", err.Error())}
	if ce, ok := err.(coderr.CodeError); ok {
		fields = append(fields, doc.F("code", int64(ce.Code().ReplyCode())))
	}
	return doc.New(fields...)
}

func withDefaultOK(d doc.Doc) doc.Doc {
	if _, has := d.Get("ok"); has {
		return d
	}
	return d.With("ok", int64(1))
}

// command dispatches one $cmd document against db, spec.md §4.7's command
// table drawn from the client protocol's ping/ismaster/auth/CRUD/admin
// surface.
func (s *Session) command(ctx context.Context, db string, cmd doc.Doc) doc.Doc {
	switch strings.ToLower(commandName(cmd)) {
	case "ping":
		return okDoc()
	case "ismaster", "hello":
		return cmdIsMaster()
	case "getnonce":
		return s.cmdGetNonce()
	case "authenticate":
		return s.cmdAuthenticate(ctx, db, cmd)
	case "getlasterror":
		return s.cmdGetLastError(ctx, cmd)
	case "getlog":
		return doc.New(doc.F("log", doc.Array{}), doc.F("ok", int64(1)))
	case "replsetgetstatus":
		return failDoc(coderr.NewCodeError(coderr.NotImplemented, "replSetGetStatus is not supported through this proxy"))
	case "listdatabases":
		return s.cmdListDatabases()
	case "insert":
		return s.cmdInsert(ctx, db, cmd)
	case "update":
		return s.cmdUpdate(ctx, db, cmd)
	case "delete":
		return s.cmdDelete(ctx, db, cmd)
	case "count":
		return s.cmdCount(ctx, db, cmd)
	case "distinct":
		return s.cmdDistinct(ctx, db, cmd)
	case "findandmodify", "findandremove":
		return s.cmdFindAndModify(ctx, db, cmd)
	case "setloglevel":
		return s.cmdSetLogLevel()
	default:
		return failDoc(ErrCommandNotFound.WithCausef("cmd:%s", commandName(cmd)))
	}
}

func cmdIsMaster() doc.Doc {
	return doc.New(
		doc.F("ismaster", true),
		doc.F("maxBsonObjectSize", int64(wire.MaxMessageSize)),
		doc.F("maxMessageSizeBytes", int64(wire.MaxMessageSize)),
		doc.F("maxWireVersion", int64(6)),
		doc.F("minWireVersion", int64(0)),
		doc.F("ok", int64(1)),
	)
}

func (s *Session) cmdGetNonce() doc.Doc {
	s.mu.Lock()
	s.nonce = generateNonce()
	nonce := s.nonce
	s.mu.Unlock()
	return doc.New(doc.F("nonce", nonce), doc.F("ok", int64(1)))
}

// cmdAuthenticate implements the getnonce/authenticate challenge-response
// against a user document looked up from <db>.system.users, populating the
// session's privilege set from its roles (or its legacy readOnly flag) on
// success.
func (s *Session) cmdAuthenticate(ctx context.Context, db string, cmd doc.Doc) doc.Doc {
	user, _ := stringField(cmd, "user")
	nonce, _ := stringField(cmd, "nonce")
	key, _ := stringField(cmd, "key")

	s.mu.Lock()
	expected := s.nonce
	s.mu.Unlock()

	if user == "" || nonce == "" || key == "" || nonce != expected {
		return failDoc(ErrAuthFailed)
	}

	userDoc, err := s.lookupUser(ctx, db, user)
	if err != nil {
		return failDoc(ErrAuthFailed)
	}
	digest, _ := stringField(userDoc, "pwd")
	if priv.AuthKey(nonce, user, digest) != key {
		return failDoc(ErrAuthFailed)
	}

	if s.privs != nil {
		if err := grantFromUserDoc(s.privs, db, userDoc); err != nil {
			return failDoc(err)
		}
	}
	return okDoc()
}

func (s *Session) lookupUser(ctx context.Context, db, user string) (doc.Doc, error) {
	ns := topology.Namespace{Database: db, Collection: "system.users"}
	ds, err := s.engine.ReadEngine.Query(ctx, read.QueryInput{
		Namespace: ns,
		Criteria:  doc.New(doc.F("user", user)),
		BatchSize: 1,
	}, nil)
	if err != nil {
		return doc.Doc{}, err
	}
	defer ds.Close(ctx)
	if ds.AtEnd() {
		return doc.Doc{}, ErrAuthFailed
	}
	return ds.Get()
}

func grantFromUserDoc(set *priv.Set, db string, userDoc doc.Doc) error {
	if rolesV, ok := userDoc.Get("roles"); ok {
		if arr, ok := rolesV.(doc.Array); ok {
			roles := make([]string, 0, len(arr))
			for _, r := range arr {
				if rs, ok := r.(string); ok {
					roles = append(roles, rs)
				}
			}
			return set.ApplyRoles(db, roles)
		}
	}
	readOnly := false
	if ro, ok := userDoc.Get("readOnly"); ok {
		readOnly, _ = ro.(bool)
	}
	set.GrantReadOnly(db, readOnly)
	return nil
}

func writeConcernFromCommand(cmd doc.Doc, commandField string) doc.Doc {
	wc := doc.Doc{}
	for _, f := range cmd.Fields() {
		if f.Name == commandField {
			continue
		}
		wc = wc.With(f.Name, f.Value)
	}
	return wc
}

func (s *Session) cmdGetLastError(ctx context.Context, cmd doc.Doc) doc.Doc {
	if s.lastWrite == nil {
		return doc.New(doc.F("ok", int64(1)), doc.F("err", nil), doc.F("n", int64(0)))
	}
	ack, err := s.lastWrite.Acknowledge(ctx, writeConcernFromCommand(cmd, "getlasterror"))
	if err != nil {
		return failDoc(err)
	}
	return withDefaultOK(ack)
}

func (s *Session) cmdListDatabases() doc.Doc {
	snap, err := s.engine.Cache.Get()
	if err != nil {
		return failDoc(err)
	}
	names := make([]string, 0, len(snap.Databases))
	for name := range snap.Databases {
		names = append(names, name)
	}
	sort.Strings(names)

	arr := make(doc.Array, 0, len(names))
	for _, name := range names {
		if !s.canRead(name) {
			continue
		}
		arr = append(arr, doc.New(doc.F("name", name)))
	}
	return doc.New(doc.F("databases", arr), doc.F("totalSize", int64(0)), doc.F("ok", int64(1)))
}

func (s *Session) cmdInsert(ctx context.Context, db string, cmd doc.Doc) doc.Doc {
	coll, _ := stringField(cmd, "insert")
	ns := topology.Namespace{Database: db, Collection: coll}

	arr, _ := arrayField(cmd, "documents")
	ops := make([]write.SubOp, 0, len(arr))
	for _, d := range arr {
		if dd, ok := d.(doc.Doc); ok {
			ops = append(ops, write.SubOp{Kind: write.KindInsert, InsertDoc: dd})
		}
	}

	ordered := true
	if o, ok := cmd.Get("ordered"); ok {
		ordered, _ = o.(bool)
	}
	wc, _ := cmd.GetDoc("writeConcern")

	op := s.performWrite(ctx, write.Batch{Namespace: ns, Ordered: ordered, Ops: ops, WriteConcern: wc})
	s.setLastWrite(ctx, op)
	ack, err := op.Acknowledge(ctx, wc)
	if err != nil {
		return failDoc(err)
	}
	return withDefaultOK(ack)
}

func (s *Session) cmdUpdate(ctx context.Context, db string, cmd doc.Doc) doc.Doc {
	coll, _ := stringField(cmd, "update")
	ns := topology.Namespace{Database: db, Collection: coll}

	arr, _ := arrayField(cmd, "updates")
	ops := make([]write.SubOp, 0, len(arr))
	for _, u := range arr {
		ud, ok := u.(doc.Doc)
		if !ok {
			continue
		}
		q, _ := ud.GetDoc("q")
		upd, _ := ud.GetDoc("u")
		upsert, _ := ud.Get("upsert")
		multi, _ := ud.Get("multi")
		up, _ := upsert.(bool)
		mu, _ := multi.(bool)
		ops = append(ops, write.SubOp{Kind: write.KindUpdate, Selector: q, Update: upd, Upsert: up, Multi: mu})
	}

	ordered := true
	if o, ok := cmd.Get("ordered"); ok {
		ordered, _ = o.(bool)
	}
	wc, _ := cmd.GetDoc("writeConcern")

	op := s.performWrite(ctx, write.Batch{Namespace: ns, Ordered: ordered, Ops: ops, WriteConcern: wc})
	s.setLastWrite(ctx, op)
	ack, err := op.Acknowledge(ctx, wc)
	if err != nil {
		return failDoc(err)
	}
	return withDefaultOK(ack)
}

func (s *Session) cmdDelete(ctx context.Context, db string, cmd doc.Doc) doc.Doc {
	coll, _ := stringField(cmd, "delete")
	ns := topology.Namespace{Database: db, Collection: coll}

	arr, _ := arrayField(cmd, "deletes")
	ops := make([]write.SubOp, 0, len(arr))
	for _, d := range arr {
		dd, ok := d.(doc.Doc)
		if !ok {
			continue
		}
		q, _ := dd.GetDoc("q")
		limit := int32(0)
		if l, ok := dd.Get("limit"); ok {
			if li, ok := l.(int64); ok {
				limit = int32(li)
			}
		}
		ops = append(ops, write.SubOp{Kind: write.KindDelete, Selector: q, Limit: limit})
	}

	ordered := true
	if o, ok := cmd.Get("ordered"); ok {
		ordered, _ = o.(bool)
	}
	wc, _ := cmd.GetDoc("writeConcern")

	op := s.performWrite(ctx, write.Batch{Namespace: ns, Ordered: ordered, Ops: ops, WriteConcern: wc})
	s.setLastWrite(ctx, op)
	ack, err := op.Acknowledge(ctx, wc)
	if err != nil {
		return failDoc(err)
	}
	return withDefaultOK(ack)
}

func (s *Session) cmdCount(ctx context.Context, db string, cmd doc.Doc) doc.Doc {
	coll, _ := stringField(cmd, "count")
	ns := topology.Namespace{Database: db, Collection: coll}
	query, _ := cmd.GetDoc("query")

	ds, err := s.engine.ReadEngine.Query(ctx, read.QueryInput{Namespace: ns, Criteria: query}, s.privs)
	if err != nil {
		return failDoc(err)
	}
	defer ds.Close(ctx)

	var skip, limit int64
	if v, ok := cmd.Get("skip"); ok {
		skip, _ = v.(int64)
	}
	if v, ok := cmd.Get("limit"); ok {
		limit, _ = v.(int64)
	}

	var seen, counted int64
	for !ds.AtEnd() {
		if seen >= skip {
			counted++
			if limit > 0 && counted >= limit {
				break
			}
		}
		seen++
		if err := ds.Advance(ctx); err != nil {
			return failDoc(err)
		}
	}
	return doc.New(doc.F("n", counted), doc.F("ok", int64(1)))
}

func (s *Session) cmdDistinct(ctx context.Context, db string, cmd doc.Doc) doc.Doc {
	coll, _ := stringField(cmd, "distinct")
	key, _ := stringField(cmd, "key")
	ns := topology.Namespace{Database: db, Collection: coll}
	query, _ := cmd.GetDoc("query")

	ds, err := s.engine.ReadEngine.Query(ctx, read.QueryInput{Namespace: ns, Criteria: query}, s.privs)
	if err != nil {
		return failDoc(err)
	}
	defer ds.Close(ctx)

	seen := make(map[string]struct{})
	var values doc.Array
	for !ds.AtEnd() {
		d, err := ds.Get()
		if err != nil {
			return failDoc(err)
		}
		if v, ok := d.Get(key); ok {
			k := fmt.Sprintf("%v", v)
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				values = append(values, v)
			}
		}
		if err := ds.Advance(ctx); err != nil {
			return failDoc(err)
		}
	}
	return doc.New(doc.F("values", values), doc.F("ok", int64(1)))
}

func (s *Session) cmdFindAndModify(ctx context.Context, db string, cmd doc.Doc) doc.Doc {
	coll, _ := stringField(cmd, "findandmodify")
	ns := topology.Namespace{Database: db, Collection: coll}
	selector, _ := cmd.GetDoc("query")
	upsert := false
	if u, ok := cmd.Get("upsert"); ok {
		upsert, _ = u.(bool)
	}

	result, err := s.performFindAndModify(ctx, ns, selector, cmd, upsert)
	if err != nil {
		return failDoc(err)
	}
	return withDefaultOK(result)
}

func (s *Session) cmdSetLogLevel() doc.Doc {
	if !s.canAdmin("admin") {
		return failDoc(ErrAuthFailed)
	}
	return okDoc()
}

func stringField(d doc.Doc, name string) (string, bool) {
	v, ok := d.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func arrayField(d doc.Doc, name string) (doc.Array, bool) {
	v, ok := d.Get(name)
	if !ok {
		return nil, false
	}
	arr, ok := v.(doc.Array)
	return arr, ok
}
