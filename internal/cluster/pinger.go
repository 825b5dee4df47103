// Package cluster wires the shard/endpoint/read/write layers together into
// the concrete ShardResolver a running process uses: it dials backends,
// probes them, and interns the resulting shard.Shard instances in a single
// process-wide pool (spec §9).
package cluster

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/internal/wireio"
)

// wirePinger issues the probe sequence a backend's ping loop drives every
// interval: a bare ping, buildinfo (for the software version), serverStatus
// (for the process id used to detect a restart) and, for replica-set
// members, replSetGetStatus (for myState/optime) merged into one status
// document keyed the way internal/shard and internal/endpoint expect it.
type wirePinger struct {
	addr string
	dial endpoint.Dialer
	kind topology.ShardKind
}

func newPinger(addr string, dial endpoint.Dialer, kind topology.ShardKind) *wirePinger {
	return &wirePinger{addr: addr, dial: dial, kind: kind}
}

func (p *wirePinger) Ping(ctx context.Context) error {
	conn, err := p.dial(ctx, p.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	reply, err := p.command(conn, "local", doc.New(doc.F("ping", int64(1))))
	if err != nil {
		return err
	}
	if ok, _ := reply.Get("ok"); ok != int64(1) {
		return endpoint.ErrConnect.WithCausef("addr:%s: negative reply to ping", p.addr)
	}
	return nil
}

func (p *wirePinger) Status(ctx context.Context) (doc.Doc, error) {
	conn, err := p.dial(ctx, p.addr)
	if err != nil {
		return doc.Doc{}, err
	}
	defer conn.Close()

	status := doc.Doc{}

	build, err := p.command(conn, "local", doc.New(doc.F("buildinfo", int64(1))))
	if err != nil {
		return doc.Doc{}, err
	}
	status = status.With("versionArray", buildVersionArray(build))

	srv, err := p.command(conn, "admin", doc.New(doc.F("serverStatus", int64(1))))
	if err != nil {
		return doc.Doc{}, err
	}
	if pid, ok := srv.Get("pid"); ok {
		status = status.With("pid", pid)
	}

	if p.kind == topology.KindReplicaSet {
		rs, err := p.command(conn, "admin", doc.New(doc.F("replSetGetStatus", int64(1))))
		if err != nil {
			return doc.Doc{}, err
		}
		myState, tags, optime := selfMemberState(rs, p.addr)
		status = status.With("myState", myState).With("tags", tags).With("optime", optime)
	}

	return status, nil
}

// command issues a single OP_QUERY command against db.$cmd and returns its
// sole reply document.
func (p *wirePinger) command(conn net.Conn, db string, cmd doc.Doc) (doc.Doc, error) {
	req := wire.EncodeQuery(wire.QueryMessage{
		Header:    wire.Header{ReqID: wireio.NextReqID()},
		Namespace: db + ".$cmd",
		Return:    -1,
		Query:     cmd,
	})
	if err := wireio.WriteMessage(conn, req); err != nil {
		return doc.Doc{}, err
	}
	raw, err := wireio.ReadMessage(conn)
	if err != nil {
		return doc.Doc{}, err
	}
	reply, err := wire.DecodeReply(raw)
	if err != nil {
		return doc.Doc{}, err
	}
	if len(reply.Docs) == 0 {
		return doc.Doc{}, endpoint.ErrConnect.WithCausef("addr:%s: empty reply", p.addr)
	}
	return reply.Docs[0], nil
}

// buildVersionArray extracts buildinfo's versionArray field, falling back
// to parsing a dotted "version" string.
func buildVersionArray(build doc.Doc) doc.Array {
	if v, ok := build.Get("versionArray"); ok {
		if arr, ok := v.(doc.Array); ok {
			return arr
		}
	}
	v, ok := build.Get("version")
	s, ok2 := v.(string)
	if !ok || !ok2 {
		return nil
	}
	parts := strings.Split(s, ".")
	out := make(doc.Array, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}

// selfMemberState locates addr within replSetGetStatus's members array and
// returns its state, tags and optime. Tags are not carried on
// replSetGetStatus itself in real deployments; callers without a richer
// source default to no tags, which TagsMatchAny treats as "matches
// anything".
func selfMemberState(rs doc.Doc, addr string) (int64, doc.Doc, int64) {
	members, ok := rs.Get("members")
	if !ok {
		return 0, doc.Doc{}, 0
	}
	arr, ok := members.(doc.Array)
	if !ok {
		return 0, doc.Doc{}, 0
	}
	for _, m := range arr {
		md, ok := m.(doc.Doc)
		if !ok {
			continue
		}
		name, _ := md.Get("name")
		if s, ok := name.(string); !ok || s != addr {
			continue
		}
		var state int64
		if sv, ok := md.Get("state"); ok {
			state, _ = sv.(int64)
		}
		tags, _ := md.GetDoc("tags")
		var optime int64
		if ov, ok := md.Get("optime"); ok {
			optime, _ = ov.(int64)
		}
		return state, tags, optime
	}
	return 0, doc.Doc{}, 0
}
