package topocache

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/internal/wireio"
)

// WireFetcher is the production Fetcher: it dials one config-shard host
// and reads its config.shards/config.databases/config.collections/
// config.chunks collections directly over the wire protocol, the same way
// wirePinger probes an ordinary backend. Roundtrip is the last observed
// full-fetch latency, used by Cache.fetch to order fetchers before racing.
type WireFetcher struct {
	addr string
	dial endpoint.Dialer

	mu        sync.RWMutex
	roundtrip time.Duration
}

func NewWireFetcher(addr string, dial endpoint.Dialer) *WireFetcher {
	return &WireFetcher{addr: addr, dial: dial}
}

func (f *WireFetcher) Addr() string { return f.addr }

func (f *WireFetcher) Roundtrip() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.roundtrip
}

func (f *WireFetcher) Fetch(ctx context.Context) ([]topology.ShardIdentity, []topology.Database, []topology.Collection, []topology.Chunk, error) {
	start := time.Now()
	conn, err := f.dial(ctx, f.addr)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	defer conn.Close()

	shardDocs, err := f.queryAll(conn, "config.shards", doc.Doc{})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	dbDocs, err := f.queryAll(conn, "config.databases", doc.Doc{})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	colDocs, err := f.queryAll(conn, "config.collections", doc.Doc{})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	chunkDocs, err := f.queryAll(conn, "config.chunks", doc.Doc{})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	f.mu.Lock()
	f.roundtrip = time.Since(start)
	f.mu.Unlock()

	shards := make([]topology.ShardIdentity, 0, len(shardDocs))
	for _, d := range shardDocs {
		shards = append(shards, decodeShardIdentity(d))
	}
	dbs := make([]topology.Database, 0, len(dbDocs))
	for _, d := range dbDocs {
		dbs = append(dbs, decodeDatabase(d))
	}
	cols := make([]topology.Collection, 0, len(colDocs))
	for _, d := range colDocs {
		cols = append(cols, decodeCollection(d))
	}
	chunks := make([]topology.Chunk, 0, len(chunkDocs))
	for _, d := range chunkDocs {
		chunks = append(chunks, decodeChunk(d))
	}
	return shards, dbs, cols, chunks, nil
}

// queryAll drains a config collection to completion via OP_GET_MORE,
// mirroring the batching listDatabases/find already speak elsewhere in the
// proxy: config tables are small enough that draining them fully up front
// is simpler than exposing a cursor abstraction just for bootstrap.
func (f *WireFetcher) queryAll(conn net.Conn, ns string, query doc.Doc) ([]doc.Doc, error) {
	req := wire.EncodeQuery(wire.QueryMessage{
		Header:    wire.Header{ReqID: wireio.NextReqID()},
		Namespace: ns,
		Return:    0,
		Query:     query,
	})
	if err := wireio.WriteMessage(conn, req); err != nil {
		return nil, err
	}
	raw, err := wireio.ReadMessage(conn)
	if err != nil {
		return nil, err
	}
	reply, err := wire.DecodeReply(raw)
	if err != nil {
		return nil, err
	}
	out := append([]doc.Doc{}, reply.Docs...)
	cursorID := reply.CursorID

	for cursorID != 0 {
		gm := wire.EncodeGetMore(wire.GetMoreMessage{
			Header:    wire.Header{ReqID: wireio.NextReqID()},
			Namespace: ns,
			CursorID:  cursorID,
		})
		if err := wireio.WriteMessage(conn, gm); err != nil {
			return nil, err
		}
		raw, err := wireio.ReadMessage(conn)
		if err != nil {
			return nil, err
		}
		reply, err := wire.DecodeReply(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, reply.Docs...)
		cursorID = reply.CursorID
	}
	return out, nil
}

func decodeShardIdentity(d doc.Doc) topology.ShardIdentity {
	id, _ := d.Get("_id")
	host, _ := d.Get("host")
	idStr, _ := id.(string)
	hostStr, _ := host.(string)
	return topology.ParseConnectionString(topology.ShardID(idStr), hostStr)
}

func decodeDatabase(d doc.Doc) topology.Database {
	name, _ := d.Get("_id")
	partitioned, _ := d.Get("partitioned")
	primary, _ := d.Get("primary")
	nameStr, _ := name.(string)
	primaryStr, _ := primary.(string)
	p, _ := partitioned.(bool)
	return topology.Database{Name: nameStr, Partitioned: p, PrimaryShard: topology.ShardID(primaryStr)}
}

func decodeCollection(d doc.Doc) topology.Collection {
	id, _ := d.Get("_id")
	key, _ := d.GetDoc("key")
	dropped, _ := d.Get("dropped")
	ns, _ := topology.ParseNamespace(stringValue(id))
	drop, _ := dropped.(bool)
	return topology.Collection{Namespace: ns, ShardingKey: key, Dropped: drop}
}

func decodeChunk(d doc.Doc) topology.Chunk {
	ns, _ := d.Get("ns")
	minDoc, _ := d.GetDoc("min")
	maxDoc, _ := d.GetDoc("max")
	shardVal, _ := d.Get("shard")
	namespace, _ := topology.ParseNamespace(stringValue(ns))
	return topology.Chunk{
		Namespace:  namespace,
		LowerBound: minDoc,
		UpperBound: maxDoc,
		ShardID:    topology.ShardID(stringValue(shardVal)),
		Version:    decodeChunkVersion(d),
	}
}

func decodeChunkVersion(d doc.Doc) topology.ChunkVersion {
	var v topology.ChunkVersion
	if epochVal, ok := d.Get("epoch"); ok {
		if b, ok := epochVal.([]byte); ok {
			copy(v.Epoch[:], b)
		}
	}
	if lm, ok := d.Get("lastmod"); ok {
		if ts, ok := lm.(int64); ok {
			v.Timestamp = uint64(ts)
		}
	}
	return v
}

func stringValue(v doc.Value) string {
	s, _ := v.(string)
	return s
}
