package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/canon"
	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/topology"
)

var usersNS = topology.Namespace{Database: "app", Collection: "users"}

func buildRangeMap(t *testing.T) *topology.Map {
	t.Helper()
	shards := []topology.ShardIdentity{
		topology.ParseConnectionString("shard0", "h0:1"),
		topology.ParseConnectionString("shard1", "h1:1"),
		topology.ParseConnectionString("shard2", "h2:1"),
	}
	dbs := []topology.Database{{Name: "app", Partitioned: true}}
	cols := []topology.Collection{{
		Namespace:   usersNS,
		ShardingKey: doc.New(doc.F("age", int64(1))),
	}}
	chunks := []topology.Chunk{
		{Namespace: usersNS, LowerBound: doc.Doc{}, UpperBound: doc.New(doc.F("age", int64(20))), ShardID: "shard0", Version: topology.ChunkVersion{Timestamp: 1}},
		{Namespace: usersNS, LowerBound: doc.New(doc.F("age", int64(20))), UpperBound: doc.New(doc.F("age", int64(40))), ShardID: "shard1", Version: topology.ChunkVersion{Timestamp: 1}},
		{Namespace: usersNS, LowerBound: doc.New(doc.F("age", int64(40))), UpperBound: doc.Doc{}, ShardID: "shard2", Version: topology.ChunkVersion{Timestamp: 1}},
	}
	m, err := topology.Build(shards, dbs, cols, chunks, time.Unix(0, 0))
	require.NoError(t, err)
	return m
}

func TestFindSingleEquality(t *testing.T) {
	re := require.New(t)
	m := buildRangeMap(t)

	targets, err := Find(m, usersNS, doc.New(doc.F("age", int64(25))))
	re.NoError(err)
	re.Len(targets, 1)
	re.Equal(topology.ShardID("shard1"), targets[0].ShardID)
}

func TestFindMissingKeyReturnsAllShards(t *testing.T) {
	re := require.New(t)
	m := buildRangeMap(t)

	targets, err := Find(m, usersNS, doc.New(doc.F("name", "bob")))
	re.NoError(err)
	re.Len(targets, 3)
}

func TestFindOperatorDocReturnsAllShards(t *testing.T) {
	re := require.New(t)
	m := buildRangeMap(t)

	targets, err := Find(m, usersNS, doc.New(doc.F("age", doc.New(doc.F("$gt", int64(10))))))
	re.NoError(err)
	re.Len(targets, 3)
}

func TestFindInVectorDedupesByShard(t *testing.T) {
	re := require.New(t)
	m := buildRangeMap(t)

	targets, err := Find(m, usersNS, doc.New(doc.F("age", doc.New(doc.F("$in", doc.Array{int64(5), int64(25), int64(45), int64(6)})))))
	re.NoError(err)
	re.Len(targets, 3)
}

func TestFindUnshardedRoutesToPrimary(t *testing.T) {
	re := require.New(t)
	shards := []topology.ShardIdentity{topology.ParseConnectionString("shard0", "h0:1")}
	dbs := []topology.Database{{Name: "app", Partitioned: false, PrimaryShard: "shard0"}}
	m, err := topology.Build(shards, dbs, nil, nil, time.Unix(0, 0))
	re.NoError(err)

	targets, err := Find(m, topology.Namespace{Database: "app", Collection: "logs"}, doc.Doc{})
	re.NoError(err)
	re.Equal([]Target{{ShardID: "shard0", Version: topology.Zero}}, targets)
}

func TestFindHashedRouting(t *testing.T) {
	re := require.New(t)
	shards := []topology.ShardIdentity{
		topology.ParseConnectionString("shard0", "h0:1"),
		topology.ParseConnectionString("shard1", "h1:1"),
	}
	dbs := []topology.Database{{Name: "app", Partitioned: true}}
	ns := topology.Namespace{Database: "app", Collection: "events"}
	cols := []topology.Collection{{
		Namespace:   ns,
		ShardingKey: doc.New(doc.F("_id", "hashed")),
	}}
	h := canon.HashKey("target-value")
	chunks := []topology.Chunk{
		{Namespace: ns, LowerBound: doc.Doc{}, UpperBound: doc.New(doc.F("_id", h)), ShardID: "shard0", Version: topology.ChunkVersion{Timestamp: 1}},
		{Namespace: ns, LowerBound: doc.New(doc.F("_id", h)), UpperBound: doc.Doc{}, ShardID: "shard1", Version: topology.ChunkVersion{Timestamp: 1}},
	}
	m, err := topology.Build(shards, dbs, cols, chunks, time.Unix(0, 0))
	re.NoError(err)

	targets, err := Find(m, ns, doc.New(doc.F("_id", "target-value")))
	re.NoError(err)
	re.Len(targets, 1)
	re.Equal(topology.ShardID("shard1"), targets[0].ShardID)
}
