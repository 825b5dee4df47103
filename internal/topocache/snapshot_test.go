package topocache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/topology"
)

func sampleMap(t *testing.T) *topology.Map {
	t.Helper()
	shards := []topology.ShardIdentity{
		topology.ParseConnectionString("shard0", "h1:1"),
		topology.ParseConnectionString("shard1", "h2:1"),
	}
	dbs := []topology.Database{{Name: "app", Partitioned: true}}
	cols := []topology.Collection{{
		Namespace:   topology.Namespace{Database: "app", Collection: "users"},
		ShardingKey: doc.New(doc.F("_id", int64(1))),
	}}
	chunks := []topology.Chunk{
		{
			Namespace:  cols[0].Namespace,
			LowerBound: doc.Doc{},
			UpperBound: doc.New(doc.F("_id", int64(100))),
			ShardID:    "shard0",
			Version:    topology.ChunkVersion{Timestamp: 1},
		},
		{
			Namespace:  cols[0].Namespace,
			LowerBound: doc.New(doc.F("_id", int64(100))),
			UpperBound: doc.Doc{},
			ShardID:    "shard1",
			Version:    topology.ChunkVersion{Timestamp: 1},
		},
	}
	m, err := topology.Build(shards, dbs, cols, chunks, time.Unix(1000, 0))
	require.NoError(t, err)
	return m
}

func TestSnapshotSaveAndLoadRoundTrip(t *testing.T) {
	re := require.New(t)
	path := filepath.Join(t.TempDir(), "topology.snap")
	store := NewSnapshotStore(path)

	m := sampleMap(t)
	re.NoError(store.Save(m))

	loaded, ok := store.Load()
	re.True(ok)
	re.Equal(m.CreatedAt.Unix(), loaded.CreatedAt.Unix())

	_, ok = loaded.Shard("shard0")
	re.True(ok)
	col, ok := loaded.Collection(topology.Namespace{Database: "app", Collection: "users"})
	re.True(ok)
	re.Len(col.Chunks, 2)
}

func TestSnapshotLoadMissingFile(t *testing.T) {
	re := require.New(t)
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "missing.snap"))
	_, ok := store.Load()
	re.False(ok)
}

func TestSnapshotEmptyPathIsNoop(t *testing.T) {
	re := require.New(t)
	store := NewSnapshotStore("")
	re.NoError(store.Save(sampleMap(t)))
	_, ok := store.Load()
	re.False(ok)
}
