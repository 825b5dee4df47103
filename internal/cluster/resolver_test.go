package cluster

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/shard"
	"github.com/shardroute/dbproxy/internal/topology"
)

func docWith(name string, value doc.Value) doc.Doc {
	return doc.New(doc.F(name, value))
}

func docWithMembers() doc.Doc {
	members := doc.Array{
		doc.New(doc.F("name", "hostA:27017"), doc.F("state", int64(1)), doc.F("optime", int64(900))),
		doc.New(doc.F("name", "hostB:27017"), doc.F("state", int64(2)), doc.F("optime", int64(500))),
	}
	return doc.New(doc.F("members", members))
}

func noDial(context.Context, string) (net.Conn, error) {
	return nil, errors.New("dial disabled in test")
}

func newTestResolver() *Resolver {
	cfg := endpoint.Config{
		ConnPoolSize:     1,
		PingInterval:     time.Hour,
		PingFailInterval: time.Hour,
		PingTimeout:      time.Millisecond,
	}
	return NewResolver(shard.NewPool(), noDial, cfg, 15*time.Millisecond, 90*time.Second, nil)
}

func testMap(identities ...topology.ShardIdentity) *topology.Map {
	m := &topology.Map{Shards: make(map[topology.ShardID]topology.ShardIdentity)}
	for _, id := range identities {
		m.Shards[id.ID] = id
	}
	return m
}

func TestResolveBuildsShardKindFromConnectionString(t *testing.T) {
	re := require.New(t)
	r := newTestResolver()

	single := topology.ParseConnectionString("shard0", "hostA:27017")
	group := topology.ParseConnectionString("shard1", "hostA:27017,hostB:27017")
	rs := topology.ParseConnectionString("shard2", "rs0/hostA:27017,hostB:27017")
	m := testMap(single, group, rs)

	s0, err := r.Resolve(context.Background(), "shard0", m)
	re.NoError(err)
	re.Equal(topology.KindSingleton, s0.Kind())

	s1, err := r.Resolve(context.Background(), "shard1", m)
	re.NoError(err)
	re.Equal(topology.KindSyncGroup, s1.Kind())

	s2, err := r.Resolve(context.Background(), "shard2", m)
	re.NoError(err)
	re.Equal(topology.KindReplicaSet, s2.Kind())
	re.Len(s2.Backends(), 2)
}

func TestResolveInternsByConnectionString(t *testing.T) {
	re := require.New(t)
	r := newTestResolver()

	a := topology.ParseConnectionString("shardA", "host1:27017")
	// A different shard id sharing the same connection string must resolve
	// to the very same interned Shard object.
	b := topology.ParseConnectionString("shardB", "host1:27017")
	m := testMap(a, b)

	sa, err := r.Resolve(context.Background(), "shardA", m)
	re.NoError(err)
	sb, err := r.Resolve(context.Background(), "shardB", m)
	re.NoError(err)
	re.Same(sa, sb)
}

func TestResolveUnknownShardErrors(t *testing.T) {
	re := require.New(t)
	r := newTestResolver()
	_, err := r.Resolve(context.Background(), "missing", testMap())
	re.Error(err)
}

func TestBuildVersionArrayFallsBackToDottedVersion(t *testing.T) {
	re := require.New(t)
	build := docWith("version", "4.2.11")
	re.Equal(int64(4), buildVersionArray(build)[0])
	re.Equal(int64(2), buildVersionArray(build)[1])
	re.Equal(int64(11), buildVersionArray(build)[2])
}

func TestSelfMemberStateFindsMatchingMember(t *testing.T) {
	re := require.New(t)
	rs := docWithMembers()
	state, _, optime := selfMemberState(rs, "hostB:27017")
	re.Equal(int64(2), state)
	re.Equal(int64(500), optime)
}
