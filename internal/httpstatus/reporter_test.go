package httpstatus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/monitoring"
	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/shard"
	"github.com/shardroute/dbproxy/internal/topocache"
	"github.com/shardroute/dbproxy/internal/topology"
)

type fakeFetcher struct {
	shards []topology.ShardIdentity
}

func (f *fakeFetcher) Addr() string             { return "config1:27019" }
func (f *fakeFetcher) Roundtrip() time.Duration { return time.Millisecond }
func (f *fakeFetcher) Fetch(context.Context) ([]topology.ShardIdentity, []topology.Database, []topology.Collection, []topology.Chunk, error) {
	return f.shards, nil, nil, nil, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, id topology.ShardID, m *topology.Map) (shard.Shard, error) {
	identity, _ := m.Shard(id)
	return shard.NewSingleton(id, endpoint.NewBackend(identity.Hosts[0])), nil
}

func newTestCache(t *testing.T) *topocache.Cache {
	t.Helper()
	fetcher := &fakeFetcher{shards: []topology.ShardIdentity{
		{ID: "shard0", ConnectionString: "host1:27017", Kind: topology.KindSingleton, Hosts: []string{"host1:27017"}},
	}}
	cache := topocache.New(topocache.Config{ConfTimeout: time.Second, ConfRetransmit: time.Second}, []topocache.Fetcher{fetcher}, nil, runtime.SystemClock{})
	require.NoError(t, cache.Update(context.Background()))
	return cache
}

func TestReporterCheckReportsCriticalForDeadShard(t *testing.T) {
	re := require.New(t)
	reporter := &Reporter{
		Cache:            newTestCache(t),
		Resolver:         fakeResolver{},
		Clock:            runtime.SystemClock{},
		MonitorNoPrimary: time.Minute,
		MonitorConfigAge: time.Hour,
	}
	status := reporter.Check(context.Background())
	re.Equal(monitoring.Critical, status.Level())
	re.NotEmpty(status.Messages())
}

func TestReporterCheckCriticalWhenNoConfig(t *testing.T) {
	re := require.New(t)
	reporter := &Reporter{
		Cache:            topocache.New(topocache.Config{}, nil, nil, runtime.SystemClock{}),
		Resolver:         fakeResolver{},
		Clock:            runtime.SystemClock{},
	}
	status := reporter.Check(context.Background())
	re.Equal(monitoring.Critical, status.Level())
	re.Contains(status.Messages(), "no config available")
}

func TestReporterCheckFlagsStaleConfig(t *testing.T) {
	re := require.New(t)
	cache := newTestCache(t)
	reporter := &Reporter{
		Cache:            cache,
		Resolver:         fakeResolver{},
		Clock:            stoppedClock{at: time.Now().Add(2 * time.Hour)},
		MonitorNoPrimary: time.Minute,
		MonitorConfigAge: time.Hour,
	}
	status := reporter.Check(context.Background())
	found := false
	for _, m := range status.Messages() {
		if len(m) >= len("cannot update shard config") && m[:len("cannot update shard config")] == "cannot update shard config" {
			found = true
		}
	}
	re.True(found, "expected stale-config message, got %v", status.Messages())
}

type stoppedClock struct{ at time.Time }

func (c stoppedClock) Now() time.Time                  { return c.at }
func (c stoppedClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }
