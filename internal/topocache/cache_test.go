package topocache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/topology"
)

type fakeFetcher struct {
	addr      string
	roundtrip time.Duration
	delay     time.Duration
	err       error
	shards    []topology.ShardIdentity
}

func (f *fakeFetcher) Addr() string            { return f.addr }
func (f *fakeFetcher) Roundtrip() time.Duration { return f.roundtrip }
func (f *fakeFetcher) Fetch(ctx context.Context) ([]topology.ShardIdentity, []topology.Database, []topology.Collection, []topology.Chunk, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, nil, nil, nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, nil, nil, nil, f.err
	}
	return f.shards, nil, nil, nil, nil
}

func TestCacheUpdateUsesFastestFetcher(t *testing.T) {
	re := require.New(t)

	fast := &fakeFetcher{addr: "cfg1", roundtrip: time.Millisecond, shards: []topology.ShardIdentity{
		topology.ParseConnectionString("shard0", "h1:1"),
	}}
	slow := &fakeFetcher{addr: "cfg2", roundtrip: 50 * time.Millisecond, delay: time.Second}

	c := New(Config{ConfTimeout: 200 * time.Millisecond, ConfRetransmit: 20 * time.Millisecond, ConfInterval: time.Minute}, []Fetcher{slow, fast}, nil, nil)
	err := c.Update(context.Background())
	re.NoError(err)

	snap, err := c.Get()
	re.NoError(err)
	_, ok := snap.Shard("shard0")
	re.True(ok)
}

func TestCacheFallsBackToSecondFetcher(t *testing.T) {
	re := require.New(t)

	broken := &fakeFetcher{addr: "cfg1", roundtrip: time.Millisecond, delay: time.Second}
	backup := &fakeFetcher{addr: "cfg2", roundtrip: 5 * time.Millisecond, shards: []topology.ShardIdentity{
		topology.ParseConnectionString("shard0", "h1:1"),
	}}

	c := New(Config{ConfTimeout: 200 * time.Millisecond, ConfRetransmit: 10 * time.Millisecond, ConfInterval: time.Minute}, []Fetcher{broken, backup}, nil, nil)
	err := c.Update(context.Background())
	re.NoError(err)
}

func TestCacheGetWithoutUpdateFails(t *testing.T) {
	re := require.New(t)
	c := New(Config{ConfTimeout: time.Second, ConfRetransmit: time.Millisecond, ConfInterval: time.Minute}, nil, nil, nil)
	_, err := c.Get()
	re.Error(err)
	re.ErrorContains(err, "topology unknown")
}
