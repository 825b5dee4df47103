package shard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/monitoring"
	"github.com/shardroute/dbproxy/internal/topology"
)

func TestSingletonStatusCriticalWhenDead(t *testing.T) {
	re := require.New(t)
	s := NewSingleton(topology.ShardID("shard0"), endpoint.NewBackend("host1:27017"))
	status := s.Status(time.Now(), time.Minute)
	re.Equal(monitoring.Critical, status.Level())
}

func TestSyncGroupStatusCriticalWhenAllDead(t *testing.T) {
	re := require.New(t)
	g := NewSyncGroup(topology.ShardID("shard0"), []*endpoint.Backend{
		endpoint.NewBackend("host1:27017"),
		endpoint.NewBackend("host2:27017"),
	}, 0)
	status := g.Status(time.Now(), time.Minute)
	re.Equal(monitoring.Critical, status.Level())
	re.Len(status.Messages(), 3) // two dead-member warnings plus the all-dead critical
}

func TestReplicaSetStatusEscalatesNoPrimaryMessageOverTime(t *testing.T) {
	re := require.New(t)
	r := NewReplicaSet(topology.ShardID("rs0"), []*endpoint.Backend{
		endpoint.NewBackend("host1:27017"),
	}, 0, 0)

	base := time.Now()
	first := r.Status(base, time.Minute)
	re.Equal(monitoring.Critical, first.Level()) // no alive member forces critical regardless
	re.Contains(first.Messages(), "replica set rs0 has no primary member")

	later := r.Status(base.Add(2*time.Minute), time.Minute)
	hasEscalated := false
	for _, m := range later.Messages() {
		if m == "replica set rs0 has no primary member for 2m0s" {
			hasEscalated = true
		}
	}
	re.True(hasEscalated, "expected escalated no-primary message, got %v", later.Messages())
}
