package shard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/topology"
)

func TestPoolInterning(t *testing.T) {
	re := require.New(t)

	pool := NewPool()
	created := 0
	makeIt := func() Shard {
		created++
		return NewSingleton(topology.ShardID("shard0"), endpoint.NewBackend("host1:1"))
	}

	s1 := pool.GetOrCreate("host1:1", makeIt)
	s2 := pool.GetOrCreate("host1:1", makeIt)

	re.Same(s1, s2)
	re.Equal(1, created)

	_, ok := pool.Get("host1:1")
	re.True(ok)
	_, ok = pool.Get("unknown")
	re.False(ok)
}

func TestEffectiveMode(t *testing.T) {
	re := require.New(t)

	re.Equal(ModePrimary, ReadPreference{}.EffectiveMode(false))
	re.Equal(ModeNearest, ReadPreference{}.EffectiveMode(true))
	re.Equal(ModeSecondary, ReadPreference{Mode: ModeSecondary, HasMode: true}.EffectiveMode(false))
}
