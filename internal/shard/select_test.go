package shard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/endpoint"
)

func TestLocalThresholdPickSingleCandidate(t *testing.T) {
	re := require.New(t)
	b := endpoint.NewBackend("host1:27017")
	re.Same(b, localThresholdPick([]*endpoint.Backend{b}, time.Second))
}

func TestLocalThresholdPickSpreadsAcrossTiedWindow(t *testing.T) {
	re := require.New(t)
	b1 := endpoint.NewBackend("host1:27017")
	b2 := endpoint.NewBackend("host2:27017")
	candidates := []*endpoint.Backend{b1, b2}

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		chosen := localThresholdPick(candidates, time.Second)
		re.NotNil(chosen)
		seen[chosen.Address] = true
	}
	re.True(len(seen) > 1, "expected repeated picks to visit more than one tied backend")
}
