package shard

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/hashring"
)

// pickCounter feeds pickRing a fresh key on every call, so consecutive
// ties spread across the window instead of favoring the first backend.
var pickCounter uint64

const pickRingReplicas = 10

// localThresholdPick implements spec.md §4.2's five-step tie-break:
// 1. candidates are assumed pre-filtered (healthy, not excluded, tags/optime OK).
// 2. sort by roundtrip.
// 3. threshold = fastest.roundtrip + localThreshold.
// 4. keep the prefix with roundtrip < threshold.
// 5. if the prefix is only the fastest, widen to the whole candidate set;
//    choose uniformly from the resulting window via a consistent-hash
//    ring keyed by a rotating counter, so repeated ties spread across the
//    window instead of piling onto one backend.
func localThresholdPick(candidates []*endpoint.Backend, localThreshold time.Duration) *endpoint.Backend {
	if len(candidates) == 1 {
		return candidates[0]
	}

	ordered := make([]*endpoint.Backend, len(candidates))
	copy(ordered, candidates)
	roundtripOf := func(b *endpoint.Backend) time.Duration {
		ep := b.Nearest()
		if ep == nil {
			return time.Duration(1<<62 - 1) // sorts after every real measurement
		}
		return ep.Roundtrip()
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && roundtripOf(ordered[j]) < roundtripOf(ordered[j-1]); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	threshold := roundtripOf(ordered[0]) + localThreshold
	window := 1
	for window < len(ordered) && roundtripOf(ordered[window]) < threshold {
		window++
	}
	if window == 1 {
		window = len(ordered)
	}

	return pickFromWindow(ordered[:window])
}

// pickFromWindow builds a ring over the window's addresses and resolves it
// with a key that changes on every call.
func pickFromWindow(window []*endpoint.Backend) *endpoint.Backend {
	if len(window) == 1 {
		return window[0]
	}
	byAddr := make(map[string]*endpoint.Backend, len(window))
	ring := hashring.New(pickRingReplicas, nil)
	for _, b := range window {
		byAddr[b.Address] = b
		ring.Add(b.Address)
	}
	key := strconv.FormatUint(atomic.AddUint64(&pickCounter, 1), 10)
	return byAddr[ring.Get(key)]
}
