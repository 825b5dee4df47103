// Package runtime provides the small concurrency and timing primitives the
// rest of the proxy is built on: an injectable clock (grounded on
// original_source/clock.h, which the distilled spec silently assumes) and
// a cancel-the-loser wait-any-of-two helper for the read engine's hedge
// race. Everything else uses context.Context and golang.org/x/sync/errgroup
// directly, per the source-to-Go mapping of spec.md §9.
package runtime

import "time"

// Clock abstracts time.Now/time.After so hedge-timing tests (spec §8, S3)
// can drive fake elapsed time instead of sleeping for real.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the production Clock backed by the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                  { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

var _ Clock = SystemClock{}
