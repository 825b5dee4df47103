package write

import (
	"context"
	"time"

	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/read"
	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/shard"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/pkg/coderr"
)

// Timing bundles the write engine's deadlines: the overall budget for
// reaching a primary and completing one round trip, and the shorter
// threshold at which a stuck round trip is abandoned and retried.
type Timing struct {
	WriteTimeout    time.Duration
	WriteRetransmit time.Duration
}

const acquirePrimaryRetryDelay = 500 * time.Millisecond

// executeOnPrimary implements spec.md §4.6's shard-local write execution:
// acquire a primary connection, retrying every 500ms while none is
// available; issue buf and wait up to min(writeRetransmit, remaining
// writeTimeout); on timeout mark the backend failed and retry against
// whatever is primary next; on a "not master" reply tell the shard and
// retry. The whole loop gives up once writeTimeout has elapsed.
func executeOnPrimary(ctx context.Context, sh shard.Shard, ns topology.Namespace, version topology.ChunkVersion, buf []byte, clock runtime.Clock, timing Timing) (wire.ReplyMessage, error) {
	if clock == nil {
		clock = runtime.SystemClock{}
	}
	start := clock.Now()
	attempt := 0
	for {
		if clock.Now().Sub(start) >= timing.WriteTimeout {
			return wire.ReplyMessage{}, ErrCannotReachPrimary
		}

		conn, err := sh.WriteOp(ctx)
		if err != nil {
			if waitErr := sleepOrDone(ctx, clock, acquirePrimaryRetryDelay); waitErr != nil {
				return wire.ReplyMessage{}, waitErr
			}
			attempt++
			continue
		}

		t := runtime.Spawn(ctx, func(ctx context.Context) (wire.ReplyMessage, error) {
			return read.Establish(ctx, conn, ns, version, buf)
		})
		budget := minDur(timing.WriteRetransmit, timing.WriteTimeout-clock.Now().Sub(start))
		r, done := runtime.Wait(t, budget)
		if !done {
			t.Cancel()
			conn.Destroy()
			sh.Failed(connAddr(conn))
			attempt++
			continue
		}
		if r.Err != nil {
			conn.Destroy()
			if coderr.Is(r.Err, coderr.NotMaster) {
				sh.LostMaster()
				if attempt > 0 {
					if waitErr := sleepOrDone(ctx, clock, acquirePrimaryRetryDelay); waitErr != nil {
						return wire.ReplyMessage{}, waitErr
					}
				}
				attempt++
				continue
			}
			return wire.ReplyMessage{}, r.Err
		}
		if hasNotMasterCode(r.Value) {
			conn.Release()
			sh.LostMaster()
			attempt++
			continue
		}
		conn.Release()
		return r.Value, nil
	}
}

func sleepOrDone(ctx context.Context, clock runtime.Clock, d time.Duration) error {
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func hasNotMasterCode(reply wire.ReplyMessage) bool {
	if len(reply.Docs) == 0 {
		return false
	}
	code, ok := reply.Docs[0].Get("code")
	if !ok {
		return false
	}
	c, ok := code.(int64)
	return ok && c == int64(coderr.NotMaster.ReplyCode())
}

func connAddr(c *endpoint.Connection) string {
	return c.Endpoint.Backend.Address
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
