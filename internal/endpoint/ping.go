package endpoint

import (
	"context"

	"go.uber.org/zap"

	"github.com/shardroute/dbproxy/internal/doc"
)

// Pinger issues the probe sequence used by keepPing: a bare ping (timed for
// net roundtrip), then shard-specific status probes. Production code wires
// this to the real backend wire protocol; tests substitute a fake.
type Pinger interface {
	Ping(ctx context.Context) error
	Status(ctx context.Context) (doc.Doc, error)
}

// keepPing loops for the endpoint's entire life: sleep pingInterval (or
// pingFailInterval after a failure), issue a ping, and update liveness and
// roundtrip from the result. It exits when stopPing is closed.
func (e *Endpoint) keepPing() {
	for {
		interval := e.cfg.PingInterval
		if !e.Alive() {
			interval = e.cfg.PingFailInterval
		}

		select {
		case <-e.stopPing:
			return
		case <-e.wakePing():
		case <-e.clock.After(interval):
		}

		e.probeOnce()
	}
}

func (e *Endpoint) probeOnce() {
	if e.Pinger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PingTimeout)
	defer cancel()

	start := e.clock.Now()
	err := e.Pinger.Ping(ctx)
	net := e.clock.Now().Sub(start)

	if err != nil {
		e.logger.Warn("ping failed", zap.Error(err))
		e.liveness.markDead()
		e.Backend.invalidate()
		return
	}
	e.setRoundtrip(net)

	status, err := e.Pinger.Status(ctx)
	if err != nil {
		e.logger.Warn("status probe failed", zap.Error(err))
		e.liveness.markDead()
		e.Backend.invalidate()
		return
	}
	e.Backend.SetStatus(status)

	e.liveness.markAlive()
	e.Backend.invalidate()
}
