// Package endpoint implements the two leaf components of spec.md §4.1:
// Endpoint (one TCP address, two bounded connection pools, a continuous
// ping loop) and Backend (aggregates an address's endpoints, exposing
// liveness and the nearest one by roundtrip).
package endpoint

import (
	"net"
	"sync"

	"github.com/shardroute/dbproxy/internal/topology"
)

// Connection is a pooled link to one Endpoint: an underlying stream plus
// the bookkeeping spec.md's Connection type names — whether it was
// obtained as primary-capable, whether it has authenticated, and which
// (namespace -> version) pairs it has already announced on the wire via
// setShardVersion.
type Connection struct {
	Endpoint      *Endpoint
	IsPrimary     bool
	Authenticated bool
	Conn          net.Conn

	mu               sync.Mutex
	versionsOnWire   map[topology.Namespace]topology.ChunkVersion
}

func newConnection(ep *Endpoint, conn net.Conn, isPrimary bool) *Connection {
	return &Connection{
		Endpoint:       ep,
		IsPrimary:      isPrimary,
		Conn:           conn,
		versionsOnWire: make(map[topology.Namespace]topology.ChunkVersion),
	}
}

// KnownVersion returns the version this connection last announced for ns,
// and whether it has announced one at all.
func (c *Connection) KnownVersion(ns topology.Namespace) (topology.ChunkVersion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.versionsOnWire[ns]
	return v, ok
}

// SetKnownVersion records the version just announced on the wire for ns via
// setShardVersion, so the next operation on the same namespace can skip the
// handshake if the version is unchanged.
func (c *Connection) SetKnownVersion(ns topology.Namespace, v topology.ChunkVersion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versionsOnWire[ns] = v
}

// Release returns the connection to its endpoint's pool if there is room,
// otherwise closes it. Callers take this path after a successful
// request/reply round trip; any error path should call Destroy instead,
// because the connection's on-wire state is then undefined (spec.md §5,
// cancellation policy).
func (c *Connection) Release() {
	c.Endpoint.release(c)
}

// Destroy closes the connection without returning it to the pool.
func (c *Connection) Destroy() {
	_ = c.Conn.Close()
}
