package endpoint

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/pkg/coderr"
	"github.com/shardroute/dbproxy/pkg/log"
)

var (
	ErrConnect          = coderr.NewCodeError(coderr.ConnectivityError, "failed to connect to endpoint")
	ErrEndpointDead     = coderr.NewCodeError(coderr.NoSuitableBackend, "endpoint is not alive")
)

// Dialer opens a new connection to an endpoint's address. Production code
// wires net.Dialer.DialContext; tests substitute an in-memory pipe.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Config is the subset of internal/config.Config that endpoints need,
// passed down rather than importing the whole process config.
type Config struct {
	ConnPoolSize     int
	PingInterval     time.Duration
	PingFailInterval time.Duration
	PingTimeout      time.Duration
}

// Endpoint is a single network address of a backend server: two connection
// pools (spec.md §4.1: "primary-capable" and "any-capable"), each bounded by
// ConnPoolSize, plus roundtrip tracking and a liveness state machine driven
// by keepPing.
type Endpoint struct {
	Addr    string
	Backend *Backend
	Pinger  Pinger
	cfg     Config
	dial    Dialer
	clock   runtime.Clock

	logger *zap.Logger

	mu          sync.Mutex
	primaryPool []*Connection
	anyPool     []*Connection

	liveness *liveness

	roundtripMu       sync.RWMutex
	roundtrip         time.Duration
	previousRoundtrip time.Duration

	stopPing chan struct{}
	pingOnce sync.Once
	wake     chan struct{}
}

// New creates an endpoint bound to addr and starts its ping loop. The
// caller must call Close when the parent Backend is destroyed, matching
// spec.md's "created with backend; destroyed with backend" lifecycle.
func New(addr string, backend *Backend, cfg Config, dial Dialer, pinger Pinger, clock runtime.Clock) *Endpoint {
	if clock == nil {
		clock = runtime.SystemClock{}
	}
	e := &Endpoint{
		Addr:     addr,
		Backend:  backend,
		Pinger:   pinger,
		cfg:      cfg,
		dial:     dial,
		clock:    clock,
		logger:   log.GetLogger().With(zap.String("endpoint", addr)),
		liveness: newLiveness(),
		stopPing: make(chan struct{}),
	}
	go e.keepPing()
	return e
}

// Close stops the ping loop and flushes both pools.
func (e *Endpoint) Close() {
	e.pingOnce.Do(func() { close(e.stopPing) })
	e.Flush()
}

// GetAny pops a pooled any-capable connection, or dials a new one.
func (e *Endpoint) GetAny(ctx context.Context) (*Connection, error) {
	if !e.Alive() {
		return nil, ErrEndpointDead.WithCausef("addr:%s", e.Addr)
	}
	if c := e.pop(&e.anyPool); c != nil {
		return c, nil
	}
	return e.connect(ctx, false)
}

// GetPrimary pops a pooled primary-capable connection, or dials a new one.
func (e *Endpoint) GetPrimary(ctx context.Context) (*Connection, error) {
	if !e.Alive() {
		return nil, ErrEndpointDead.WithCausef("addr:%s", e.Addr)
	}
	if c := e.pop(&e.primaryPool); c != nil {
		return c, nil
	}
	return e.connect(ctx, true)
}

func (e *Endpoint) connect(ctx context.Context, primary bool) (*Connection, error) {
	conn, err := e.dial(ctx, e.Addr)
	if err != nil {
		return nil, ErrConnect.WithCausef("addr:%s, err:%v", e.Addr, err)
	}
	return newConnection(e, conn, primary), nil
}

func (e *Endpoint) pop(pool *[]*Connection) *Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(*pool)
	if n == 0 {
		return nil
	}
	c := (*pool)[n-1]
	*pool = (*pool)[:n-1]
	return c
}

// release pushes c back to its matching pool iff under the cap, else
// closes it.
func (e *Endpoint) release(c *Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool := &e.anyPool
	if c.IsPrimary {
		pool = &e.primaryPool
	}
	if len(*pool) >= e.cfg.ConnPoolSize {
		e.mu.Unlock()
		c.Destroy()
		e.mu.Lock()
		return
	}
	*pool = append(*pool, c)
}

// Flush empties both pools, forcing reconnect on next use.
func (e *Endpoint) Flush() {
	e.mu.Lock()
	old := append(e.primaryPool, e.anyPool...)
	e.primaryPool = nil
	e.anyPool = nil
	e.mu.Unlock()

	for _, c := range old {
		c.Destroy()
	}
}

// Failed marks the endpoint dead, flushes its pools, and kicks the ping
// loop to probe again immediately instead of waiting for the next
// scheduled tick.
func (e *Endpoint) Failed() {
	e.liveness.markDead()
	e.Flush()
	select {
	case e.wakePing() <- struct{}{}:
	default:
	}
}

func (e *Endpoint) wakePing() chan struct{} {
	// wake is intentionally unbuffered-tolerant: keepPing drains it best
	// effort, a full channel just means a probe is already imminent.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wake == nil {
		e.wake = make(chan struct{}, 1)
	}
	return e.wake
}

// Alive reports the endpoint's current liveness.
func (e *Endpoint) Alive() bool {
	return e.liveness.isAlive()
}

// Roundtrip returns the net (first-reply) roundtrip from the most recent
// successful ping.
func (e *Endpoint) Roundtrip() time.Duration {
	e.roundtripMu.RLock()
	defer e.roundtripMu.RUnlock()
	return e.roundtrip
}

func (e *Endpoint) setRoundtrip(d time.Duration) {
	e.roundtripMu.Lock()
	defer e.roundtripMu.Unlock()
	e.previousRoundtrip = e.roundtrip
	e.roundtrip = d
}
