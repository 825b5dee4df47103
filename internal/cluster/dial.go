package cluster

import (
	"context"
	"net"
	"time"

	"github.com/shardroute/dbproxy/internal/endpoint"
)

// NetDialer returns an endpoint.Dialer backed by net.Dialer, the network
// entry point every real deployment wires in place of a test double.
func NetDialer(connectTimeout time.Duration) endpoint.Dialer {
	d := &net.Dialer{Timeout: connectTimeout}
	return func(ctx context.Context, addr string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
}
