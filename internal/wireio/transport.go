// Package wireio implements the framed message I/O shared by every engine
// that talks to a backend connection: reading a length-prefixed message off
// the wire, writing one, and handing out per-process unique request ids.
// Split out of internal/read so internal/write can drive the same
// connections without importing the read engine itself.
package wireio

import (
	"io"
	"net"
	"sync/atomic"

	"github.com/shardroute/dbproxy/internal/wire"
)

var reqIDCounter uint32

// ReadMessage reads one complete framed message off conn: the fixed header
// first (to learn the total length and validate the size cap), then the
// rest of the body.
func ReadMessage(conn net.Conn) ([]byte, error) {
	hdr := make([]byte, 16)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, wire.ErrMessageTooShort.WithCause(err)
	}
	h, err := wire.PeekHeader(hdr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, h.Length)
	copy(buf, hdr)
	if _, err := io.ReadFull(conn, buf[16:]); err != nil {
		return nil, wire.ErrTruncated.WithCause(err)
	}
	return buf, nil
}

// WriteMessage writes a complete framed message to conn.
func WriteMessage(conn net.Conn, buf []byte) error {
	_, err := conn.Write(buf)
	return err
}

// NextReqID hands out a monotonically increasing request id, unique enough
// per-process to match a reply's responseTo back to its request without a
// central registry.
func NextReqID() uint32 {
	return atomic.AddUint32(&reqIDCounter, 1)
}
