package read

import (
	"net"

	"github.com/shardroute/dbproxy/internal/wireio"
)

// readMessage, writeMessage and nextReqID delegate to internal/wireio,
// which internal/write shares for the same purpose on its own connections.
func readMessage(conn net.Conn) ([]byte, error) { return wireio.ReadMessage(conn) }

func writeMessage(conn net.Conn, buf []byte) error { return wireio.WriteMessage(conn, buf) }

func nextReqID() uint32 { return wireio.NextReqID() }
