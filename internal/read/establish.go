package read

import (
	"context"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/pkg/coderr"
)

var (
	ErrEstablishAllServersDown = coderr.NewCodeError(coderr.ConnectivityError, "all servers down")
	ErrEstablishNoneOfHosts    = coderr.NewCodeError(coderr.ConnectivityError, "none of the hosts could be contacted")
	ErrEstablishMetadataInit   = coderr.NewCodeError(coderr.PermanentFailure, "shard metadata not initialized")
	establishMaxRetries        = 2
)

// Establish exposes establish to other engines (internal/write) that must
// perform the same per-namespace version handshake before issuing a
// request on a shard connection.
func Establish(ctx context.Context, conn *endpoint.Connection, ns topology.Namespace, version topology.ChunkVersion, queryBuf []byte) (wire.ReplyMessage, error) {
	return establish(ctx, conn, ns, version, queryBuf)
}

// establish implements spec.md §4.5's per-namespace version handshake: if
// conn's last announced version for ns differs from version, issue
// setShardVersion and record the new one before sending the caller's
// actual query bytes. Retries inside establish are limited to two attempts
// with a narrow, specialised classification of the setShardVersion reply.
func establish(ctx context.Context, conn *endpoint.Connection, ns topology.Namespace, version topology.ChunkVersion, queryBuf []byte) (wire.ReplyMessage, error) {
	known, ok := conn.KnownVersion(ns)
	if !ok || !known.Equal(version) {
		if err := setShardVersion(ctx, conn, ns, version); err != nil {
			return wire.ReplyMessage{}, err
		}
		conn.SetKnownVersion(ns, version)
	}

	if err := writeMessage(conn.Conn, queryBuf); err != nil {
		return wire.ReplyMessage{}, endpoint.ErrConnect.WithCause(err)
	}
	raw, err := readMessage(conn.Conn)
	if err != nil {
		return wire.ReplyMessage{}, err
	}
	return wire.DecodeReply(raw)
}

// setShardVersion issues the version-handshake command and classifies its
// reply per spec.md §4.5: "not master" propagates, "all servers down"
// retries once, "metadata init" returns ErrEstablishMetadataInit (the
// caller, BackendDataSource.roundtrip, marks the connection's backend
// permanently failed and steps its shard's primary down on this code),
// "None of the hosts" is a connectivity error, anything else is stale
// config.
func setShardVersion(ctx context.Context, conn *endpoint.Connection, ns topology.Namespace, version topology.ChunkVersion) error {
	cmd := doc.New(
		doc.F("setShardVersion", ns.String()),
		doc.F("version", int64(version.Timestamp)),
		doc.F("epoch", version.Epoch[:]),
	)
	req := wire.QueryMessage{
		Header:    wire.Header{ReqID: nextReqID()},
		Namespace: ns.Database + ".$cmd",
		Return:    -1,
		Query:     cmd,
	}

	var lastErr error
	for attempt := 0; attempt < establishMaxRetries; attempt++ {
		if err := writeMessage(conn.Conn, wire.EncodeQuery(req)); err != nil {
			lastErr = endpoint.ErrConnect.WithCause(err)
			continue
		}
		raw, err := readMessage(conn.Conn)
		if err != nil {
			lastErr = err
			continue
		}
		reply, err := wire.DecodeReply(raw)
		if err != nil {
			lastErr = err
			continue
		}
		if len(reply.Docs) == 0 {
			lastErr = coderr.NewCodeError(coderr.BackendInternalError, "setShardVersion: empty reply")
			continue
		}
		result := reply.Docs[0]
		if ok, _ := result.Get("ok"); ok == int64(1) {
			return nil
		}
		errmsg, _ := result.Get("errmsg")
		msg, _ := errmsg.(string)
		switch msg {
		case "not master":
			return coderr.NewCodeError(coderr.NotMaster, "setShardVersion: not master")
		case "all servers down":
			lastErr = ErrEstablishAllServersDown
			continue
		case "metadata init":
			return ErrEstablishMetadataInit.WithCausef("ns:%s", ns)
		case "None of the hosts":
			return ErrEstablishNoneOfHosts
		default:
			return coderr.NewCodeError(coderr.ShardConfigStale, "setShardVersion: "+msg)
		}
	}
	if lastErr == nil {
		lastErr = ErrEstablishAllServersDown
	}
	return lastErr
}
