package router

import "github.com/shardroute/dbproxy/pkg/coderr"

var (
	// ErrUnknownNamespace is raised when a query targets a database or a
	// chunk shard reference the topology map does not know about.
	ErrUnknownNamespace = coderr.NewCodeError(coderr.ShardConfigStale, "unknown namespace or shard reference")
	// ErrNoChunk is raised when no chunk in a sharded collection covers a
	// constructed lookup key — a broken topology map, since Build already
	// validates full key-space coverage.
	ErrNoChunk = coderr.NewCodeError(coderr.ShardConfigBroken, "no chunk covers routing key")
)
