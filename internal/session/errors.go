package session

import "github.com/shardroute/dbproxy/pkg/coderr"

var (
	ErrBadNamespace              = coderr.NewCodeError(coderr.BadRequest, "malformed namespace")
	ErrMalformedWrite            = coderr.NewCodeError(coderr.BadRequest, "malformed legacy write message")
	ErrCommandNotFound           = coderr.NewCodeError(coderr.NotImplemented, "no such command")
	ErrAuthFailed                = coderr.NewCodeError(coderr.Unauthorized, "authentication failed")
	ErrTooManyStaleConfigRetries = coderr.NewCodeError(coderr.ShardConfigStale, "gave up after repeated stale shard config")
)
