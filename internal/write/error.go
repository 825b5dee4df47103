package write

import "github.com/shardroute/dbproxy/pkg/coderr"

var (
	ErrReadOnly               = coderr.NewCodeError(coderr.BadRequest, "proxy is configured read-only")
	ErrUnauthorized           = coderr.NewCodeError(coderr.Unauthorized, "insufficient privileges for write")
	ErrInsertRequiresKey      = coderr.NewCodeError(coderr.BadRequest, "insert document is missing its sharding key")
	ErrUpsertRequiresKey      = coderr.NewCodeError(coderr.BadRequest, "upsert selector does not resolve to a single shard")
	ErrLimitNotImplemented    = coderr.NewCodeError(coderr.NotImplemented, "delete limit values other than 0 or 1 are not implemented")
	ErrVersionMismatch        = coderr.NewCodeError(coderr.ShardConfigBroken, "sub-operations of one batch disagree on shard version")
	ErrEmptyAck               = coderr.NewCodeError(coderr.BackendInternalError, "empty acknowledgement reply")
	ErrCannotReachPrimary     = coderr.NewCodeError(coderr.NoSuitableBackend, "cannot communicate with shard primary before the write deadline")
	ErrFindAndModifyInvariant = coderr.NewCodeError(coderr.BackendInternalError, "findAndModify sequential: more than one shard reported a non-null value")
	ErrFindAndModifyNoShard   = coderr.NewCodeError(coderr.BadRequest, "findAndModify selector does not resolve to any shard")
)
