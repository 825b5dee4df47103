package read

import "github.com/shardroute/dbproxy/pkg/coderr"

var (
	ErrExhausted     = coderr.NewCodeError(coderr.BackendInternalError, "data source is exhausted")
	ErrBadFlags      = coderr.NewCodeError(coderr.BadRequest, "unsupported query flag")
	ErrUnauthorized  = coderr.NewCodeError(coderr.Unauthorized, "insufficient privileges for read")
	ErrTimeout       = coderr.NewCodeError(coderr.NoSuitableBackend, "read timed out")
	ErrCursorNotFound = coderr.NewCodeError(coderr.CursorNotFound, "cursor not found")
)
