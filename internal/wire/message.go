// Package wire implements the request/reply framing of the client and
// backend dialect (spec §6): a fixed header, opcode-specific bodies, and
// the flag bits that query and reply carry. The document payloads
// themselves are internal/doc.Doc values; this package only frames them.
package wire

import (
	"encoding/binary"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/pkg/coderr"
)

// MaxMessageSize is the hard cap on a single wire message; larger messages
// are dropped rather than buffered.
const MaxMessageSize = 16 * 1024 * 1024

// OpCode identifies the kind of message that follows the header.
type OpCode uint32

const (
	OpReply       OpCode = 1
	OpUpdate      OpCode = 2001
	OpInsert      OpCode = 2002
	OpQuery       OpCode = 2004
	OpGetMore     OpCode = 2005
	OpDelete      OpCode = 2006
	OpKillCursors OpCode = 2007
)

func (op OpCode) String() string {
	switch op {
	case OpReply:
		return "reply"
	case OpUpdate:
		return "update"
	case OpInsert:
		return "insert"
	case OpQuery:
		return "query"
	case OpGetMore:
		return "getMore"
	case OpDelete:
		return "delete"
	case OpKillCursors:
		return "killCursors"
	default:
		return "unknown"
	}
}

// Query flag bits.
const (
	FlagTailable  uint32 = 0x02
	FlagSlaveOK   uint32 = 0x04
	FlagNoTimeout uint32 = 0x10
	FlagAwaitData uint32 = 0x20
	FlagExhaust   uint32 = 0x40
	FlagPartial   uint32 = 0x80
)

// Reply flag bits.
const (
	ReplyCursorNotFound  uint32 = 0x01
	ReplyQueryFailure    uint32 = 0x02
	ReplyShardConfigStale uint32 = 0x04
	ReplyAwaitCapable    uint32 = 0x08
)

const headerLen = 16

// Header is the fixed 16-byte prefix of every message.
type Header struct {
	Length     uint32
	ReqID      uint32
	ResponseTo uint32 // unused on query bodies, set on replies
	OpCode     OpCode
}

var (
	ErrMessageTooShort = coderr.NewCodeError(coderr.BackendInternalError, "message shorter than header")
	ErrMessageTooLong  = coderr.NewCodeError(coderr.BackendInternalError, "message exceeds max size")
	ErrTruncated       = coderr.NewCodeError(coderr.BackendInternalError, "truncated message body")
	ErrUnknownOpCode   = coderr.NewCodeError(coderr.BackendInternalError, "unrecognised opcode")
)

// QueryMessage is the body of an OpQuery message.
type QueryMessage struct {
	Header        Header
	Flags         uint32
	Namespace     string
	Skip          uint32
	Return        int32
	Query         doc.Doc
	FieldSelector doc.Doc
	HasSelector   bool
}

// ReplyMessage is the body of an OpReply message.
type ReplyMessage struct {
	Header       Header
	Flags        uint32
	CursorID     uint64
	StartingFrom uint32
	Count        uint32
	Docs         []doc.Doc
}

// GetMoreMessage is the body of an OpGetMore message.
type GetMoreMessage struct {
	Header    Header
	Namespace string
	Return    int32
	CursorID  uint64
}

// KillCursorsMessage is the body of an OpKillCursors message.
type KillCursorsMessage struct {
	Header    Header
	CursorIDs []uint64
}

// WriteMessage is the shared body shape of update/insert/delete, which all
// carry a namespace, flags, and a sequence of documents (insert: the
// documents to insert; update/delete: selector followed by modifier/limit
// flags encoded into the document per the legacy wire form).
type WriteMessage struct {
	Header    Header
	OpCode    OpCode
	Flags     uint32
	Namespace string
	Docs      []doc.Doc
}

func putHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint32(buf[4:8], h.ReqID)
	binary.LittleEndian.PutUint32(buf[8:12], h.ResponseTo)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.OpCode))
}

func getHeader(buf []byte) Header {
	return Header{
		Length:     binary.LittleEndian.Uint32(buf[0:4]),
		ReqID:      binary.LittleEndian.Uint32(buf[4:8]),
		ResponseTo: binary.LittleEndian.Uint32(buf[8:12]),
		OpCode:     OpCode(binary.LittleEndian.Uint32(buf[12:16])),
	}
}

// PeekHeader decodes just the fixed header, enough to decide how many more
// bytes to read and to validate the size cap before buffering the rest.
func PeekHeader(buf []byte) (Header, error) {
	if len(buf) < headerLen {
		return Header{}, ErrMessageTooShort
	}
	h := getHeader(buf)
	if h.Length > MaxMessageSize {
		return Header{}, ErrMessageTooLong.WithCausef("length:%d", h.Length)
	}
	if h.Length < headerLen {
		return Header{}, ErrMessageTooShort.WithCausef("length:%d", h.Length)
	}
	return h, nil
}

// LooksLikeHTTP reports whether buf starts with an HTTP request line,
// SessionEngine's magic for branching to the HTTP auxiliary surface
// instead of treating the bytes as a framed message.
func LooksLikeHTTP(buf []byte) bool {
	return len(buf) >= 4 && buf[0] == 'G' && buf[1] == 'E' && buf[2] == 'T' && buf[3] == ' '
}
