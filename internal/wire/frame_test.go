package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/doc"
)

func TestQueryRoundTrip(t *testing.T) {
	re := require.New(t)

	q := doc.New(doc.F("userId", int64(42)), doc.F("name", "alice"))
	m := QueryMessage{
		Header:    Header{ReqID: 7},
		Flags:     FlagSlaveOK,
		Namespace: "db.coll",
		Skip:      3,
		Return:    100,
		Query:     q,
	}
	buf := EncodeQuery(m)

	h, err := PeekHeader(buf)
	re.NoError(err)
	re.Equal(OpQuery, h.OpCode)
	re.Equal(uint32(len(buf)), h.Length)

	got, err := DecodeQuery(buf)
	re.NoError(err)
	re.Equal(m.Flags, got.Flags)
	re.Equal(m.Namespace, got.Namespace)
	re.Equal(m.Skip, got.Skip)
	re.Equal(m.Return, got.Return)
	re.True(doc.Equal(m.Query, got.Query))
	re.False(got.HasSelector)
}

func TestReplyRoundTrip(t *testing.T) {
	re := require.New(t)

	docs := []doc.Doc{
		doc.New(doc.F("_id", int64(1))),
		doc.New(doc.F("_id", int64(2))),
	}
	m := ReplyMessage{
		Header:       Header{ResponseTo: 7},
		Flags:        ReplyAwaitCapable,
		CursorID:     123456,
		StartingFrom: 0,
		Docs:         docs,
	}
	buf := EncodeReply(m)

	got, err := DecodeReply(buf)
	re.NoError(err)
	re.Equal(m.CursorID, got.CursorID)
	re.Equal(len(docs), len(got.Docs))
	for i := range docs {
		re.True(doc.Equal(docs[i], got.Docs[i]))
	}
}

func TestKillCursorsRoundTrip(t *testing.T) {
	re := require.New(t)

	m := KillCursorsMessage{CursorIDs: []uint64{1, 2, 3}}
	buf := EncodeKillCursors(m)
	got, err := DecodeKillCursors(buf)
	re.NoError(err)
	re.Equal(m.CursorIDs, got.CursorIDs)
}

func TestPeekHeaderRejectsOversize(t *testing.T) {
	re := require.New(t)

	buf := make([]byte, headerLen)
	putHeader(buf, Header{Length: MaxMessageSize + 1})
	_, err := PeekHeader(buf)
	re.Error(err)
}

func TestLooksLikeHTTP(t *testing.T) {
	re := require.New(t)
	re.True(LooksLikeHTTP([]byte("GET / HTTP/1.1\r\n")))
	re.False(LooksLikeHTTP([]byte{0x10, 0, 0, 0}))
}
