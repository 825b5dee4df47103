package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/priv"
	"github.com/shardroute/dbproxy/pkg/coderr"
)

func newTestSession() *Session {
	return &Session{engine: &Engine{}, cursors: newCursorMap()}
}

func TestCommandNameIsFirstField(t *testing.T) {
	re := require.New(t)
	re.Equal("ping", commandName(doc.New(doc.F("ping", int64(1)))))
	re.Equal("", commandName(doc.Doc{}))
}

func TestCommandPing(t *testing.T) {
	re := require.New(t)
	s := newTestSession()
	reply := s.command(context.Background(), "admin", doc.New(doc.F("ping", int64(1))))
	ok, _ := reply.Get("ok")
	re.Equal(int64(1), ok)
}

func TestCommandUnknownReturnsNotImplemented(t *testing.T) {
	re := require.New(t)
	s := newTestSession()
	reply := s.command(context.Background(), "admin", doc.New(doc.F("bogus", int64(1))))
	ok, _ := reply.Get("ok")
	re.Equal(int64(0), ok)
	code, _ := reply.Get("code")
	re.Equal(int64(coderr.NotImplemented.ReplyCode()), code)
}

func TestCommandIsMasterReportsMaster(t *testing.T) {
	re := require.New(t)
	s := newTestSession()
	reply := s.command(context.Background(), "admin", doc.New(doc.F("ismaster", int64(1))))
	master, _ := reply.Get("ismaster")
	re.Equal(true, master)
}

func TestCmdGetNonceIsStableUntilReissued(t *testing.T) {
	re := require.New(t)
	s := newTestSession()
	reply := s.cmdGetNonce()
	nonce, ok := reply.Get("nonce")
	re.True(ok)
	re.NotEmpty(nonce)
	re.Equal(nonce, s.nonce)
}

func TestCmdAuthenticateRejectsMismatchedNonce(t *testing.T) {
	re := require.New(t)
	s := newTestSession()
	s.nonce = "abc"
	reply := s.cmdAuthenticate(context.Background(), "app", doc.New(
		doc.F("user", "alice"),
		doc.F("nonce", "different"),
		doc.F("key", "whatever"),
	))
	ok, _ := reply.Get("ok")
	re.Equal(int64(0), ok)
}

func TestCmdAuthenticateRejectsMissingFields(t *testing.T) {
	re := require.New(t)
	s := newTestSession()
	reply := s.cmdAuthenticate(context.Background(), "app", doc.New())
	ok, _ := reply.Get("ok")
	re.Equal(int64(0), ok)
}

func TestCmdGetLastErrorWithNoPriorWrite(t *testing.T) {
	re := require.New(t)
	s := newTestSession()
	reply := s.cmdGetLastError(context.Background(), doc.New(doc.F("getlasterror", int64(1))))
	n, _ := reply.Get("n")
	re.Equal(int64(0), n)
}

func TestCmdSetLogLevelAllowedWhenAuthDisabled(t *testing.T) {
	re := require.New(t)
	s := newTestSession()
	reply := s.cmdSetLogLevel()
	ok, _ := reply.Get("ok")
	re.Equal(int64(1), ok)
}

func TestCmdSetLogLevelDeniedWithoutDBAdmin(t *testing.T) {
	re := require.New(t)
	s := newTestSession()
	s.privs = priv.NewSet()
	reply := s.cmdSetLogLevel()
	ok, _ := reply.Get("ok")
	re.Equal(int64(0), ok)
}

func TestGrantFromUserDocAppliesRoles(t *testing.T) {
	re := require.New(t)
	set := priv.NewSet()
	err := grantFromUserDoc(set, "app", doc.New(doc.F("roles", doc.Array{"readWrite"})))
	re.NoError(err)
	re.True(set.Has("app", priv.Write))
}

func TestGrantFromUserDocFallsBackToLegacyReadOnly(t *testing.T) {
	re := require.New(t)
	set := priv.NewSet()
	err := grantFromUserDoc(set, "app", doc.New(doc.F("readOnly", true)))
	re.NoError(err)
	re.True(set.Has("app", priv.Read))
	re.False(set.Has("app", priv.Write))
}

func TestWriteConcernFromCommandStripsCommandField(t *testing.T) {
	re := require.New(t)
	wc := writeConcernFromCommand(doc.New(doc.F("getlasterror", int64(1)), doc.F("w", int64(2))), "getlasterror")
	_, hasCmd := wc.Get("getlasterror")
	re.False(hasCmd)
	w, ok := wc.Get("w")
	re.True(ok)
	re.Equal(int64(2), w)
}

func TestStringFieldAndArrayField(t *testing.T) {
	re := require.New(t)
	d := doc.New(doc.F("name", "widgets"), doc.F("documents", doc.Array{doc.New()}))
	name, ok := stringField(d, "name")
	re.True(ok)
	re.Equal("widgets", name)

	_, ok = stringField(d, "missing")
	re.False(ok)

	arr, ok := arrayField(d, "documents")
	re.True(ok)
	re.Len(arr, 1)
}

func TestFailDocCarriesCode(t *testing.T) {
	re := require.New(t)
	d := failDoc(ErrAuthFailed)
	code, ok := d.Get("code")
	re.True(ok)
	re.Equal(int64(coderr.Unauthorized.ReplyCode()), code)
}

func TestWithDefaultOKPreservesExplicitOK(t *testing.T) {
	re := require.New(t)
	d := withDefaultOK(doc.New(doc.F("ok", int64(0)), doc.F("n", int64(1))))
	ok, _ := d.Get("ok")
	re.Equal(int64(0), ok)
}
