package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/read"
	"github.com/shardroute/dbproxy/internal/wire"
)

func docs(n int) []doc.Doc {
	out := make([]doc.Doc, n)
	for i := range out {
		out[i] = doc.New(doc.F("i", int64(i)))
	}
	return out
}

func TestFeedRespectsWant(t *testing.T) {
	re := require.New(t)
	ds := read.NewFixedDataSource(docs(10))
	got, err := feed(context.Background(), ds, 3)
	re.NoError(err)
	re.Len(got, 3)
}

func TestFeedDefaultsToBatchSizeCap(t *testing.T) {
	re := require.New(t)
	ds := read.NewFixedDataSource(docs(250))
	got, err := feed(context.Background(), ds, 0)
	re.NoError(err)
	re.Len(got, defaultBatchSize)
}

func TestFeedNegativeWantIsAbsoluteLimit(t *testing.T) {
	re := require.New(t)
	ds := read.NewFixedDataSource(docs(10))
	got, err := feed(context.Background(), ds, -4)
	re.NoError(err)
	re.Len(got, 4)
}

func TestFeedImmediateErrorWithNoDocsCollected(t *testing.T) {
	re := require.New(t)
	ds := read.NewErrorDataSource(errors.New("boom"))
	got, err := feed(context.Background(), ds, 10)
	re.Error(err)
	re.Empty(got)
}

func TestAutoCloses(t *testing.T) {
	re := require.New(t)
	re.True(autoCloses(1))
	re.True(autoCloses(-5))
	re.False(autoCloses(0))
	re.False(autoCloses(100))
}

func TestBuildBatchReplyNewCursorAllocatesID(t *testing.T) {
	re := require.New(t)
	cursors := newCursorMap()
	entry := &cursorEntry{ds: read.NewFixedDataSource(docs(150))}

	reply := buildBatchReply(context.Background(), cursors, 0, entry, 100)

	re.NotZero(reply.CursorID)
	re.Len(reply.Docs, 100)
	re.Zero(reply.StartingFrom)
	_, ok := cursors.get(reply.CursorID)
	re.True(ok)
}

func TestBuildBatchReplyExhaustedClosesCursor(t *testing.T) {
	re := require.New(t)
	cursors := newCursorMap()
	entry := &cursorEntry{ds: read.NewFixedDataSource(docs(3))}

	reply := buildBatchReply(context.Background(), cursors, 0, entry, 100)

	re.Zero(reply.CursorID)
	re.Len(reply.Docs, 3)
}

func TestBuildBatchReplyPreservesDeferredError(t *testing.T) {
	re := require.New(t)
	cursors := newCursorMap()
	boom := errors.New("backend gone")
	entry := &cursorEntry{ds: &truncatingDataSource{FixedDataSource: read.NewFixedDataSource(docs(2)), failAfter: 2, err: boom}}

	reply := buildBatchReply(context.Background(), cursors, 0, entry, 100)

	re.Len(reply.Docs, 2)
	re.NotZero(reply.CursorID)

	got, ok := cursors.get(reply.CursorID)
	re.True(ok)
	re.True(got.ds.AtEnd() == false)
	_, err := got.ds.Get()
	re.Equal(boom, err)
}

func TestBuildBatchReplyStartingFromAccumulates(t *testing.T) {
	re := require.New(t)
	cursors := newCursorMap()
	entry := &cursorEntry{ds: read.NewFixedDataSource(docs(5))}
	id := cursors.insert(entry)

	first := buildBatchReply(context.Background(), cursors, id, entry, 2)
	re.Zero(first.StartingFrom)
	re.Len(first.Docs, 2)

	second := buildBatchReply(context.Background(), cursors, first.CursorID, entry, 2)
	re.Equal(uint32(2), second.StartingFrom)
	re.Len(second.Docs, 2)
}

func TestErrorReplyMessageSetsQueryFailureFlag(t *testing.T) {
	re := require.New(t)
	reply := errorReplyMessage(errors.New("boom"))
	re.Equal(uint32(wire.ReplyQueryFailure), reply.Flags)
	re.Len(reply.Docs, 1)
}

// truncatingDataSource replays its docs, then reports err on the Advance
// call that would otherwise move past the last one, simulating a backend
// failure partway through a batch.
type truncatingDataSource struct {
	*read.FixedDataSource
	failAfter int
	seen      int
	err       error
}

func (t *truncatingDataSource) Advance(ctx context.Context) error {
	t.seen++
	if t.seen >= t.failAfter {
		return t.err
	}
	return t.FixedDataSource.Advance(ctx)
}
