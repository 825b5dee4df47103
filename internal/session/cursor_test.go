package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/read"
)

func TestCursorMapInsertNeverReturnsZero(t *testing.T) {
	re := require.New(t)
	m := newCursorMap()
	entry := &cursorEntry{ds: read.NewFixedDataSource(nil)}
	id := m.insert(entry)
	re.NotZero(id)

	got, ok := m.get(id)
	re.True(ok)
	re.Same(entry, got)
}

func TestCursorMapRemove(t *testing.T) {
	re := require.New(t)
	m := newCursorMap()
	id := m.insert(&cursorEntry{ds: read.NewFixedDataSource(nil)})
	m.remove(id)

	_, ok := m.get(id)
	re.False(ok)
}

func TestCursorMapCloseAllClosesEveryEntry(t *testing.T) {
	re := require.New(t)
	m := newCursorMap()
	a := &closeTrackingDataSource{FixedDataSource: read.NewFixedDataSource(nil)}
	b := &closeTrackingDataSource{FixedDataSource: read.NewFixedDataSource(nil)}
	m.insert(&cursorEntry{ds: a})
	m.insert(&cursorEntry{ds: b})

	m.closeAll(context.Background())

	re.True(a.closed)
	re.True(b.closed)
	re.Len(m.cursors, 0)
}

type closeTrackingDataSource struct {
	*read.FixedDataSource
	closed bool
}

func (c *closeTrackingDataSource) Close(ctx context.Context) {
	c.closed = true
	c.FixedDataSource.Close(ctx)
}
