// Package read implements spec.md §4.5: the ReadEngine, its DataSource
// variants (Null/Fixed/Backend/Merge), the talk hedge routine, the
// establish version handshake, and cursor batching.
package read

import (
	"context"

	"github.com/shardroute/dbproxy/internal/doc"
)

// DataSource is the uniform contract of §4.5/§REDESIGN FLAGS: a tagged
// variant family sharing one interface instead of a class hierarchy.
type DataSource interface {
	// AtEnd reports whether Get/Advance can no longer produce documents.
	AtEnd() bool
	// Get returns the current document without advancing. Only valid when
	// !AtEnd().
	Get() (doc.Doc, error)
	// Advance moves to the next document, fetching more from the backend
	// if the current batch is exhausted.
	Advance(ctx context.Context) error
	// Close releases any backend resources (cursor, connection).
	Close(ctx context.Context)
	// UsedConnections reports the backend addresses this datasource is
	// currently holding a connection open against (spec.md §3's "connections
	// in use" introspection), for monitoring and tests.
	UsedConnections() []string
}

// NullDataSource is immediately at end: used when the router found no
// matching shard.
type NullDataSource struct{}

func (NullDataSource) AtEnd() bool                      { return true }
func (NullDataSource) Get() (doc.Doc, error)            { return doc.Doc{}, ErrExhausted }
func (NullDataSource) Advance(context.Context) error    { return nil }
func (NullDataSource) Close(context.Context)            {}
func (NullDataSource) UsedConnections() []string        { return nil }

// FixedDataSource replays a fixed slice of documents, or — when err is
// non-nil — surfaces a stashed error on the first Get/Advance instead of
// any documents. This second shape is what a mid-stream fetch failure
// installs under the cursor's id (§4.5 "Cursors & batching"), so the next
// GET_MORE observes the failure rather than a silently truncated result.
type FixedDataSource struct {
	docs []doc.Doc
	pos  int
	err  error
}

func NewFixedDataSource(docs []doc.Doc) *FixedDataSource {
	return &FixedDataSource{docs: docs}
}

// NewErrorDataSource builds the stashed-error shape.
func NewErrorDataSource(err error) *FixedDataSource {
	return &FixedDataSource{err: err}
}

func (f *FixedDataSource) AtEnd() bool {
	if f.err != nil {
		return false
	}
	return f.pos >= len(f.docs)
}

func (f *FixedDataSource) Get() (doc.Doc, error) {
	if f.err != nil {
		return doc.Doc{}, f.err
	}
	if f.pos >= len(f.docs) {
		return doc.Doc{}, ErrExhausted
	}
	return f.docs[f.pos], nil
}

func (f *FixedDataSource) Advance(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.pos++
	return nil
}

func (f *FixedDataSource) Close(context.Context) {}

func (f *FixedDataSource) UsedConnections() []string { return nil }
