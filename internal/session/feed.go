package session

import (
	"context"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/read"
	"github.com/shardroute/dbproxy/internal/wire"
)

// defaultBatchSize bounds a batch when the caller's numberToReturn leaves it
// unconstrained (0) or larger than this, mirroring the client-protocol
// default batch size.
const defaultBatchSize = 100

// cursorEntry pairs an open DataSource with how many documents have already
// been sent for it, so a GET_MORE's reply can report an accurate
// startingFrom.
type cursorEntry struct {
	ds   read.DataSource
	sent uint32
}

// feed implements spec.md §4.7's batching rule: pull documents off ds until
// the batch hits want (capped at defaultBatchSize), the encoded reply would
// exceed the wire size cap, or ds runs out. A fetch error with no documents
// collected yet is returned directly (an immediate query failure); a fetch
// error after at least one document is returned alongside the documents
// already collected, so the caller can preserve it for the next GET_MORE
// instead of losing it.
func feed(ctx context.Context, ds read.DataSource, want int32) ([]doc.Doc, error) {
	limit := want
	if limit < 0 {
		limit = -limit
	}
	batchCap := defaultBatchSize
	if limit != 0 && int(limit) < batchCap {
		batchCap = int(limit)
	}

	var docs []doc.Doc
	size := 0
	for !ds.AtEnd() && len(docs) < batchCap {
		d, err := ds.Get()
		if err != nil {
			if len(docs) == 0 {
				return nil, err
			}
			return docs, err
		}
		encoded := len(wire.EncodeDoc(nil, d))
		if len(docs) > 0 && size+encoded >= wire.MaxMessageSize {
			break
		}
		docs = append(docs, d)
		size += encoded

		if err := ds.Advance(ctx); err != nil {
			return docs, err
		}
	}
	return docs, nil
}

// autoCloses reports whether want forces the cursor closed after this one
// batch regardless of how much data remains: numberToReturn of 1 (a single
// find-one style result) or negative (an explicit "and close" request).
func autoCloses(want int32) bool {
	return want == 1 || want < 0
}

// buildBatchReply runs feed over entry.ds, updates its sent counter, and
// either re-homes it in cursors under id (more data may remain) or closes
// it and returns cursor id 0. A deferred fetch error is preserved by
// swapping the cursor's DataSource for one that reports it on the next
// GET_MORE, exactly where a truncated batch left off.
func buildBatchReply(ctx context.Context, cursors *cursorMap, id uint64, entry *cursorEntry, want int32) wire.ReplyMessage {
	docs, err := feed(ctx, entry.ds, want)
	if err != nil && len(docs) == 0 {
		entry.ds.Close(ctx)
		if id != 0 {
			cursors.remove(id)
		}
		return errorReplyMessage(err)
	}

	startingFrom := entry.sent
	entry.sent += uint32(len(docs))

	atEnd := entry.ds.AtEnd() && err == nil
	if atEnd || autoCloses(want) {
		entry.ds.Close(ctx)
		if id != 0 {
			cursors.remove(id)
		}
		id = 0
	} else if err != nil {
		// Deferred failure: stash it under the same id so the next
		// GET_MORE observes it instead of the truncated batch reappearing
		// to look like the end of the results.
		entry.ds = read.NewErrorDataSource(err)
		if id == 0 {
			id = cursors.insert(entry)
		} else {
			cursors.put(id, entry)
		}
	} else if id == 0 {
		id = cursors.insert(entry)
	}

	return wire.ReplyMessage{
		CursorID:     id,
		StartingFrom: startingFrom,
		Count:        uint32(len(docs)),
		Docs:         docs,
	}
}

func errorReplyMessage(err error) wire.ReplyMessage {
	return wire.ReplyMessage{
		Flags: wire.ReplyQueryFailure,
		Docs:  []doc.Doc{failDoc(err)},
		Count: 1,
	}
}
