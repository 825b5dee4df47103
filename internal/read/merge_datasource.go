package read

import (
	"container/heap"
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/shard"
)

// MergeBranch pairs a shard with the request to run against it; MergeDataSource
// builds one BackendDataSource per branch in parallel and interleaves them.
type MergeBranch struct {
	Shard shard.Shard
	Req   Request
}

// MergeDataSource is a k-way merge over one BackendDataSource per target
// shard, ordered by the request's $orderby document (spec.md §4.5 "Merge
// datasource"). Branches that fail to construct or fail mid-stream are
// dropped silently when partial is set; otherwise the first failure wins.
type MergeDataSource struct {
	partial bool
	err     error
	items   sourceHeap
}

// NewMergeDataSource spawns one BackendDataSource per branch concurrently
// and seeds the merge heap with the survivors, in ascending $orderby order.
func NewMergeDataSource(ctx context.Context, branches []MergeBranch, orderBy doc.Doc, clock runtime.Clock, partial bool) (*MergeDataSource, error) {
	results := make([]*BackendDataSource, len(branches))

	g, gctx := errgroup.WithContext(ctx)
	for i, br := range branches {
		i, br := i, br
		g.Go(func() error {
			ds, err := NewBackendDataSource(gctx, br.Shard, br.Req, clock)
			if err != nil {
				if !partial {
					return err
				}
				return nil
			}
			results[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, ds := range results {
			if ds != nil {
				ds.Close(ctx)
			}
		}
		return nil, err
	}

	m := &MergeDataSource{partial: partial, items: sourceHeap{orderBy: orderBy}}
	for _, ds := range results {
		if ds == nil {
			continue
		}
		if ds.AtEnd() {
			ds.Close(ctx)
			continue
		}
		m.items.branches = append(m.items.branches, ds)
	}
	heap.Init(&m.items)
	return m, nil
}

func (m *MergeDataSource) AtEnd() bool {
	return m.err == nil && len(m.items.branches) == 0
}

func (m *MergeDataSource) Get() (doc.Doc, error) {
	if m.err != nil {
		return doc.Doc{}, m.err
	}
	if len(m.items.branches) == 0 {
		return doc.Doc{}, ErrExhausted
	}
	return m.items.branches[0].Get()
}

// Advance pops the current minimum, advances it, and re-pushes it if it
// still has documents (spec.md §4.5 "Merge datasource"). A mid-stream
// failure on the popped branch is dropped silently under partial, or
// raised as the merge's own terminal error otherwise.
func (m *MergeDataSource) Advance(ctx context.Context) error {
	if m.err != nil {
		return m.err
	}
	if len(m.items.branches) == 0 {
		return nil
	}
	top := m.items.branches[0]
	if err := top.Advance(ctx); err != nil {
		heap.Pop(&m.items)
		top.Close(ctx)
		if !m.partial {
			m.err = err
			return err
		}
		return nil
	}
	if top.AtEnd() {
		heap.Pop(&m.items)
		top.Close(ctx)
		return nil
	}
	heap.Fix(&m.items, 0)
	return nil
}

func (m *MergeDataSource) Close(ctx context.Context) {
	for _, s := range m.items.branches {
		s.Close(ctx)
	}
	m.items.branches = nil
}

// UsedConnections reports the backend addresses currently held open across
// every surviving branch, the introspection spec.md §3 names on DataSource.
func (m *MergeDataSource) UsedConnections() []string {
	var out []string
	for _, s := range m.items.branches {
		out = append(out, s.UsedConnections()...)
	}
	return out
}

// sourceHeap is a container/heap.Interface over branches ordered by the
// request's $orderby document: each field name maps to 1 (ascending) or -1
// (descending), applied in field order until a tie breaks.
type sourceHeap struct {
	branches []*BackendDataSource
	orderBy  doc.Doc
}

func (h sourceHeap) Len() int { return len(h.branches) }

func (h sourceHeap) Less(i, j int) bool {
	di, _ := h.branches[i].Get()
	dj, _ := h.branches[j].Get()
	return lessByOrder(di, dj, h.orderBy)
}

func (h sourceHeap) Swap(i, j int) { h.branches[i], h.branches[j] = h.branches[j], h.branches[i] }

func (h *sourceHeap) Push(x interface{}) {
	h.branches = append(h.branches, x.(*BackendDataSource))
}

func (h *sourceHeap) Pop() interface{} {
	n := len(h.branches)
	item := h.branches[n-1]
	h.branches = h.branches[:n-1]
	return item
}

func lessByOrder(a, b doc.Doc, orderBy doc.Doc) bool {
	for _, f := range orderBy.Fields() {
		av, _ := a.Get(f.Name)
		bv, _ := b.Get(f.Name)
		c := doc.Compare(av, bv)
		if c == 0 {
			continue
		}
		dir := int64(1)
		if n, ok := f.Value.(int64); ok {
			dir = n
		}
		if dir < 0 {
			return c > 0
		}
		return c < 0
	}
	return false
}
