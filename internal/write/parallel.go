package write

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/shardroute/dbproxy/internal/doc"
)

// ParallelOp fans a write out to every child concurrently and merges their
// acknowledgements with mergeAcks (spec.md §4.6's ParallelWrite).
type ParallelOp struct {
	Children []Operation
}

func (p *ParallelOp) Perform(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range p.Children {
		c := c
		g.Go(func() error { return c.Perform(gctx) })
	}
	return g.Wait()
}

func (p *ParallelOp) Acknowledge(ctx context.Context, wc doc.Doc) (doc.Doc, error) {
	acks := make([]doc.Doc, len(p.Children))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range p.Children {
		i, c := i, c
		g.Go(func() error {
			a, err := c.Acknowledge(gctx, wc)
			if err != nil {
				return err
			}
			acks[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return doc.Doc{}, err
	}
	return mergeAcks(acks), nil
}

func (p *ParallelOp) Finish(ctx context.Context) {
	for _, c := range p.Children {
		c.Finish(ctx)
	}
}
