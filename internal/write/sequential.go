package write

import (
	"context"

	"github.com/shardroute/dbproxy/internal/doc"
)

// SequentialOp visits its children strictly in order, calling Perform then
// Acknowledge (with an internal default write concern, since the client's
// own concern only arrives later via SequentialOp's own Acknowledge) on
// each, stopping as soon as StopWhen reports true for a child's
// acknowledgement. Merge reduces the visited children's acks into the
// final result; it defaults to mergeAcks when nil.
type SequentialOp struct {
	Children []Operation
	StopWhen func(ack doc.Doc) bool
	Merge    func(visited []doc.Doc) (doc.Doc, error)

	defaultWriteConcern doc.Doc
	visited             []doc.Doc
	done                bool
	result              doc.Doc
	err                 error
}

func (s *SequentialOp) Perform(ctx context.Context) error {
	if s.done {
		return s.err
	}
	for _, c := range s.Children {
		if err := c.Perform(ctx); err != nil {
			s.err, s.done = err, true
			return err
		}
		ack, err := c.Acknowledge(ctx, s.defaultWriteConcern)
		if err != nil {
			s.err, s.done = err, true
			return err
		}
		s.visited = append(s.visited, ack)
		if s.StopWhen != nil && s.StopWhen(ack) {
			break
		}
	}

	merge := s.Merge
	if merge == nil {
		merge = func(acks []doc.Doc) (doc.Doc, error) { return mergeAcks(acks), nil }
	}
	s.result, s.err = merge(s.visited)
	s.done = true
	return s.err
}

func (s *SequentialOp) Acknowledge(ctx context.Context, _ doc.Doc) (doc.Doc, error) {
	if !s.done {
		if err := s.Perform(ctx); err != nil {
			return doc.Doc{}, err
		}
	}
	return s.result, s.err
}

func (s *SequentialOp) Finish(ctx context.Context) {
	for _, c := range s.Children {
		c.Finish(ctx)
	}
}
