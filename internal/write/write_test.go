package write

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/doc"
)

func TestSubOpParallelizable(t *testing.T) {
	re := require.New(t)

	re.True(SubOp{Kind: KindUpdate, Multi: true}.Parallelizable())
	re.False(SubOp{Kind: KindUpdate, Multi: true, Upsert: true}.Parallelizable())
	re.False(SubOp{Kind: KindUpdate, Multi: false}.Parallelizable())
	re.True(SubOp{Kind: KindDelete, Limit: 0}.Parallelizable())
	re.False(SubOp{Kind: KindDelete, Limit: 1}.Parallelizable())
	re.False(SubOp{Kind: KindInsert}.Parallelizable())
}

func TestSubOpCriteriaDoc(t *testing.T) {
	re := require.New(t)

	ins := SubOp{Kind: KindInsert, InsertDoc: doc.New(doc.F("x", int64(1)))}
	re.Equal(ins.InsertDoc, ins.CriteriaDoc())

	upd := SubOp{Kind: KindUpdate, Selector: doc.New(doc.F("x", int64(2)))}
	re.Equal(upd.Selector, upd.CriteriaDoc())
}

func TestNullOpAcknowledgesAsNoopSuccess(t *testing.T) {
	re := require.New(t)
	var n NullOp
	re.NoError(n.Perform(context.Background()))
	ack, err := n.Acknowledge(context.Background(), doc.Doc{})
	re.NoError(err)
	ok, _ := ack.Get("ok")
	nDocs, _ := ack.Get("n")
	re.Equal(int64(1), ok)
	re.Equal(int64(0), nDocs)
}

func TestFailedOpReturnsErrorFromPerformAndAcknowledge(t *testing.T) {
	re := require.New(t)
	f := NewFailedOp(ErrInsertRequiresKey)
	re.Equal(ErrInsertRequiresKey, f.Perform(context.Background()))

	ack, err := f.Acknowledge(context.Background(), doc.Doc{})
	re.NoError(err)
	ok, _ := ack.Get("ok")
	re.Equal(int64(0), ok)
}

// fakeOp is a stand-in Operation for exercising Parallel/SequentialOp
// composition without touching a shard.
type fakeOp struct {
	ack       doc.Doc
	performed bool
	err       error
}

func (f *fakeOp) Perform(context.Context) error {
	f.performed = true
	return f.err
}

func (f *fakeOp) Acknowledge(context.Context, doc.Doc) (doc.Doc, error) {
	return f.ack, nil
}

func (f *fakeOp) Finish(context.Context) {}

func TestParallelOpMergesChildAcks(t *testing.T) {
	re := require.New(t)
	a := &fakeOp{ack: doc.New(doc.F("ok", int64(1)), doc.F("n", int64(1)))}
	b := &fakeOp{ack: doc.New(doc.F("ok", int64(1)), doc.F("n", int64(4)))}
	p := &ParallelOp{Children: []Operation{a, b}}

	re.NoError(p.Perform(context.Background()))
	re.True(a.performed)
	re.True(b.performed)

	ack, err := p.Acknowledge(context.Background(), doc.Doc{})
	re.NoError(err)
	n, _ := ack.Get("n")
	re.Equal(int64(5), n)
}

func TestSequentialOpStopsAtFirstMatch(t *testing.T) {
	re := require.New(t)
	a := &fakeOp{ack: doc.New(doc.F("ok", int64(1)), doc.F("n", int64(0)))}
	b := &fakeOp{ack: doc.New(doc.F("ok", int64(1)), doc.F("n", int64(1)))}
	c := &fakeOp{ack: doc.New(doc.F("ok", int64(1)), doc.F("n", int64(0)))}
	s := &SequentialOp{Children: []Operation{a, b, c}, StopWhen: stopOnFirstMatch}

	re.NoError(s.Perform(context.Background()))
	re.True(a.performed)
	re.True(b.performed)
	re.False(c.performed)

	ack, err := s.Acknowledge(context.Background(), doc.Doc{})
	re.NoError(err)
	n, _ := ack.Get("n")
	re.Equal(int64(1), n)
}

func TestFindAndModifyMergeReturnsFirstNonNullValue(t *testing.T) {
	re := require.New(t)
	acks := []doc.Doc{
		doc.New(doc.F("value", nil)),
		doc.New(doc.F("value", doc.New(doc.F("x", int64(1))))),
	}
	merged, err := findAndModifyMerge(acks)
	re.NoError(err)
	v, ok := merged.Get("value")
	re.True(ok)
	re.NotNil(v)
}

func TestFindAndModifyMergeNoMatchReturnsLastAck(t *testing.T) {
	re := require.New(t)
	acks := []doc.Doc{
		doc.New(doc.F("value", nil)),
		doc.New(doc.F("value", nil)),
	}
	merged, err := findAndModifyMerge(acks)
	re.NoError(err)
	v, ok := merged.Get("value")
	re.True(ok)
	re.Nil(v)
}
