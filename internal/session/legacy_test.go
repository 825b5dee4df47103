package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/internal/write"
)

var ns = topology.Namespace{Database: "app", Collection: "widgets"}

func TestDecodeLegacyInsertOrdering(t *testing.T) {
	re := require.New(t)
	wm := wire.WriteMessage{
		OpCode: wire.OpInsert,
		Docs:   []doc.Doc{doc.New(doc.F("a", int64(1))), doc.New(doc.F("a", int64(2)))},
	}
	batch, err := decodeLegacyBatch(wm, ns)
	re.NoError(err)
	re.True(batch.Ordered)
	re.Len(batch.Ops, 2)
	re.Equal(write.KindInsert, batch.Ops[0].Kind)
}

func TestDecodeLegacyInsertContinueOnErrorUnordered(t *testing.T) {
	re := require.New(t)
	wm := wire.WriteMessage{
		OpCode: wire.OpInsert,
		Flags:  legacyContinueOnError,
		Docs:   []doc.Doc{doc.New(doc.F("a", int64(1))), doc.New(doc.F("a", int64(2)))},
	}
	batch, err := decodeLegacyBatch(wm, ns)
	re.NoError(err)
	re.False(batch.Ordered)
}

func TestDecodeLegacyInsertRejectsEmpty(t *testing.T) {
	re := require.New(t)
	_, err := decodeLegacyBatch(wire.WriteMessage{OpCode: wire.OpInsert}, ns)
	re.Error(err)
}

func TestDecodeLegacyUpdateFlags(t *testing.T) {
	re := require.New(t)
	wm := wire.WriteMessage{
		OpCode: wire.OpUpdate,
		Flags:  legacyUpsert | legacyMultiUpdate,
		Docs:   []doc.Doc{doc.New(doc.F("q", int64(1))), doc.New(doc.F("$set", doc.New()))},
	}
	batch, err := decodeLegacyBatch(wm, ns)
	re.NoError(err)
	re.Len(batch.Ops, 1)
	re.True(batch.Ops[0].Upsert)
	re.True(batch.Ops[0].Multi)
}

func TestDecodeLegacyUpdateRequiresTwoDocs(t *testing.T) {
	re := require.New(t)
	_, err := decodeLegacyBatch(wire.WriteMessage{OpCode: wire.OpUpdate, Docs: []doc.Doc{doc.New()}}, ns)
	re.Error(err)
}

func TestDecodeLegacyDeleteSingleRemove(t *testing.T) {
	re := require.New(t)
	wm := wire.WriteMessage{
		OpCode: wire.OpDelete,
		Flags:  legacySingleRemove,
		Docs:   []doc.Doc{doc.New(doc.F("q", int64(1)))},
	}
	batch, err := decodeLegacyBatch(wm, ns)
	re.NoError(err)
	re.Equal(int32(1), batch.Ops[0].Limit)
}

func TestDecodeLegacyDeleteMultiByDefault(t *testing.T) {
	re := require.New(t)
	wm := wire.WriteMessage{
		OpCode: wire.OpDelete,
		Docs:   []doc.Doc{doc.New(doc.F("q", int64(1)))},
	}
	batch, err := decodeLegacyBatch(wm, ns)
	re.NoError(err)
	re.Zero(batch.Ops[0].Limit)
}
