package write

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/doc"
)

func TestMergeAcksSingleIsPassthrough(t *testing.T) {
	re := require.New(t)
	a := doc.New(doc.F("ok", int64(1)), doc.F("n", int64(3)))
	re.Equal(a, mergeAcks([]doc.Doc{a}))
}

func TestMergeAcksSumsN(t *testing.T) {
	re := require.New(t)
	acks := []doc.Doc{
		doc.New(doc.F("ok", int64(1)), doc.F("n", int64(2))),
		doc.New(doc.F("ok", int64(1)), doc.F("n", int64(5))),
	}
	merged := mergeAcks(acks)
	ok, _ := merged.Get("ok")
	n, _ := merged.Get("n")
	re.Equal(int64(1), ok)
	re.Equal(int64(7), n)
}

func TestMergeAcksFirstErrorWins(t *testing.T) {
	re := require.New(t)
	acks := []doc.Doc{
		doc.New(doc.F("ok", int64(1)), doc.F("n", int64(1))),
		doc.New(doc.F("ok", int64(0)), doc.F("n", int64(0)), doc.F("err", "duplicate key"), doc.F("code", int64(11000))),
		doc.New(doc.F("ok", int64(0)), doc.F("n", int64(0)), doc.F("err", "something else")),
	}
	merged := mergeAcks(acks)
	ok, _ := merged.Get("ok")
	errv, _ := merged.Get("err")
	code, _ := merged.Get("code")
	re.Equal(int64(0), ok)
	re.Equal("duplicate key", errv)
	re.Equal(int64(11000), code)
}

func TestMergeAcksWaitedTakesMax(t *testing.T) {
	re := require.New(t)
	acks := []doc.Doc{
		doc.New(doc.F("ok", int64(1)), doc.F("n", int64(1)), doc.F("waited", int64(10))),
		doc.New(doc.F("ok", int64(1)), doc.F("n", int64(1)), doc.F("waited", int64(40))),
	}
	merged := mergeAcks(acks)
	waited, _ := merged.Get("waited")
	re.Equal(int64(40), waited)
}

func TestMergeAcksWtimeoutIsAny(t *testing.T) {
	re := require.New(t)
	acks := []doc.Doc{
		doc.New(doc.F("ok", int64(1)), doc.F("n", int64(1))),
		doc.New(doc.F("ok", int64(1)), doc.F("n", int64(1)), doc.F("wtimeout", true)),
	}
	merged := mergeAcks(acks)
	wtimeout, ok := merged.Get("wtimeout")
	re.True(ok)
	re.Equal(true, wtimeout)
}

func TestAckCacheReturnsCachedValueForSameConcern(t *testing.T) {
	re := require.New(t)
	var c ackCache
	calls := 0
	compute := func() (doc.Doc, error) {
		calls++
		return doc.New(doc.F("ok", int64(1)), doc.F("n", int64(calls))), nil
	}

	wc := doc.New(doc.F("w", int64(1)))
	first, err := c.getOrCompute(wc, compute)
	re.NoError(err)
	second, err := c.getOrCompute(wc, compute)
	re.NoError(err)
	re.Equal(first, second)
	re.Equal(1, calls)
}

func TestAckCacheDoesNotCacheWithWtimeout(t *testing.T) {
	re := require.New(t)
	var c ackCache
	calls := 0
	compute := func() (doc.Doc, error) {
		calls++
		return doc.New(doc.F("n", int64(calls))), nil
	}

	wc := doc.New(doc.F("w", int64(2)), doc.F("wtimeout", int64(1000)))
	_, err := c.getOrCompute(wc, compute)
	re.NoError(err)
	_, err = c.getOrCompute(wc, compute)
	re.NoError(err)
	re.Equal(2, calls)
}

func TestAckCacheTreatsMissingWAsW1(t *testing.T) {
	re := require.New(t)
	var c ackCache
	calls := 0
	compute := func() (doc.Doc, error) {
		calls++
		return doc.New(doc.F("n", int64(calls))), nil
	}

	_, err := c.getOrCompute(doc.Doc{}, compute)
	re.NoError(err)
	_, err = c.getOrCompute(doc.New(doc.F("w", int64(1))), compute)
	re.NoError(err)
	re.Equal(1, calls)
}
