package hashring

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyRingReturnsEmptyString(t *testing.T) {
	re := require.New(t)
	r := New(3, nil)
	re.True(r.IsEmpty())
	re.Equal("", r.Get("anything"))
}

func TestGetIsStableForSameKey(t *testing.T) {
	re := require.New(t)
	r := New(10, nil)
	r.Add("host1:27017", "host2:27017", "host3:27017")
	re.False(r.IsEmpty())

	first := r.Get("session-42")
	for i := 0; i < 5; i++ {
		re.Equal(first, r.Get("session-42"))
	}
}

func TestGetDistributesAcrossNodes(t *testing.T) {
	re := require.New(t)
	r := New(50, nil)
	r.Add("host1:27017", "host2:27017", "host3:27017")

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		seen[r.Get(strconv.Itoa(i))] = true
	}
	re.True(len(seen) > 1, "expected lookups to spread across more than one node")
}
