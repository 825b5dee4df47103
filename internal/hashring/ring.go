// Package hashring implements a consistent hash ring over node addresses,
// adapted from the teacher's server/hash package, used to break ties among
// equally-local backend candidates without favoring any one node under
// repeated lookups.
package hashring

import (
	"sort"
	"strconv"

	"github.com/spaolacci/murmur3"
)

// Hash maps a byte string to a ring position.
type Hash func(data []byte) uint32

// Ring is a consistent-hash ring: nodes are hashed at Replicas positions
// each so lookups spread evenly across a small candidate set.
type Ring struct {
	hash     Hash
	replicas int
	ring     []int
	nodes    map[int]string
}

// New builds an empty ring. fn defaults to murmur3 (this module's own
// hashing dependency, already used for sharding-key digests) when nil.
func New(replicas int, fn Hash) *Ring {
	r := &Ring{replicas: replicas, hash: fn, nodes: make(map[int]string)}
	if r.hash == nil {
		r.hash = func(data []byte) uint32 { return murmur3.Sum32(data) }
	}
	return r
}

// Add inserts nodes into the ring.
func (r *Ring) Add(nodes ...string) {
	for _, node := range nodes {
		for i := 0; i < r.replicas; i++ {
			h := int(r.hash([]byte(strconv.Itoa(i) + node)))
			r.ring = append(r.ring, h)
			r.nodes[h] = node
		}
	}
	sort.Ints(r.ring)
}

// IsEmpty reports whether the ring holds no nodes.
func (r *Ring) IsEmpty() bool {
	return len(r.ring) == 0
}

// Get returns the node owning key's position on the ring, wrapping around
// to the first node past the maximum hash value.
func (r *Ring) Get(key string) string {
	if r.IsEmpty() {
		return ""
	}
	h := int(r.hash([]byte(key)))
	idx := sort.Search(len(r.ring), func(i int) bool { return r.ring[i] >= h })
	if idx == len(r.ring) {
		idx = 0
	}
	return r.nodes[r.ring[idx]]
}
