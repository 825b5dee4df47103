package topology

import "github.com/shardroute/dbproxy/internal/doc"

// ShardID identifies a shard within the topology by its connection-string
// derived identity name (see ShardIdentity).
type ShardID string

// Chunk is a contiguous half-open range [LowerBound, UpperBound) of the
// sharding-key space, assigned to one shard. An empty LowerBound/UpperBound
// document denotes negative/positive infinity respectively. Because an
// empty Doc already sorts before every non-empty Doc under doc.Compare, the
// lower-bound comparison needs no special case; only the upper bound
// (which stands for +infinity, the opposite of its natural sort position)
// does.
type Chunk struct {
	Namespace  Namespace
	LowerBound doc.Doc
	UpperBound doc.Doc
	ShardID    ShardID
	Version    ChunkVersion
}

// IsMinBound reports whether b represents negative infinity.
func IsMinBound(b doc.Doc) bool {
	return b.Empty()
}

// IsMaxBound reports whether b represents positive infinity.
func IsMaxBound(b doc.Doc) bool {
	return b.Empty()
}

// ContainsKey reports whether key falls in [c.LowerBound, c.UpperBound).
func (c Chunk) ContainsKey(key doc.Doc) bool {
	if doc.Compare(key, c.LowerBound) < 0 {
		return false
	}
	if !IsMaxBound(c.UpperBound) && doc.Compare(key, c.UpperBound) >= 0 {
		return false
	}
	return true
}

// AdjacentTo reports whether c's upper bound equals o's lower bound, i.e.
// the two chunks share a boundary with no gap between them. It is only
// meaningful for consecutive interior chunks — the first chunk's lower
// bound and the last chunk's upper bound are validated separately as the
// two infinities they represent (see Build in map.go).
func (c Chunk) AdjacentTo(o Chunk) bool {
	return doc.Equal(c.UpperBound, o.LowerBound)
}
