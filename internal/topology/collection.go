package topology

import "github.com/shardroute/dbproxy/internal/doc"

// HashedKeyField is the sentinel sharding-key field value that requests
// hashed routing for a single-field key.
const HashedKeyField = "hashed"

// Collection is a sharded collection: its namespace, the ordered sharding
// key fields, whether it has been dropped, and its chunks in sorted order.
type Collection struct {
	Namespace   Namespace
	ShardingKey doc.Doc // field -> 1 (range) or "hashed"
	Dropped     bool

	// Chunks is sorted by (Namespace, LowerBound); Router and TopologyMap
	// construction rely on this order for binary search.
	Chunks []Chunk
}

// KeyFields returns the ordered sharding-key field names.
func (c Collection) KeyFields() []string {
	return c.ShardingKey.Names()
}

// IsHashed reports whether the collection uses hashed routing: a single
// field whose sharding-key value is the literal "hashed".
func (c Collection) IsHashed() bool {
	fields := c.ShardingKey.Fields()
	if len(fields) != 1 {
		return false
	}
	s, ok := fields[0].Value.(string)
	return ok && s == HashedKeyField
}

// VersionOnShard returns the max chunk version among this collection's
// chunks assigned to shard, and whether the shard holds any chunk of it.
func (c Collection) VersionOnShard(shard ShardID) (ChunkVersion, bool) {
	var (
		best  ChunkVersion
		found bool
	)
	for _, ch := range c.Chunks {
		if ch.ShardID != shard {
			continue
		}
		if !found {
			best = ch.Version
			found = true
			continue
		}
		best = best.Max(ch.Version)
	}
	return best, found
}

// Shards returns the distinct set of shards holding at least one chunk of
// this collection.
func (c Collection) Shards() []ShardID {
	seen := make(map[ShardID]struct{})
	var out []ShardID
	for _, ch := range c.Chunks {
		if _, ok := seen[ch.ShardID]; ok {
			continue
		}
		seen[ch.ShardID] = struct{}{}
		out = append(out, ch.ShardID)
	}
	return out
}

// FindChunk performs the router's upper_bound-then-step-back lookup: the
// predecessor of the first chunk whose LowerBound exceeds key is the chunk
// containing key.
func (c Collection) FindChunk(key doc.Doc) (Chunk, bool) {
	lo, hi := 0, len(c.Chunks)
	for lo < hi {
		mid := (lo + hi) / 2
		if doc.Compare(c.Chunks[mid].LowerBound, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	idx := lo - 1
	if idx < 0 || idx >= len(c.Chunks) {
		return Chunk{}, false
	}
	ch := c.Chunks[idx]
	if !ch.ContainsKey(key) {
		return Chunk{}, false
	}
	return ch, true
}

// Database is (name, partitioned, primary shard). Non-partitioned
// databases route all their collections to the primary shard.
type Database struct {
	Name         string
	Partitioned  bool
	PrimaryShard ShardID
}
