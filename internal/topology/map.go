package topology

import (
	"sort"
	"time"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/pkg/coderr"
)

var (
	// ErrGap is raised when a namespace's chunks do not cover the whole key
	// space without gaps.
	ErrGap = coderr.NewCodeError(coderr.ShardConfigBroken, "gap between adjacent chunks")
	// ErrOverlap is raised when two chunks of the same namespace overlap.
	ErrOverlap = coderr.NewCodeError(coderr.ShardConfigBroken, "overlapping chunks")
	// ErrMixedEpoch is raised when a shard holds chunks of the same
	// namespace tagged with more than one version epoch.
	ErrMixedEpoch = coderr.NewCodeError(coderr.ShardConfigBroken, "mixed chunk version epochs on one shard")
	// ErrUnknownShard is raised when a chunk or database references a shard
	// id absent from the shard list.
	ErrUnknownShard = coderr.NewCodeError(coderr.ShardConfigBroken, "reference to unknown shard")
)

// Map is the immutable snapshot of the whole cluster map: shards,
// databases, collections (each holding its own sorted chunks), plus the
// time it was assembled. TopologyCache replaces it atomically on refresh.
type Map struct {
	CreatedAt   time.Time
	Shards      map[ShardID]ShardIdentity
	Databases   map[string]Database
	Collections map[Namespace]Collection
}

// Shard looks up a shard identity by id.
func (m *Map) Shard(id ShardID) (ShardIdentity, bool) {
	s, ok := m.Shards[id]
	return s, ok
}

// Database looks up a database by name.
func (m *Map) Database(name string) (Database, bool) {
	d, ok := m.Databases[name]
	return d, ok
}

// Collection looks up a collection by namespace.
func (m *Map) Collection(ns Namespace) (Collection, bool) {
	c, ok := m.Collections[ns]
	return c, ok
}

// Build assembles a Map from flat rows fetched from the config shard
// (spec §4.3): it sorts each collection's chunks, links chunk/database
// shard references, and validates every structural invariant in §3.
// Chunk grouping within a (namespace, shard) pair adopts the max timestamp
// found for the whole group, so every chunk of that group presents the
// same version outward — this must run before validation, which then only
// has to check that no two chunks of the same group disagree.
func Build(shards []ShardIdentity, databases []Database, collections []Collection, chunks []Chunk, now time.Time) (*Map, error) {
	m := &Map{
		CreatedAt:   now,
		Shards:      make(map[ShardID]ShardIdentity, len(shards)),
		Databases:   make(map[string]Database, len(databases)),
		Collections: make(map[Namespace]Collection, len(collections)),
	}
	for _, s := range shards {
		m.Shards[s.ID] = s
	}
	for _, d := range databases {
		if _, ok := m.Shards[d.PrimaryShard]; d.PrimaryShard != "" && !ok {
			return nil, ErrUnknownShard.WithCausef("database %s primary shard %s", d.Name, d.PrimaryShard)
		}
		m.Databases[d.Name] = d
	}

	byNS := make(map[Namespace][]Chunk, len(collections))
	for _, ch := range chunks {
		if _, ok := m.Shards[ch.ShardID]; !ok {
			return nil, ErrUnknownShard.WithCausef("chunk of %s references shard %s", ch.Namespace, ch.ShardID)
		}
		byNS[ch.Namespace] = append(byNS[ch.Namespace], ch)
	}

	for _, col := range collections {
		list := byNS[col.Namespace]
		sort.Slice(list, func(i, j int) bool {
			return doc.Compare(list[i].LowerBound, list[j].LowerBound) < 0
		})
		list = adoptGroupVersions(list)
		if err := validateChunks(col.Namespace, list); err != nil {
			return nil, err
		}
		col.Chunks = list
		m.Collections[col.Namespace] = col
	}

	return m, nil
}

// adoptGroupVersions implements "on higher timestamp within the same
// epoch, adopt it for the whole group": for each (namespace already fixed,
// shard) group sharing an epoch, every chunk's version is raised to the
// group's max timestamp.
func adoptGroupVersions(chunks []Chunk) []Chunk {
	type key struct {
		shard ShardID
		epoch Epoch
	}
	maxTS := make(map[key]uint64, len(chunks))
	for _, ch := range chunks {
		k := key{ch.ShardID, ch.Version.Epoch}
		if ts, ok := maxTS[k]; !ok || ch.Version.Timestamp > ts {
			maxTS[k] = ch.Version.Timestamp
		}
	}
	out := make([]Chunk, len(chunks))
	for i, ch := range chunks {
		k := key{ch.ShardID, ch.Version.Epoch}
		ch.Version.Timestamp = maxTS[k]
		out[i] = ch
	}
	return out
}

// validateChunks checks the §3 invariants for one namespace's sorted chunk
// list: full coverage with no gaps or overlaps, and a single version epoch
// per shard.
func validateChunks(ns Namespace, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if !IsMinBound(chunks[0].LowerBound) {
		return ErrGap.WithCausef("%s: first chunk does not start at -infinity", ns)
	}
	if !IsMaxBound(chunks[len(chunks)-1].UpperBound) {
		return ErrGap.WithCausef("%s: last chunk does not end at +infinity", ns)
	}
	for i := 0; i+1 < len(chunks); i++ {
		cmp := doc.Compare(chunks[i].UpperBound, chunks[i+1].LowerBound)
		switch {
		case cmp < 0:
			return ErrGap.WithCausef("%s: gap between chunk %d and %d", ns, i, i+1)
		case cmp > 0:
			return ErrOverlap.WithCausef("%s: overlap between chunk %d and %d", ns, i, i+1)
		}
	}

	epochByShard := make(map[ShardID]Epoch, len(chunks))
	for _, ch := range chunks {
		if e, ok := epochByShard[ch.ShardID]; ok {
			if e != ch.Version.Epoch {
				return ErrMixedEpoch.WithCausef("%s: shard %s", ns, ch.ShardID)
			}
			continue
		}
		epochByShard[ch.ShardID] = ch.Version.Epoch
	}
	return nil
}
