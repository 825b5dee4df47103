// Package router implements spec.md §4.4: given a namespace and a query
// criteria document, determine which (shard, version) pairs it can route
// to without contacting a backend.
package router

import (
	"github.com/shardroute/dbproxy/internal/canon"
	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/topology"
)

// Target is one routing outcome: a shard and the version the caller should
// present to it (for stale-config detection on the backend side).
type Target struct {
	ShardID topology.ShardID
	Version topology.ChunkVersion
}

// Find returns the shards a query with the given criteria can touch. For
// an unsharded (or dropped, treated the same as unsharded) collection it
// returns the database's primary shard at the zero version. The `config`
// database always routes wholesale to the config shard, represented here
// the same way: callers pass the config collection through with its own
// (degenerate, single-chunk) topology.Collection rather than a special
// case in this package.
func Find(m *topology.Map, ns topology.Namespace, criteria doc.Doc) ([]Target, error) {
	col, sharded := m.Collection(ns)
	if !sharded || col.Dropped {
		db, ok := m.Database(ns.Database)
		if !ok {
			return nil, ErrUnknownNamespace.WithCausef("%s", ns)
		}
		return []Target{{ShardID: db.PrimaryShard, Version: topology.Zero}}, nil
	}

	keys := col.KeyFields()
	head, tail, vector, hasVector, allShards := splitConstraints(criteria, keys)
	if allShards {
		return allShardTargets(m, col), nil
	}

	if !hasVector {
		key := applyHashing(head, col)
		return lookupOne(m, col, key)
	}

	seen := make(map[topology.ShardID]Target)
	var order []topology.ShardID
	for _, v := range vector {
		key := buildKeyWithVector(head, tail, keys, v, col)
		targets, err := lookupOne(m, col, key)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if _, ok := seen[t.ShardID]; !ok {
				order = append(order, t.ShardID)
			}
			seen[t.ShardID] = t
		}
	}
	out := make([]Target, 0, len(order))
	for _, id := range order {
		out = append(out, seen[id])
	}
	return out, nil
}

// splitConstraints implements step 1 of §4.4: walk the sharding key fields
// in order, classifying each criteria value as absent (under-constrained,
// caller falls back to all shards), an $in vector (recorded once), another
// operator document (also falls back to all shards), or an equality value
// placed into head (before the vector field) or tail (after it).
func splitConstraints(criteria doc.Doc, keys []string) (head, tail doc.Doc, vector doc.Array, hasVector bool, allShards bool) {
	for _, k := range keys {
		v, present := criteria.Get(k)
		if !present {
			return doc.Doc{}, doc.Doc{}, nil, false, true
		}
		if arr, ok := doc.AsIn(v); ok {
			if hasVector {
				// A second $in on the same lookup is not resolvable to a
				// single value per key; over-approximate with all shards.
				return doc.Doc{}, doc.Doc{}, nil, false, true
			}
			hasVector = true
			vector = arr
			continue
		}
		if doc.IsOperatorDoc(v) {
			return doc.Doc{}, doc.Doc{}, nil, false, true
		}
		if hasVector {
			tail = tail.With(k, v)
		} else {
			head = head.With(k, v)
		}
	}
	return head, tail, vector, hasVector, false
}

func buildKeyWithVector(head, tail doc.Doc, keys []string, vectorValue doc.Value, col topology.Collection) doc.Doc {
	full := head
	for _, k := range keys {
		if _, ok := full.Get(k); ok {
			continue
		}
		if _, ok := tail.Get(k); ok {
			continue
		}
		full = full.With(k, vectorValue)
		break
	}
	for _, f := range tail.Fields() {
		full = full.With(f.Name, f.Value)
	}
	return applyHashing(full, col)
}

// applyHashing implements step 3: for a hashed single-field key, replace
// the field's value with its canonical digest before the chunk lookup.
func applyHashing(key doc.Doc, col topology.Collection) doc.Doc {
	if !col.IsHashed() {
		return key
	}
	field := col.KeyFields()[0]
	v, ok := key.Get(field)
	if !ok {
		return key
	}
	return doc.New(doc.F(field, canon.HashKey(v)))
}

// lookupOne implements step 4 for a single fully-constructed key: the
// upper_bound-then-step-back chunk search, already provided by
// topology.Collection.FindChunk.
func lookupOne(m *topology.Map, col topology.Collection, key doc.Doc) ([]Target, error) {
	ch, ok := col.FindChunk(key)
	if !ok {
		return nil, ErrNoChunk.WithCausef("%s: no chunk covers key", col.Namespace)
	}
	if _, ok := m.Shard(ch.ShardID); !ok {
		return nil, ErrUnknownNamespace.WithCausef("%s: chunk references unknown shard %s", col.Namespace, ch.ShardID)
	}
	return []Target{{ShardID: ch.ShardID, Version: ch.Version}}, nil
}

func allShardTargets(m *topology.Map, col topology.Collection) []Target {
	ids := col.Shards()
	out := make([]Target, 0, len(ids))
	for _, id := range ids {
		version, _ := col.VersionOnShard(id)
		out = append(out, Target{ShardID: id, Version: version})
	}
	return out
}
