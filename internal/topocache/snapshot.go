package topocache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/internal/wire"
	"github.com/shardroute/dbproxy/pkg/coderr"
)

// snapshotVersion guards the on-disk format the way original_source/cache.cpp
// guards its bson blob with a "version" field: a mismatch means "no usable
// cache", not a hard error.
const snapshotVersion = 1

var ErrSnapshotUnusable = coderr.NewCodeError(coderr.NoShardConfig, "cached topology snapshot is missing or unreadable")

// SnapshotStore persists the last-known-good topology.Map to a file so the
// proxy can start serving reads even when both config servers are down at
// boot (spec.md §4.3 scenario S6), grounded on original_source/cache.cpp's
// write-tmp-then-rename-with-0600 approach.
type SnapshotStore struct {
	path string
}

func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// wireFormat is the JSON-serializable shape of a topology.Map, following the
// teacher's json.Marshal persistence style (server/coordinator/procedure/
// storage_impl.go) for the envelope, with individual Doc values embedded as
// the internal/wire binary codec's bytes (json.Marshal renders a []byte
// field as base64 automatically) since Doc has no JSON mapping of its own.
type wireFormat struct {
	Version     int                      `json:"version"`
	CreatedAt   time.Time                `json:"createdAt"`
	Shards      []topology.ShardIdentity `json:"shards"`
	Databases   []topology.Database      `json:"databases"`
	Collections []wireCollection         `json:"collections"`
}

type wireCollection struct {
	Namespace   topology.Namespace `json:"namespace"`
	ShardingKey []byte             `json:"shardingKey"`
	Dropped     bool               `json:"dropped"`
	Chunks      []wireChunk        `json:"chunks"`
}

type wireChunk struct {
	LowerBound []byte           `json:"lowerBound"`
	UpperBound []byte           `json:"upperBound"`
	ShardID    topology.ShardID `json:"shardId"`
	Epoch      topology.Epoch   `json:"epoch"`
	Timestamp  uint64           `json:"timestamp"`
}

// Save writes m to the store's path if one is configured; a zero-value path
// (no snapshot file configured) is a silent no-op, matching cache.cpp's
// filename_.empty() early return.
func (s *SnapshotStore) Save(m *topology.Map) error {
	if s == nil || s.path == "" {
		return nil
	}

	wf := wireFormat{
		Version:   snapshotVersion,
		CreatedAt: m.CreatedAt,
	}
	for _, sh := range m.Shards {
		wf.Shards = append(wf.Shards, sh)
	}
	for _, d := range m.Databases {
		wf.Databases = append(wf.Databases, d)
	}
	for _, c := range m.Collections {
		wc := wireCollection{
			Namespace:   c.Namespace,
			ShardingKey: wire.EncodeDoc(nil, c.ShardingKey),
			Dropped:     c.Dropped,
		}
		for _, ch := range c.Chunks {
			wc.Chunks = append(wc.Chunks, wireChunk{
				LowerBound: wire.EncodeDoc(nil, ch.LowerBound),
				UpperBound: wire.EncodeDoc(nil, ch.UpperBound),
				ShardID:    ch.ShardID,
				Epoch:      ch.Version.Epoch,
				Timestamp:  ch.Version.Timestamp,
			})
		}
		wf.Collections = append(wf.Collections, wc)
	}

	data, err := json.Marshal(wf)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads and validates the cached snapshot, returning ok=false for any
// missing file, unreadable content, or version mismatch — all silent
// fallbacks to "no cache", exactly as cache.cpp's constructor does.
func (s *SnapshotStore) Load() (*topology.Map, bool) {
	if s == nil || s.path == "" {
		return nil, false
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false
	}

	var wf wireFormat
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, false
	}
	if wf.Version != snapshotVersion {
		return nil, false
	}

	var (
		shards []topology.ShardIdentity
		dbs    []topology.Database
		cols   []topology.Collection
		chunks []topology.Chunk
	)
	shards = append(shards, wf.Shards...)
	dbs = append(dbs, wf.Databases...)

	for _, wc := range wf.Collections {
		shardingKey, _, err := wire.DecodeDoc(wc.ShardingKey)
		if err != nil {
			return nil, false
		}
		cols = append(cols, topology.Collection{
			Namespace:   wc.Namespace,
			ShardingKey: shardingKey,
			Dropped:     wc.Dropped,
		})
		for _, wch := range wc.Chunks {
			lb, _, err := wire.DecodeDoc(wch.LowerBound)
			if err != nil {
				return nil, false
			}
			ub, _, err := wire.DecodeDoc(wch.UpperBound)
			if err != nil {
				return nil, false
			}
			chunks = append(chunks, topology.Chunk{
				Namespace:  wc.Namespace,
				LowerBound: lb,
				UpperBound: ub,
				ShardID:    wch.ShardID,
				Version:    topology.ChunkVersion{Epoch: wch.Epoch, Timestamp: wch.Timestamp},
			})
		}
	}

	m, err := topology.Build(shards, dbs, cols, chunks, wf.CreatedAt)
	if err != nil {
		return nil, false
	}
	return m, true
}

// Dir reports the directory the snapshot file lives in, used at startup to
// verify it is writable before committing to a refresh loop that will try
// to persist into it.
func (s *SnapshotStore) Dir() string {
	if s == nil || s.path == "" {
		return ""
	}
	return filepath.Dir(s.path)
}
