package topology

// Epoch is a 12-byte identifier that changes on any chunk-migration event
// that renders previously-issued versions incomparable.
type Epoch [12]byte

// ChunkVersion is (epoch, timestamp). Versions from different epochs are
// never ordered against each other; within the same epoch, timestamps are
// totally ordered.
type ChunkVersion struct {
	Epoch     Epoch
	Timestamp uint64
}

// Zero is the version assigned to unsharded collections routed wholesale to
// their primary shard.
var Zero = ChunkVersion{}

// Equal is exact component-wise equality.
func (v ChunkVersion) Equal(o ChunkVersion) bool {
	return v.Epoch == o.Epoch && v.Timestamp == o.Timestamp
}

// SameEpoch reports whether v and o share an epoch, the precondition for
// their timestamps to be comparable at all.
func (v ChunkVersion) SameEpoch(o ChunkVersion) bool {
	return v.Epoch == o.Epoch
}

// LessTimestamp compares timestamps assuming SameEpoch(v, o) already holds;
// callers must check the epoch first — comparing across epochs is a bug.
func (v ChunkVersion) LessTimestamp(o ChunkVersion) bool {
	return v.Timestamp < o.Timestamp
}

// Max returns the version with the higher timestamp between v and o,
// assuming they share an epoch.
func (v ChunkVersion) Max(o ChunkVersion) ChunkVersion {
	if v.LessTimestamp(o) {
		return o
	}
	return v
}
