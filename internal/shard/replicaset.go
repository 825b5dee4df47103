package shard

import (
	"context"
	"sync"
	"time"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/monitoring"
	"github.com/shardroute/dbproxy/internal/topology"
)

// memberState is the per-backend replica-set bookkeeping read out of its
// last status document: myState (1=primary, 2=secondary), tags, and optime.
type memberState struct {
	myState int64
	tags    doc.Doc
	optime  int64
}

// ReplicaSet is the main shard variant of spec.md §4.2: derives the
// current primary and per-backend (tags, optime) from each backend's own
// ping-refreshed status document, and implements
// primary/primaryPreferred/secondary*/nearest read-preference resolution
// with the localThreshold tie-break.
//
// primaryBackend is deliberately uncached (unlike Backend.Nearest, which
// is cheap to invalidate from the single endpoint that changed): a replica
// set has no single owner of "the primary changed" to call Invalidate, so
// it is recomputed from current backend status on every call instead.
type ReplicaSet struct {
	id             topology.ShardID
	backends       []*endpoint.Backend
	localThreshold time.Duration
	maxReplLag     time.Duration

	mu            sync.Mutex
	lostPrimaryAt time.Time
	pingInFlight  *pingCoalesce
}

type pingCoalesce struct {
	done chan struct{}
}

func NewReplicaSet(id topology.ShardID, backends []*endpoint.Backend, localThreshold, maxReplLag time.Duration) *ReplicaSet {
	return &ReplicaSet{
		id:             id,
		backends:       backends,
		localThreshold: localThreshold,
		maxReplLag:     maxReplLag,
	}
}

func (r *ReplicaSet) ID() topology.ShardID          { return r.id }
func (r *ReplicaSet) Kind() topology.ShardKind      { return topology.KindReplicaSet }
func (r *ReplicaSet) Backends() []*endpoint.Backend { return r.backends }

// memberOf reads myState/tags/optime out of b's last recorded status
// document (spec.md §4.1: set by the endpoint's ping loop via SetStatus).
func (r *ReplicaSet) memberOf(b *endpoint.Backend) (memberState, bool) {
	status, ok := b.Status()
	if !ok {
		return memberState{}, false
	}
	myState, _ := status.Get("myState")
	ms, _ := myState.(int64)
	tags, _ := status.GetDoc("tags")
	optime, _ := status.Get("optime")
	ot, _ := optime.(int64)
	return memberState{myState: ms, tags: tags, optime: ot}, true
}

// primaryBackend returns the backend currently reporting myState==1 among
// the alive backends, or nil if none does.
func (r *ReplicaSet) primaryBackend() *endpoint.Backend {
	for _, b := range r.backends {
		if !b.Alive() {
			continue
		}
		if m, ok := r.memberOf(b); ok && m.myState == 1 {
			return b
		}
	}
	return nil
}

func (r *ReplicaSet) maxOptime() int64 {
	var max int64
	for _, b := range r.backends {
		if m, ok := r.memberOf(b); ok && m.optime > max {
			max = m.optime
		}
	}
	return max
}

// ReadOp implements spec.md §4.2's mode resolution and localThreshold
// selection.
func (r *ReplicaSet) ReadOp(ctx context.Context, pref ReadPreference, exclude string) (*endpoint.Connection, error) {
	mode := pref.Effective()

	if mode == ModePrimary {
		p := r.primaryBackend()
		if p == nil || !p.Alive() {
			return nil, ErrNoSuitableBackend.WithCausef("shard:%s: no primary", r.id)
		}
		ep := p.Nearest()
		if ep == nil {
			return nil, ErrNoSuitableBackend.WithCausef("shard:%s: primary has no alive endpoint", r.id)
		}
		return ep.GetPrimary(ctx)
	}

	if mode == ModePrimaryPreferred {
		p := r.primaryBackend()
		if p != nil && p.Alive() && !excludeMatches(p, exclude) && r.tagsOK(p, pref.Tags) {
			ep := p.Nearest()
			if ep != nil {
				return ep.GetPrimary(ctx)
			}
		}
	}

	candidates := r.secondaryCandidates(exclude, pref.Tags)
	if len(candidates) == 0 {
		return nil, ErrNoSuitableBackend.WithCausef("shard:%s: no eligible secondary", r.id)
	}
	chosen := localThresholdPick(candidates, r.localThreshold)
	ep := chosen.Nearest()
	if ep == nil {
		return nil, ErrNoSuitableBackend.WithCausef("shard:%s: chosen backend has no alive endpoint", r.id)
	}
	return ep.GetAny(ctx)
}

func (r *ReplicaSet) tagsOK(b *endpoint.Backend, prefTags doc.Array) bool {
	m, ok := r.memberOf(b)
	if !ok {
		return len(prefTags) == 0
	}
	return endpoint.TagsMatchAny(m.tags, prefTags)
}

// secondaryCandidates implements step 1 of the localThreshold algorithm:
// healthy, not excluded, tags match, optime within maxReplLag of the max.
func (r *ReplicaSet) secondaryCandidates(exclude string, prefTags doc.Array) []*endpoint.Backend {
	maxOptime := r.maxOptime()
	var out []*endpoint.Backend
	for _, b := range r.backends {
		if excludeMatches(b, exclude) || !b.Alive() {
			continue
		}
		m, ok := r.memberOf(b)
		if !ok {
			continue
		}
		if !endpoint.TagsMatchAny(m.tags, prefTags) {
			continue
		}
		lag := time.Duration(maxOptime-m.optime) * time.Second
		if lag > r.maxReplLag {
			continue
		}
		out = append(out, b)
	}
	return out
}

func (r *ReplicaSet) WriteOp(ctx context.Context) (*endpoint.Connection, error) {
	p := r.primaryBackend()
	if p == nil || !p.Alive() {
		return nil, ErrNoSuitableBackend.WithCausef("shard:%s: no primary", r.id)
	}
	ep := p.Nearest()
	if ep == nil {
		return nil, ErrNoSuitableBackend.WithCausef("shard:%s: primary has no alive endpoint", r.id)
	}
	return ep.GetPrimary(ctx)
}

// Failed handles an ordinary backend failure (spec.md §4.1): the nearest
// cache is always cleared and the ping loop kicked, via every endpoint of
// addr's backend, regardless of whether addr was the cached primary; if it
// was, LostMaster additionally records the loss time and pings the rest
// of the set.
func (r *ReplicaSet) Failed(addr string) {
	wasPrimary := false
	if p := r.primaryBackend(); p != nil && p.Address == addr {
		wasPrimary = true
	}
	for _, b := range r.backends {
		if b.Address != addr {
			continue
		}
		for _, ep := range b.Endpoints() {
			ep.Failed()
		}
	}
	if wasPrimary {
		r.LostMaster()
	}
}

// LostMaster records the loss time and kicks an immediate ping of all
// backends; concurrent callers share one in-flight ping rather than each
// triggering their own. There is no primary cache to clear, since
// primaryBackend is recomputed on every call.
func (r *ReplicaSet) LostMaster() {
	r.mu.Lock()
	r.lostPrimaryAt = time.Now()
	created := false
	inFlight := r.pingInFlight
	if inFlight == nil {
		inFlight = &pingCoalesce{done: make(chan struct{})}
		r.pingInFlight = inFlight
		created = true
	}
	r.mu.Unlock()

	if created {
		go r.pingAllAndClear(inFlight)
	}
}

// Status implements the replica set's contribution to spec.md §6's
// /monitor endpoint: a dead or excessively lagging member warns, a
// permanently half-alive one is critical outright, and a missing primary
// escalates from warning to critical once it has been missing for
// monitorNoPrimary.
func (r *ReplicaSet) Status(now time.Time, monitorNoPrimary time.Duration) monitoring.Status {
	status := monitoring.OKStatus()
	hasAliveMember := false
	hasPrimary := false

	threshold := r.replicationLagThreshold()
	for _, b := range r.backends {
		m, ok := r.memberOf(b)
		switch {
		case !b.Alive() || !ok:
			status = status.Merge(monitoring.WarningStatus(b.Address + " is dead"))
		case b.IsPermanentlyFailed():
			status = status.Merge(monitoring.CriticalStatus(b.Address + " is permanently half-alive"))
		case m.optime < threshold:
			status = status.Merge(monitoring.WarningStatus(b.Address + "'s replication lag exceeds threshold"))
		default:
			hasAliveMember = true
			if m.myState == 1 {
				hasPrimary = true
			}
		}
	}

	r.mu.Lock()
	if hasPrimary {
		r.lostPrimaryAt = time.Time{}
	} else if r.lostPrimaryAt.IsZero() {
		r.lostPrimaryAt = now
	}
	lostSince := r.lostPrimaryAt
	r.mu.Unlock()

	if !hasPrimary {
		if now.Sub(lostSince) >= monitorNoPrimary {
			status = status.Merge(monitoring.CriticalStatus(
				"replica set " + string(r.id) + " has no primary member for " + now.Sub(lostSince).Round(time.Minute).String()))
		} else {
			status = status.Merge(monitoring.WarningStatus("replica set " + string(r.id) + " has no primary member"))
		}
	}

	if !hasAliveMember {
		status = status.Merge(monitoring.CriticalStatus("replica set " + string(r.id) + " has no alive member"))
	}
	return status
}

// replicationLagThreshold is the minimum optime a member may report before
// its lag is flagged, computed from the set's maxReplLag relative to the
// most advanced member; a zero maxReplLag disables the check entirely.
func (r *ReplicaSet) replicationLagThreshold() int64 {
	if r.maxReplLag == 0 {
		return 0
	}
	return r.maxOptime() - int64(r.maxReplLag/time.Second)
}

func (r *ReplicaSet) pingAllAndClear(c *pingCoalesce) {
	defer close(c.done)
	for _, b := range r.backends {
		for _, ep := range b.Endpoints() {
			ep.Failed() // wakes the ping loop for an immediate probe
		}
	}
	r.mu.Lock()
	if r.pingInFlight == c {
		r.pingInFlight = nil
	}
	r.mu.Unlock()
}
