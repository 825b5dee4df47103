package endpoint

import (
	"sort"
	"strings"
	"sync"

	"github.com/shardroute/dbproxy/internal/doc"
	"github.com/shardroute/dbproxy/internal/runtime"
)

// Backend composes a logical backend server's endpoints (spec.md §4.1: "may
// resolve to several Endpoints, e.g. IPv4/IPv6"), aggregating status and
// surfacing the nearest live one. latestStatus holds the last successful
// ping's status document (software version, replica-set status, tags).
type Backend struct {
	Address string

	mu        sync.RWMutex
	endpoints []*Endpoint
	status    doc.Doc
	hasStatus bool

	nearest runtime.Lazy[*Endpoint]

	permanentFailure bool
	lastPID          int64
}

// NewBackend creates an empty Backend for address; endpoints are attached
// with AddEndpoint once dialed.
func NewBackend(address string) *Backend {
	return &Backend{Address: address}
}

// AddEndpoint attaches an endpoint to this backend.
func (b *Backend) AddEndpoint(e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints = append(b.endpoints, e)
	b.nearest.Invalidate()
}

// Endpoints returns the backend's endpoints.
func (b *Backend) Endpoints() []*Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Endpoint, len(b.endpoints))
	copy(out, b.endpoints)
	return out
}

// Close closes every endpoint, matching the "destroyed with backend"
// lifecycle of spec.md §4.1.
func (b *Backend) Close() {
	for _, e := range b.Endpoints() {
		e.Close()
	}
}

// invalidate clears the nearest-endpoint cache; called by an endpoint's
// ping loop on any state change.
func (b *Backend) invalidate() {
	b.nearest.Invalidate()
}

// Nearest returns the endpoint with the minimum roundtrip among this
// backend's alive endpoints, recomputing lazily.
func (b *Backend) Nearest() *Endpoint {
	return b.nearest.Get(func() *Endpoint {
		eps := b.Endpoints()
		var best *Endpoint
		for _, e := range eps {
			if !e.Alive() {
				continue
			}
			if best == nil || e.Roundtrip() < best.Roundtrip() {
				best = e
			}
		}
		return best
	})
}

// Alive reports spec.md's "alive ⇔ status non-empty and nearest endpoint is
// alive".
func (b *Backend) Alive() bool {
	b.mu.RLock()
	hasStatus := b.hasStatus
	b.mu.RUnlock()
	if !hasStatus {
		return false
	}
	n := b.Nearest()
	return n != nil && n.Alive()
}

// SetStatus records the latest status document from a successful ping and
// checks for a process-id change, which clears any permanent-failure flag
// (spec.md §4.1).
func (b *Backend) SetStatus(status doc.Doc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.hasStatus = true

	if pid, ok := status.Get("pid"); ok {
		if pidInt, ok := pid.(int64); ok && pidInt != b.lastPID {
			b.lastPID = pidInt
			b.permanentFailure = false
			for _, e := range b.endpoints {
				e.liveness.resetOnProcessRestart()
			}
		}
	}
}

// Status returns the last recorded status document.
func (b *Backend) Status() (doc.Doc, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status, b.hasStatus
}

// MarkPermanentFailure flags the backend half-dead: still probed by its
// ping loops, but reported in monitoring until a process-id change clears
// it (spec.md §4.1).
func (b *Backend) MarkPermanentFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.permanentFailure = true
}

func (b *Backend) IsPermanentlyFailed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.permanentFailure
}

// SoftwareVersion extracts the "versionArray" field from the last status
// document, e.g. [4, 2, 0].
func (b *Backend) SoftwareVersion() ([]int64, bool) {
	status, ok := b.Status()
	if !ok {
		return nil, false
	}
	v, ok := status.Get("versionArray")
	if !ok {
		return nil, false
	}
	arr, ok := v.(doc.Array)
	if !ok {
		return nil, false
	}
	out := make([]int64, 0, len(arr))
	for _, e := range arr {
		n, ok := e.(int64)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// CompareSoftwareVersion compares two version arrays lexicographically,
// shorter-prefix-first as with strings.Compare.
func CompareSoftwareVersion(a, b []int64) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// SupportsCommandForm reports whether this backend's software version is
// new enough to accept the command write form (write engine's per-shard
// wire-form choice, spec.md §4.6): version >= 2.6.0 by convention.
func (b *Backend) SupportsCommandForm() bool {
	v, ok := b.SoftwareVersion()
	if !ok {
		return false
	}
	return CompareSoftwareVersion(v, []int64{2, 6, 0}) >= 0
}

// tagsMatch reports whether backend's tag document is a superset of every
// field in want (spec.md §4.2: "all fields of some preference tag document
// equal the backend's tags").
func tagsMatch(backendTags, want doc.Doc) bool {
	for _, f := range want.Fields() {
		v, ok := backendTags.Get(f.Name)
		if !ok || !doc.Equal(v, f.Value) {
			return false
		}
	}
	return true
}

// TagsMatchAny reports whether backendTags satisfies any tag document in
// the disjunction prefs.
func TagsMatchAny(backendTags doc.Doc, prefs doc.Array) bool {
	if len(prefs) == 0 {
		return true
	}
	for _, p := range prefs {
		pd, ok := p.(doc.Doc)
		if !ok {
			continue
		}
		if tagsMatch(backendTags, pd) {
			return true
		}
	}
	return false
}

// sortByRoundtrip sorts endpoints ascending by roundtrip, used by Shard's
// localThreshold selection.
func sortByRoundtrip(eps []*Endpoint) {
	sort.Slice(eps, func(i, j int) bool {
		return eps[i].Roundtrip() < eps[j].Roundtrip()
	})
}

func addrList(eps []*Endpoint) string {
	names := make([]string, len(eps))
	for i, e := range eps {
		names[i] = e.Addr
	}
	return strings.Join(names, ",")
}
