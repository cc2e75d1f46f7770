package keyinfo

import (
	"sort"
	"sync"

	"github.com/coredb/txncore/pkg/txnpb"
)

// ResolverID identifies a resolver collaborator.
type ResolverID int32

// HistoryEntry pairs a version with the resolver that owned a range
// from that version onward, until superseded by a later entry
// (spec.md §3 "key-resolver map").
type HistoryEntry struct {
	Version    txnpb.Version
	ResolverID ResolverID
}

// history is stored oldest-first; the last element is the current
// owner.
type history []HistoryEntry

// ResolverMap is the ordered mapping key-range -> resolver ownership
// history (spec.md §3). Like KeyInfoMap, it is mutated only by the
// commit pipeline.
type ResolverMap struct {
	mu sync.Mutex
	t  *tree
}

// NewResolverMap constructs a ResolverMap with a single entry covering
// all keys, owned by initial from version 0. Every real deployment
// starts this way: the whole keyspace belongs to one resolver until
// the first split.
func NewResolverMap(initial ResolverID) *ResolverMap {
	m := &ResolverMap{t: newTree()}
	full := txnpb.KeyRange{Begin: nil, End: nil}
	m.t.bt.ReplaceOrInsert(&entry{rng: full, value: history{{Version: 0, ResolverID: initial}}})
	return m
}

// ApplyChange records that, from version onward, id owns rng. This is
// how phase 1's resolver-range changes (returned by the master
// alongside a commit version) get applied.
func (m *ResolverMap) ApplyChange(rng txnpb.KeyRange, version txnpb.Version, id ResolverID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Every existing entry overlapping rng contributes its overlap with
	// rng, carrying a copy of its history with (version, id) appended,
	// so reads at earlier snapshots still see the earlier owners. The
	// parts of those entries outside rng keep their history unchanged.
	var parts []*entry
	m.t.intersecting(rng, func(e *entry) bool {
		if sub, ok := e.rng.Intersect(rng); ok {
			h := append(append(history{}, e.value.(history)...), HistoryEntry{Version: version, ResolverID: id})
			parts = append(parts, &entry{rng: sub, value: h})
		}
		return true
	})
	m.t.clip(rng)
	for _, e := range parts {
		m.t.bt.ReplaceOrInsert(e)
	}
}

// Selection is the result of resolving read-conflict routing for one
// range at one snapshot: the resolver that owned it at the time of the
// read, plus every resolver that has owned any part of it since, since
// ownership may have moved on and the read still needs checking
// against successor owners (spec.md §4.2 phase 2: "pick the latest
// resolver pre-snapshot plus any later resolvers").
type Selection struct {
	Resolvers []ResolverID
}

// ResolversFor returns the union, over every disjoint sub-range of
// rng, of the resolvers a read at snapshot must be checked against.
func (m *ResolverMap) ResolversFor(rng txnpb.KeyRange, snapshot txnpb.Version) Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[ResolverID]struct{}{}
	var out []ResolverID
	m.t.intersecting(rng, func(e *entry) bool {
		h := e.value.(history)
		// h is sorted oldest-first; find the latest entry whose
		// version is <= snapshot (owner at read time), then include
		// every later entry too.
		idx := sort.Search(len(h), func(i int) bool { return h[i].Version > snapshot }) - 1
		if idx < 0 {
			idx = 0
		}
		for i := idx; i < len(h); i++ {
			id := h[i].ResolverID
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
		return true
	})
	return Selection{Resolvers: out}
}

// OwnerAt returns the resolver owning k as of version.
func (m *ResolverMap) OwnerAt(k txnpb.Key, version txnpb.Version) (ResolverID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found ResolverID
	var ok bool
	m.t.intersecting(txnpb.SingleKey(k), func(e *entry) bool {
		h := e.value.(history)
		idx := sort.Search(len(h), func(i int) bool { return h[i].Version > version }) - 1
		if idx < 0 {
			idx = 0
		}
		if len(h) > 0 {
			found, ok = h[idx].ResolverID, true
		}
		return false
	})
	return found, ok
}

// Coalesce drops history entries older than cutoff (prevVersion -
// max-write-transaction-life-versions per spec.md §4.2 phase 5),
// always keeping at least the most recent entry per sub-range so
// ownership is never lost.
func (m *ResolverMap) Coalesce(cutoff txnpb.Version) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var toUpdate []*entry
	m.t.ascendAll(func(e *entry) bool {
		h := e.value.(history)
		trimmed := trimHistory(h, cutoff)
		if len(trimmed) != len(h) {
			toUpdate = append(toUpdate, &entry{rng: e.rng, value: trimmed})
		}
		return true
	})
	for _, e := range toUpdate {
		m.t.bt.ReplaceOrInsert(e)
	}
	// Adjacent entries whose history became identical after trimming
	// collapse into one, bounding growth from repeated small splits.
	m.coalesceAdjacent()
}

func trimHistory(h history, cutoff txnpb.Version) history {
	cut := sort.Search(len(h), func(i int) bool { return h[i].Version >= cutoff })
	if cut <= 1 {
		return h
	}
	return h[cut-1:]
}

// coalesceAdjacent merges neighboring entries that ended up with
// identical single-owner history, matching spec.md §3's "Coalesced
// periodically".
func (m *ResolverMap) coalesceAdjacent() {
	var all []*entry
	m.t.ascendAll(func(e *entry) bool {
		all = append(all, e)
		return true
	})
	for i := 0; i+1 < len(all); i++ {
		a, b := all[i], all[i+1]
		ah, bh := a.value.(history), b.value.(history)
		if !a.rng.End.Equal(b.rng.Begin) {
			continue
		}
		if len(ah) == 1 && len(bh) == 1 && ah[0].ResolverID == bh[0].ResolverID {
			merged := &entry{rng: txnpb.KeyRange{Begin: a.rng.Begin, End: b.rng.End}, value: ah}
			m.t.bt.Delete(a)
			m.t.bt.Delete(b)
			m.t.bt.ReplaceOrInsert(merged)
			all[i+1] = merged
		}
	}
}

// Len returns the number of disjoint history entries currently
// tracked.
func (m *ResolverMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.len()
}
