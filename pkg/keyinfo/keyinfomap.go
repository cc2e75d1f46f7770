package keyinfo

import (
	"sync"

	"github.com/coredb/txncore/pkg/txnpb"
)

// ServerSet is an unordered set of storage-server tags owning (or, for
// destinations, receiving) a shard.
type ServerSet map[txnpb.Tag]struct{}

// NewServerSet builds a ServerSet from a slice of tags.
func NewServerSet(tags ...txnpb.Tag) ServerSet {
	s := make(ServerSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Union returns the union of a and b as a new set.
func (a ServerSet) Union(b ServerSet) ServerSet {
	out := make(ServerSet, len(a)+len(b))
	for t := range a {
		out[t] = struct{}{}
	}
	for t := range b {
		out[t] = struct{}{}
	}
	return out
}

// Tags returns the set's members as a slice, in no particular order.
func (a ServerSet) Tags() []txnpb.Tag {
	out := make([]txnpb.Tag, 0, len(a))
	for t := range a {
		out = append(out, t)
	}
	return out
}

// ShardInfo is the value stored per key range in the KeyInfoMap
// (spec.md §3): source and destination server sets, present during
// shard movement, and a lazily-recomputed cached tag list.
type ShardInfo struct {
	Source ServerSet
	// Dest is nil outside of shard movement.
	Dest ServerSet
	// Cached indicates the shard is participating in read caching, so
	// mutations to it also need a cache-invalidation tag.
	Cached bool

	cachedTags []txnpb.Tag
}

// Tags returns the effective destination set for routing a mutation:
// Source ∪ Dest when a move is in progress, else Source alone. The
// result is memoized on the ShardInfo until the shard's routing
// changes, per spec.md's "tags are recomputed lazily".
func (s *ShardInfo) Tags() []txnpb.Tag {
	if s.cachedTags != nil {
		return s.cachedTags
	}
	set := s.Source
	if s.Dest != nil {
		set = set.Union(s.Dest)
	}
	s.cachedTags = set.Tags()
	return s.cachedTags
}

// KeyInfoMap is the ordered mapping key-range -> ShardInfo (spec.md
// §3). It is mutated only by the commit pipeline; readers (GRV,
// read-request handlers) only read it after validity is signaled
// (spec.md §5 "Shared resource policy").
type KeyInfoMap struct {
	mu sync.RWMutex
	t  *tree
}

// NewKeyInfoMap constructs an empty KeyInfoMap.
func NewKeyInfoMap() *KeyInfoMap {
	return &KeyInfoMap{t: newTree()}
}

// SetShard installs (or overwrites) routing for rng, splitting any
// existing entries at rng's boundaries so unrelated key space they
// cover keeps its own routing.
func (m *KeyInfoMap) SetShard(rng txnpb.KeyRange, info *ShardInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.replace(rng, info)
}

// Lookup returns the ShardInfo whose range contains k, or nil if k is
// not covered by any known shard.
func (m *KeyInfoMap) Lookup(k txnpb.Key) *ShardInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *ShardInfo
	m.t.intersecting(txnpb.SingleKey(k), func(e *entry) bool {
		found = e.value.(*ShardInfo)
		return false
	})
	return found
}

// Intersecting calls fn for every (range, ShardInfo) pair overlapping
// rng, in ascending key order. fn returning false stops iteration.
func (m *KeyInfoMap) Intersecting(rng txnpb.KeyRange, fn func(txnpb.KeyRange, *ShardInfo) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.t.intersecting(rng, func(e *entry) bool {
		return fn(e.rng, e.value.(*ShardInfo))
	})
}

// Len returns the number of disjoint shard entries currently tracked.
func (m *KeyInfoMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.len()
}
