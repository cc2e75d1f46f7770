// Package keyinfo implements the ordered range maps spec.md §3 and §9
// call for: the key-info map (key-range -> storage-server routing) and
// the key-resolver map (key-range -> resolver ownership history).
// Both are modeled as a balanced ordered map keyed by range start with
// adjacent-equal coalescing, built on github.com/google/btree the way
// the teacher's pkg/util/interval builds its interval tree on the same
// library (spec.md §9: "Implement as a balanced ordered map keyed by
// range start with adjacent-equal coalescing").
package keyinfo

import (
	"github.com/google/btree"

	"github.com/coredb/txncore/pkg/txnpb"
)

const treeDegree = 32

// entry is the btree.Item stored per disjoint sub-range. The tree
// invariant maintained by every mutation in this package is that
// entries are pairwise disjoint and ordered by Begin, together
// covering exactly the ranges ever inserted.
type entry struct {
	rng   txnpb.KeyRange
	value interface{}
}

func (e *entry) Less(than btree.Item) bool {
	return e.rng.Begin.Compare(than.(*entry).rng.Begin) < 0
}

// tree is the shared ordered-range-map engine used by KeyInfoMap and
// ResolverMap.
type tree struct {
	bt *btree.BTree
}

func newTree() *tree {
	return &tree{bt: btree.New(treeDegree)}
}

// searchKey is a zero-value entry used only for btree comparisons,
// never stored.
func searchKey(k txnpb.Key) *entry {
	return &entry{rng: txnpb.KeyRange{Begin: k}}
}

// intersecting calls fn for every stored entry overlapping rng, in
// ascending Begin order. fn returning false stops iteration early.
func (t *tree) intersecting(rng txnpb.KeyRange, fn func(*entry) bool) {
	// Entries are disjoint and ordered by Begin, so any entry
	// overlapping rng either starts at or after rng.Begin, or starts
	// before it but could still extend into rng: find the immediate
	// predecessor of rng.Begin first.
	var pred *entry
	t.bt.DescendLessOrEqual(searchKey(rng.Begin), func(i btree.Item) bool {
		pred = i.(*entry)
		return false
	})
	if pred != nil && pred.rng.Overlaps(rng) {
		if !fn(pred) {
			return
		}
	}
	visit := func(i btree.Item) bool {
		e := i.(*entry)
		if pred != nil && e.rng.Begin.Equal(pred.rng.Begin) {
			return true
		}
		return fn(e)
	}
	if rng.End == nil {
		t.bt.AscendGreaterOrEqual(searchKey(rng.Begin), visit)
	} else {
		t.bt.AscendRange(searchKey(rng.Begin), searchKey(rng.End), visit)
	}
}

// replace removes rng from every existing entry it intersects (via
// clip, so the head/tail of a partially-overwritten entry that lies
// outside rng survives unchanged) and inserts a single new entry
// covering exactly rng with value.
func (t *tree) replace(rng txnpb.KeyRange, value interface{}) {
	t.clip(rng)
	t.bt.ReplaceOrInsert(&entry{rng: rng, value: value})
}

// clip removes rng from every entry it overlaps, splitting entries
// whose bounds extend beyond rng so the parts outside rng survive
// unchanged.
func (t *tree) clip(rng txnpb.KeyRange) {
	var toRemove []*entry
	var toAdd []*entry
	t.intersecting(rng, func(e *entry) bool {
		toRemove = append(toRemove, e)
		if e.rng.Begin.Compare(rng.Begin) < 0 {
			toAdd = append(toAdd, &entry{rng: txnpb.KeyRange{Begin: e.rng.Begin, End: rng.Begin}, value: e.value})
		}
		if txnpb.EndLess(rng.End, e.rng.End) {
			toAdd = append(toAdd, &entry{rng: txnpb.KeyRange{Begin: rng.End, End: e.rng.End}, value: e.value})
		}
		return true
	})
	for _, e := range toRemove {
		t.bt.Delete(e)
	}
	for _, e := range toAdd {
		t.bt.ReplaceOrInsert(e)
	}
}

// ascendAll calls fn for every entry in ascending Begin order.
func (t *tree) ascendAll(fn func(*entry) bool) {
	t.bt.Ascend(func(i btree.Item) bool {
		return fn(i.(*entry))
	})
}

func (t *tree) len() int { return t.bt.Len() }
