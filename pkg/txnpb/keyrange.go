package txnpb

import "bytes"

// Key is a raw, comparable byte string. Ranges are half-open [Begin, End).
type Key []byte

// Compare returns -1, 0 or 1 comparing k to other lexicographically,
// matching bytes.Compare's contract.
func (k Key) Compare(other Key) int { return bytes.Compare(k, other) }

// Equal reports byte-for-byte equality.
func (k Key) Equal(other Key) bool { return bytes.Equal(k, other) }

// Clone returns a copy of k so callers can safely retain a Key beyond
// the lifetime of a shared buffer.
func (k Key) Clone() Key {
	out := make(Key, len(k))
	copy(out, k)
	return out
}

// KeyRange is a half-open interval [Begin, End). A nil End means
// "unbounded above" (used for the whole-keyspace entry a fresh
// ResolverMap starts with); a nil Begin means "unbounded below".
type KeyRange struct {
	Begin Key
	End   Key
}

// SingleKey builds the degenerate range covering exactly k, using the
// immediate successor of k as the exclusive end.
func SingleKey(k Key) KeyRange {
	return KeyRange{Begin: k, End: successor(k)}
}

func successor(k Key) Key {
	out := make(Key, len(k)+1)
	copy(out, k)
	return out
}

// EndCompare compares an End bound (nil meaning +infinity) to a plain
// key, returning <0, 0, or >0 as end is less than, equal to, or
// greater than k.
func EndCompare(end Key, k Key) int {
	if end == nil {
		return 1
	}
	return end.Compare(k)
}

// EndLess compares two End bounds (nil meaning +infinity).
func EndLess(a, b Key) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Compare(b) < 0
}

// beginBeforeEnd reports whether begin < end, treating a nil end as
// +infinity.
func beginBeforeEnd(begin, end Key) bool {
	if end == nil {
		return true
	}
	return begin.Compare(end) < 0
}

// Overlaps reports whether r and other share any key.
func (r KeyRange) Overlaps(other KeyRange) bool {
	return beginBeforeEnd(r.Begin, other.End) && beginBeforeEnd(other.Begin, r.End)
}

// Contains reports whether k falls within [Begin, End).
func (r KeyRange) Contains(k Key) bool {
	return r.Begin.Compare(k) <= 0 && EndCompare(r.End, k) > 0
}

// Intersect returns the overlapping sub-range of r and other, and
// whether they overlap at all.
func (r KeyRange) Intersect(other KeyRange) (KeyRange, bool) {
	if !r.Overlaps(other) {
		return KeyRange{}, false
	}
	begin := r.Begin
	if other.Begin.Compare(begin) > 0 {
		begin = other.Begin
	}
	end := r.End
	if EndLess(other.End, end) {
		end = other.End
	}
	return KeyRange{Begin: begin, End: end}, true
}

// ReadConflictRange pairs a range read by a transaction with the
// snapshot version it was read at (spec.md §3).
type ReadConflictRange struct {
	Range        KeyRange
	ReadSnapshot Version
}

// SystemKeyRange is the reserved \xff-prefixed system keyspace.
// MetadataKeyRange is the subrange within it that phase 2 treats as
// metadata: a mutation touching it marks its transaction as a
// txn-state transaction (spec.md §4.2 phase 2).
var (
	SystemKeyRange   = KeyRange{Begin: Key{0xff}, End: Key{0xff, 0xff}}
	MetadataKeyRange = KeyRange{Begin: Key{0xff, '/'}, End: Key{0xff, '0'}}
)
