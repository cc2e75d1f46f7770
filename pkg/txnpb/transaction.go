package txnpb

import "github.com/coredb/txncore/pkg/util/uuid"

// Transaction bundles everything a client submits at commit time
// (spec.md §3).
type Transaction struct {
	Mutations          []Mutation
	ReadConflictRanges []ReadConflictRange
	WriteConflictRanges []KeyRange
	Priority           Priority
	Tags               []Tag
	DebugID            uuid.UUID
	Flags              Flags

	// ReadVersion is the snapshot the client read at; used by the
	// too-old check in commit phase 3.
	ReadVersion Version
}

// TotalMutationBytes sums the approximate wire size of every mutation,
// used to size commit intake batches against the bytes cap.
func (t *Transaction) TotalMutationBytes() int64 {
	var n int64
	for i := range t.Mutations {
		m := &t.Mutations[i]
		n += int64(len(m.Key)) + int64(len(m.End)) + int64(len(m.Value)) + 16
	}
	return n
}

// HasTag reports whether the transaction was submitted with tag.
func (t *Transaction) HasTag(tag Tag) bool {
	for _, tg := range t.Tags {
		if tg == tag {
			return true
		}
	}
	return false
}

// CommitStatus is the outcome of resolving a single transaction
// against every resolver it was sent to (spec.md §4.2 phase 3).
type CommitStatus int8

const (
	// StatusUnprocessed means resolution hasn't completed yet.
	StatusUnprocessed CommitStatus = iota
	StatusCommitted
	StatusConflict
	StatusTooOld
)

// Combine returns the more restrictive (lower) of two verdicts,
// implementing the "commit-status is the minimum of its resolvers'
// verdicts" rule (spec.md §4.2 phase 3, and the resolver-unanimity
// testable property in §8). Callers fold a transaction's per-resolver
// verdicts starting from StatusCommitted, the identity element: a
// transaction sent to zero resolvers, or unanimously approved by all
// of them, ends up committed; any single conflict or too-old verdict
// drags the whole fold down and stays down.
func (s CommitStatus) Combine(other CommitStatus) CommitStatus {
	rank := func(s CommitStatus) int {
		switch s {
		case StatusCommitted:
			return 2
		case StatusTooOld:
			return 1
		default:
			return 0
		}
	}
	if rank(other) < rank(s) {
		return other
	}
	return s
}
