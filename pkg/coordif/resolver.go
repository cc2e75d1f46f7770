package coordif

import (
	"context"

	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/txnpb"
)

// TransactionResolveRequest is one transaction's slice of a
// ResolveTransactionBatchRequest: the read- and write-conflict ranges
// routed to a particular resolver, plus (for txn-state transactions)
// the metadata mutations resolver 0 must also see (spec.md §4.2 phase
// 2).
type TransactionResolveRequest struct {
	// Index is this transaction's position in the commit batch, used
	// to align resolver replies back to the batch (spec.md §6
	// "Resolve... verdicts aligned with input order").
	Index int
	ReadConflictRanges []txnpb.ReadConflictRange
	WriteConflictRanges []txnpb.KeyRange
	// MetadataMutations is non-empty only for resolver 0's copy of a
	// txn-state transaction.
	MetadataMutations []txnpb.Mutation
}

// ResolveBatchRequest is sent to one resolver for one commit batch.
type ResolveBatchRequest struct {
	PrevVersion Version
	Version     Version
	// LastReceived is the requestNum of the last batch this resolver
	// successfully processed from this proxy, used for de-duplication
	// across retried requests.
	LastReceived int64
	Transactions []TransactionResolveRequest
	// TxnStateTransactions lists indices of txn-state transactions so
	// every resolver that sees any part of them also sees which
	// indices are special, even if it received none of their ranges
	// directly (spec.md §4.2: "they must see the same metadata
	// effects").
	TxnStateTransactions []int
}

// Version is a local alias avoiding an import cycle concern; equal to
// txnpb.Version.
type Version = txnpb.Version

// StateMutationGroup is one time-ordered group of metadata mutations
// another commit server applied, reported back by every resolver that
// observed it (spec.md §4.2 phase 3).
type StateMutationGroup struct {
	Mutations []txnpb.Mutation
	Committed bool
}

// ConflictingRange names a read-conflict range this resolver flagged
// as the cause of a conflict, addressed by the transaction's index at
// this resolver and the index of the flagged range within that
// transaction's ranges as this resolver received them (spec.md §4.2:
// "Record the mapping (txn_index, resolver_index, range_index...)").
type ConflictingRange struct {
	TxnIndex          int
	RangeIndexAtResolver int
}

// ResolveBatchReply is one resolver's verdicts for a batch, aligned
// with the transactions it received (spec.md §6).
type ResolveBatchReply struct {
	Committed          []txnpb.CommitStatus
	StateMutationGroups []StateMutationGroup
	ConflictingKeys    []ConflictingRange
}

// Resolver is the external contract for a conflict-detection
// collaborator (spec.md §6 "Resolve").
type Resolver interface {
	ID() keyinfo.ResolverID
	Resolve(ctx context.Context, req ResolveBatchRequest) (ResolveBatchReply, error)
}
