// Package resolve builds per-resolver requests from a commit batch and
// fans them out, implementing commit phase 2 (spec.md §4.2 "Phase 2 —
// Resolution").
package resolve

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/txnpb"
)

// resolverBuild accumulates one resolver's slice of the batch as
// transactions are routed to it. order[local] is the batch-global
// transaction index that local ordinal refers to; originalRangeIndex
// remembers, for each read-conflict range appended to a transaction's
// entry, its index in that transaction's original ReadConflictRanges
// slice, so a later conflict verdict can be remapped back to the
// client's index (spec.md §4.2 phase 2: "Record the mapping (txn_index,
// resolver_index, range_index_at_resolver -> original_index)").
type resolverBuild struct {
	order              []int
	localIndex         map[int]int
	byTxn              map[int]*coordif.TransactionResolveRequest
	originalRangeIndex map[int][]int
	txnStateLocals     []int
}

func newResolverBuild() *resolverBuild {
	return &resolverBuild{
		localIndex:         map[int]int{},
		byTxn:              map[int]*coordif.TransactionResolveRequest{},
		originalRangeIndex: map[int][]int{},
	}
}

func (b *resolverBuild) entry(txnIndex int) *coordif.TransactionResolveRequest {
	e, ok := b.byTxn[txnIndex]
	if !ok {
		e = &coordif.TransactionResolveRequest{Index: txnIndex}
		b.byTxn[txnIndex] = e
		b.localIndex[txnIndex] = len(b.order)
		b.order = append(b.order, txnIndex)
	}
	return e
}

func (b *resolverBuild) addReadConflictRange(txnIndex int, rcr txnpb.ReadConflictRange, originalIndex int) {
	e := b.entry(txnIndex)
	e.ReadConflictRanges = append(e.ReadConflictRanges, rcr)
	b.originalRangeIndex[txnIndex] = append(b.originalRangeIndex[txnIndex], originalIndex)
}

func (b *resolverBuild) markTxnState(txnIndex int) {
	b.txnStateLocals = append(b.txnStateLocals, b.localIndex[txnIndex])
}

// Plan is the output of Build: one resolverBuild per resolver that has
// anything to check for this batch, plus a stable dispatch order.
type Plan struct {
	byResolver map[keyinfo.ResolverID]*resolverBuild
	order      []keyinfo.ResolverID
}

func (p *Plan) build(id keyinfo.ResolverID) *resolverBuild {
	b, ok := p.byResolver[id]
	if !ok {
		b = newResolverBuild()
		p.byResolver[id] = b
		p.order = append(p.order, id)
	}
	return b
}

// Build fans a batch of transactions out across resolvers using the
// key-resolver map for read-conflict routing (write-conflict ranges go
// to whichever resolver owns their range) and marks txn-state
// transactions so every resolver that sees any part of one also learns
// its index (spec.md §4.2 phase 2).
func Build(txns []*txnpb.Transaction, resolvers *keyinfo.ResolverMap, snapshotFor func(i int) txnpb.Version) *Plan {
	p := &Plan{byResolver: map[keyinfo.ResolverID]*resolverBuild{}}

	for i, txn := range txns {
		isTxnState := false
		for j := range txn.Mutations {
			if txnpb.IsMetadataMutation(&txn.Mutations[j], txnpb.MetadataKeyRange) {
				isTxnState = true
				break
			}
		}

		touched := map[keyinfo.ResolverID]struct{}{}

		for origIdx, rcr := range txn.ReadConflictRanges {
			sel := resolvers.ResolversFor(rcr.Range, rcr.ReadSnapshot)
			for _, id := range sel.Resolvers {
				p.build(id).addReadConflictRange(i, rcr, origIdx)
				touched[id] = struct{}{}
			}
		}

		for _, wcr := range txn.WriteConflictRanges {
			owner, ok := resolvers.OwnerAt(wcr.Begin, snapshotFor(i))
			if !ok {
				continue
			}
			b := p.build(owner)
			e := b.entry(i)
			e.WriteConflictRanges = append(e.WriteConflictRanges, wcr)
			touched[owner] = struct{}{}
		}

		if isTxnState {
			// resolver 0 is the canonical destination for metadata
			// mutations of a txn-state transaction (spec.md §4.2 phase
			// 2: "copy those mutations to resolver-0's out-transaction").
			const resolverZero = keyinfo.ResolverID(0)
			b := p.build(resolverZero)
			e := b.entry(i)
			e.MetadataMutations = append(e.MetadataMutations, txn.Mutations...)
			touched[resolverZero] = struct{}{}

			for id := range touched {
				p.byResolver[id].markTxnState(i)
			}
		}
	}

	return p
}

// Resolvers returns the set of resolver IDs this plan needs a request
// sent to, in dispatch order.
func (p *Plan) Resolvers() []keyinfo.ResolverID { return p.order }

// toBatchRequest compacts resolver id's build into a
// coordif.ResolveBatchRequest, in first-touched order.
func (p *Plan) toBatchRequest(id keyinfo.ResolverID) coordif.ResolveBatchRequest {
	b := p.byResolver[id]
	txns := make([]coordif.TransactionResolveRequest, len(b.order))
	for local, global := range b.order {
		txns[local] = *b.byTxn[global]
	}
	return coordif.ResolveBatchRequest{
		Transactions:         txns,
		TxnStateTransactions: b.txnStateLocals,
	}
}

// globalIndex returns the batch-global transaction index resolver id's
// local ordinal refers to.
func (p *Plan) globalIndex(id keyinfo.ResolverID, local int) (int, bool) {
	b, ok := p.byResolver[id]
	if !ok || local < 0 || local >= len(b.order) {
		return 0, false
	}
	return b.order[local], true
}

// originalRangeIndex returns which index in the client's original
// ReadConflictRanges resolver id's local (txnLocal, rangeLocal) pair
// refers to.
func (p *Plan) originalRangeIndex(id keyinfo.ResolverID, txnLocal, rangeLocal int) (int, bool) {
	b, ok := p.byResolver[id]
	if !ok || txnLocal < 0 || txnLocal >= len(b.order) {
		return 0, false
	}
	global := b.order[txnLocal]
	indices := b.originalRangeIndex[global]
	if rangeLocal < 0 || rangeLocal >= len(indices) {
		return 0, false
	}
	return indices[rangeLocal], true
}

// Outcome is the aggregated result of dispatching a Plan: one
// CommitStatus per transaction (folded from StatusCommitted across
// every resolver it was sent to, per spec.md §8's resolver-unanimity
// property), the applicable metadata-effect groups, and the remapped
// conflicting read-conflict-range indices.
type Outcome struct {
	Status              []txnpb.CommitStatus
	StateMutationGroups []coordif.StateMutationGroup
	// ConflictingRanges[txnIndex] lists the original read-conflict-range
	// indices this transaction's resolvers flagged as conflicting.
	ConflictingRanges [][]int
}

// Dispatch sends every resolver its request in parallel via an
// errgroup (spec.md §4.2 phase 2: "Send all resolver requests in
// parallel"), then folds the replies into an Outcome.
func Dispatch(ctx context.Context, plan *Plan, resolvers []coordif.Resolver, prevVersion, version txnpb.Version, lastReceived int64, numTxns int) (Outcome, error) {
	byID := make(map[keyinfo.ResolverID]coordif.Resolver, len(resolvers))
	for _, r := range resolvers {
		byID[r.ID()] = r
	}

	var mu sync.Mutex
	replies := make(map[keyinfo.ResolverID]coordif.ResolveBatchReply, len(plan.order))
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range plan.order {
		id := id
		r, ok := byID[id]
		if !ok {
			continue
		}
		req := plan.toBatchRequest(id)
		req.PrevVersion = prevVersion
		req.Version = version
		req.LastReceived = lastReceived
		g.Go(func() error {
			reply, err := r.Resolve(gctx, req)
			if err != nil {
				return err
			}
			mu.Lock()
			replies[id] = reply
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		Status:            make([]txnpb.CommitStatus, numTxns),
		ConflictingRanges: make([][]int, numTxns),
	}
	for i := range out.Status {
		out.Status[i] = txnpb.StatusCommitted
	}

	for _, id := range plan.order {
		reply, ok := replies[id]
		if !ok {
			continue
		}
		for local, status := range reply.Committed {
			global, ok := plan.globalIndex(id, local)
			if !ok {
				continue
			}
			out.Status[global] = out.Status[global].Combine(status)
		}
		for _, cr := range reply.ConflictingKeys {
			global, ok := plan.globalIndex(id, cr.TxnIndex)
			if !ok {
				continue
			}
			origIdx, ok := plan.originalRangeIndex(id, cr.TxnIndex, cr.RangeIndexAtResolver)
			if !ok {
				continue
			}
			// A read-conflict range spanning a split point is routed to
			// more than one resolver (the latest owner as of the read
			// snapshot plus any later owners the split introduced), so
			// the same original index can be flagged by more than one
			// reply. Only the first flag counts.
			if slices.Contains(out.ConflictingRanges[global], origIdx) {
				continue
			}
			out.ConflictingRanges[global] = append(out.ConflictingRanges[global], origIdx)
		}
		out.StateMutationGroups = append(out.StateMutationGroups, reply.StateMutationGroups...)
	}

	return out, nil
}
