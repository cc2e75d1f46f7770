package commit

import (
	"strings"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/resolve"
	"github.com/coredb/txncore/pkg/txnpb"
)

// applyPriorMetadataEffects applies a state-mutation group only once
// every resolver that reported it also marked it committed (spec.md
// §4.2 phase 3: "Apply metadata effects of prior batches, but only for
// groups every resolver marked committed"). Resolvers identify a group
// by its own local sequencing, which txncore does not see; content
// equality is used here as the identity key instead, which is exact
// for the common case (a resolver reports the same encoded mutation
// group to every commit proxy watching it).
func (p *Pipeline) applyPriorMetadataEffects(outcome resolve.Outcome, numResolvers int) error {
	if numResolvers == 0 || len(outcome.StateMutationGroups) == 0 {
		return nil
	}
	type tally struct {
		group     coordif.StateMutationGroup
		committed int
		total     int
	}
	byKey := map[string]*tally{}
	for _, g := range outcome.StateMutationGroups {
		k := groupKey(g)
		t, ok := byKey[k]
		if !ok {
			t = &tally{group: g}
			byKey[k] = t
		}
		t.total++
		if g.Committed {
			t.committed++
		}
	}
	for _, t := range byKey {
		if t.committed != t.total {
			continue
		}
		if err := p.applyMetadataMutations(t.group.Mutations); err != nil {
			return err
		}
	}
	return nil
}

func groupKey(g coordif.StateMutationGroup) string {
	var b strings.Builder
	for _, m := range g.Mutations {
		b.WriteByte(byte(m.Kind))
		b.Write(m.Key)
		b.WriteByte(0)
		b.Write(m.End)
		b.WriteByte(0)
		b.Write(m.Value)
		b.WriteByte(0)
	}
	return b.String()
}

// applyBatchMetadataMutations applies this batch's own committed
// transactions' metadata mutations directly, without needing resolver
// consensus: the commit server that generated the batch already knows
// they are final (spec.md §4.2 phase 3: "Apply this batch's metadata
// mutations").
func (p *Pipeline) applyBatchMetadataMutations(txns []*txnpb.Transaction, status []txnpb.CommitStatus, commitVersion txnpb.Version) error {
	var muts []txnpb.Mutation
	for i, txn := range txns {
		if status[i] != txnpb.StatusCommitted {
			continue
		}
		for j := range txn.Mutations {
			m := &txn.Mutations[j]
			if txnpb.IsMetadataMutation(m, txnpb.MetadataKeyRange) {
				muts = append(muts, *m)
			}
		}
	}
	if len(muts) == 0 {
		return nil
	}
	if err := p.applyMetadataMutations(muts); err != nil {
		return err
	}
	return p.store.SetMetadataVersion(commitVersion)
}

// applyMetadataMutations routes locked-flag mutations to SetLocked and
// everything else to the raw KV apply path, since the locked key's
// value is a single boolean byte the store exposes through a typed
// accessor rather than a raw Get/Set.
func (p *Pipeline) applyMetadataMutations(muts []txnpb.Mutation) error {
	var rest []txnpb.Mutation
	for _, m := range muts {
		if m.Kind == txnpb.MutationSet && string(m.Key) == string(databaseLockedKey) {
			locked := len(m.Value) > 0 && m.Value[0] != 0
			if err := p.store.SetLocked(locked); err != nil {
				return err
			}
			continue
		}
		rest = append(rest, m)
	}
	if len(rest) == 0 {
		return nil
	}
	return p.store.ApplyBatch(rest)
}
