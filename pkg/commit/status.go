package commit

import "github.com/coredb/txncore/pkg/txnpb"

// determineStatus folds resolver verdicts with the two checks phase 3
// applies before resolver-committed becomes final: the read-version
// staleness check (transaction_too_old) and, if configured, the
// must-contain-system-key demotion (spec.md §4.2 phase 3, §8
// "Resolver-unanimity" and the transaction_too_old edge case in §3).
func (p *Pipeline) determineStatus(resolverStatus []txnpb.CommitStatus, txns []*txnpb.Transaction, commitVersion txnpb.Version) []txnpb.CommitStatus {
	out := make([]txnpb.CommitStatus, len(txns))
	copy(out, resolverStatus)
	for i, txn := range txns {
		if out[i] != txnpb.StatusCommitted {
			continue
		}
		if int64(commitVersion)-int64(txn.ReadVersion) > p.cfg.MaxReadTransactionLifeVersions {
			out[i] = txnpb.StatusTooOld
			continue
		}
		if p.cfg.MustContainSystemKey && !touchesSystemKeyspace(txn) {
			out[i] = txnpb.StatusConflict
		}
	}
	return out
}

func touchesSystemKeyspace(txn *txnpb.Transaction) bool {
	for j := range txn.Mutations {
		m := &txn.Mutations[j]
		if m.Kind == txnpb.MutationClearRange {
			if txnpb.SystemKeyRange.Overlaps(txnpb.KeyRange{Begin: m.Key, End: m.End}) {
				return true
			}
			continue
		}
		if txnpb.SystemKeyRange.Contains(m.Key) {
			return true
		}
	}
	return false
}
