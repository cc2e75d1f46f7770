package commit

import "github.com/coredb/txncore/pkg/txnpb"

// prepareVersionstamps rewrites every versionstamped mutation in txns
// with the batch's just-minted commit version, tagging each rewritten
// key with an auto-generated write-conflict range so resolution sees it
// even though the client could not have named the key in advance
// (spec.md §4.2 phase 2: "Rewrite versionstamped mutations... Such
// rewrites add an auto-generated write-conflict range covering the
// resulting key").
func prepareVersionstamps(txns []*txnpb.Transaction, commitVersion txnpb.Version) {
	for i, txn := range txns {
		batchIndex := uint16(i)
		for j := range txn.Mutations {
			m := &txn.Mutations[j]
			switch m.Kind {
			case txnpb.MutationSetVersionstampedKey:
				rewritten, err := txnpb.RewriteVersionstamp(m.Key, m.VersionstampOffset, commitVersion, batchIndex)
				if err != nil {
					continue
				}
				m.Key = rewritten
				txn.WriteConflictRanges = append(txn.WriteConflictRanges, txnpb.SingleKey(m.Key))
			case txnpb.MutationSetVersionstampedValue:
				rewritten, err := txnpb.RewriteVersionstamp(m.Value, m.VersionstampOffset, commitVersion, batchIndex)
				if err != nil {
					continue
				}
				m.Value = rewritten
			}
		}
	}
}

// prepareLockAwareness appends the synthetic database-locked
// read-conflict range to every txn-state transaction that did not
// declare itself lock-aware, so resolution and the phase 3 lock check
// see a consistent view (spec.md §4.2 phase 2: "If marked txn-state but
// not lock-aware, synthesize a read-conflict range on the
// database-locked key").
func prepareLockAwareness(txns []*txnpb.Transaction) {
	for _, txn := range txns {
		if txn.Flags.LockAware {
			continue
		}
		isTxnState := false
		for j := range txn.Mutations {
			if txnpb.IsMetadataMutation(&txn.Mutations[j], txnpb.MetadataKeyRange) {
				isTxnState = true
				break
			}
		}
		if !isTxnState {
			continue
		}
		txn.ReadConflictRanges = append(txn.ReadConflictRanges, txnpb.ReadConflictRange{
			Range:        txnpb.SingleKey(databaseLockedKey),
			ReadSnapshot: txn.ReadVersion,
		})
	}
}
