package commit

import "github.com/coredb/txncore/pkg/txnpb"

// replyAll delivers exactly one Reply per request, translating each
// transaction's final CommitStatus into the corresponding client-facing
// error (spec.md §4.2 phase 5 "Reply", §7 "not_committed" /
// "transaction_too_old").
func (p *Pipeline) replyAll(reqs []*Request, status []txnpb.CommitStatus, conflicting [][]int, commitVersion, metadataVersion txnpb.Version) {
	for i, req := range reqs {
		r := Reply{
			CommitVersion:   commitVersion,
			IndexInBatch:    i,
			MetadataVersion: metadataVersion,
		}
		switch status[i] {
		case txnpb.StatusCommitted:
		case txnpb.StatusTooOld:
			r.Err = txnpb.ErrTransactionTooOld
		default:
			r.Err = txnpb.ErrNotCommitted
			if req.Txn.Flags.ReportConflictingKeys {
				r.ConflictingKeyRanges = conflicting[i]
			}
		}
		send(req, r)
	}
}
