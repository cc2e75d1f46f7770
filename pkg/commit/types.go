package commit

import (
	"context"

	"github.com/coredb/txncore/pkg/txnpb"
)

// Request is one client Commit call, queued until an intake batch
// picks it up.
type Request struct {
	Txn *txnpb.Transaction

	reply chan Reply
}

// Reply is what a Request eventually receives (spec.md §4.2 phase 5).
type Reply struct {
	CommitVersion   txnpb.Version
	IndexInBatch    int
	MetadataVersion txnpb.Version
	// ConflictingKeyRanges is populated only for a conflict reply when
	// the transaction asked for report-conflicting-keys.
	ConflictingKeyRanges []int
	Err                  error
}

// send delivers r to req's caller exactly once (spec.md §3 "For each
// transaction, at most one reply is sent").
func send(req *Request, r Reply) {
	req.reply <- r
}

// SendCtx submits req to the intake queue and blocks for its reply or
// ctx cancellation.
func SendCtx(ctx context.Context, in *Intake, req *Request) (Reply, error) {
	ch, err := in.Enqueue(req)
	if err != nil {
		return Reply{}, err
	}
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
