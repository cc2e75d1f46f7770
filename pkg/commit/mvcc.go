package commit

import (
	"context"

	"github.com/coredb/txncore/pkg/txnpb"
)

// awaitMVCCWindow blocks until commitVersion is within window of
// committed's current value, unblocking as soon as committed advances
// far enough (spec.md §4.2 phase 3 "MVCC window guard": "Do not push if
// committedVersion lags by more than max-read-transaction-life-versions.
// Wait on committedVersion, proxy-list change, or a periodic refresh
// from the master" -- the periodic-refresh and proxy-list-change wakeup
// sources are collaborator-driven calls to committed.Advance, not this
// function's concern).
func awaitMVCCWindow(ctx context.Context, committed *Watermark, commitVersion txnpb.Version, window int64) error {
	threshold := int64(commitVersion) - window
	if threshold <= committed.Value() {
		return nil
	}
	return committed.WaitAtLeast(ctx, threshold)
}
