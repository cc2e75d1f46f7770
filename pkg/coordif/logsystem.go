package coordif

import (
	"context"

	"github.com/coredb/txncore/pkg/txnpb"
)

// LogMessage is one mutation (or metadata effect) addressed to a set
// of storage-server tags, ready to push (spec.md §4.2 phase 3).
type LogMessage struct {
	Tags []txnpb.Tag
	Data []byte
}

// PushRequest is the durability request handed to the log system at
// the end of commit phase 3 (spec.md §6 "Push").
type PushRequest struct {
	PrevVersion             txnpb.Version
	Version                 txnpb.Version
	CommittedVersion        txnpb.Version
	MinKnownCommittedVersion txnpb.Version
	Messages                []LogMessage
}

// LogSystem is the external contract for the replicated log (spec.md
// §6 "ConfirmEpochLive", "Push"). A broken promise from either method
// is translated to txnpb.ErrMasterTLogFailed at the boundary (spec.md
// §7 "Propagation policy").
type LogSystem interface {
	// ConfirmEpochLive is the epoch-live heartbeat (spec.md §4.3).
	ConfirmEpochLive(ctx context.Context) error

	// Push drives req to durability and returns the version at which
	// it became durable.
	Push(ctx context.Context, req PushRequest) (txnpb.Version, error)
}
