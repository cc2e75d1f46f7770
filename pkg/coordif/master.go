// Package coordif defines the external contracts spec.md §6 lists as
// "deliberately out of scope": the master, resolvers, log system, and
// rate-keeper. txncore only depends on the interface each collaborator
// presents; each interface here also ships an in-memory fake used by
// tests, matching spec.md §1's framing that these are "referenced only
// by the contract it presents to the core".
package coordif

import (
	"context"

	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/txnpb"
)

// ResolverRangeChange is one update to the key-resolver map the master
// piggybacks on a GetCommitVersion reply (spec.md §4.2 phase 1).
type ResolverRangeChange struct {
	Range      txnpb.KeyRange
	Version    txnpb.Version
	ResolverID keyinfo.ResolverID
}

// CommitVersionReply is the master's answer to GetCommitVersion.
type CommitVersionReply struct {
	Version         txnpb.Version
	PrevVersion     txnpb.Version
	ResolverChanges []ResolverRangeChange
}

// RawCommittedVersionReply is the master's answer to
// GetRawCommittedVersion.
type RawCommittedVersionReply struct {
	Version               txnpb.Version
	Locked                bool
	MetadataVersion       txnpb.Version
	MinKnownCommittedVersion txnpb.Version
}

// Master is the external contract §6 names as
// GetCommitVersion/GetRawCommittedVersion/ReportRawCommittedVersion.
// A broken promise from any of these methods (returned as an error
// wrapping txnpb.ErrMasterTLogFailed by the implementation) is a
// fatal-local condition per spec.md §7.
type Master interface {
	// GetCommitVersion requests a new commit version. last is the
	// previously-returned version for this proxy, used by the master
	// to detect a lagging or restarted proxy; requestNum monotonically
	// increases per call.
	GetCommitVersion(ctx context.Context, requestNum uint64, last txnpb.Version) (CommitVersionReply, error)

	// GetRawCommittedVersion returns the latest durable snapshot known
	// to the master, used by the GRV pipeline.
	GetRawCommittedVersion(ctx context.Context) (RawCommittedVersionReply, error)

	// ReportRawCommittedVersion must be observed by the master before
	// the caller locally advances its own committedVersion past
	// version (spec.md §8 "Commit-version-before-advance").
	ReportRawCommittedVersion(ctx context.Context, version txnpb.Version, locked bool, metadataVersion, minKCV txnpb.Version) error
}
