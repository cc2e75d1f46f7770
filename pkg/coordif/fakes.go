package coordif

import (
	"context"
	"sync"
	"time"

	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/txnpb"
)

// FakeMaster is a single-process stand-in for the master, handing out
// strictly increasing versions. Safe for concurrent use.
type FakeMaster struct {
	mu               sync.Mutex
	next             txnpb.Version
	locked           bool
	metadataVersion  txnpb.Version
	minKCV           txnpb.Version
	reportedVersion  txnpb.Version
	Broken           bool
}

// NewFakeMaster starts version issuance at start; start is also the
// initial raw committed version it reports.
func NewFakeMaster(start txnpb.Version) *FakeMaster {
	return &FakeMaster{next: start, minKCV: start, reportedVersion: start}
}

func (m *FakeMaster) GetCommitVersion(ctx context.Context, requestNum uint64, last txnpb.Version) (CommitVersionReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Broken {
		return CommitVersionReply{}, txnpb.ErrMasterTLogFailed
	}
	prev := m.next
	m.next++
	return CommitVersionReply{Version: m.next, PrevVersion: prev}, nil
}

func (m *FakeMaster) GetRawCommittedVersion(ctx context.Context) (RawCommittedVersionReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Broken {
		return RawCommittedVersionReply{}, txnpb.ErrMasterTLogFailed
	}
	return RawCommittedVersionReply{
		Version:                  m.reportedVersion,
		Locked:                   m.locked,
		MetadataVersion:          m.metadataVersion,
		MinKnownCommittedVersion: m.minKCV,
	}, nil
}

func (m *FakeMaster) ReportRawCommittedVersion(ctx context.Context, version txnpb.Version, locked bool, metadataVersion, minKCV txnpb.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Broken {
		return txnpb.ErrMasterTLogFailed
	}
	if version > m.reportedVersion {
		m.reportedVersion = version
	}
	m.locked = locked
	m.metadataVersion = metadataVersion
	m.minKCV = minKCV
	return nil
}

// SetLocked toggles the database-locked flag the master reports.
func (m *FakeMaster) SetLocked(locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = locked
}

// FakeResolver always commits every transaction it's asked to resolve
// unless told to conflict specific indices.
type FakeResolver struct {
	mu        sync.Mutex
	id        keyinfo.ResolverID
	Conflicts map[int]bool
	Broken    bool
}

// NewFakeResolver constructs a resolver that approves everything by
// default.
func NewFakeResolver(id keyinfo.ResolverID) *FakeResolver {
	return &FakeResolver{id: id, Conflicts: map[int]bool{}}
}

func (r *FakeResolver) ID() keyinfo.ResolverID { return r.id }

func (r *FakeResolver) Resolve(ctx context.Context, req ResolveBatchRequest) (ResolveBatchReply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Broken {
		return ResolveBatchReply{}, txnpb.ErrMasterTLogFailed
	}
	reply := ResolveBatchReply{Committed: make([]txnpb.CommitStatus, len(req.Transactions))}
	for i, t := range req.Transactions {
		if r.Conflicts[t.Index] {
			reply.Committed[i] = txnpb.StatusConflict
			for ri := range t.ReadConflictRanges {
				reply.ConflictingKeys = append(reply.ConflictingKeys, ConflictingRange{TxnIndex: t.Index, RangeIndexAtResolver: ri})
			}
		} else {
			reply.Committed[i] = txnpb.StatusCommitted
		}
	}
	return reply, nil
}

// FakeLogSystem records pushes in-memory and always succeeds unless
// Broken is set.
type FakeLogSystem struct {
	mu     sync.Mutex
	Pushes []PushRequest
	Broken bool
}

func NewFakeLogSystem() *FakeLogSystem { return &FakeLogSystem{} }

func (l *FakeLogSystem) ConfirmEpochLive(ctx context.Context) error {
	if l.Broken {
		return txnpb.ErrMasterTLogFailed
	}
	return nil
}

func (l *FakeLogSystem) Push(ctx context.Context, req PushRequest) (txnpb.Version, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Broken {
		return 0, txnpb.ErrMasterTLogFailed
	}
	l.Pushes = append(l.Pushes, req)
	return req.Version, nil
}

// FakeRateKeeper hands out a fixed rate and lease.
type FakeRateKeeper struct {
	mu           sync.Mutex
	TxnRate      float64
	BatchTxnRate float64
	Lease        time.Duration
}

func NewFakeRateKeeper(txnRate, batchTxnRate float64) *FakeRateKeeper {
	return &FakeRateKeeper{TxnRate: txnRate, BatchTxnRate: batchTxnRate, Lease: 2 * time.Second}
}

func (r *FakeRateKeeper) GetRateInfo(ctx context.Context, proxyID string, txnCount, batchTxnCount int64, tagCounts map[txnpb.Tag]int64, detailed bool) (RateInfoReply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RateInfoReply{TxnRate: r.TxnRate, BatchTxnRate: r.BatchTxnRate, LeaseDuration: r.Lease}, nil
}
