package commit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/txnstate"
	"github.com/coredb/txncore/pkg/util/metric"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

func newTestPipeline(t *testing.T) (*Pipeline, *Intake, *coordif.FakeMaster, *coordif.FakeResolver, *coordif.FakeLogSystem, *txnstate.Store) {
	t.Helper()
	cfg := settings.Default().Commit
	cfg.CommitBatchIntervalMin = time.Millisecond
	cfg.CommitBatchIntervalMax = 5 * time.Millisecond
	cfg.IntakeIdleFlush = time.Millisecond
	cfg.MaxReadTransactionLifeVersions = 1000
	cfg.MaxReadTransactionLifeVersionsMVCCWindow = 1000

	clock := timeutil.RealTimeSource
	reg := metric.NewRegistry()
	intake := NewIntake(cfg, clock, reg, 1<<30)

	master := coordif.NewFakeMaster(1)
	resolver := coordif.NewFakeResolver(0)
	logSystem := coordif.NewFakeLogSystem()
	store, err := txnstate.Open()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolverMap := keyinfo.NewResolverMap(0)

	p := NewPipeline(Config{
		Settings:    cfg,
		Clock:       clock,
		Master:      master,
		Resolvers:   []coordif.Resolver{resolver},
		ResolverMap: resolverMap,
		LogSystem:   logSystem,
		Store:       store,
		Intake:      intake,
		Registry:    reg,
		OnFatal:     func(error) {},
	})
	return p, intake, master, resolver, logSystem, store
}

func TestPipelineCommitsSimpleTransaction(t *testing.T) {
	p, intake, _, _, logSystem, _ := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	txn := &txnpb.Transaction{
		Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.Key("a"), Value: []byte("1")}},
	}
	ch, err := intake.Enqueue(&Request{Txn: txn})
	require.NoError(t, err)

	select {
	case r := <-ch:
		require.NoError(t, r.Err)
		require.Greater(t, int64(r.CommitVersion), int64(0))
	case <-time.After(time.Second):
		t.Fatal("commit reply timed out")
	}
	require.NotEmpty(t, logSystem.Pushes)
}

func TestPipelinePushCarriesMinKnownCommittedVersion(t *testing.T) {
	p, intake, master, _, logSystem, _ := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	txn := &txnpb.Transaction{
		Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.Key("a"), Value: []byte("1")}},
	}
	ch, err := intake.Enqueue(&Request{Txn: txn})
	require.NoError(t, err)

	select {
	case r := <-ch:
		require.NoError(t, r.Err)
	case <-time.After(time.Second):
		t.Fatal("commit reply timed out")
	}

	require.NotEmpty(t, logSystem.Pushes)
	push := logSystem.Pushes[len(logSystem.Pushes)-1]
	require.Equal(t, push.CommittedVersion, push.MinKnownCommittedVersion)

	reply, err := master.GetRawCommittedVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, push.MinKnownCommittedVersion, reply.MinKnownCommittedVersion)
}

func TestPipelineConflictYieldsNotCommitted(t *testing.T) {
	p, intake, _, resolver, _, _ := newTestPipeline(t)
	resolver.Conflicts[0] = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	txn := &txnpb.Transaction{
		ReadConflictRanges: []txnpb.ReadConflictRange{{Range: txnpb.SingleKey(txnpb.Key("a"))}},
		Mutations:          []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.Key("a"), Value: []byte("1")}},
	}
	ch, err := intake.Enqueue(&Request{Txn: txn})
	require.NoError(t, err)

	select {
	case r := <-ch:
		require.ErrorIs(t, r.Err, txnpb.ErrNotCommitted)
	case <-time.After(time.Second):
		t.Fatal("commit reply timed out")
	}
}

func TestPipelineTooOldTransaction(t *testing.T) {
	p, intake, _, _, _, _ := newTestPipeline(t)
	p.cfg.MaxReadTransactionLifeVersions = 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	txn := &txnpb.Transaction{
		ReadVersion: 0,
		Mutations:   []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.Key("a"), Value: []byte("1")}},
	}
	ch, err := intake.Enqueue(&Request{Txn: txn})
	require.NoError(t, err)

	select {
	case r := <-ch:
		require.ErrorIs(t, r.Err, txnpb.ErrTransactionTooOld)
	case <-time.After(time.Second):
		t.Fatal("commit reply timed out")
	}
}
