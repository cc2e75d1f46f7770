package grv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/epochlive"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/throttle"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/util/metric"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

func newTestBatchLoop(t *testing.T) (*BatchLoop, *Queues, *coordif.FakeMaster) {
	t.Helper()
	full := settings.Default()
	cfg := full.GRV
	cfg.RequiredMinRecoveryDuration = time.Hour // bypass epoch-live gating in tests
	cfg.MaxRequestsPerBatch = 100
	cfg.MaxToStart = 1000

	clock := timeutil.NewManualTime(time.Unix(0, 0))
	queues := NewQueues()
	reg := metric.NewRegistry()
	defaultLimiter := NewPriorityLimiter(cfg, reg, "test_default")
	batchLimiter := NewPriorityLimiter(cfg, reg, "test_batch")
	master := coordif.NewFakeMaster(1)
	confirmer := epochlive.New(full.EpochLive, coordif.NewFakeLogSystem(), clock)

	loop := NewBatchLoop(Config{
		Settings:       cfg,
		Queues:         queues,
		DefaultLimiter: defaultLimiter,
		BatchLimiter:   batchLimiter,
		Master:         master,
		Confirmer:      confirmer,
		Throttles:      throttle.NewTracker(clock),
		Clock:          clock,
		Registry:       reg,
	})
	return loop, queues, master
}

func TestFireBatchRepliesImmediateRequest(t *testing.T) {
	loop, queues, _ := newTestBatchLoop(t)
	req := &Request{Priority: txnpb.PriorityImmediate}
	ch, err := queues.Enqueue(req, 10)
	require.NoError(t, err)

	loop.fireBatch(context.Background())

	select {
	case r := <-ch:
		require.NoError(t, r.Err)
	default:
		t.Fatal("expected immediate request to be replied to synchronously")
	}
}

func TestFireBatchNoRequestsIsNoop(t *testing.T) {
	loop, _, _ := newTestBatchLoop(t)
	loop.fireBatch(context.Background())
}

func TestFireBatchMasterErrorFailsAll(t *testing.T) {
	loop, queues, master := newTestBatchLoop(t)
	master.Broken = true
	req := &Request{Priority: txnpb.PriorityImmediate}
	ch, err := queues.Enqueue(req, 10)
	require.NoError(t, err)

	loop.fireBatch(context.Background())

	r := <-ch
	require.ErrorIs(t, r.Err, txnpb.ErrMasterTLogFailed)
}

func TestAdmitCountBinarySearchesLargestAdmissible(t *testing.T) {
	reg := metric.NewRegistry()
	cfg := settings.Default().GRV
	cfg.RateWindow = time.Second
	cfg.MaxToStart = 1000
	l := NewPriorityLimiter(cfg, reg, "admit_test")
	l.SetRate(5)
	l.Reset()

	got := admitCount(l, 0, 100, 100)
	require.LessOrEqual(t, got, 5)
	require.True(t, l.CanStart(0, int64(got)))
	if got < 100 {
		require.False(t, l.CanStart(0, int64(got+1)))
	}
}
