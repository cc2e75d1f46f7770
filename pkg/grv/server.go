package grv

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/epochlive"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/throttle"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/util/log"
	"github.com/coredb/txncore/pkg/util/metric"
	"github.com/coredb/txncore/pkg/util/stop"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

// Server is the GRV proxy's client-facing surface: intake, admission,
// and the background loops that keep rates, throttles, and epoch
// liveness current (spec.md §4.1).
type Server struct {
	cfg    settings.GRVConfig
	queues *Queues
	loop   *BatchLoop
	rates  *RateSource

	defaultLimiter *PriorityLimiter
	batchLimiter   *PriorityLimiter

	txnCount      *metric.Counter
	batchTxnCount *metric.Counter

	tagCountsMu sync.Mutex
	tagCounts   map[txnpb.Tag]*int64

	stopper *stop.Stopper
}

// NewServer wires the queues, both rate limiters, the batch loop, and
// the rate source into one Server, matching how the teacher's proxy
// constructors thread a single settings.Config through their
// collaborators.
func NewServer(cfg settings.Config, proxyID string, master coordif.Master, ls coordif.LogSystem, rk coordif.RateKeeper, clock timeutil.TimeSource, reg *metric.Registry, stopper *stop.Stopper) *Server {
	queues := NewQueues()
	defaultLimiter := NewPriorityLimiter(cfg.GRV, reg, "grv_default")
	batchLimiter := NewPriorityLimiter(cfg.GRV, reg, "grv_batch")
	throttles := throttle.NewTracker(clock)
	confirmer := epochlive.New(cfg.EpochLive, ls, clock)

	loop := NewBatchLoop(Config{
		Settings:       cfg.GRV,
		Queues:         queues,
		DefaultLimiter: defaultLimiter,
		BatchLimiter:   batchLimiter,
		Master:         master,
		Confirmer:      confirmer,
		Throttles:      throttles,
		Clock:          clock,
		Registry:       reg,
		OnFatal:        stopper.Fatal,
	})

	rates := NewRateSource(cfg.GRV, rk, clock, proxyID, throttles, defaultLimiter, batchLimiter)

	s := &Server{
		cfg:            cfg.GRV,
		queues:         queues,
		loop:           loop,
		rates:          rates,
		defaultLimiter: defaultLimiter,
		batchLimiter:   batchLimiter,
		txnCount:       reg.NewCounter("grv_txn_total", "GRV requests admitted"),
		batchTxnCount:  reg.NewCounter("grv_batch_txn_total", "batch-priority GRV requests admitted"),
		tagCounts:      make(map[txnpb.Tag]*int64),
		stopper:        stopper,
	}

	stopper.RunTask(func(ctx context.Context) { confirmer.Run(ctx, cfg.GRV.RequiredMinRecoveryDuration) })
	stopper.RunTask(func(ctx context.Context) { loop.Run(ctx) })
	stopper.RunTask(func(ctx context.Context) { rates.Run(ctx, s.txnCountSnapshot, s.batchTxnCountSnapshot, s.tagCountsSnapshot) })

	return s
}

func (s *Server) txnCountSnapshot() int64      { return s.txnCount.Value() }
func (s *Server) batchTxnCountSnapshot() int64 { return s.batchTxnCount.Value() }

func (s *Server) tagCountsSnapshot() map[txnpb.Tag]int64 {
	s.tagCountsMu.Lock()
	defer s.tagCountsMu.Unlock()
	out := make(map[txnpb.Tag]int64, len(s.tagCounts))
	for tag, c := range s.tagCounts {
		out[tag] = atomic.LoadInt64(c)
	}
	return out
}

// GetReadVersion is the client-facing entrypoint. It applies the
// batch-priority pre-rejection check before ever touching the queue
// (spec.md §4.1 "Queueing": "batch priority is pre-rejected... without
// ever being queued"), then enqueues and waits for the batch loop to
// admit and reply.
func (s *Server) GetReadVersion(ctx context.Context, priority txnpb.Priority, tags []txnpb.Tag, flags txnpb.Flags) (Reply, error) {
	if priority == txnpb.PriorityBatch && throttle.IsBatchThrottled(s.rates.AggregatedBatchRate(), s.cfg.PeerCount) {
		return Reply{}, txnpb.ErrBatchTransactionThrottled
	}

	req := &Request{Priority: priority, Tags: tags, Flags: flags}
	reply, err := SendCtx(ctx, s.queues, req, s.cfg.QueueSizeCap)
	if err != nil {
		return Reply{}, err
	}
	s.countRequest(priority, tags)
	if reply.Err != nil {
		log.Warningf(ctx, "grv request failed: %v", reply.Err)
	}
	return reply, reply.Err
}

func (s *Server) countRequest(priority txnpb.Priority, tags []txnpb.Tag) {
	s.txnCount.Inc(1)
	if priority == txnpb.PriorityBatch {
		s.batchTxnCount.Inc(1)
	}
	if len(tags) == 0 {
		return
	}
	s.tagCountsMu.Lock()
	defer s.tagCountsMu.Unlock()
	for _, tag := range tags {
		c, ok := s.tagCounts[tag]
		if !ok {
			var zero int64
			c = &zero
			s.tagCounts[tag] = c
		}
		atomic.AddInt64(c, 1)
	}
}

// Health exposes the most recently refreshed rate-keeper health
// metrics, for the /health surface and cross-proxy load balancing.
func (s *Server) Health() coordif.HealthMetrics { return s.rates.Health() }
