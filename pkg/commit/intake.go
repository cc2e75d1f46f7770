package commit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/util/metric"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

// Intake accumulates incoming commit requests into batches, bounded by
// a count cap, a bytes cap, or a time cap, whichever comes first
// (spec.md §4.2 "Commit batching (intake)").
type Intake struct {
	cfg      settings.CommitConfig
	clock    timeutil.TimeSource
	memLimit int64

	batchInterval *metric.EMA

	mu      sync.Mutex
	pending []*Request
	bytes   int64

	ready chan struct{}
}

// NewIntake constructs an Intake using cfg's caps, registering its
// commitBatchInterval EMA on reg. memLimit is the process's configured
// memory budget feeding the memory-cap admission check.
func NewIntake(cfg settings.CommitConfig, clock timeutil.TimeSource, reg *metric.Registry, memLimit int64) *Intake {
	return &Intake{
		cfg:           cfg,
		clock:         clock,
		memLimit:      memLimit,
		batchInterval: reg.NewEMA("commit_batch_interval_ms", 10),
		ready:         make(chan struct{}, 1),
	}
}

// bytesCap computes the current bytes cap: max(min, min(max, scale_base
// x proxies^scale_power)) per spec.md §4.2.
func bytesCap(cfg settings.CommitConfig, proxies int) int64 {
	scaled := cfg.IntakeBytesScaleBase * math.Pow(float64(proxies), cfg.IntakeBytesScalePower)
	capped := math.Min(float64(cfg.IntakeBytesMax), scaled)
	capped = math.Max(float64(cfg.IntakeBytesMin), capped)
	return int64(capped)
}

// memoryCap computes the global in-flight commit memory admission
// limit: min(hard_limit, memLimit x fraction / factor). memLimit is the
// process's configured memory budget (e.g. from cgroup limits or an
// operator flag); txncore does not discover this itself.
func memoryCap(cfg settings.CommitConfig, memLimit int64) int64 {
	scaled := float64(memLimit) * cfg.MemoryLimitFraction / cfg.MemoryLimitFactor
	if scaled > float64(cfg.MemoryHardLimit) {
		scaled = float64(cfg.MemoryHardLimit)
	}
	return int64(scaled)
}

// Enqueue admits req into the pending batch, rejecting it immediately
// with proxy_memory_limit_exceeded if adding its mutation bytes would
// push the pending batch past the memory cap (spec.md §4.2 "Requests exceeding the global
// memory cap... are rejected immediately").
func (in *Intake) Enqueue(req *Request) (<-chan Reply, error) {
	size := req.Txn.TotalMutationBytes()
	in.mu.Lock()
	if in.bytes+size > memoryCap(in.cfg, in.memLimit) {
		in.mu.Unlock()
		return nil, txnpb.ErrProxyMemoryLimitExceeded
	}
	req.reply = make(chan Reply, 1)
	in.pending = append(in.pending, req)
	in.bytes += size
	full := len(in.pending) >= in.cfg.IntakeCountCap || in.bytes >= bytesCap(in.cfg, 1)
	in.mu.Unlock()
	if full {
		select {
		case in.ready <- struct{}{}:
		default:
		}
	}
	return req.reply, nil
}

// timeCap is commitBatchInterval clamped to [CommitBatchIntervalMin,
// CommitBatchIntervalMax], then raised to IntakeIdleFlush if that is
// longer.
func (in *Intake) timeCap() time.Duration {
	interval := time.Duration(in.batchInterval.Value()) * time.Millisecond
	if interval < in.cfg.CommitBatchIntervalMin {
		interval = in.cfg.CommitBatchIntervalMin
	}
	if interval > in.cfg.CommitBatchIntervalMax {
		interval = in.cfg.CommitBatchIntervalMax
	}
	if in.cfg.IntakeIdleFlush > interval {
		interval = in.cfg.IntakeIdleFlush
	}
	return interval
}

// Next blocks until a batch is ready (count/bytes cap hit, or the time
// cap elapses with at least one pending request) and drains everything
// pending at that point. A single oversize request immediately signals
// ready via Enqueue, but if other requests arrived first it drains
// alongside them rather than alone; it is not isolated into its own
// batch. fdbserver's commitBatcher (CommitProxyServer.actor.cpp) can
// flush the batch collected so far before appending a request that
// would push it over the bytes cap, because that actor owns both
// producer and consumer in one sequential loop. Intake.Enqueue runs on
// arbitrary client goroutines concurrently with the batch loop's own
// Next call, so it can mutate the shared pending slice and signal
// readiness but cannot force a synchronous flush-then-start-new-batch
// hand-off the way a single actor can; see DESIGN.md for the tradeoff.
func (in *Intake) Next(ctx context.Context) ([]*Request, bool) {
	timer := in.clock.NewTimer(in.timeCap())
	defer timer.Stop()
	select {
	case <-in.ready:
	case <-timer.C():
	case <-ctx.Done():
		return nil, false
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.pending) == 0 {
		return nil, false
	}
	batch := in.pending
	in.pending = nil
	in.bytes = 0
	return batch, true
}

// RecordBatchDuration feeds phase 5's observed batch duration into the
// commitBatchInterval EMA (spec.md §4.2 phase 5 "Update
// commitBatchInterval via EMA of observed batch duration").
func (in *Intake) RecordBatchDuration(d time.Duration) {
	in.batchInterval.Add(float64(d.Milliseconds()))
}
