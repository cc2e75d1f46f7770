package commit

import (
	"sync"
	"time"

	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/util/metric"
)

// computeTracker maintains an EMA-smoothed compute-per-operation
// estimate per latency bucket, used both to size phase 1's release-
// delay token and to record phase 3's observed compute/operation
// (spec.md §4.2 phase 1 "computePerOperation[latencyBucket]", phase 3
// "Update commitComputePerOperation[latencyBucket] with an EMA of
// observed compute/operation"; supplemented from the original source
// per SPEC_FULL.md, which buckets by batch size to avoid one estimate
// smearing together tiny and huge batches). runBatch spawns one
// goroutine per batch and spec.md §4.2 allows batch K+1's phase 1
// (ReleaseDelay) to overlap batch K's phase 3 (RecordObserved), so two
// batch goroutines can race to lazily insert the same new bucket;
// mu guards the buckets map itself, on top of each EMA's own internal
// locking which only protects a single already-inserted entry.
type computeTracker struct {
	cfg settings.CommitConfig
	reg *metric.Registry

	mu      sync.Mutex
	buckets map[int]*metric.EMA
}

func newComputeTracker(cfg settings.CommitConfig, reg *metric.Registry) *computeTracker {
	return &computeTracker{cfg: cfg, buckets: map[int]*metric.EMA{}, reg: reg}
}

// latencyBucket assigns batchOperations to a coarse power-of-two
// bucket, matching the original's practice of not smoothing tiny and
// huge batches together.
func latencyBucket(batchOperations int) int {
	b := 0
	for n := batchOperations; n > 1; n >>= 1 {
		b++
	}
	return b
}

func (t *computeTracker) ema(bucket int) *metric.EMA {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.buckets[bucket]
	if !ok {
		e = t.reg.NewEMA("commit_compute_per_op_bucket", 10)
		t.buckets[bucket] = e
	}
	return e
}

// ReleaseDelay returns the release-delay token duration for a batch of
// batchOperations operations, capped at cfg.ComputePerOperationCap.
func (t *computeTracker) ReleaseDelay(batchOperations int) time.Duration {
	if batchOperations <= 0 {
		return 0
	}
	bucket := latencyBucket(batchOperations)
	perOp := t.ema(bucket).Value()
	d := time.Duration(perOp * float64(batchOperations))
	if d > t.cfg.ComputePerOperationCap {
		d = t.cfg.ComputePerOperationCap
	}
	if d < 0 {
		d = 0
	}
	return d
}

// RecordObserved feeds an observed (batchOperations, elapsed) sample
// back into the same bucket ReleaseDelay drew its estimate from.
func (t *computeTracker) RecordObserved(batchOperations int, elapsed time.Duration) {
	if batchOperations <= 0 {
		return
	}
	bucket := latencyBucket(batchOperations)
	t.ema(bucket).Add(float64(elapsed) / float64(batchOperations))
}
