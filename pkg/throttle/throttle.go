// Package throttle tracks per (priority, tag) throttles handed down
// by the rate-keeper, and answers whether a given request's tags
// should be annotated in its reply (spec.md §4.1 "Reply": "Includes
// throttle entries for each of the request's tags whose (priority,
// tag) bucket has an unexpired, finite-tps throttle").
package throttle

import (
	"math"
	"sync"
	"time"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

type bucketKey struct {
	priority txnpb.Priority
	tag      txnpb.Tag
}

type bucket struct {
	tps       float64
	expiresAt time.Time
}

// Tracker holds the current throttle set, refreshed wholesale each
// time the rate-keeper responds to GetRateInfo.
type Tracker struct {
	mu      sync.RWMutex
	buckets map[bucketKey]bucket
	clock   timeutil.TimeSource
}

// NewTracker constructs an empty Tracker.
func NewTracker(clock timeutil.TimeSource) *Tracker {
	return &Tracker{buckets: map[bucketKey]bucket{}, clock: clock}
}

// Update replaces the throttle set with the entries the rate-keeper
// most recently reported.
func (t *Tracker) Update(entries []coordif.TagThrottle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets = make(map[bucketKey]bucket, len(entries))
	for _, e := range entries {
		t.buckets[bucketKey{priority: e.Priority, tag: e.Tag}] = bucket{tps: e.TPS, expiresAt: e.ExpiresAt}
	}
}

// ThrottlesFor returns the unexpired, finite-tps throttle entries
// applicable to priority and the request's tags, in tag order.
func (t *Tracker) ThrottlesFor(priority txnpb.Priority, tags []txnpb.Tag) []coordif.TagThrottle {
	if len(tags) == 0 {
		return nil
	}
	now := t.clock.Now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []coordif.TagThrottle
	for _, tag := range tags {
		b, ok := t.buckets[bucketKey{priority: priority, tag: tag}]
		if !ok {
			continue
		}
		if math.IsInf(b.tps, 1) {
			continue
		}
		if !b.expiresAt.After(now) {
			continue
		}
		out = append(out, coordif.TagThrottle{Priority: priority, Tag: tag, TPS: b.tps, ExpiresAt: b.expiresAt})
	}
	return out
}

// IsBatchThrottled reports whether the aggregated allowed batch rate,
// divided among peerCount GRV servers, would be at or below 1 tps per
// server -- spec.md §4.1's pre-rejection rule for batch-priority
// intake.
func IsBatchThrottled(aggregatedBatchRate float64, peerCount int) bool {
	if peerCount <= 0 {
		peerCount = 1
	}
	return aggregatedBatchRate/float64(peerCount) <= 1.0
}
