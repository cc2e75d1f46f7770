package grv

import (
	"context"
	"time"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/throttle"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/util/log"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

// RateSource periodically asks the rate-keeper for a rate, lease
// duration, and throttled-tag map, and disables both priority rates if
// the lease expires without renewal (spec.md §4.1 "Rate source").
type RateSource struct {
	cfg      settings.GRVConfig
	rk       coordif.RateKeeper
	clock    timeutil.TimeSource
	proxyID  string
	throttles *throttle.Tracker

	defaultLimiter *PriorityLimiter
	batchLimiter   *PriorityLimiter

	leaseExpiresAt time.Time
	lastDetailedAt time.Time
	health         coordif.HealthMetrics
}

// NewRateSource wires a RateSource against the two rate-limited
// priorities' limiters.
func NewRateSource(cfg settings.GRVConfig, rk coordif.RateKeeper, clock timeutil.TimeSource, proxyID string, throttles *throttle.Tracker, defaultLimiter, batchLimiter *PriorityLimiter) *RateSource {
	return &RateSource{cfg: cfg, rk: rk, clock: clock, proxyID: proxyID, throttles: throttles, defaultLimiter: defaultLimiter, batchLimiter: batchLimiter}
}

// Run polls the rate-keeper until ctx is cancelled, renewing the lease
// at cfg.RateLeaseRenewInterval and requesting detailed health metrics
// only every cfg.DetailedMetricUpdateRate.
func (s *RateSource) Run(ctx context.Context, txnCount, batchTxnCount func() int64, tagCounts func() map[txnpb.Tag]int64) {
	for {
		s.poll(ctx, txnCount(), batchTxnCount(), tagCounts())
		timer := s.clock.NewTimer(s.cfg.RateLeaseRenewInterval)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return
		}
		if s.clock.Now().After(s.leaseExpiresAt) && !s.leaseExpiresAt.IsZero() {
			log.Warningf(ctx, "grv rate lease expired without renewal, disabling default/batch rates")
			s.defaultLimiter.Disable()
			s.batchLimiter.Disable()
		}
	}
}

func (s *RateSource) poll(ctx context.Context, txnCount, batchTxnCount int64, tagCounts map[txnpb.Tag]int64) {
	detailed := s.clock.Now().Sub(s.lastDetailedAt) >= s.cfg.DetailedMetricUpdateRate
	reply, err := s.rk.GetRateInfo(ctx, s.proxyID, txnCount, batchTxnCount, tagCounts, detailed)
	if err != nil {
		log.Warningf(ctx, "rate-keeper request failed, keeping previous rates: %v", err)
		return
	}
	s.defaultLimiter.SetRate(reply.TxnRate)
	s.batchLimiter.SetRate(reply.BatchTxnRate)
	s.throttles.Update(reply.ThrottledTags)
	s.leaseExpiresAt = s.clock.Now().Add(reply.LeaseDuration)
	if detailed {
		s.health = reply.Health
		s.lastDetailedAt = s.clock.Now()
	}
}

// AggregatedBatchRate returns the batch-priority target rate, used by
// the pre-rejection check in Server.GetReadVersion.
func (s *RateSource) AggregatedBatchRate() float64 {
	return s.batchLimiter.Rate()
}

// Health returns the most recently refreshed detailed health metrics.
func (s *RateSource) Health() coordif.HealthMetrics { return s.health }
