// Package epochlive implements the Epoch-Live Confirmer (spec.md
// §4.3): a periodic heartbeat proving the current epoch is still
// authoritative, which non-causal-read-risky GRV requests gate on
// before a read version can be released.
package epochlive

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/util/log"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

// Confirmer periodically pings the log system and tracks the instant
// of the last confirmation, so GRV requests can check "has an
// epoch-live heartbeat landed since my master reply was requested".
type Confirmer struct {
	cfg  settings.EpochLiveConfig
	log  coordif.LogSystem
	sem  *semaphore.Weighted
	clock timeutil.TimeSource

	mu               sync.RWMutex
	lastConfirmedAt  time.Time
	lastCommitLatency time.Duration
}

// New constructs a Confirmer bound to log.
func New(cfg settings.EpochLiveConfig, ls coordif.LogSystem, clock timeutil.TimeSource) *Confirmer {
	return &Confirmer{
		cfg:   cfg,
		log:   ls,
		sem:   semaphore.NewWeighted(int64(cfg.MaxConcurrentConfirms)),
		clock: clock,
	}
}

// Run drives the periodic confirm loop until ctx is cancelled. The
// next interval is max(minInterval, (requiredMinRecoveryDuration -
// lastCommitLatency)/2), matching spec.md §4.3's stated cadence.
func (c *Confirmer) Run(ctx context.Context, requiredMinRecoveryDuration time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if c.sem.TryAcquire(1) {
			go func() {
				defer c.sem.Release(1)
				c.confirmOnce(ctx)
			}()
		}
		interval := c.nextInterval(requiredMinRecoveryDuration)
		timer := c.clock.NewTimer(interval)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (c *Confirmer) nextInterval(requiredMinRecoveryDuration time.Duration) time.Duration {
	c.mu.RLock()
	lastLatency := c.lastCommitLatency
	c.mu.RUnlock()
	interval := c.cfg.MinInterval
	if requiredMinRecoveryDuration > 0 {
		candidate := (requiredMinRecoveryDuration - lastLatency) / 2
		if candidate > interval {
			interval = candidate
		}
	}
	return interval
}

func (c *Confirmer) confirmOnce(ctx context.Context) {
	if err := c.log.ConfirmEpochLive(ctx); err != nil {
		log.Warningf(ctx, "epoch-live confirm failed: %v", err)
		return
	}
	c.mu.Lock()
	c.lastConfirmedAt = c.clock.Now()
	c.mu.Unlock()
}

// RecordCommitLatency caches the most recently observed commit
// latency so Run can retarget its interval, per spec.md §4.3.
func (c *Confirmer) RecordCommitLatency(d time.Duration) {
	c.mu.Lock()
	c.lastCommitLatency = d
	c.mu.Unlock()
}

// ConfirmedSince reports whether a heartbeat has landed at or after t.
// GRV uses this to check causal visibility: unless causal-read-risky
// is set, it must have confirmed a heartbeat after the master reply
// was requested (spec.md §4.1 "Version assignment").
func (c *Confirmer) ConfirmedSince(t time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.lastConfirmedAt.Before(t)
}

// CausallyVisible implements the full gate spec.md §4.1 describes: a
// GRV batch may skip the epoch-live wait entirely if
// causalReadRisky is set by both the request and the global "always"
// knob; otherwise it must observe a confirmation after
// masterRequestedAt, unless requiredMinRecoveryDuration relaxes the
// gate to "last confirmed commit is recent enough".
func (c *Confirmer) CausallyVisible(masterRequestedAt time.Time, causalReadRisky, alwaysCausalReadRisky bool, requiredMinRecoveryDuration time.Duration, lastCommitAt time.Time) bool {
	if causalReadRisky && alwaysCausalReadRisky {
		return true
	}
	if requiredMinRecoveryDuration > 0 {
		return c.clock.Since(lastCommitAt) < requiredMinRecoveryDuration
	}
	return c.ConfirmedSince(masterRequestedAt)
}
