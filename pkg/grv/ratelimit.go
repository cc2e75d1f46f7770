// Package grv implements the get-read-version pipeline (spec.md
// §4.1): priority queueing, adaptive batching, and rate-limited,
// priority-aware admission control.
package grv

import (
	"sync"
	"time"

	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/util/metric"
)

// PriorityLimiter implements the rate-accounting state machine of
// spec.md §4.1 for a single non-immediate priority: rate, limit,
// budget, and the two smoothed EMAs. Unlike the batching loop itself,
// a limiter is touched from two goroutines: the batch loop's Reset/
// CanStart/UpdateBudget calls and the rate source's SetRate/Disable
// calls (spec.md §4.1's "rate source" runs as its own task), so its
// rate/limit/budget triple is guarded by a real mutex.
type PriorityLimiter struct {
	mu sync.Mutex

	window        time.Duration
	emptyQueueCap float64
	maxToStart    int64

	rate             float64
	limit            float64
	budget           float64
	smoothedRate     *metric.EMA
	smoothedReleased *metric.EMA
}

// NewPriorityLimiter constructs a limiter using cfg's window, cap and
// max-to-start, registering its two EMAs on reg under name.
func NewPriorityLimiter(cfg settings.GRVConfig, reg *metric.Registry, name string) *PriorityLimiter {
	const emaWindow = 10 // samples
	return &PriorityLimiter{
		window:           cfg.RateWindow,
		emptyQueueCap:    cfg.EmptyQueueBudgetCap,
		maxToStart:       cfg.MaxToStart,
		smoothedRate:     reg.NewEMA(name+"_rate", emaWindow),
		smoothedReleased: reg.NewEMA(name+"_released", emaWindow),
	}
}

// SetRate records a freshly leased target rate from the rate-keeper.
func (l *PriorityLimiter) SetRate(rate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = rate
	l.smoothedRate.Add(rate)
}

// Disable zeroes the rate, used when a rate lease expires without
// renewal (spec.md §4.1 "Rate source").
func (l *PriorityLimiter) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = 0
	l.smoothedRate.Add(0)
}

// Rate returns the most recently leased target rate, exported for
// client-facing pre-rejection checks (spec.md §4.1's "aggregated batch
// rate") that run on neither the batch-loop nor the rate-source
// goroutine.
func (l *PriorityLimiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Reset recomputes limit at the start of a new window. limit may be
// negative, meaning the priority is currently over its smoothed
// budget and every request must come from banked budget alone
// (spec.md §4.1 "reset()").
func (l *PriorityLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	windowSeconds := l.window.Seconds()
	l.limit = windowSeconds * (l.smoothedRate.Value() - l.smoothedReleased.Value())
}

// CanStart reports whether count additional requests may start given
// that started have already started this window (spec.md §4.1
// "canStart(started, count)").
func (l *PriorityLimiter) CanStart(started, count int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	allowance := l.limit + l.budget
	if float64(l.maxToStart) < allowance {
		allowance = float64(l.maxToStart)
	}
	return float64(started+count) <= allowance
}

// UpdateBudget banks unused allowance and records how many requests
// actually started this window (spec.md §4.1 "updateBudget"). The
// idempotence property in spec.md §8 falls directly out of this
// arithmetic: UpdateBudget(0, true, 0) changes nothing, and
// UpdateBudget(0, true, Δ) moves budget by Δ×limit/window (up when
// limit is positive, down but never below 0 when it is negative),
// after which the empty-queue clamp caps it.
func (l *PriorityLimiter) UpdateBudget(started int64, queueEmpty bool, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	windowSeconds := l.window.Seconds()
	if windowSeconds > 0 {
		l.budget += elapsed.Seconds() * (l.limit - float64(started)) / windowSeconds
	}
	if l.budget < 0 {
		l.budget = 0
	}
	if queueEmpty && l.budget > l.emptyQueueCap {
		l.budget = l.emptyQueueCap
	}
	l.smoothedReleased.Add(float64(started))
}

// Budget returns the current banked allowance, exported for metrics
// and tests.
func (l *PriorityLimiter) Budget() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budget
}

// Limit returns the current window's limit, exported for tests.
func (l *PriorityLimiter) Limit() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}
