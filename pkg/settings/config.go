// Package settings groups every tunable the GRV and commit pipelines
// need into one immutable value constructed at startup, per spec.md §9
// ("Global constants... no ambient mutable configuration is read at
// steady state"). It intentionally does not offer the teacher's live
// cluster-settings machinery (pkg/settings.RegisterIntSetting and
// friends): that machinery exists to let operators change SQL-visible
// settings at runtime, which spec.md explicitly rules out for the
// core's tunables.
package settings

import "time"

// GRVConfig groups the GRV pipeline's tunables (spec.md §4.1).
type GRVConfig struct {
	// QueueSizeCap bounds in-flight (queued but not yet batched)
	// requests per priority before intake starts rejecting.
	QueueSizeCap int

	// MaxRequestsPerBatch bounds how many requests a single batch
	// firing will drain across all priorities.
	MaxRequestsPerBatch int

	// BatchTimeMin/Max/Target bound the adaptive GRVBatchTime.
	BatchTimeMin    time.Duration
	BatchTimeMax    time.Duration
	BatchTimeTarget time.Duration
	// BatchTimeLatencyFraction is the fraction of the observed time
	// spent sending a batch's replies (all priorities together, not
	// default priority alone) used to retarget the batch interval each
	// firing.
	BatchTimeLatencyFraction float64
	// BatchTimeSmoothing is the EMA window (in samples) used to
	// smooth the retargeted batch interval.
	BatchTimeSmoothing float64

	// RateWindow is the shared window constant used by both the rate
	// limiter's reset() and updateBudget() (spec.md §4.1).
	RateWindow time.Duration
	// EmptyQueueBudgetCap bounds a priority's banked budget while its
	// queue is empty.
	EmptyQueueBudgetCap float64
	// MaxToStart bounds canStart regardless of limit+budget.
	MaxToStart int64

	// PeerCount is the number of GRV servers the aggregated batch
	// rate is divided among for the "≤ 1 tps per server" pre-rejection
	// rule.
	PeerCount int

	// RateLeaseRenewInterval is how often the rate source asks the
	// rate-keeper for a fresh lease.
	RateLeaseRenewInterval time.Duration
	// DetailedMetricUpdateRate bounds how often health metrics are
	// refreshed, independent of the lease renewal cadence.
	DetailedMetricUpdateRate time.Duration

	// AlwaysCausalReadRisky mirrors the global "always" knob that lets
	// every GRV skip the epoch-live confirmation regardless of the
	// per-request flag.
	AlwaysCausalReadRisky bool
	// RequiredMinRecoveryDuration, if non-zero, relaxes the
	// epoch-live gate to "last confirmed commit is recent enough"
	// instead of requiring a fresh heartbeat.
	RequiredMinRecoveryDuration time.Duration
}

// CommitConfig groups the commit pipeline's tunables (spec.md §4.2).
type CommitConfig struct {
	// MaxReadTransactionLifeVersions bounds how far a read snapshot
	// may lag the commit version before transaction_too_old.
	MaxReadTransactionLifeVersions int64
	// MaxWriteTransactionLifeVersions bounds key-resolver map
	// coalescing retention.
	MaxWriteTransactionLifeVersions int64
	// MaxReadTransactionLifeVersionsMVCCWindow bounds how far
	// commitVersion may lead committedVersion before a push stalls
	// (spec.md's "MVCC window guard").
	MaxReadTransactionLifeVersionsMVCCWindow int64

	// IntakeCountCap, IntakeBytesCap*, IntakeIdleFlush bound the
	// commit intake batching loop.
	IntakeCountCap        int
	IntakeBytesMin        int64
	IntakeBytesMax        int64
	IntakeBytesScaleBase  float64
	IntakeBytesScalePower float64
	IntakeIdleFlush       time.Duration

	// MemoryHardLimit and MemoryLimitFraction/Factor bound the global
	// in-flight commit memory admission check.
	MemoryHardLimit      int64
	MemoryLimitFraction  float64
	MemoryLimitFactor    float64

	// ComputePerOperationCap bounds the phase-1 release-delay token.
	ComputePerOperationCap time.Duration

	// DesiredTotalBytesYield is how many mutation bytes phase 3
	// processes before yielding cooperatively.
	DesiredTotalBytesYield int64

	// HistoryLengthCap is not read by any component: the commit
	// pipeline does not pop the txn-state-store log or keep pop
	// records, so nothing is bounded by it.
	HistoryLengthCap int

	// CommitBatchIntervalMin/Max bound the EMA-smoothed
	// commitBatchInterval used by the intake loop's time cap.
	CommitBatchIntervalMin time.Duration
	CommitBatchIntervalMax time.Duration

	// MustContainSystemKey, when true, demotes a transaction's
	// verdict to conflict unless one of its mutations targets the
	// system keyspace.
	MustContainSystemKey bool

	// ResolverCoalesceInterval is not read by any component: the
	// key-resolver map is coalesced once per commit batch, after its
	// replies, and has no standalone coalescing timer.
	ResolverCoalesceInterval time.Duration
}

// EpochLiveConfig groups the epoch-live confirmer's tunables (spec.md
// §4.3).
type EpochLiveConfig struct {
	MinInterval time.Duration
	// MaxConcurrentConfirms bounds concurrent confirmEpochLive calls
	// in flight.
	MaxConcurrentConfirms int
}

// Config is the single immutable value threaded through every
// constructor at startup.
type Config struct {
	GRV       GRVConfig
	Commit    CommitConfig
	EpochLive EpochLiveConfig
}

// Default returns the out-of-the-box tunables used by both server
// binaries absent operator overrides. Values are chosen to match the
// magnitudes named in the FoundationDB proxy sources this system is
// modeled on (hundreds of microseconds to low milliseconds for batch
// timing, thousands of versions for MVCC windows).
func Default() Config {
	return Config{
		GRV: GRVConfig{
			QueueSizeCap:                1_000_000,
			MaxRequestsPerBatch:         20_000,
			BatchTimeMin:                time.Millisecond,
			BatchTimeMax:                20 * time.Millisecond,
			BatchTimeTarget:             5 * time.Millisecond,
			BatchTimeLatencyFraction:    0.1,
			BatchTimeSmoothing:          10,
			RateWindow:                  2 * time.Second,
			EmptyQueueBudgetCap:         100,
			MaxToStart:                  1_000_000,
			PeerCount:                   1,
			RateLeaseRenewInterval:      2 * time.Second,
			DetailedMetricUpdateRate:    5 * time.Second,
			AlwaysCausalReadRisky:       false,
			RequiredMinRecoveryDuration: 0,
		},
		Commit: CommitConfig{
			MaxReadTransactionLifeVersions:            5_000_000,
			MaxWriteTransactionLifeVersions:            5_000_000,
			MaxReadTransactionLifeVersionsMVCCWindow:   5_000_000,
			IntakeCountCap:                             10_000,
			IntakeBytesMin:                              1 << 18,
			IntakeBytesMax:                               1 << 23,
			IntakeBytesScaleBase:                        1 << 18,
			IntakeBytesScalePower:                       0.5,
			IntakeIdleFlush:                             5 * time.Millisecond,
			MemoryHardLimit:                             1 << 30,
			MemoryLimitFraction:                         0.5,
			MemoryLimitFactor:                           3,
			ComputePerOperationCap:                      100 * time.Millisecond,
			DesiredTotalBytesYield:                      1 << 20,
			HistoryLengthCap:                             10_000,
			CommitBatchIntervalMin:                       2 * time.Millisecond,
			CommitBatchIntervalMax:                       50 * time.Millisecond,
			MustContainSystemKey:                         false,
			ResolverCoalesceInterval:                     5 * time.Second,
		},
		EpochLive: EpochLiveConfig{
			MinInterval:           100 * time.Millisecond,
			MaxConcurrentConfirms: 4,
		},
	}
}
