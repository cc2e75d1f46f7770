package coordif

import (
	"context"
	"time"

	"github.com/coredb/txncore/pkg/txnpb"
)

// HealthMetrics is the detailed, slower-cadence health payload the
// rate-keeper attaches to a rate lease (spec.md §4.1
// "detailed-metric-update-rate"; supplemented from the original
// source per SPEC_FULL.md).
type HealthMetrics struct {
	WorstStorageServerDurabilityLag time.Duration
	WorstLogQueueBytes              int64
}

// TagThrottle is one (priority, tag) bucket's throttle, attached to
// GRV replies for tags the request carried (spec.md §4.1 "Reply").
type TagThrottle struct {
	Priority   txnpb.Priority
	Tag        txnpb.Tag
	TPS        float64 // math.Inf(1) means "not throttled"
	ExpiresAt  time.Time
}

// RateInfoReply is the rate-keeper's answer to GetRateInfo.
type RateInfoReply struct {
	TxnRate      float64
	BatchTxnRate float64
	LeaseDuration time.Duration
	Health       HealthMetrics
	ThrottledTags []TagThrottle
}

// RateKeeper is the external contract for rate leasing (spec.md §6
// "GetRateInfo"). Recoverable failures are retried by the caller
// rather than treated as fatal (spec.md §7 "Propagation policy").
type RateKeeper interface {
	GetRateInfo(ctx context.Context, proxyID string, txnCount, batchTxnCount int64, tagCounts map[txnpb.Tag]int64, detailed bool) (RateInfoReply, error)
}
