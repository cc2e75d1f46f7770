package throttle

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

func TestThrottlesForFiltersExpiredAndInfinite(t *testing.T) {
	clock := timeutil.NewManualTime(time.Unix(0, 0))
	tr := NewTracker(clock)
	tr.Update([]coordif.TagThrottle{
		{Priority: txnpb.PriorityDefault, Tag: "hot", TPS: 5, ExpiresAt: clock.Now().Add(time.Minute)},
		{Priority: txnpb.PriorityDefault, Tag: "cold", TPS: 5, ExpiresAt: clock.Now().Add(-time.Minute)},
		{Priority: txnpb.PriorityDefault, Tag: "unlimited", TPS: math.Inf(1), ExpiresAt: clock.Now().Add(time.Minute)},
	})

	got := tr.ThrottlesFor(txnpb.PriorityDefault, []txnpb.Tag{"hot", "cold", "unlimited", "absent"})
	require.Len(t, got, 1)
	require.Equal(t, txnpb.Tag("hot"), got[0].Tag)
}

func TestThrottlesForEmptyTagsReturnsNil(t *testing.T) {
	tr := NewTracker(timeutil.NewManualTime(time.Unix(0, 0)))
	require.Nil(t, tr.ThrottlesFor(txnpb.PriorityDefault, nil))
}

func TestIsBatchThrottled(t *testing.T) {
	require.True(t, IsBatchThrottled(1, 1))
	require.True(t, IsBatchThrottled(2, 2))
	require.False(t, IsBatchThrottled(3, 1))
	require.False(t, IsBatchThrottled(100, 0))
}
