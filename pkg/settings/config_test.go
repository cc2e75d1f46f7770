package settings

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultProducesInternallyConsistentBounds(t *testing.T) {
	cfg := Default()
	require.Less(t, cfg.GRV.BatchTimeMin, cfg.GRV.BatchTimeMax)
	require.LessOrEqual(t, cfg.GRV.BatchTimeMin, cfg.GRV.BatchTimeTarget)
	require.LessOrEqual(t, cfg.GRV.BatchTimeTarget, cfg.GRV.BatchTimeMax)
	require.Less(t, cfg.Commit.IntakeBytesMin, cfg.Commit.IntakeBytesMax)
	require.Less(t, cfg.Commit.CommitBatchIntervalMin, cfg.Commit.CommitBatchIntervalMax)
	require.Greater(t, cfg.GRV.PeerCount, 0)
}

func TestDefaultDoesNotEnableMustContainSystemKey(t *testing.T) {
	require.False(t, Default().Commit.MustContainSystemKey)
}
