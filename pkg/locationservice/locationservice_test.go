package locationservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/txnstate"
)

func newTestServer(t *testing.T) (*Server, *txnstate.Store) {
	t.Helper()
	store, err := txnstate.Open()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cfg := settings.Default().GRV
	return NewServer(cfg, store), store
}

func TestGetKeyServerLocationsNotReady(t *testing.T) {
	s, _ := newTestServer(t)
	_, err := s.GetKeyServerLocations(context.Background(), txnpb.Key("a"), nil, 0, false)
	require.ErrorIs(t, err, txnpb.ErrTxnStateNotReady)
}

func TestGetKeyServerLocationsReturnsShards(t *testing.T) {
	s, store := newTestServer(t)
	store.SetReady()
	store.Shards().SetShard(txnpb.KeyRange{Begin: txnpb.Key("a"), End: txnpb.Key("m")}, &keyinfo.ShardInfo{Source: keyinfo.NewServerSet("ss1")})
	store.Shards().SetShard(txnpb.KeyRange{Begin: txnpb.Key("m"), End: txnpb.Key("z")}, &keyinfo.ShardInfo{Source: keyinfo.NewServerSet("ss2")})

	locs, err := s.GetKeyServerLocations(context.Background(), txnpb.Key("a"), txnpb.Key("z"), 0, false)
	require.NoError(t, err)
	require.Len(t, locs, 2)
}

func TestGetKeyServerLocationsHonorsLimit(t *testing.T) {
	s, store := newTestServer(t)
	store.SetReady()
	store.Shards().SetShard(txnpb.KeyRange{Begin: txnpb.Key("a"), End: txnpb.Key("m")}, &keyinfo.ShardInfo{Source: keyinfo.NewServerSet("ss1")})
	store.Shards().SetShard(txnpb.KeyRange{Begin: txnpb.Key("m"), End: txnpb.Key("z")}, &keyinfo.ShardInfo{Source: keyinfo.NewServerSet("ss2")})

	locs, err := s.GetKeyServerLocations(context.Background(), txnpb.Key("a"), txnpb.Key("z"), 1, false)
	require.NoError(t, err)
	require.Len(t, locs, 1)
}

func TestGetKeyServerLocationsReverse(t *testing.T) {
	s, store := newTestServer(t)
	store.SetReady()
	store.Shards().SetShard(txnpb.KeyRange{Begin: txnpb.Key("a"), End: txnpb.Key("m")}, &keyinfo.ShardInfo{Source: keyinfo.NewServerSet("ss1")})
	store.Shards().SetShard(txnpb.KeyRange{Begin: txnpb.Key("m"), End: txnpb.Key("z")}, &keyinfo.ShardInfo{Source: keyinfo.NewServerSet("ss2")})

	locs, err := s.GetKeyServerLocations(context.Background(), txnpb.Key("a"), txnpb.Key("z"), 0, true)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	require.Equal(t, txnpb.Key("m"), locs[0].Range.Begin)
}

func TestGetKeyServerLocationsReverseWithLimitReturnsTrailingShards(t *testing.T) {
	s, store := newTestServer(t)
	store.SetReady()
	store.Shards().SetShard(txnpb.KeyRange{Begin: txnpb.Key("a"), End: txnpb.Key("g")}, &keyinfo.ShardInfo{Source: keyinfo.NewServerSet("ss1")})
	store.Shards().SetShard(txnpb.KeyRange{Begin: txnpb.Key("g"), End: txnpb.Key("m")}, &keyinfo.ShardInfo{Source: keyinfo.NewServerSet("ss2")})
	store.Shards().SetShard(txnpb.KeyRange{Begin: txnpb.Key("m"), End: txnpb.Key("z")}, &keyinfo.ShardInfo{Source: keyinfo.NewServerSet("ss3")})

	locs, err := s.GetKeyServerLocations(context.Background(), txnpb.Key("a"), txnpb.Key("z"), 2, true)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	// Must be the last two shards in the range (g..m, m..z), reversed,
	// not the first two (a..g, g..m) reversed.
	require.Equal(t, txnpb.Key("m"), locs[0].Range.Begin)
	require.Equal(t, txnpb.Key("g"), locs[1].Range.Begin)
}

func TestExclusionSafetyCheckDetectsCoordinator(t *testing.T) {
	s, store := newTestServer(t)
	store.SetReady()
	store.SetCoordinators([]string{"host1:1", "host2:2"})

	safe, err := s.ExclusionSafetyCheck(context.Background(), []string{"host1:1"})
	require.NoError(t, err)
	require.False(t, safe)

	safe, err = s.ExclusionSafetyCheck(context.Background(), []string{"host3:3"})
	require.NoError(t, err)
	require.True(t, safe)
}

func TestSnapRequestReturnsMetadataVersionAndBackupRanges(t *testing.T) {
	s, store := newTestServer(t)
	store.SetReady()
	require.NoError(t, store.SetMetadataVersion(42))
	store.SetBackupRanges([]txnpb.KeyRange{{Begin: txnpb.Key("a"), End: txnpb.Key("z")}})

	reply, err := s.SnapRequest(context.Background())
	require.NoError(t, err)
	require.Equal(t, txnpb.Version(42), reply.MetadataVersion)
	require.Len(t, reply.BackupRanges, 1)
}

func TestAdmitRejectsWhenAtCapacity(t *testing.T) {
	s, store := newTestServer(t)
	store.SetReady()
	s.cap = 1

	release, err := s.admit()
	require.NoError(t, err)

	_, err = s.GetKeyServerLocations(context.Background(), txnpb.Key("a"), nil, 0, false)
	require.ErrorIs(t, err, txnpb.ErrQueueOverflow)

	release()
	_, err = s.GetKeyServerLocations(context.Background(), txnpb.Key("a"), nil, 0, false)
	require.NoError(t, err)
}
