package txnstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredb/txncore/pkg/txnpb"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreLockedDefaultsFalse(t *testing.T) {
	s := newTestStore(t)
	locked, err := s.Locked()
	require.NoError(t, err)
	require.False(t, locked)
}

func TestStoreSetLockedRoundTrips(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetLocked(true))
	locked, err := s.Locked()
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, s.SetLocked(false))
	locked, err = s.Locked()
	require.NoError(t, err)
	require.False(t, locked)
}

func TestStoreMetadataVersionDefaultsInvalid(t *testing.T) {
	s := newTestStore(t)
	v, err := s.MetadataVersion()
	require.NoError(t, err)
	require.Equal(t, txnpb.InvalidVersion, v)
}

func TestStoreSetMetadataVersionRoundTrips(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetMetadataVersion(123456))
	v, err := s.MetadataVersion()
	require.NoError(t, err)
	require.Equal(t, txnpb.Version(123456), v)
}

func TestStoreReadyDefaultsFalse(t *testing.T) {
	s := newTestStore(t)
	require.False(t, s.Ready())
	s.SetReady()
	require.True(t, s.Ready())
}

func TestStoreCoordinatorsRoundTrips(t *testing.T) {
	s := newTestStore(t)
	require.Empty(t, s.Coordinators())
	s.SetCoordinators([]string{"a:1", "b:2"})
	require.Equal(t, []string{"a:1", "b:2"}, s.Coordinators())
}

func TestStoreBackupRangesRoundTrips(t *testing.T) {
	s := newTestStore(t)
	rngs := []txnpb.KeyRange{{Begin: txnpb.Key("a"), End: txnpb.Key("m")}}
	s.SetBackupRanges(rngs)
	require.Equal(t, rngs, s.BackupRanges())
}

func TestStoreApplyBatchIsAtomicallyVisible(t *testing.T) {
	s := newTestStore(t)
	err := s.ApplyBatch([]txnpb.Mutation{
		{Kind: txnpb.MutationSet, Key: txnpb.Key("x"), Value: []byte("1")},
		{Kind: txnpb.MutationSet, Key: txnpb.Key("y"), Value: []byte("2")},
	})
	require.NoError(t, err)

	v, closer, err := s.db.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	require.NoError(t, closer.Close())
}

func TestStoreApplyClearRange(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Apply(txnpb.Mutation{Kind: txnpb.MutationSet, Key: txnpb.Key("a"), Value: []byte("1")}))
	require.NoError(t, s.Apply(txnpb.Mutation{Kind: txnpb.MutationClearRange, Key: txnpb.Key("a"), End: txnpb.Key("z")}))

	_, _, err := s.db.Get([]byte("a"))
	require.Error(t, err)
}
