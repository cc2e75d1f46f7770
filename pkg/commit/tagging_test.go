package commit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/txnstate"
)

func testPipelineForTagging(t *testing.T) *Pipeline {
	t.Helper()
	store, err := txnstate.Open()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cfg := settings.Default().Commit
	return &Pipeline{store: store, cfg: cfg}
}

func TestTagMutationsSkipsUncommitted(t *testing.T) {
	p := testPipelineForTagging(t)
	txn := &txnpb.Transaction{Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.Key("a")}}}
	msgs := p.tagMutations([]*txnpb.Transaction{txn}, []txnpb.CommitStatus{txnpb.StatusConflict}, 1)
	require.Empty(t, msgs)
}

func TestTagMutationsTagsCommittedPointWrite(t *testing.T) {
	p := testPipelineForTagging(t)
	txn := &txnpb.Transaction{Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.Key("a"), Value: []byte("1")}}}
	msgs := p.tagMutations([]*txnpb.Transaction{txn}, []txnpb.CommitStatus{txnpb.StatusCommitted}, 1)
	require.Len(t, msgs, 1)
	require.NotEmpty(t, msgs[0].Data)
}

func TestTagMutationsInterceptsBackupRange(t *testing.T) {
	p := testPipelineForTagging(t)
	dest := txnpb.KeyRange{Begin: txnpb.Key("a"), End: txnpb.Key("z")}
	p.store.SetBackupRanges([]txnpb.KeyRange{dest})

	txn := &txnpb.Transaction{Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.Key("m"), Value: []byte("1")}}}
	msgs := p.tagMutations([]*txnpb.Transaction{txn}, []txnpb.CommitStatus{txnpb.StatusCommitted}, 7)

	var sawBackupTag bool
	for _, m := range msgs {
		for _, tag := range m.Tags {
			if tag == backupTag(dest) {
				sawBackupTag = true
			}
		}
	}
	require.True(t, sawBackupTag)
}

func TestTagMutationsAddsCacheTagForCachedShard(t *testing.T) {
	p := testPipelineForTagging(t)
	rng := txnpb.KeyRange{Begin: txnpb.Key("a"), End: txnpb.Key("z")}
	p.store.Shards().SetShard(rng, &keyinfo.ShardInfo{Source: keyinfo.NewServerSet("ss1"), Cached: true})

	txn := &txnpb.Transaction{Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.Key("m"), Value: []byte("1")}}}
	msgs := p.tagMutations([]*txnpb.Transaction{txn}, []txnpb.CommitStatus{txnpb.StatusCommitted}, 1)

	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Tags, cacheTag)
	require.Contains(t, msgs[0].Tags, txnpb.Tag("ss1"))
}

func TestTagMutationsNoCacheTagForUncachedShard(t *testing.T) {
	p := testPipelineForTagging(t)
	rng := txnpb.KeyRange{Begin: txnpb.Key("a"), End: txnpb.Key("z")}
	p.store.Shards().SetShard(rng, &keyinfo.ShardInfo{Source: keyinfo.NewServerSet("ss1"), Cached: false})

	txn := &txnpb.Transaction{Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.Key("m"), Value: []byte("1")}}}
	msgs := p.tagMutations([]*txnpb.Transaction{txn}, []txnpb.CommitStatus{txnpb.StatusCommitted}, 1)

	require.Len(t, msgs, 1)
	require.NotContains(t, msgs[0].Tags, cacheTag)
}

func TestEncodeMutationRoundTripsLengths(t *testing.T) {
	m := &txnpb.Mutation{Kind: txnpb.MutationSet, Key: txnpb.Key("key"), Value: []byte("value")}
	buf := encodeMutation(m)
	require.NotEmpty(t, buf)
	require.Equal(t, byte(txnpb.MutationSet), buf[0])
}
