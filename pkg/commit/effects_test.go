package commit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/resolve"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/txnstate"
)

func testPipelineForEffects(t *testing.T) *Pipeline {
	t.Helper()
	store, err := txnstate.Open()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &Pipeline{store: store}
}

func TestApplyPriorMetadataEffectsAppliesUnanimousGroup(t *testing.T) {
	p := testPipelineForEffects(t)
	group := coordif.StateMutationGroup{
		Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: databaseLockedKey, Value: []byte{1}}},
		Committed: true,
	}
	outcome := resolve.Outcome{StateMutationGroups: []coordif.StateMutationGroup{group, group}}

	err := p.applyPriorMetadataEffects(outcome, 2)
	require.NoError(t, err)

	locked, err := p.store.Locked()
	require.NoError(t, err)
	require.True(t, locked)
}

func TestApplyPriorMetadataEffectsSkipsNonUnanimousGroup(t *testing.T) {
	p := testPipelineForEffects(t)
	committed := coordif.StateMutationGroup{
		Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: databaseLockedKey, Value: []byte{1}}},
		Committed: true,
	}
	notCommitted := committed
	notCommitted.Committed = false
	outcome := resolve.Outcome{StateMutationGroups: []coordif.StateMutationGroup{committed, notCommitted}}

	err := p.applyPriorMetadataEffects(outcome, 2)
	require.NoError(t, err)

	locked, err := p.store.Locked()
	require.NoError(t, err)
	require.False(t, locked)
}

func TestApplyBatchMetadataMutationsSetsMetadataVersion(t *testing.T) {
	p := testPipelineForEffects(t)
	txn := &txnpb.Transaction{
		Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.MetadataKeyRange.Begin, Value: []byte("v")}},
	}
	err := p.applyBatchMetadataMutations([]*txnpb.Transaction{txn}, []txnpb.CommitStatus{txnpb.StatusCommitted}, 55)
	require.NoError(t, err)

	got, err := p.store.MetadataVersion()
	require.NoError(t, err)
	require.Equal(t, txnpb.Version(55), got)
}

func TestApplyBatchMetadataMutationsSkipsUncommitted(t *testing.T) {
	p := testPipelineForEffects(t)
	txn := &txnpb.Transaction{
		Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.MetadataKeyRange.Begin, Value: []byte("v")}},
	}
	before, err := p.store.MetadataVersion()
	require.NoError(t, err)

	err = p.applyBatchMetadataMutations([]*txnpb.Transaction{txn}, []txnpb.CommitStatus{txnpb.StatusConflict}, 55)
	require.NoError(t, err)

	after, err := p.store.MetadataVersion()
	require.NoError(t, err)
	require.Equal(t, before, after)
}
