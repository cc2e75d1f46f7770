package commit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/txnpb"
)

func testPipelineForStatus(cfg settings.CommitConfig) *Pipeline {
	return &Pipeline{cfg: cfg}
}

func TestDetermineStatusPassesThroughNonCommitted(t *testing.T) {
	p := testPipelineForStatus(settings.Default().Commit)
	txns := []*txnpb.Transaction{{ReadVersion: 0}}
	out := p.determineStatus([]txnpb.CommitStatus{txnpb.StatusConflict}, txns, 10)
	require.Equal(t, txnpb.StatusConflict, out[0])
}

func TestDetermineStatusDemotesTooOld(t *testing.T) {
	cfg := settings.Default().Commit
	cfg.MaxReadTransactionLifeVersions = 5
	p := testPipelineForStatus(cfg)
	txns := []*txnpb.Transaction{{ReadVersion: 0}}
	out := p.determineStatus([]txnpb.CommitStatus{txnpb.StatusCommitted}, txns, 100)
	require.Equal(t, txnpb.StatusTooOld, out[0])
}

func TestDetermineStatusWithinWindowStaysCommitted(t *testing.T) {
	cfg := settings.Default().Commit
	cfg.MaxReadTransactionLifeVersions = 1000
	p := testPipelineForStatus(cfg)
	txns := []*txnpb.Transaction{{ReadVersion: 90}}
	out := p.determineStatus([]txnpb.CommitStatus{txnpb.StatusCommitted}, txns, 100)
	require.Equal(t, txnpb.StatusCommitted, out[0])
}

func TestDetermineStatusMustContainSystemKey(t *testing.T) {
	cfg := settings.Default().Commit
	cfg.MaxReadTransactionLifeVersions = 1000
	cfg.MustContainSystemKey = true
	p := testPipelineForStatus(cfg)

	withSystemKey := &txnpb.Transaction{
		ReadVersion: 90,
		Mutations:   []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.SystemKeyRange.Begin}},
	}
	withoutSystemKey := &txnpb.Transaction{
		ReadVersion: 90,
		Mutations:   []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.Key("user/a")}},
	}
	out := p.determineStatus(
		[]txnpb.CommitStatus{txnpb.StatusCommitted, txnpb.StatusCommitted},
		[]*txnpb.Transaction{withSystemKey, withoutSystemKey},
		100,
	)
	require.Equal(t, txnpb.StatusCommitted, out[0])
	require.Equal(t, txnpb.StatusConflict, out[1])
}
