package txnpb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitStatusCombineTakesMinimum(t *testing.T) {
	require.Equal(t, StatusCommitted, StatusCommitted.Combine(StatusCommitted))
	require.Equal(t, StatusConflict, StatusCommitted.Combine(StatusConflict))
	require.Equal(t, StatusTooOld, StatusCommitted.Combine(StatusTooOld))
	require.Equal(t, StatusConflict, StatusTooOld.Combine(StatusConflict))
}

func TestHasTag(t *testing.T) {
	txn := &Transaction{Tags: []Tag{"a", "b"}}
	require.True(t, txn.HasTag("a"))
	require.False(t, txn.HasTag("c"))
}

func TestTotalMutationBytes(t *testing.T) {
	txn := &Transaction{Mutations: []Mutation{
		{Kind: MutationSet, Key: Key("abc"), Value: []byte("de")},
	}}
	require.Equal(t, int64(3+0+2+16), txn.TotalMutationBytes())
}
