package commit

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredb/txncore/pkg/txnpb"
)

func TestPrepareVersionstampsRewritesKeyAndAddsConflictRange(t *testing.T) {
	template := make([]byte, 10+4)
	txn := &txnpb.Transaction{
		Mutations: []txnpb.Mutation{{
			Kind:               txnpb.MutationSetVersionstampedKey,
			Key:                append(txnpb.Key("prefix/"), template...),
			VersionstampOffset: uint32(len("prefix/")),
		}},
	}

	prepareVersionstamps([]*txnpb.Transaction{txn}, txnpb.Version(42))

	got := txn.Mutations[0].Key
	require.Len(t, got, len("prefix/")+10)
	version := binary.BigEndian.Uint64(got[len("prefix/") : len("prefix/")+8])
	require.Equal(t, uint64(42), version)
	require.Len(t, txn.WriteConflictRanges, 1)
	require.Equal(t, txnpb.Key(got), txn.WriteConflictRanges[0].Begin)
}

func TestPrepareVersionstampsValueDoesNotAddConflictRange(t *testing.T) {
	template := make([]byte, 10+4)
	txn := &txnpb.Transaction{
		Mutations: []txnpb.Mutation{{
			Kind:               txnpb.MutationSetVersionstampedValue,
			Key:                txnpb.Key("k"),
			Value:              template,
			VersionstampOffset: 0,
		}},
	}

	prepareVersionstamps([]*txnpb.Transaction{txn}, txnpb.Version(7))

	require.Len(t, txn.Mutations[0].Value, 10)
	require.Empty(t, txn.WriteConflictRanges)
}

func TestPrepareLockAwarenessSynthesizesRangeForMetadataTxn(t *testing.T) {
	txn := &txnpb.Transaction{
		ReadVersion: 5,
		Mutations:   []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.MetadataKeyRange.Begin}},
	}
	prepareLockAwareness([]*txnpb.Transaction{txn})

	require.Len(t, txn.ReadConflictRanges, 1)
	require.Equal(t, databaseLockedKey, txn.ReadConflictRanges[0].Range.Begin)
	require.Equal(t, txnpb.Version(5), txn.ReadConflictRanges[0].ReadSnapshot)
}

func TestPrepareLockAwarenessSkipsLockAwareTxn(t *testing.T) {
	txn := &txnpb.Transaction{
		Flags:     txnpb.Flags{LockAware: true},
		Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.MetadataKeyRange.Begin}},
	}
	prepareLockAwareness([]*txnpb.Transaction{txn})
	require.Empty(t, txn.ReadConflictRanges)
}

func TestPrepareLockAwarenessSkipsNonMetadataTxn(t *testing.T) {
	txn := &txnpb.Transaction{
		Mutations: []txnpb.Mutation{{Kind: txnpb.MutationSet, Key: txnpb.Key("regular")}},
	}
	prepareLockAwareness([]*txnpb.Transaction{txn})
	require.Empty(t, txn.ReadConflictRanges)
}
