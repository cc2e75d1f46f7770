package commit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredb/txncore/pkg/txnpb"
)

func newTestRequest(txn *txnpb.Transaction) (*Request, <-chan Reply) {
	ch := make(chan Reply, 1)
	req := &Request{Txn: txn, reply: ch}
	return req, ch
}

func TestReplyAllCommitted(t *testing.T) {
	p := &Pipeline{}
	req, ch := newTestRequest(&txnpb.Transaction{})
	p.replyAll([]*Request{req}, []txnpb.CommitStatus{txnpb.StatusCommitted}, [][]int{nil}, 10, 20)

	r := <-ch
	require.NoError(t, r.Err)
	require.Equal(t, txnpb.Version(10), r.CommitVersion)
	require.Equal(t, txnpb.Version(20), r.MetadataVersion)
}

func TestReplyAllTooOld(t *testing.T) {
	p := &Pipeline{}
	req, ch := newTestRequest(&txnpb.Transaction{})
	p.replyAll([]*Request{req}, []txnpb.CommitStatus{txnpb.StatusTooOld}, [][]int{nil}, 10, 20)

	r := <-ch
	require.ErrorIs(t, r.Err, txnpb.ErrTransactionTooOld)
}

func TestReplyAllConflictReportsKeysWhenRequested(t *testing.T) {
	p := &Pipeline{}
	txn := &txnpb.Transaction{Flags: txnpb.Flags{ReportConflictingKeys: true}}
	req, ch := newTestRequest(txn)
	p.replyAll([]*Request{req}, []txnpb.CommitStatus{txnpb.StatusConflict}, [][]int{{0, 2}}, 10, 20)

	r := <-ch
	require.ErrorIs(t, r.Err, txnpb.ErrNotCommitted)
	require.Equal(t, []int{0, 2}, r.ConflictingKeyRanges)
}

func TestReplyAllConflictOmitsKeysWhenNotRequested(t *testing.T) {
	p := &Pipeline{}
	req, ch := newTestRequest(&txnpb.Transaction{})
	p.replyAll([]*Request{req}, []txnpb.CommitStatus{txnpb.StatusConflict}, [][]int{{0, 2}}, 10, 20)

	r := <-ch
	require.ErrorIs(t, r.Err, txnpb.ErrNotCommitted)
	require.Empty(t, r.ConflictingKeyRanges)
}
