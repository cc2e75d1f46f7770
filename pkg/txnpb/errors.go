package txnpb

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"
)

// Kind classifies an error into the taxonomy of spec.md §7. Kind is
// not itself an error type — it labels sentinel errors so that a
// wrapped error can be classified with errors.Is regardless of how
// much context.Wrapf-ing happened along the way.
type Kind int8

const (
	// KindRetryable errors are safe for the client to retry:
	// not_committed, transaction_too_old, future_version,
	// tag_throttled, database_locked.
	KindRetryable Kind = iota
	// KindMaybeCommitted covers commit_unknown_result: the reply was
	// lost after the log push, so the client must probe rather than
	// blindly retry.
	KindMaybeCommitted
	// KindSoftLocal errors are replied to the caller but leave the
	// server running: queue-overflow, memory-limit-exceeded.
	KindSoftLocal
	// KindFatalLocal errors cause the server to exit cleanly so a new
	// one can be recruited: worker_removed, tlog_stopped,
	// master_tlog_failed, coordinator changes.
	KindFatalLocal
	// KindProgrammer marks an internal assertion violation. Never
	// wrapped and returned to a client; always aborts (see
	// util/log.Fatalf).
	KindProgrammer
)

// sentinel is a marked base error; every exported Err* value below is
// one, so KindOf can recover it after arbitrary Wrapf layers.
type sentinel struct {
	kind Kind
	code codes.Code
	msg  string
}

func (s *sentinel) Error() string { return s.msg }

func newSentinel(kind Kind, code codes.Code, msg string) error {
	return &sentinel{kind: kind, code: code, msg: msg}
}

// Retryable errors.
var (
	ErrNotCommitted    = newSentinel(KindRetryable, codes.Aborted, "not_committed")
	ErrTransactionTooOld = newSentinel(KindRetryable, codes.FailedPrecondition, "transaction_too_old")
	ErrFutureVersion   = newSentinel(KindRetryable, codes.FailedPrecondition, "future_version")
	ErrTagThrottled    = newSentinel(KindRetryable, codes.ResourceExhausted, "tag_throttled")
	ErrDatabaseLocked  = newSentinel(KindRetryable, codes.FailedPrecondition, "database_locked")
	ErrBatchTransactionThrottled = newSentinel(KindRetryable, codes.ResourceExhausted, "batch_transaction_throttled")
	// ErrTxnStateNotReady is returned by the location service and other
	// txn-state readers before the commit pipeline has applied its
	// first batch (spec.md §5 "Shared resource policy": reads are gated
	// "after validity is signaled").
	ErrTxnStateNotReady = newSentinel(KindRetryable, codes.Unavailable, "txn_state_not_ready")
)

// Maybe-committed.
var ErrCommitUnknownResult = newSentinel(KindMaybeCommitted, codes.Unknown, "commit_unknown_result")

// Soft-local.
var (
	ErrProxyMemoryLimitExceeded = newSentinel(KindSoftLocal, codes.ResourceExhausted, "proxy_memory_limit_exceeded")
	ErrQueueOverflow            = newSentinel(KindSoftLocal, codes.ResourceExhausted, "queue_overflow")
)

// Fatal-local.
var (
	ErrWorkerRemoved     = newSentinel(KindFatalLocal, codes.Unavailable, "worker_removed")
	ErrTLogStopped       = newSentinel(KindFatalLocal, codes.Unavailable, "tlog_stopped")
	ErrMasterTLogFailed  = newSentinel(KindFatalLocal, codes.Unavailable, "master_tlog_failed")
	ErrCoordinatorsChanged = newSentinel(KindFatalLocal, codes.Unavailable, "coordinators_changed")
)

// Programmer error.
var ErrInternalAssertion = newSentinel(KindProgrammer, codes.Internal, "internal_assertion_violation")

var errVersionstampOffsetOutOfRange = errors.New("txnpb: versionstamp offset out of range")

// KindOf classifies err against the taxonomy above by walking its
// error chain with errors.As, so wrapped errors (errors.Wrapf) still
// classify correctly.
func KindOf(err error) (Kind, bool) {
	var s *sentinel
	if errors.As(err, &s) {
		return s.kind, true
	}
	return 0, false
}

// CodeOf returns the grpc status code associated with a sentinel error
// in err's chain, or codes.Unknown if none is found. txncore never
// speaks gRPC on the wire (transport is out of scope per spec.md §1),
// but classifying errors into the grpc code space gives every
// collaborator boundary a shared, well-understood vocabulary instead
// of a bespoke one.
func CodeOf(err error) codes.Code {
	var s *sentinel
	if errors.As(err, &s) {
		return s.code
	}
	return codes.Unknown
}
