package grv

import (
	"context"

	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/util/syncutil"
)

// Request is one client GetReadVersion call, queued until a batch
// firing admits it.
type Request struct {
	Priority          txnpb.Priority
	Tags              []txnpb.Tag
	Flags             txnpb.Flags
	// reply is a move-only sink: exactly one of ok/err is sent to it,
	// exactly once, drained by the batching loop (spec.md §9 "Cyclic
	// ownership... replies are sent through move-only sinks").
	reply chan Reply
}

// Reply is what a Request eventually receives.
type Reply struct {
	Version         txnpb.Version
	Locked          bool
	MetadataVersion txnpb.Version
	TagThrottles    []TagThrottleInfo
	Err             error
}

// TagThrottleInfo is one throttle entry attached to a reply (spec.md
// §4.1 "Reply").
type TagThrottleInfo struct {
	Tag txnpb.Tag
	TPS float64
}

// Queues holds the three priority-ordered FIFOs spec.md §4.1 calls
// for. Non-work-stealing scan order (immediate, default, batch) is
// implemented by BatchLoop scanning the three slices in that fixed
// order, not by a min-heap (spec.md §9: "Avoid a min-heap; priority is
// static and small"). Enqueue is reached from client goroutines while
// Drain/Empty/AnyNonEmpty/Len are reached from the batch loop's own
// goroutine, so the slices and counters need a lock the way the
// teacher guards equivalent cross-goroutine shared state with
// syncutil.Mutex.
type Queues struct {
	mu     syncutil.Mutex
	queues [txnpb.NumPriorities][]*Request
	// inFlight tracks (queued but not yet drained) counts per
	// priority for the queue-size cap check.
	inFlight [txnpb.NumPriorities]int
}

// NewQueues constructs empty priority queues.
func NewQueues() *Queues {
	return &Queues{}
}

// Enqueue appends req to its priority's FIFO and returns the channel
// its reply will arrive on, or an error if the queue-size cap is
// exceeded (spec.md §4.1 "Queueing").
func (q *Queues) Enqueue(req *Request, cap int) (<-chan Reply, error) {
	p := int(req.Priority)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight[p] >= cap {
		return nil, txnpb.ErrProxyMemoryLimitExceeded
	}
	req.reply = make(chan Reply, 1)
	q.queues[p] = append(q.queues[p], req)
	q.inFlight[p]++
	return req.reply, nil
}

// Empty reports whether priority p's queue currently has no pending
// requests.
func (q *Queues) Empty(p txnpb.Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[p]) == 0
}

// Len reports the number of requests currently queued at priority p,
// used to size the admission binary search against the full queue
// rather than just what a batch will drain.
func (q *Queues) Len(p txnpb.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[p])
}

// AnyNonEmpty reports whether any priority has pending requests, used
// to decide whether the batch loop needs to reschedule a check
// interval (spec.md §4.1 "On any non-empty queue it reschedules a
// check interval").
func (q *Queues) AnyNonEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := 0; p < txnpb.NumPriorities; p++ {
		if len(q.queues[p]) > 0 {
			return true
		}
	}
	return false
}

// Drain removes up to n requests from priority p's front, FIFO order
// preserved.
func (q *Queues) Drain(p txnpb.Priority, n int) []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.queues[p]) == 0 {
		return nil
	}
	if n > len(q.queues[p]) {
		n = len(q.queues[p])
	}
	out := q.queues[p][:n]
	q.queues[p] = q.queues[p][n:]
	q.inFlight[p] -= n
	return out
}

// Send delivers r to req's caller exactly once, satisfying spec.md
// §3's "For each transaction, at most one reply is sent" for GRV
// requests.
func Send(req *Request, r Reply) {
	req.reply <- r
}

// SendCtx submits req to Queues and blocks for its reply or ctx
// cancellation, the shape client-facing handlers use.
func SendCtx(ctx context.Context, q *Queues, req *Request, cap int) (Reply, error) {
	ch, err := q.Enqueue(req, cap)
	if err != nil {
		return Reply{}, err
	}
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
