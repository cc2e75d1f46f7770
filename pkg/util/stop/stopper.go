// Package stop provides the Stopper pattern the teacher uses across its
// server binaries: a single owner of a process's background tasks that
// can be cancelled once, cleanly, from any goroutine. Spec.md §5
// ("Cancellation and timeouts") calls for exactly this: a
// server-lifetime future that every task is bound to, and a small set
// of recoverable errors that trigger clean server exit.
package stop

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// Stopper coordinates orderly shutdown of a server process's tasks.
type Stopper struct {
	mu       sync.Mutex
	quiescing bool
	done      chan struct{}
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	fatalErr  error
}

// NewStopper constructs a Stopper bound to a fresh cancellable context
// derived from parent.
func NewStopper(parent context.Context) *Stopper {
	ctx, cancel := context.WithCancel(parent)
	return &Stopper{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the server-lifetime context; every suspension point
// in the GRV and commit pipelines should select on <-ctx.Done() beside
// its actual wait.
func (s *Stopper) Context() context.Context { return s.ctx }

// RunTask runs fn in a new goroutine tracked by the Stopper's
// WaitGroup, so Stop can wait for it to unwind.
func (s *Stopper) RunTask(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.quiescing {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// Fatal records a fatal-local error (spec.md §7) and begins shutdown.
// The first fatal error wins; later ones are dropped.
func (s *Stopper) Fatal(err error) {
	s.mu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	already := s.quiescing
	s.quiescing = true
	s.mu.Unlock()
	if !already {
		s.cancel()
		close(s.done)
	}
}

// Stop begins a clean, non-error shutdown.
func (s *Stopper) Stop() {
	s.mu.Lock()
	already := s.quiescing
	s.quiescing = true
	s.mu.Unlock()
	if !already {
		s.cancel()
		close(s.done)
	}
	s.wg.Wait()
}

// ShouldQuiesce reports the channel that closes once shutdown begins.
func (s *Stopper) ShouldQuiesce() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// FatalErr returns the error that triggered shutdown, if any.
func (s *Stopper) FatalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// Wait blocks until every task registered with RunTask has returned.
func (s *Stopper) Wait() { s.wg.Wait() }

// ErrUnavailable reports that the server is shutting down. None of the
// txnpb error values (including the fatal-local ones) wrap it.
var ErrUnavailable = errors.New("stop: server is shutting down")
