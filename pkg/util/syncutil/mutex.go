// Package syncutil wraps sync primitives with debug assertions that the
// teacher's kvserver packages rely on to catch cross-goroutine misuse of
// structures that the cooperative scheduling model in spec.md §5 assumes
// are touched by exactly one goroutine at a time.
package syncutil

import (
	"sync"

	"github.com/petermattis/goid"
)

// Mutex is a thin wrapper around sync.Mutex, kept so call sites read the
// same as the teacher's pkg/util/syncutil.
type Mutex struct {
	sync.Mutex
}

// SingleGoroutine asserts that every call to Check happens from the same
// goroutine as the first call, catching an accidental second caller of
// state owned by one goroutine. No package in this repository calls it;
// the GRV and commit batching loops do not use it.
type SingleGoroutine struct {
	mu  sync.Mutex
	gid int64
	set bool
}

// Check verifies the calling goroutine is the one first registered, or
// registers the caller if this is the first check.
func (s *SingleGoroutine) Check() {
	g := goid.Get()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.gid = g
		s.set = true
		return
	}
	if s.gid != g {
		panic("txncore: pipeline invariant violated: touched from more than one goroutine")
	}
}
