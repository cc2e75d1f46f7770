package timeutil

import (
	"sync"
	"time"
)

// ManualTime is a TimeSource callers advance explicitly, letting tests
// drive the GRV and commit batching loops deterministically instead of
// racing real wall-clock timers.
type ManualTime struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

// NewManualTime constructs a ManualTime starting at initial.
func NewManualTime(initial time.Time) *ManualTime {
	return &ManualTime{now: initial}
}

func (m *ManualTime) Now() time.Time { m.mu.Lock(); defer m.mu.Unlock(); return m.now }

func (m *ManualTime) Since(t time.Time) time.Duration { return m.Now().Sub(t) }

func (m *ManualTime) After(d time.Duration) <-chan time.Time {
	return m.NewTimer(d).C()
}

func (m *ManualTime) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{owner: m, c: make(chan time.Time, 1), deadline: m.now.Add(d)}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer whose
// deadline is now due.
func (m *ManualTime) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	live := m.timers[:0]
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.deadline.After(now) {
			due = append(due, t)
			continue
		}
		live = append(live, t)
	}
	m.timers = live
	m.mu.Unlock()

	for _, t := range due {
		t.fire(now)
	}
}

type manualTimer struct {
	owner    *ManualTime
	mu       sync.Mutex
	c        chan time.Time
	deadline time.Time
	stopped  bool
}

func (t *manualTimer) C() <-chan time.Time { return t.c }

func (t *manualTimer) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.c <- now:
	default:
	}
}

func (t *manualTimer) Reset(d time.Duration) {
	t.mu.Lock()
	t.stopped = false
	t.mu.Unlock()

	t.owner.mu.Lock()
	t.deadline = t.owner.now.Add(d)
	t.owner.timers = append(t.owner.timers, t)
	t.owner.mu.Unlock()
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasRunning := !t.stopped
	t.stopped = true
	return wasRunning
}
