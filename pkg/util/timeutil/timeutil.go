// Package timeutil provides a mockable notion of "now" so that the
// GRV and commit batching loops can be driven deterministically in
// tests, mirroring the teacher's pkg/util/timeutil.
package timeutil

import "time"

// TimeSource abstracts wall-clock access.
type TimeSource interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTimer(d time.Duration) Timer
	After(d time.Duration) <-chan time.Time
}

// Timer abstracts time.Timer for manual advancement in tests.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop() bool
}

type realTimeSource struct{}

// RealTimeSource is the production TimeSource backed by the standard
// library clock.
var RealTimeSource TimeSource = realTimeSource{}

func (realTimeSource) Now() time.Time                       { return time.Now() }
func (realTimeSource) Since(t time.Time) time.Duration       { return time.Since(t) }
func (realTimeSource) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realTimeSource) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time { return r.t.C }
func (r *realTimer) Reset(d time.Duration) {
	if !r.t.Stop() {
		select {
		case <-r.t.C:
		default:
		}
	}
	r.t.Reset(d)
}
func (r *realTimer) Stop() bool { return r.t.Stop() }
