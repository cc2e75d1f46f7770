// Package metric mirrors the teacher's pkg/util/metric: a small
// Registry that bundles counters, gauges, and EMA-smoothed rates for
// export via github.com/prometheus/client_golang, without exposing
// prometheus types outside this package.
package metric

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/VividCortex/ewma"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles named metrics for a single server process.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	emas     map[string]*EMA
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: map[string]*Counter{},
		gauges:   map[string]*Gauge{},
		emas:     map[string]*EMA{},
	}
}

// Counter is a monotonically increasing metric, e.g. commits or GRVs
// served. Like Gauge, it shadows its value locally so callers can read
// it back without depending on prometheus's internal encoding.
type Counter struct {
	c    prometheus.Counter
	bits uint64
}

func (c *Counter) Inc(delta float64) {
	c.c.Add(delta)
	for {
		old := atomic.LoadUint64(&c.bits)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(&c.bits, old, next) {
			return
		}
	}
}

// Value returns the counter's current total.
func (c *Counter) Value() int64 {
	return int64(math.Float64frombits(atomic.LoadUint64(&c.bits)))
}

// NewCounter registers and returns a new Counter under name.
func (r *Registry) NewCounter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Counter{c: prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})}
	r.counters[name] = c
	return c
}

// Gauge is a point-in-time metric, e.g. queue depth or budget. It
// shadows its value locally (as a bit-pattern in an atomic uint64) so
// tests and rate-accounting code can read back exactly what was set
// without depending on prometheus's internal metric encoding.
type Gauge struct {
	g      prometheus.Gauge
	bits   uint64
}

func (g *Gauge) Set(v float64) {
	g.g.Set(v)
	atomic.StoreUint64(&g.bits, math.Float64bits(v))
}
func (g *Gauge) Value() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.bits))
}

// NewGauge registers and returns a new Gauge under name.
func (r *Registry) NewGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := &Gauge{g: prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})}
	r.gauges[name] = g
	return g
}

// EMA is an exponential moving average, used for every smoothed
// quantity spec.md calls for: smoothed rate, smoothed released count,
// GRV batch interval, commit batch interval, compute-per-operation.
// The first sample seeds the average directly, so Value reflects it at
// once rather than reading 0 through ewma's warm-up period.
type EMA struct {
	mu     sync.Mutex
	e      ewma.MovingAverage
	seeded bool
}

// NewEMA constructs an EMA with the given smoothing window (in number
// of samples, per ewma.NewMovingAverage's convention).
func (r *Registry) NewEMA(name string, window float64) *EMA {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &EMA{e: ewma.NewMovingAverage(window)}
	r.emas[name] = e
	return e
}

// Add records a new sample.
func (a *EMA) Add(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.seeded {
		a.e.Set(v)
		a.seeded = true
		return
	}
	a.e.Add(v)
}

// Value returns the current smoothed value.
func (a *EMA) Value() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.e.Value()
}
