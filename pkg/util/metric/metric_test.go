package metric

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterAccumulates(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("test_counter", "help")
	c.Inc(1)
	c.Inc(2.5)
	require.Equal(t, int64(3), c.Value())
}

func TestGaugeTracksLastSet(t *testing.T) {
	r := NewRegistry()
	g := r.NewGauge("test_gauge", "help")
	g.Set(5)
	g.Set(2)
	require.Equal(t, 2.0, g.Value())
}

func TestEMASmoothsTowardSamples(t *testing.T) {
	r := NewRegistry()
	e := r.NewEMA("test_ema", 10)
	e.Add(50)
	require.InDelta(t, 50, e.Value(), 0.01)
	e.Add(50)
	require.InDelta(t, 50, e.Value(), 0.01)
}
