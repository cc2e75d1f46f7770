package commit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatermarkWaitAtLeast(t *testing.T) {
	w := NewWatermark(-1)
	require.Equal(t, int64(-1), w.Value())

	done := make(chan error, 1)
	go func() { done <- w.WaitAtLeast(context.Background(), 3) }()

	select {
	case <-done:
		t.Fatal("WaitAtLeast returned before the watermark advanced")
	case <-time.After(20 * time.Millisecond):
	}

	w.Advance(2)
	select {
	case <-done:
		t.Fatal("WaitAtLeast returned before the watermark reached the target")
	case <-time.After(20 * time.Millisecond):
	}

	w.Advance(3)
	require.NoError(t, <-done)
}

func TestWatermarkAdvanceMonotonic(t *testing.T) {
	w := NewWatermark(5)
	w.Advance(3)
	require.Equal(t, int64(5), w.Value())
	w.Advance(10)
	require.Equal(t, int64(10), w.Value())
}

func TestWatermarkWaitAtLeastCancelled(t *testing.T) {
	w := NewWatermark(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, w.WaitAtLeast(ctx, 1))
}
