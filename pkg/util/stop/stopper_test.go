package stop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStopCancelsContextAndWaitsForTasks(t *testing.T) {
	s := NewStopper(context.Background())
	started := make(chan struct{})
	finished := make(chan struct{})
	s.RunTask(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(finished)
	})
	<-started
	s.Stop()

	select {
	case <-finished:
	default:
		t.Fatal("Stop returned before task unwound")
	}
	require.Error(t, s.Context().Err())
}

func TestRunTaskAfterQuiesceIsNoop(t *testing.T) {
	s := NewStopper(context.Background())
	s.Stop()

	ran := false
	s.RunTask(func(ctx context.Context) { ran = true })
	s.Wait()
	require.False(t, ran)
}

func TestFatalRecordsFirstErrorOnly(t *testing.T) {
	s := NewStopper(context.Background())
	first := ErrUnavailable
	s.Fatal(first)
	s.Fatal(context.DeadlineExceeded)
	require.Equal(t, first, s.FatalErr())

	select {
	case <-s.ShouldQuiesce():
	case <-time.After(time.Second):
		t.Fatal("ShouldQuiesce channel never closed")
	}
}
