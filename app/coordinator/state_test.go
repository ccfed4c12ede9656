package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/batch"
)

func newTestState(t *testing.T, retries int) (*State, *time.Duration) {
	t.Helper()

	start := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)
	b := batch.Batch{
		StartTime: start,
		Interval:  20 * time.Minute,
		LogRef:    batch.CommittedRef(41),
	}

	s := NewState(zap.NewNop(), b, retries)
	var slept time.Duration
	s.now = func() time.Time { return start.Add(10 * time.Minute) }
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	s.timestamp = s.now()
	return s, &slept
}

func TestWaitUntilBatchEnds(t *testing.T) {
	s, slept := newTestState(t, 3)

	require.NoError(t, s.WaitUntilBatchEnds(context.Background()))

	// 10 minutes left in the window plus the safety margin.
	require.Equal(t, 12*time.Minute, *slept)
}

func TestWaitSkippedWhenWindowClosed(t *testing.T) {
	s, slept := newTestState(t, 3)
	s.timestamp = s.Batch.EndTime().Add(time.Minute)

	require.NoError(t, s.WaitUntilBatchEnds(context.Background()))
	require.Zero(t, *slept)
}

func TestAdvanceToNextBatch(t *testing.T) {
	s, _ := newTestState(t, 3)
	s.RetriesLeft = 1
	prevEnd := s.Batch.EndTime()

	s.AdvanceToNextBatch(42)

	require.Equal(t, prevEnd, s.Batch.StartTime)
	require.Equal(t, batch.ProvisionalRef(42), s.Batch.LogRef)
	require.Equal(t, 3, s.RetriesLeft)
	require.Equal(t, 1, s.LoopCount)
	require.False(t, s.Stop)
}

func TestRetryBatchDecrements(t *testing.T) {
	s, _ := newTestState(t, 2)

	s.RetryBatch()
	require.Equal(t, 1, s.RetriesLeft)
	require.False(t, s.Stop)

	s.RetryBatch()
	require.Equal(t, 0, s.RetriesLeft)
	require.False(t, s.Stop)

	s.RetryBatch()
	require.True(t, s.Stop)
}

func TestRetryDoesNotAdvanceBatch(t *testing.T) {
	s, _ := newTestState(t, 1)
	before := s.Batch

	s.RetryBatch()
	require.Equal(t, before, s.Batch)
}
