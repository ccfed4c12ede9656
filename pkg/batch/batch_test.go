package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitExactness(t *testing.T) {
	// Start with non-zero microseconds to catch rounding drift.
	start := time.Date(2023, 11, 6, 15, 35, 47, 630499000, time.UTC)
	b := Batch{StartTime: start, Interval: 5 * time.Minute, LogRef: CommittedRef(1)}

	parts := b.Split(10)
	require.Len(t, parts, 10)

	assert.Equal(t, start, parts[0].Start)
	assert.Equal(t, start.Add(30*time.Second), parts[0].End)
	for i := 0; i < 9; i++ {
		assert.Equal(t, parts[i].End, parts[i+1].Start, "boundary %d must chain exactly", i)
	}
	assert.Equal(t, b.EndTime(), parts[9].End)
}

func TestSplitNonDivisible(t *testing.T) {
	start := time.Date(2024, 2, 29, 23, 58, 29, 0, time.UTC)
	b := Batch{StartTime: start, Interval: 100 * time.Second}

	parts := b.Split(3)
	require.Len(t, parts, 3)
	for i := 0; i < 2; i++ {
		assert.Equal(t, parts[i].End, parts[i+1].Start)
	}
	assert.Equal(t, b.EndTime(), parts[2].End, "final endpoint must equal batch end exactly")
}

func TestNext(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	b := Batch{StartTime: start, Interval: 20 * time.Minute, LogRef: CommittedRef(42)}

	next := b.Next(43)
	assert.Equal(t, b.EndTime(), next.StartTime)
	assert.Equal(t, b.Interval, next.Interval)
	assert.Equal(t, int64(43), next.LogRef.ID)
	assert.False(t, next.LogRef.Committed)

	// The original batch is untouched.
	assert.Equal(t, int64(42), b.LogRef.ID)
	assert.True(t, b.LogRef.Committed)
}

func TestEndTime(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b := Batch{StartTime: start, Interval: 20 * time.Minute}
	assert.Equal(t, start.Add(20*time.Minute), b.EndTime())
}
