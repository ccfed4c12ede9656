package submissions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShard(t *testing.T) {
	matrix := []struct {
		hour, minute, second int
		expected             int
	}{
		{0, 0, 0, 0},
		{0, 0, 1, 0},
		{0, 2, 59, 1},
		{12, 1, 3, 300},
		{15, 10, 0, 379},
		{23, 22, 23, 584},
		{23, 59, 59, 599},
	}
	for _, m := range matrix {
		ts := time.Date(2024, 2, 29, m.hour, m.minute, m.second, 0, time.UTC)
		require.Equal(t, m.expected, Shard(ts), "at %02d:%02d:%02d", m.hour, m.minute, m.second)
	}
}

func TestShardsInRange(t *testing.T) {
	// Range crossing midnight touches the tail of one day and the head of
	// the next.
	start := time.Date(2024, 2, 29, 23, 58, 29, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 3, 29, 0, time.UTC)
	require.Equal(t, []int{0, 1, 599}, ShardsInRange(start, end))

	// Fully inside one bucket.
	start = time.Date(2024, 2, 29, 12, 58, 1, 0, time.UTC)
	end = time.Date(2024, 2, 29, 12, 59, 59, 0, time.UTC)
	require.Equal(t, []int{324}, ShardsInRange(start, end))

	// End lands exactly on a bucket boundary; its bucket is still included.
	start = time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	end = time.Date(2024, 2, 29, 0, 2, 24, 0, time.UTC)
	require.Equal(t, []int{0, 1}, ShardsInRange(start, end))
}

func TestDateList(t *testing.T) {
	start := time.Date(2023, 11, 6, 15, 35, 47, 630499000, time.UTC)

	end := time.Date(2023, 11, 6, 15, 45, 47, 630499000, time.UTC)
	require.Equal(t, []string{"2023-11-06"}, DateList(start, end))

	end = time.Date(2023, 11, 7, 11, 45, 47, 0, time.UTC)
	require.Equal(t, []string{"2023-11-06", "2023-11-07"}, DateList(start, end))

	end = time.Date(2023, 11, 8, 0, 0, 0, 0, time.UTC)
	require.Equal(t, []string{"2023-11-06", "2023-11-07", "2023-11-08"}, DateList(start, end))
}

func TestShardsInRangeCrossingDates(t *testing.T) {
	start := time.Date(2024, 2, 29, 23, 58, 29, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 3, 29, 0, time.UTC)
	require.Equal(t, []string{"2024-02-29", "2024-03-01"}, DateList(start, end))
}
