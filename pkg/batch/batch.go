// Package batch models the fixed-length survey windows the coordinator
// carves the timeline into.
package batch

import (
	"fmt"
	"time"
)

// LogRef points at the bot_logs row recording the previous batch's outcome.
// A provisional ref carries the id of a row written by the just-finished
// iteration that the current iteration has not yet superseded; the
// distinction is explicit rather than encoded in the sign of the id.
type LogRef struct {
	ID        int64
	Committed bool
}

// CommittedRef returns a ref to a bot_logs row read back from storage.
func CommittedRef(id int64) LogRef { return LogRef{ID: id, Committed: true} }

// ProvisionalRef returns a ref to a row written by the previous iteration.
func ProvisionalRef(id int64) LogRef { return LogRef{ID: id, Committed: false} }

func (r LogRef) String() string {
	if r.Committed {
		return fmt.Sprintf("committed(%d)", r.ID)
	}
	return fmt.Sprintf("provisional(%d)", r.ID)
}

// Interval is one contiguous [Start, End) slice of a batch window.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Batch is an immutable time window plus a backward link to the bot_logs row
// of the previous batch. A new Batch is produced by Next, never mutated.
type Batch struct {
	StartTime time.Time
	Interval  time.Duration
	LogRef    LogRef
}

// EndTime returns the exclusive end of the batch window.
func (b Batch) EndTime() time.Time {
	return b.StartTime.Add(b.Interval)
}

// Next returns the batch covering the window immediately after this one,
// referencing the given just-written bot_logs row.
func (b Batch) Next(botLogID int64) Batch {
	return Batch{
		StartTime: b.EndTime(),
		Interval:  b.Interval,
		LogRef:    ProvisionalRef(botLogID),
	}
}

// Split divides the window into n contiguous, equal-width sub-intervals.
// Each boundary is computed independently from the start time so the chain
// of endpoints is exact and the final end equals EndTime with no accumulated
// rounding drift.
func (b Batch) Split(n int) []Interval {
	if n <= 0 {
		n = 1
	}
	diff := b.Interval / time.Duration(n)
	out := make([]Interval, n)
	for i := 0; i < n; i++ {
		out[i] = Interval{
			Start: b.StartTime.Add(diff * time.Duration(i)),
			End:   b.StartTime.Add(diff * time.Duration(i+1)),
		}
	}
	// The last boundary is pinned to the batch end so a non-divisible
	// interval never leaves a gap at the tail.
	out[n-1].End = b.EndTime()
	return out
}
