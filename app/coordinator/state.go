package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/batch"
)

// safetyMargin is added on top of the batch window before processing starts,
// giving late submissions time to land in storage.
const safetyMargin = 2 * time.Minute

// State aggregates everything that stays constant while one batch is being
// processed and changes between batches. Transitions go through its methods
// so retry accounting cannot drift.
type State struct {
	Logger *zap.Logger

	Batch       batch.Batch
	RetriesLeft int
	LoopCount   int
	Stop        bool

	retryCount int
	timestamp  time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewState(logger *zap.Logger, b batch.Batch, retryCount int) *State {
	s := &State{
		Logger:      logger,
		Batch:       b,
		RetriesLeft: retryCount,
		retryCount:  retryCount,
		now:         func() time.Time { return time.Now().UTC() },
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
	s.timestamp = s.now()
	return s
}

// WaitUntilBatchEnds sleeps until the batch window has closed, plus the
// safety margin. Returns early only when the context is cancelled.
func (s *State) WaitUntilBatchEnds(ctx context.Context) error {
	end := s.Batch.EndTime()
	if end.After(s.timestamp) {
		wait := end.Sub(s.timestamp) + safetyMargin
		s.Logger.Info("Waiting for batch window to close",
			zap.Duration("wait", wait),
			zap.Time("until", s.timestamp.Add(wait)))
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
		s.timestamp = s.now()
	}
	return nil
}

// AdvanceToNextBatch moves the state to the following batch window, anchored
// on the bot_log row the finished batch produced.
func (s *State) AdvanceToNextBatch(botLogID int64) {
	s.RetriesLeft = s.retryCount
	s.Batch = s.Batch.Next(botLogID)
	s.warnIfWorkTookLonger()
	s.nextLoop()
	s.timestamp = s.now()
}

// RetryBatch burns one retry for the current batch. When the budget is spent
// it flags the loop to stop instead.
func (s *State) RetryBatch() {
	if s.RetriesLeft > 0 {
		s.RetriesLeft--
		s.Logger.Error("Batch processing failed, retrying",
			zap.Int("retries_left", s.RetriesLeft))
	} else {
		s.Logger.Error("Batch processing failed, retry count exceeded, stopping")
		s.Stop = true
	}
	s.warnIfWorkTookLonger()
	s.nextLoop()
	s.timestamp = s.now()
}

func (s *State) nextLoop() {
	s.LoopCount++
	s.Logger.Info("Loop pass finished", zap.Int("loop_count", s.LoopCount))
}

func (s *State) warnIfWorkTookLonger() {
	now := s.now()
	if !now.Before(s.Batch.EndTime()) {
		s.Logger.Warn("Batch processing took longer than the survey window, progressing anyway",
			zap.Time("batch_end", s.Batch.EndTime()),
			zap.Time("current", now))
	}
}
