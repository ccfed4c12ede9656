package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Dispatcher launches a batch's work units on a Backend and polls them to
// completion. RetryBudget is how many times a failed unit is relaunched
// before the whole dispatch fails; backends that retry internally run with a
// zero budget.
type Dispatcher struct {
	Logger       *zap.Logger
	Backend      Backend
	PollInterval time.Duration
	RetryBudget  int
}

type unitState struct {
	unit     Unit
	handle   Handle
	failures int
}

func NewDispatcher(logger *zap.Logger, backend Backend, retryBudget int) *Dispatcher {
	return &Dispatcher{
		Logger:       logger,
		Backend:      backend,
		PollInterval: 10 * time.Second,
		RetryBudget:  retryBudget,
	}
}

// Dispatch blocks until every unit reaches a terminal state and returns the
// round-trip duration. Any unit exhausting its retry budget aborts the
// dispatch; the batch is then retried or abandoned by the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, units []Unit) (time.Duration, error) {
	started := time.Now()

	inflight := xsync.NewMap[Handle, *unitState]()
	for _, unit := range units {
		handle, err := d.Backend.Launch(ctx, unit)
		if err != nil {
			return time.Since(started), fmt.Errorf("dispatch: launch unit %d: %w", unit.Index, err)
		}
		inflight.Store(handle, &unitState{unit: unit, handle: handle})
	}
	d.Logger.Info("Dispatched work units", zap.Int("count", len(units)))

	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for inflight.Size() > 0 {
		select {
		case <-ctx.Done():
			return time.Since(started), fmt.Errorf("dispatch: %w", ctx.Err())
		case <-ticker.C:
		}

		var pollErr error
		inflight.Range(func(handle Handle, st *unitState) bool {
			status, err := d.Backend.Poll(ctx, handle)
			if err != nil {
				// Transient. The unit stays in flight and is polled again.
				d.Logger.Warn("Poll failed",
					zap.String("handle", string(handle)),
					zap.Error(err))
				return true
			}
			switch status {
			case UnitSucceeded:
				d.Logger.Info("Work unit succeeded",
					zap.Int("unit", st.unit.Index),
					zap.String("handle", string(handle)))
				inflight.Delete(handle)
			case UnitFailed:
				st.failures++
				if st.failures > d.RetryBudget {
					pollErr = fmt.Errorf("dispatch: unit %d failed %d times, budget exhausted", st.unit.Index, st.failures)
					return false
				}
				d.Logger.Warn("Work unit failed, relaunching",
					zap.Int("unit", st.unit.Index),
					zap.Int("failures", st.failures),
					zap.Int("budget", d.RetryBudget))
				inflight.Delete(handle)
				newHandle, err := d.Backend.Launch(ctx, st.unit)
				if err != nil {
					pollErr = fmt.Errorf("dispatch: relaunch unit %d: %w", st.unit.Index, err)
					return false
				}
				st.handle = newHandle
				inflight.Store(newHandle, st)
			case UnitRunning:
			}
			return true
		})
		if pollErr != nil {
			return time.Since(started), pollErr
		}
	}

	duration := time.Since(started)
	d.Logger.Info("All work units finished", zap.Duration("duration", duration))
	return duration, nil
}
