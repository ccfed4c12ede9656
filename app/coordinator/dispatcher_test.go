package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDispatcher(backend Backend, budget int) *Dispatcher {
	d := NewDispatcher(zap.NewNop(), backend, budget)
	d.PollInterval = time.Millisecond
	return d
}

func testUnits(n int) []Unit {
	start := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)
	units := make([]Unit, n)
	for i := range units {
		units[i] = Unit{Index: i, Start: start, End: start.Add(time.Minute)}
	}
	return units
}

func TestDispatchAllSucceed(t *testing.T) {
	backend := NewFakeBackend()
	backend.Script(0, UnitRunning, UnitRunning, UnitSucceeded)

	d := newTestDispatcher(backend, 0)
	_, err := d.Dispatch(context.Background(), testUnits(3))
	require.NoError(t, err)
	require.Len(t, backend.Launches(), 3)
}

func TestDispatchRelaunchesFailedUnit(t *testing.T) {
	backend := NewFakeBackend()
	backend.Script(1, UnitFailed, UnitSucceeded)

	d := newTestDispatcher(backend, 2)
	_, err := d.Dispatch(context.Background(), testUnits(2))
	require.NoError(t, err)

	// Unit 1 was launched twice: the initial attempt plus one relaunch.
	var unit1Launches int
	for _, u := range backend.Launches() {
		if u.Index == 1 {
			unit1Launches++
		}
	}
	require.Equal(t, 2, unit1Launches)
}

func TestDispatchFailsWhenBudgetExhausted(t *testing.T) {
	backend := NewFakeBackend()
	backend.Script(0, UnitFailed)

	d := newTestDispatcher(backend, 0)
	_, err := d.Dispatch(context.Background(), testUnits(1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "budget exhausted")
}

func TestDispatchStopsOnContextCancel(t *testing.T) {
	backend := NewFakeBackend()
	backend.Script(0, UnitRunning)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDispatcher(backend, 0)
	_, err := d.Dispatch(ctx, testUnits(1))
	require.ErrorIs(t, err, context.Canceled)
}
