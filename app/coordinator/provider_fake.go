package coordinator

import (
	"context"
	"fmt"
	"sync"
)

// FakeBackend records launches and plays back scripted statuses. Units with
// no script succeed on first poll.
type FakeBackend struct {
	mu       sync.Mutex
	launches []Unit
	scripts  map[int][]UnitStatus // by unit index
	seq      int
	handles  map[Handle]int
}

var _ Backend = (*FakeBackend)(nil)

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		scripts: make(map[int][]UnitStatus),
		handles: make(map[Handle]int),
	}
}

// Script sets the sequence of statuses the unit at index reports across
// successive polls. The last status repeats once the script runs out.
func (b *FakeBackend) Script(index int, statuses ...UnitStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[index] = statuses
}

func (b *FakeBackend) Launch(_ context.Context, unit Unit) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launches = append(b.launches, unit)
	b.seq++
	h := Handle(fmt.Sprintf("fake-%d-%d", unit.Index, b.seq))
	b.handles[h] = unit.Index
	return h, nil
}

func (b *FakeBackend) Poll(_ context.Context, h Handle) (UnitStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	index, ok := b.handles[h]
	if !ok {
		return UnitFailed, fmt.Errorf("unknown handle %s", h)
	}
	script := b.scripts[index]
	if len(script) == 0 {
		return UnitSucceeded, nil
	}
	status := script[0]
	if len(script) > 1 {
		b.scripts[index] = script[1:]
	}
	return status, nil
}

func (b *FakeBackend) Close() {}

// Launches returns every unit launched so far, relaunches included.
func (b *FakeBackend) Launches() []Unit {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Unit, len(b.launches))
	copy(out, b.launches)
	return out
}
