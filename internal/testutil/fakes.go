// Package testutil provides in-process fakes for the engine's redis-backed
// collaborators so service and worker tests run without infrastructure.
package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// FakeCancelSignal keeps cancellation intent in a map.
type FakeCancelSignal struct {
	mu        sync.Mutex
	cancelled map[uuid.UUID]bool
}

func NewFakeCancelSignal() *FakeCancelSignal {
	return &FakeCancelSignal{cancelled: make(map[uuid.UUID]bool)}
}

func (f *FakeCancelSignal) RequestCancel(ctx context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[sessionID] = true
	return nil
}

func (f *FakeCancelSignal) ClearCancel(ctx context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cancelled, sessionID)
	return nil
}

func (f *FakeCancelSignal) IsCancelled(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[sessionID], nil
}

// FakeKickBus records kicks; Subscribe is a no-delivery channel since tests
// drive sweeps directly.
type FakeKickBus struct {
	mu    sync.Mutex
	kicks []uuid.UUID
}

func NewFakeKickBus() *FakeKickBus {
	return &FakeKickBus{}
}

func (f *FakeKickBus) Kick(ctx context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks = append(f.kicks, sessionID)
	return nil
}

func (f *FakeKickBus) Subscribe(ctx context.Context) (<-chan uuid.UUID, error) {
	ch := make(chan uuid.UUID)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *FakeKickBus) Kicks() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.kicks...)
}
