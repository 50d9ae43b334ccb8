package publish

import (
	"context"
	"sync"
)

// FakePublisher records publishes in memory. It backs the fake publisher
// provider and the handler/dispatcher tests; individual universes can be
// scripted to fail.
type FakePublisher struct {
	mu        sync.Mutex
	failures  map[string]error
	published []FakeDelivery
}

type FakeDelivery struct {
	UniverseID string
	Message    []byte
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{failures: make(map[string]error)}
}

// FailUniverse makes every publish to the given universe return err.
func (f *FakePublisher) FailUniverse(universeID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[universeID] = err
}

func (f *FakePublisher) Publish(_ context.Context, universeID string, message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[universeID]; err != nil {
		return err
	}
	msg := append([]byte(nil), message...)
	f.published = append(f.published, FakeDelivery{UniverseID: universeID, Message: msg})
	return nil
}

// Published returns a copy of all successful deliveries so far.
func (f *FakePublisher) Published() []FakeDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeDelivery(nil), f.published...)
}
