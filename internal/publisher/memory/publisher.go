// Package memory contains an in-memory collection-event publisher for tests
// and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/pcranston/metainventory/internal/metadata"
)

// Publisher records collection events in memory so tests can assert on what
// the pipeline emitted.
type Publisher struct {
	mu     sync.RWMutex
	events []metadata.CollectionEvent
	err    error
}

// New returns an empty memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every subsequent Publish return err. Pass nil to restore
// normal operation.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the event and returns a sequence-based ID.
func (p *Publisher) Publish(_ context.Context, event metadata.CollectionEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return fmt.Sprintf("evt-%04d", len(p.events)), nil
}

// Events returns a copy of every recorded collection event, in publish order.
func (p *Publisher) Events() []metadata.CollectionEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]metadata.CollectionEvent, len(p.events))
	copy(out, p.events)
	return out
}

// EventsFor returns the recorded events for a single URL.
func (p *Publisher) EventsFor(url string) []metadata.CollectionEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []metadata.CollectionEvent
	for _, e := range p.events {
		if e.URL == url {
			out = append(out, e)
		}
	}
	return out
}
