package testutil

import (
	"context"
	"sync"
)

// PublishedEvent is one call recorded by InMemoryPublisher.
type PublishedEvent struct {
	Name         string
	PartitionKey string
	Payload      interface{}
}

// InMemoryPublisher records events instead of sending them.
type InMemoryPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
	Err    error
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) Publish(_ context.Context, eventName, partitionKey string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, PublishedEvent{Name: eventName, PartitionKey: partitionKey, Payload: payload})
	return nil
}

func (p *InMemoryPublisher) Close() error {
	return nil
}

func (p *InMemoryPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedEvent(nil), p.events...)
}

func (p *InMemoryPublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	p.Err = nil
}
