// Package publisher forwards cycle events to NATS.
package publisher

import (
	"context"
	"fmt"

	"github.com/blockedby/tg-harvester/internal/collector"
	"github.com/blockedby/tg-harvester/internal/nats"
)

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(ctx context.Context, subject string, data any) error
}

// NATSPublisher implements collector.EventPublisher
type NATSPublisher struct {
	js NATSClient
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(client NATSClient) *NATSPublisher {
	return &NATSPublisher{js: client}
}

// Subject returns the subject an event type is published on.
func Subject(eventType string) string {
	return nats.SubjectPrefix + "cycles." + eventType
}

// PublishCycleEvent publishes a cycle progress event
func (p *NATSPublisher) PublishCycleEvent(ctx context.Context, event collector.CycleEvent) error {
	if err := p.js.Publish(ctx, Subject(event.Type), event); err != nil {
		return fmt.Errorf("publish cycle event: %w", err)
	}
	return nil
}
