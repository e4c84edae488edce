package collector

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Cycle event types.
const (
	EventCycleStarted    = "cycle.started"
	EventAccountFinished = "account.finished"
	EventCycleFinished   = "cycle.finished"
)

// CycleEvent reports the progress of a cycle.
type CycleEvent struct {
	Type             string         `json:"type"`
	ParsingSessionID uuid.UUID      `json:"parsing_session_id"`
	At               time.Time      `json:"at"`
	Account          *AccountReport `json:"account,omitempty"`
	Cycle            *CycleReport   `json:"cycle,omitempty"`
}

// Publishers fans an event out to several publishers.
type Publishers []EventPublisher

// PublishCycleEvent publishes to all and joins their errors.
func (p Publishers) PublishCycleEvent(ctx context.Context, event CycleEvent) error {
	var errs []error
	for _, pub := range p {
		if pub == nil {
			continue
		}
		if err := pub.PublishCycleEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
