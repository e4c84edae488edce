package web

import (
	"context"

	"github.com/blockedby/tg-harvester/internal/collector"
)

// Event types pushed to websocket clients besides cycle events.
const (
	EventQRToken = "auth.qr"
	EventQRDone  = "auth.qr_done"
	EventError   = "error"
)

// WSEvent represents a structured WebSocket message
type WSEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// QRPayload is the payload of EventQRToken and EventQRDone.
type QRPayload struct {
	AccountID int64  `json:"account_id"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HubPublisher pushes cycle events to websocket clients.
type HubPublisher struct {
	hub *Hub
}

// NewHubPublisher wraps a hub as a collector.EventPublisher.
func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

// PublishCycleEvent broadcasts the event. It never fails; slow clients are dropped by the hub.
func (p *HubPublisher) PublishCycleEvent(_ context.Context, event collector.CycleEvent) error {
	p.hub.Broadcast(WSEvent{Type: event.Type, Payload: event})
	return nil
}
