package service

import (
	"context"

	"github.com/shooter51/divestreams-server/internal/queue"
)

// EventPublisher delivers reservation events to downstream notification
// and webhook collaborators.  Implementations must never block or fail an
// admission or lifecycle mutation: the services invoke these methods
// after commit, in a goroutine, and discard the error beyond logging.
type EventPublisher interface {
	ReservationCreated(ctx context.Context, ev queue.ReservationCreatedEvent) error
	ReservationStatusChanged(ctx context.Context, ev queue.ReservationStatusChangedEvent) error
}

// NopPublisher drops all events.  Used when no broker is configured and
// as the default in tests.
type NopPublisher struct{}

func (NopPublisher) ReservationCreated(context.Context, queue.ReservationCreatedEvent) error {
	return nil
}

func (NopPublisher) ReservationStatusChanged(context.Context, queue.ReservationStatusChangedEvent) error {
	return nil
}
