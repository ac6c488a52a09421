// Package messaging defines the event publishing contract used by the services.
package messaging

import (
	"context"
)

// PurchasesCompletedSubject is the subject for events emitted after a checkout commits.
const PurchasesCompletedSubject = "purchases.completed"

type Event interface {
	Subject() string
	Payload() ([]byte, error)
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
