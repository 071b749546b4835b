package eventstore

import (
	"context"
	"time"
)

// Store defines the interface for persisting and retrieving journal events.
type Store interface {
	// Append adds a new event to the journal.
	Append(ctx context.Context, targetID, eventType string, payload []byte, metadata map[string]string) error

	// GetByTargetID retrieves all events for a specific task or group.
	GetByTargetID(ctx context.Context, targetID string) ([]Event, error)

	// GetRange retrieves events within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// Close closes the store and releases resources.
	Close() error
}
