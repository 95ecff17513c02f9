package store

import "context"

// EventStoreInterface is the authoritative store: one event stream per
// pickup code (or stock item), append-only, versions dense per stream.
type EventStoreInterface interface {
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error)
	GetEvents(aggregateID string) []Event
	GetAllEvents() []Event
	GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) []Event
	ListAggregateIDs(aggregateType string) []string

	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
}
