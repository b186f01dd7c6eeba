// Package transport carries dispatched events to the external bus.
package transport

import "context"

// Message is one outbound publication.
type Message struct {
	// Destination is the logical topic.
	Destination string
	// Type is the event's logical type name.
	Type string
	// EventID is the originating event id; consumers use it as the delivery
	// id for deduplication.
	EventID string
	// CorrelationID keys partitioning so causally related messages stay
	// ordered.
	CorrelationID string
	Payload       []byte
}

// Transport publishes messages. Publish must respect ctx cancellation and
// may be called concurrently for messages with different correlation ids.
type Transport interface {
	Publish(ctx context.Context, msg Message) error
}
