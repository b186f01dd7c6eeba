// Package outbox implements the transactional outbox: durable event rows
// written atomically with aggregate state and dispatched later by a
// restart-safe background worker.
package outbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrStoreRequired     = errors.New("outbox store is required")
	ErrTransportRequired = errors.New("transport is required")
	ErrRecordRequired    = errors.New("outbox record is required")
	ErrPayloadRequired   = errors.New("outbox payload is required")
	ErrStatusInvalid     = errors.New("invalid outbox status")
)

// Status is the closed lifecycle enumeration of an outbox record.
type Status string

const (
	StatusPending      Status = "pending"
	StatusDispatching  Status = "dispatching"
	StatusDispatched   Status = "dispatched"
	StatusDeadLettered Status = "dead_lettered"
)

// ParseStatus validates a raw status read from storage.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrStatusInvalid, raw)
	}
	return s, nil
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDispatching, StatusDispatched, StatusDeadLettered:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusDispatched || s == StatusDeadLettered
}

// CanTransitionTo encodes the dispatch state machine: pending is claimed to
// dispatching; dispatching resolves to dispatched, back to pending on a
// transient failure or lease expiry, or to dead_lettered at the attempt
// ceiling.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusDispatching
	case StatusDispatching:
		return next == StatusPending || next == StatusDispatched || next == StatusDeadLettered
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// Record is one durable outbox row. Created atomically with the aggregate's
// state change, mutated only by the dispatcher, never deleted.
type Record struct {
	ID            int64
	EventID       uuid.UUID
	EventType     string
	AggregateType string
	CorrelationID string
	Destination   string
	Payload       []byte
	Status        Status
	Attempts      int
	LastError     string
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	NextAttemptAt time.Time
	DispatchedAt  *time.Time
}
