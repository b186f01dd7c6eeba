// Package inbox deduplicates inbound deliveries so at-least-once transport
// yields effectively-exactly-once handling.
package inbox

import (
	"errors"
	"time"
)

var (
	ErrLedgerRequired     = errors.New("inbox ledger is required")
	ErrDeliveryIDRequired = errors.New("delivery id is required")
	ErrHandlerRequired    = errors.New("delivery handler is required")
)

// Status of one inbox row.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Decision is the ledger's verdict for an arriving delivery id.
type Decision int

const (
	// DecisionProceed: the delivery is new (or its lease expired); run the
	// handler.
	DecisionProceed Decision = iota
	// DecisionDuplicate: already completed; skip.
	DecisionDuplicate
	// DecisionInFlight: another attempt holds the row; skip for now.
	DecisionInFlight
)

func (d Decision) String() string {
	switch d {
	case DecisionProceed:
		return "proceed"
	case DecisionDuplicate:
		return "duplicate"
	case DecisionInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Record is one dedup tombstone, keyed by the delivery id (stable across
// redeliveries, typically the originating event id).
type Record struct {
	DeliveryID  string
	EventType   string
	Status      Status
	Attempts    int
	LastError   string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}
