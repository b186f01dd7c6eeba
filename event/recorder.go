package event

import (
	"time"

	"github.com/google/uuid"
)

// Aggregate is a consistency boundary that accumulates domain events during
// one unit of work. The pending sequence belongs to the aggregate alone; the
// outbox writer reads it and clears it after a successful commit.
type Aggregate interface {
	AggregateType() string
	AggregateID() string
	PendingEvents() []Recorded
	ClearEvents()
}

// Recorder is the embeddable capture half of Aggregate. Business methods call
// Record when a state change warrants an event; Recorder does no validation.
type Recorder struct {
	pending []Recorded
}

// Record appends e to the pending sequence, stamping identity and occurrence
// time. Insertion order is preserved.
func (r *Recorder) Record(e Event) {
	r.pending = append(r.pending, Recorded{
		ID:         uuid.New(),
		OccurredAt: time.Now().UTC(),
		Event:      e,
	})
}

// PendingEvents returns the captured events in insertion order. The returned
// slice is a copy; mutating it does not affect the recorder.
func (r *Recorder) PendingEvents() []Recorded {
	out := make([]Recorded, len(r.pending))
	copy(out, r.pending)
	return out
}

// ClearEvents empties the pending sequence. Called by the outbox writer only
// after the unit-of-work commit succeeded.
func (r *Recorder) ClearEvents() {
	r.pending = nil
}
