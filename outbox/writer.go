package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventpipe/event"
	otelx "github.com/md-rashed-zaman/eventpipe/libs/otel"
)

// Beginner starts a transaction. *db.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Writer turns an aggregate's pending events into outbox rows inside the
// aggregate's own persistence transaction.
type Writer struct {
	store Store
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// Stage inserts one pending outbox row per pending event of agg into tx, in
// insertion order. The aggregate's pending sequence is left untouched;
// clearing happens only after the transaction commits (see Save).
//
// The Kafka topic equals the event type (event-per-topic convention) and the
// correlation id is the aggregate id, so all events of one aggregate share a
// dispatch order. Aggregates without an id fall back to per-event
// correlation.
func (w *Writer) Stage(ctx context.Context, tx pgx.Tx, agg event.Aggregate) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)

	for _, pending := range agg.PendingEvents() {
		payload, err := pending.Event.PayloadJSON()
		if err != nil {
			return fmt.Errorf("serialize %s: %w", pending.Event.EventType(), err)
		}

		correlationID := agg.AggregateID()
		if correlationID == "" {
			correlationID = pending.ID.String()
		}

		rec := &Record{
			EventID:       pending.ID,
			EventType:     pending.Event.EventType(),
			AggregateType: agg.AggregateType(),
			CorrelationID: correlationID,
			Destination:   pending.Event.EventType(),
			Payload:       payload,
			Status:        StatusPending,
			Traceparent:   traceparent,
			Tracestate:    tracestate,
		}
		if err := w.store.Insert(ctx, tx, rec); err != nil {
			return fmt.Errorf("stage outbox record %s: %w", rec.EventType, err)
		}
	}
	return nil
}

// Save runs one full unit of work: begin, apply the business mutation via
// mutate, stage every aggregate's pending events, commit. Pending sequences
// are cleared only after the commit succeeded; if the commit fails the events
// stay on the aggregates and neither the state change nor any outbox row is
// observable.
func (w *Writer) Save(ctx context.Context, dbx Beginner, mutate func(ctx context.Context, tx pgx.Tx) error, aggs ...event.Aggregate) error {
	tx, err := dbx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if mutate != nil {
		if err := mutate(ctx, tx); err != nil {
			return err
		}
	}

	for _, agg := range aggs {
		if err := w.Stage(ctx, tx, agg); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}

	for _, agg := range aggs {
		agg.ClearEvents()
	}
	return nil
}
