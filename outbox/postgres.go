package outbox

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventpipe/libs/db"
)

// PostgresStore persists outbox records. See schema.sql for the table DDL.
type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const recordColumns = `
	id, event_id, event_type, aggregate_type, correlation_id, destination,
	payload, status, attempts, last_error, traceparent, tracestate,
	created_at, last_attempt_at, next_attempt_at, dispatched_at`

func (s *PostgresStore) Insert(ctx context.Context, tx pgx.Tx, rec *Record) error {
	if rec == nil {
		return ErrRecordRequired
	}
	if len(rec.Payload) == 0 {
		return ErrPayloadRequired
	}
	return tx.QueryRow(ctx, `
		INSERT INTO outbox_records
			(event_id, event_type, aggregate_type, correlation_id, destination,
			 payload, status, attempts, traceparent, tracestate, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING id, created_at, next_attempt_at
	`, rec.EventID, rec.EventType, rec.AggregateType, rec.CorrelationID, rec.Destination,
		rec.Payload, rec.Status, rec.Attempts, rec.Traceparent, rec.Tracestate,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.NextAttemptAt)
}

// ClaimDue uses FOR UPDATE SKIP LOCKED so concurrent dispatcher instances
// never block each other, and re-checks status = 'pending' in the UPDATE so a
// row claimed between select and update is left alone. The NOT EXISTS barrier
// keeps per-correlation FIFO: a row waits while an earlier sibling is still
// pending or dispatching (dead-lettered siblings do not hold successors).
func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT o.id
			FROM outbox_records o
			WHERE o.status = 'pending'
			  AND o.next_attempt_at <= $1
			  AND NOT EXISTS (
				SELECT 1 FROM outbox_records prior
				WHERE prior.correlation_id = o.correlation_id
				  AND prior.id < o.id
				  AND prior.status IN ('pending', 'dispatching')
			  )
			ORDER BY o.id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_records o
		SET status = 'dispatching',
		    attempts = o.attempts + 1,
		    last_attempt_at = $1
		FROM due
		WHERE o.id = due.id AND o.status = 'pending'
		RETURNING `+recordColumns+`
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	sortByID(records)
	return records, nil
}

func (s *PostgresStore) MarkDispatched(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_records
		SET status = 'dispatched', dispatched_at = $2, last_error = ''
		WHERE id = $1 AND status = 'dispatching'
	`, id, at)
	return err
}

func (s *PostgresStore) Release(ctx context.Context, id int64, cause string, nextAttemptAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_records
		SET status = 'pending', last_error = $2, next_attempt_at = $3
		WHERE id = $1 AND status = 'dispatching'
	`, id, cause, nextAttemptAt)
	return err
}

func (s *PostgresStore) DeadLetter(ctx context.Context, id int64, cause string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_records
		SET status = 'dead_lettered', last_error = $2
		WHERE id = $1 AND status = 'dispatching'
	`, id, cause)
	return err
}

func (s *PostgresStore) ReclaimStuck(ctx context.Context, claimedBefore time.Time, limit int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_records o
		SET status = 'pending', next_attempt_at = now()
		FROM (
			SELECT id FROM outbox_records
			WHERE status = 'dispatching' AND last_attempt_at < $1
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) stuck
		WHERE o.id = stuck.id AND o.status = 'dispatching'
	`, claimedBefore, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListDeadLettered(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM outbox_records
		WHERE status = 'dead_lettered'
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(
			&rec.ID, &rec.EventID, &rec.EventType, &rec.AggregateType,
			&rec.CorrelationID, &rec.Destination, &rec.Payload, &status,
			&rec.Attempts, &rec.LastError, &rec.Traceparent, &rec.Tracestate,
			&rec.CreatedAt, &rec.LastAttemptAt, &rec.NextAttemptAt, &rec.DispatchedAt,
		); err != nil {
			return nil, err
		}
		parsed, err := ParseStatus(status)
		if err != nil {
			return nil, err
		}
		rec.Status = parsed
		records = append(records, &rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func sortByID(records []*Record) {
	// RETURNING gives no ordering guarantee; dispatch order relies on id.
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}
