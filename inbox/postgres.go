package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventpipe/libs/db"
)

// PostgresLedger persists inbox records. See schema.sql for the table DDL.
type PostgresLedger struct {
	pool *db.Pool
}

func NewPostgresLedger(pool *db.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) TryBegin(ctx context.Context, deliveryID, eventType string, now time.Time, lease time.Duration) (Decision, error) {
	if deliveryID == "" {
		return DecisionInFlight, ErrDeliveryIDRequired
	}

	tag, err := l.pool.Exec(ctx, `
		INSERT INTO inbox_records (delivery_id, event_type, status, attempts, received_at)
		VALUES ($1, $2, 'in_progress', 1, $3)
		ON CONFLICT (delivery_id) DO NOTHING
	`, deliveryID, eventType, now)
	if err != nil {
		return DecisionInFlight, err
	}
	if tag.RowsAffected() == 1 {
		return DecisionProceed, nil
	}

	var status string
	if err := l.pool.QueryRow(ctx, `
		SELECT status FROM inbox_records WHERE delivery_id = $1
	`, deliveryID).Scan(&status); err != nil {
		return DecisionInFlight, err
	}
	if Status(status) == StatusCompleted {
		return DecisionDuplicate, nil
	}

	// In progress: re-claim only if the previous attempt's lease expired. The
	// guarded conditional update makes concurrent re-claims safe.
	cutoff := now.Add(-lease)
	tag, err = l.pool.Exec(ctx, `
		UPDATE inbox_records
		SET received_at = $2, attempts = attempts + 1
		WHERE delivery_id = $1 AND status = 'in_progress' AND received_at <= $3
	`, deliveryID, now, cutoff)
	if err != nil {
		return DecisionInFlight, err
	}
	if tag.RowsAffected() == 1 {
		return DecisionProceed, nil
	}

	// Lost the race or the holder is still live. Re-check for a completion
	// that landed in between.
	if err := l.pool.QueryRow(ctx, `
		SELECT status FROM inbox_records WHERE delivery_id = $1
	`, deliveryID).Scan(&status); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return DecisionInFlight, err
	}
	if Status(status) == StatusCompleted {
		return DecisionDuplicate, nil
	}
	return DecisionInFlight, nil
}

func (l *PostgresLedger) Complete(ctx context.Context, deliveryID string, now time.Time) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE inbox_records
		SET status = 'completed', processed_at = $2, last_error = ''
		WHERE delivery_id = $1 AND status = 'in_progress'
	`, deliveryID, now)
	return err
}

func (l *PostgresLedger) Fail(ctx context.Context, deliveryID, cause string) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE inbox_records
		SET last_error = $2
		WHERE delivery_id = $1 AND status = 'in_progress'
	`, deliveryID, cause)
	return err
}

func (l *PostgresLedger) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*Record, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT delivery_id, event_type, status, attempts, last_error, received_at, processed_at
		FROM inbox_records
		WHERE status = 'in_progress' AND received_at < $1
		ORDER BY received_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.DeliveryID, &rec.EventType, &status, &rec.Attempts,
			&rec.LastError, &rec.ReceivedAt, &rec.ProcessedAt); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		records = append(records, &rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}
