package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Store is the persistence contract for outbox records. Claim and transition
// operations must be atomic conditional updates so that multiple dispatcher
// instances can run against the same table.
type Store interface {
	// Insert stages a record inside the caller's transaction.
	Insert(ctx context.Context, tx pgx.Tx, rec *Record) error

	// ClaimDue atomically moves up to limit pending records with
	// next_attempt_at <= now into dispatching, incrementing their attempt
	// count. A record is not claimable while an earlier record with the same
	// correlation id is still pending or dispatching. Returned records are
	// ordered by id.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// MarkDispatched finishes a dispatching record.
	MarkDispatched(ctx context.Context, id int64, at time.Time) error

	// Release returns a dispatching record to pending after a transient
	// failure, recording the cause and the next retry eligibility.
	Release(ctx context.Context, id int64, cause string, nextAttemptAt time.Time) error

	// DeadLetter terminally quarantines a dispatching record.
	DeadLetter(ctx context.Context, id int64, cause string) error

	// ReclaimStuck returns records stuck in dispatching since before
	// claimedBefore to pending, making them claimable again. Reports how many
	// rows were reclaimed.
	ReclaimStuck(ctx context.Context, claimedBefore time.Time, limit int) (int64, error)

	// ListDeadLettered enumerates quarantined records for operator
	// inspection, newest first.
	ListDeadLettered(ctx context.Context, limit int) ([]*Record, error)
}
