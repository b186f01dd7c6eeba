package inbox

import (
	"context"
	"time"
)

// Ledger is the durable dedup store. Implementations must make TryBegin an
// atomic check-and-claim; multiple consumer instances race on it across
// processes.
type Ledger interface {
	// TryBegin claims deliveryID. A fresh id is inserted in_progress and
	// claimed. A completed id is a duplicate. An in_progress id is in-flight
	// unless its last claim is older than now-lease, in which case it is
	// re-claimed.
	TryBegin(ctx context.Context, deliveryID, eventType string, now time.Time, lease time.Duration) (Decision, error)

	// Complete marks deliveryID processed. Only called after the handler
	// fully succeeded.
	Complete(ctx context.Context, deliveryID string, now time.Time) error

	// Fail records a handler error. The row stays in_progress so the lease
	// policy decides whether a redelivery retries it.
	Fail(ctx context.Context, deliveryID, cause string) error

	// ListStuck enumerates in_progress rows older than olderThan for
	// operator inspection, oldest first.
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*Record, error)
}
