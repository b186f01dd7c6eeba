package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// memStore mirrors the PostgresStore claim/transition semantics in memory so
// the writer and dispatcher can be exercised without a database.
type memStore struct {
	mu      sync.Mutex
	seq     int64
	records map[int64]*Record

	insertErr error
}

func newMemStore() *memStore {
	return &memStore{records: map[int64]*Record{}}
}

func (s *memStore) Insert(_ context.Context, _ pgx.Tx, rec *Record) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rec.ID = s.seq
	rec.CreatedAt = time.Now().UTC()
	rec.NextAttemptAt = rec.CreatedAt
	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

func (s *memStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Record
	for _, rec := range s.records {
		if rec.Status != StatusPending || rec.NextAttemptAt.After(now) {
			continue
		}
		if s.blockedLocked(rec) {
			continue
		}
		due = append(due, rec)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Record, 0, len(due))
	for _, rec := range due {
		rec.Status = StatusDispatching
		rec.Attempts++
		at := now
		rec.LastAttemptAt = &at
		clone := *rec
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

// blockedLocked reports whether an earlier record with the same correlation
// id still holds the dispatch order.
func (s *memStore) blockedLocked(rec *Record) bool {
	for _, other := range s.records {
		if other.CorrelationID != rec.CorrelationID || other.ID >= rec.ID {
			continue
		}
		if other.Status == StatusPending || other.Status == StatusDispatching {
			return true
		}
	}
	return false
}

func (s *memStore) MarkDispatched(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok && rec.Status == StatusDispatching {
		rec.Status = StatusDispatched
		rec.DispatchedAt = &at
		rec.LastError = ""
	}
	return nil
}

func (s *memStore) Release(_ context.Context, id int64, cause string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok && rec.Status == StatusDispatching {
		rec.Status = StatusPending
		rec.LastError = cause
		rec.NextAttemptAt = nextAttemptAt
	}
	return nil
}

func (s *memStore) DeadLetter(_ context.Context, id int64, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok && rec.Status == StatusDispatching {
		rec.Status = StatusDeadLettered
		rec.LastError = cause
	}
	return nil
}

func (s *memStore) ReclaimStuck(_ context.Context, claimedBefore time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.records {
		if n >= int64(limit) {
			break
		}
		if rec.Status == StatusDispatching && rec.LastAttemptAt != nil && rec.LastAttemptAt.Before(claimedBefore) {
			rec.Status = StatusPending
			rec.NextAttemptAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListDeadLettered(_ context.Context, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.Status == StatusDeadLettered {
			clone := *rec
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// get returns a copy of the stored record.
func (s *memStore) get(id int64) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

// rewind makes a pending record immediately due again.
func (s *memStore) rewind(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id].NextAttemptAt = time.Now().UTC().Add(-time.Second)
}

// seed stores a record as-is, assigning the next id.
func (s *memStore) seed(rec Record) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec.ID = s.seq
	s.records[rec.ID] = &rec
	return rec.ID
}

var _ Store = (*memStore)(nil)
