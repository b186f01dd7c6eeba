package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventpipe/inbox"
	"github.com/md-rashed-zaman/eventpipe/outbox"
	"github.com/stretchr/testify/require"
)

type fakeDeadLetterLister struct {
	records   []*outbox.Record
	err       error
	lastLimit int
}

func (f *fakeDeadLetterLister) ListDeadLettered(_ context.Context, limit int) ([]*outbox.Record, error) {
	f.lastLimit = limit
	return f.records, f.err
}

type fakeStuckLister struct {
	records       []*inbox.Record
	err           error
	lastOlderThan time.Time
	lastLimit     int
}

func (f *fakeStuckLister) ListStuck(_ context.Context, olderThan time.Time, limit int) ([]*inbox.Record, error) {
	f.lastOlderThan = olderThan
	f.lastLimit = limit
	return f.records, f.err
}

func newTestHandler(dead *fakeDeadLetterLister, stuck *fakeStuckLister) *http.ServeMux {
	h := New(dead, stuck, slog.New(slog.DiscardHandler), 5*time.Minute)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func TestDeadLetters_ReturnsRecords(t *testing.T) {
	eventID := uuid.New()
	dead := &fakeDeadLetterLister{records: []*outbox.Record{{
		ID:            7,
		EventID:       eventID,
		EventType:     "order.placed.v1",
		AggregateType: "order",
		CorrelationID: "order-7",
		Destination:   "order.placed.v1",
		Attempts:      5,
		LastError:     "broker unavailable",
		CreatedAt:     time.Now().UTC(),
	}}}
	mux := newTestHandler(dead, &fakeStuckLister{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/outbox/dead-letters?limit=10", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Equal(t, 10, dead.lastLimit)

	var body struct {
		DeadLetters []struct {
			ID        int64  `json:"id"`
			EventID   string `json:"event_id"`
			EventType string `json:"event_type"`
			Attempts  int    `json:"attempts"`
			LastError string `json:"last_error"`
		} `json:"dead_letters"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.DeadLetters, 1)
	require.Equal(t, int64(7), body.DeadLetters[0].ID)
	require.Equal(t, eventID.String(), body.DeadLetters[0].EventID)
	require.Equal(t, 5, body.DeadLetters[0].Attempts)
	require.Equal(t, "broker unavailable", body.DeadLetters[0].LastError)
}

func TestDeadLetters_EmptyListIsAnEmptyArray(t *testing.T) {
	mux := newTestHandler(&fakeDeadLetterLister{}, &fakeStuckLister{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/outbox/dead-letters", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"dead_letters":[]}`, rr.Body.String())
}

func TestDeadLetters_LimitIsClamped(t *testing.T) {
	dead := &fakeDeadLetterLister{}
	mux := newTestHandler(dead, &fakeStuckLister{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/outbox/dead-letters?limit=9999", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 500, dead.lastLimit)
}

func TestDeadLetters_StoreErrorIs500(t *testing.T) {
	dead := &fakeDeadLetterLister{err: errors.New("db gone")}
	mux := newTestHandler(dead, &fakeStuckLister{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/outbox/dead-letters", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestDeadLetters_MethodNotAllowed(t *testing.T) {
	mux := newTestHandler(&fakeDeadLetterLister{}, &fakeStuckLister{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ops/outbox/dead-letters", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestStuckDeliveries_ReturnsRecords(t *testing.T) {
	receivedAt := time.Now().UTC().Add(-30 * time.Minute)
	stuck := &fakeStuckLister{records: []*inbox.Record{{
		DeliveryID: "evt-1",
		EventType:  "payment.captured.v1",
		Status:     inbox.StatusInProgress,
		Attempts:   3,
		LastError:  "projection write failed",
		ReceivedAt: receivedAt,
	}}}
	mux := newTestHandler(&fakeDeadLetterLister{}, stuck)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/inbox/stuck", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Stuck []struct {
			DeliveryID string `json:"delivery_id"`
			EventType  string `json:"event_type"`
			Attempts   int    `json:"attempts"`
		} `json:"stuck"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Stuck, 1)
	require.Equal(t, "evt-1", body.Stuck[0].DeliveryID)
	require.Equal(t, 3, body.Stuck[0].Attempts)
}

func TestStuckDeliveries_OlderThanParam(t *testing.T) {
	stuck := &fakeStuckLister{}
	mux := newTestHandler(&fakeDeadLetterLister{}, stuck)

	before := time.Now().UTC()
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/inbox/stuck?older_than=1h&limit=5", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 5, stuck.lastLimit)
	// The cutoff must sit about one hour in the past.
	require.WithinDuration(t, before.Add(-time.Hour), stuck.lastOlderThan, 5*time.Second)
}

func TestStuckDeliveries_DefaultCutoffUsesStuckAfter(t *testing.T) {
	stuck := &fakeStuckLister{}
	mux := newTestHandler(&fakeDeadLetterLister{}, stuck)

	before := time.Now().UTC()
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/inbox/stuck", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.WithinDuration(t, before.Add(-5*time.Minute), stuck.lastOlderThan, 5*time.Second)
}
