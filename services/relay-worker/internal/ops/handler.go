// Package ops exposes the read-only operator endpoints: dead-lettered outbox
// records and inbox deliveries stuck in progress.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/eventpipe/inbox"
	"github.com/md-rashed-zaman/eventpipe/outbox"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type DeadLetterLister interface {
	ListDeadLettered(ctx context.Context, limit int) ([]*outbox.Record, error)
}

type StuckLister interface {
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*inbox.Record, error)
}

type Handler struct {
	outbox     DeadLetterLister
	inbox      StuckLister
	logger     *slog.Logger
	stuckAfter time.Duration
}

func New(outboxStore DeadLetterLister, inboxLedger StuckLister, logger *slog.Logger, stuckAfter time.Duration) *Handler {
	if stuckAfter <= 0 {
		stuckAfter = 5 * time.Minute
	}
	return &Handler{outbox: outboxStore, inbox: inboxLedger, logger: logger, stuckAfter: stuckAfter}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ops/outbox/dead-letters", h.DeadLetters)
	mux.HandleFunc("/ops/inbox/stuck", h.StuckDeliveries)
}

type deadLetterDTO struct {
	ID            int64     `json:"id"`
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	CorrelationID string    `json:"correlation_id"`
	Destination   string    `json:"destination"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := h.outbox.ListDeadLettered(r.Context(), limitParam(r))
	if err != nil {
		h.logger.Error("list dead letters failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]deadLetterDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, deadLetterDTO{
			ID:            rec.ID,
			EventID:       rec.EventID.String(),
			EventType:     rec.EventType,
			AggregateType: rec.AggregateType,
			CorrelationID: rec.CorrelationID,
			Destination:   rec.Destination,
			Attempts:      rec.Attempts,
			LastError:     rec.LastError,
			CreatedAt:     rec.CreatedAt,
		})
	}
	writeJSON(w, map[string]any{"dead_letters": out})
}

type stuckDTO struct {
	DeliveryID string    `json:"delivery_id"`
	EventType  string    `json:"event_type"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	ReceivedAt time.Time `json:"received_at"`
}

func (h *Handler) StuckDeliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	olderThan := h.stuckAfter
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			olderThan = d
		}
	}

	records, err := h.inbox.ListStuck(r.Context(), time.Now().UTC().Add(-olderThan), limitParam(r))
	if err != nil {
		h.logger.Error("list stuck deliveries failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]stuckDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, stuckDTO{
			DeliveryID: rec.DeliveryID,
			EventType:  rec.EventType,
			Attempts:   rec.Attempts,
			LastError:  rec.LastError,
			ReceivedAt: rec.ReceivedAt,
		})
	}
	writeJSON(w, map[string]any{"stuck": out})
}

func limitParam(r *http.Request) int {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
