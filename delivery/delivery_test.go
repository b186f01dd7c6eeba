package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/eventpipe/bus"
	"github.com/md-rashed-zaman/eventpipe/event"
	"github.com/md-rashed-zaman/eventpipe/inbox"
	"github.com/stretchr/testify/require"
)

type paymentCaptured struct {
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
}

func (paymentCaptured) EventType() string { return "payment.captured.v1" }

func (e paymentCaptured) PayloadJSON() ([]byte, error) { return event.MarshalPayload(e) }

func decodePaymentCaptured(payload []byte) (event.Event, error) {
	var e paymentCaptured
	if err := event.UnmarshalPayload(payload, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// memLedger is a minimal in-memory inbox.Ledger for endpoint tests.
type memLedger struct {
	mu      sync.Mutex
	records map[string]*inbox.Record
}

func newMemLedger() *memLedger {
	return &memLedger{records: map[string]*inbox.Record{}}
}

func (l *memLedger) TryBegin(_ context.Context, deliveryID, eventType string, now time.Time, lease time.Duration) (inbox.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[deliveryID]
	if !ok {
		l.records[deliveryID] = &inbox.Record{
			DeliveryID: deliveryID,
			EventType:  eventType,
			Status:     inbox.StatusInProgress,
			Attempts:   1,
			ReceivedAt: now,
		}
		return inbox.DecisionProceed, nil
	}
	if rec.Status == inbox.StatusCompleted {
		return inbox.DecisionDuplicate, nil
	}
	if !rec.ReceivedAt.After(now.Add(-lease)) {
		rec.ReceivedAt = now
		rec.Attempts++
		return inbox.DecisionProceed, nil
	}
	return inbox.DecisionInFlight, nil
}

func (l *memLedger) Complete(_ context.Context, deliveryID string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[deliveryID]; ok && rec.Status == inbox.StatusInProgress {
		rec.Status = inbox.StatusCompleted
		rec.ProcessedAt = &now
	}
	return nil
}

func (l *memLedger) Fail(_ context.Context, deliveryID, cause string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[deliveryID]; ok && rec.Status == inbox.StatusInProgress {
		rec.LastError = cause
	}
	return nil
}

func (l *memLedger) ListStuck(context.Context, time.Time, int) ([]*inbox.Record, error) {
	return nil, nil
}

func (l *memLedger) status(deliveryID string) inbox.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[deliveryID].Status
}

var _ inbox.Ledger = (*memLedger)(nil)

func newTestEndpoint(t *testing.T, ledger inbox.Ledger, registry *bus.Registry) *Endpoint {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	gate, err := inbox.NewGate(ledger, logger, inbox.GateConfig{})
	require.NoError(t, err)

	codec := event.NewCodec()
	require.NoError(t, codec.RegisterDecoder("payment.captured.v1", decodePaymentCaptured))

	ep, err := NewEndpoint(gate, codec, registry, logger)
	require.NoError(t, err)
	return ep
}

func TestEndpoint_DeliverDecodesAndFansOutOnce(t *testing.T) {
	ledger := newMemLedger()
	registry := bus.NewRegistry()

	var got []paymentCaptured
	require.NoError(t, registry.Subscribe("payment.captured.v1", bus.HandlerFunc{
		HandlerName: "settlement-projection",
		Fn: func(_ context.Context, evt event.Event) error {
			got = append(got, evt.(paymentCaptured))
			return nil
		},
	}))

	ep := newTestEndpoint(t, ledger, registry)
	payload, err := paymentCaptured{PaymentID: "pay-1", Amount: 4200}.PayloadJSON()
	require.NoError(t, err)

	out, err := ep.Deliver(context.Background(), "evt-1", "payment.captured.v1", payload)
	require.NoError(t, err)
	require.Equal(t, inbox.OutcomeProcessed, out)
	require.Len(t, got, 1)
	require.Equal(t, "pay-1", got[0].PaymentID)
	require.Equal(t, int64(4200), got[0].Amount)

	// Broker redelivery of the same delivery id must not reach the handler.
	out, err = ep.Deliver(context.Background(), "evt-1", "payment.captured.v1", payload)
	require.NoError(t, err)
	require.Equal(t, inbox.OutcomeDuplicate, out)
	require.Len(t, got, 1)
}

func TestEndpoint_UnknownEventTypeStaysRetryable(t *testing.T) {
	ledger := newMemLedger()
	ep := newTestEndpoint(t, ledger, bus.NewRegistry())

	out, err := ep.Deliver(context.Background(), "evt-2", "nobody.registered.this", []byte(`{}`))
	require.ErrorIs(t, err, event.ErrUnknownEventType)
	require.Equal(t, inbox.OutcomeFailed, out)
	require.Equal(t, inbox.StatusInProgress, ledger.status("evt-2"))
}

func TestEndpoint_HandlerFailurePropagates(t *testing.T) {
	ledger := newMemLedger()
	registry := bus.NewRegistry()
	boom := errors.New("ledger write rejected")
	require.NoError(t, registry.Subscribe("payment.captured.v1", bus.HandlerFunc{
		HandlerName: "broken",
		Fn:          func(context.Context, event.Event) error { return boom },
	}))

	ep := newTestEndpoint(t, ledger, registry)
	payload, err := paymentCaptured{PaymentID: "pay-2"}.PayloadJSON()
	require.NoError(t, err)

	out, err := ep.Deliver(context.Background(), "evt-3", "payment.captured.v1", payload)
	require.ErrorIs(t, err, boom)
	require.Equal(t, inbox.OutcomeFailed, out)
	require.Equal(t, inbox.StatusInProgress, ledger.status("evt-3"))
}

func TestNewEndpoint_Validation(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	gate, err := inbox.NewGate(newMemLedger(), logger, inbox.GateConfig{})
	require.NoError(t, err)
	codec := event.NewCodec()
	registry := bus.NewRegistry()

	_, err = NewEndpoint(nil, codec, registry, logger)
	require.ErrorIs(t, err, ErrGateRequired)
	_, err = NewEndpoint(gate, nil, registry, logger)
	require.ErrorIs(t, err, ErrCodecRequired)
	_, err = NewEndpoint(gate, codec, nil, logger)
	require.ErrorIs(t, err, ErrRegistryRequired)
}
