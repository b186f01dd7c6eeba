package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Outcome of admitting one delivery through the gate.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInFlight  Outcome = "in_flight"
	OutcomeFailed    Outcome = "failed"
)

// Gate guards handler invocation on the consuming side: it claims the
// delivery id in the ledger before running the handler and completes it only
// afterwards, so N deliveries of one id execute the handler once.
type Gate struct {
	ledger Ledger
	cache  *Cache
	lease  time.Duration
	logger *slog.Logger
}

type GateConfig struct {
	// Lease is how long an in_progress claim shields the delivery id before
	// a redelivery may retry a crashed attempt.
	Lease time.Duration
	// Cache is the optional Redis duplicate fast path.
	Cache *Cache
}

func NewGate(ledger Ledger, logger *slog.Logger, cfg GateConfig) (*Gate, error) {
	if ledger == nil {
		return nil, ErrLedgerRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	return &Gate{ledger: ledger, cache: cfg.Cache, lease: cfg.Lease, logger: logger}, nil
}

// Process runs handle for deliveryID exactly once. Duplicate and in-flight
// deliveries return without invoking handle; a handler error leaves the
// ledger row in progress so the lease policy governs the retry.
func (g *Gate) Process(ctx context.Context, deliveryID, eventType string, handle func(ctx context.Context) error) (Outcome, error) {
	if deliveryID == "" {
		return OutcomeFailed, ErrDeliveryIDRequired
	}
	if handle == nil {
		return OutcomeFailed, ErrHandlerRequired
	}

	if g.cache.Seen(ctx, deliveryID) {
		g.logger.Info("duplicate delivery ignored (cache)", "delivery_id", deliveryID, "event_type", eventType)
		return OutcomeDuplicate, nil
	}

	now := time.Now().UTC()
	decision, err := g.ledger.TryBegin(ctx, deliveryID, eventType, now, g.lease)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("inbox claim %s: %w", deliveryID, err)
	}

	switch decision {
	case DecisionDuplicate:
		g.cache.MarkSeen(ctx, deliveryID)
		g.logger.Info("duplicate delivery ignored", "delivery_id", deliveryID, "event_type", eventType)
		return OutcomeDuplicate, nil
	case DecisionInFlight:
		g.logger.Info("delivery already in flight", "delivery_id", deliveryID, "event_type", eventType)
		return OutcomeInFlight, nil
	}

	if err := handle(ctx); err != nil {
		if failErr := g.ledger.Fail(context.WithoutCancel(ctx), deliveryID, err.Error()); failErr != nil {
			g.logger.Error("inbox fail mark failed", "delivery_id", deliveryID, "err", failErr)
		}
		return OutcomeFailed, err
	}

	if err := g.ledger.Complete(ctx, deliveryID, time.Now().UTC()); err != nil {
		// Handler succeeded but the completion write did not; the row stays
		// in progress and a redelivery after the lease will re-run the
		// handler. That trade keeps at-least-once intact.
		return OutcomeFailed, fmt.Errorf("inbox complete %s: %w", deliveryID, err)
	}
	g.cache.MarkSeen(ctx, deliveryID)
	return OutcomeProcessed, nil
}
