package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	otelx "github.com/md-rashed-zaman/eventpipe/libs/otel"
	"github.com/md-rashed-zaman/eventpipe/transport"
	"golang.org/x/sync/errgroup"
)

// Config controls dispatcher polling, claiming, and retry behavior.
type Config struct {
	// PollEvery is the interval between dispatch cycles.
	PollEvery time.Duration
	// BatchSize caps how many records one claim takes.
	BatchSize int
	// MaxAttempts is the dispatch attempt ceiling before dead-lettering.
	MaxAttempts int
	// BaseBackoff and MaxBackoff bound the cross-cycle retry delay.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// ClaimLease is how long a record may sit in dispatching before any
	// instance reclaims it (covers workers that died between claim and
	// publish).
	ClaimLease time.Duration
	// PublishTimeout bounds a single transport publish.
	PublishTimeout time.Duration
	// PublishTries is the number of in-cycle publish attempts per record
	// before the record is released for a delayed retry.
	PublishTries int
	// Concurrency is the number of correlation groups dispatched in
	// parallel. Records sharing a correlation id are always sequential.
	Concurrency int
	// ReclaimBatch caps how many stuck records one cycle reclaims.
	ReclaimBatch int
}

func (cfg *Config) normalize() {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 5 * time.Minute
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.PublishTries <= 0 {
		cfg.PublishTries = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ReclaimBatch <= 0 {
		cfg.ReclaimBatch = 100
	}
}

// Dispatcher drains pending outbox records into the transport. It is safe to
// run many instances against the same table; the claim protocol serializes
// them per record and the lease reclaim recovers from dead workers.
type Dispatcher struct {
	store     Store
	transport transport.Transport
	logger    *slog.Logger
	cfg       Config
}

func NewDispatcher(store Store, tp transport.Transport, logger *slog.Logger, cfg Config) (*Dispatcher, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if tp == nil {
		return nil, ErrTransportRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.normalize()
	return &Dispatcher{store: store, transport: tp, logger: logger, cfg: cfg}, nil
}

// Run polls until ctx is cancelled. One cycle runs immediately so a restart
// picks up backlog without waiting a full poll interval.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollEvery)
	defer ticker.Stop()

	d.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

// RunCycle executes one reclaim-and-drain cycle. Exported for callers that
// schedule cycles themselves.
func (d *Dispatcher) RunCycle(ctx context.Context) {
	d.runCycle(ctx)
}

func (d *Dispatcher) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	reclaimed, err := d.store.ReclaimStuck(ctx, time.Now().UTC().Add(-d.cfg.ClaimLease), d.cfg.ReclaimBatch)
	if err != nil {
		d.logger.Error("outbox reclaim failed", "err", err)
	} else if reclaimed > 0 {
		d.logger.Warn("reclaimed stuck outbox records", "count", reclaimed)
	}

	// Drain until no record is due. Chained records of one aggregate become
	// claimable only after their predecessor resolves, so a single cycle may
	// need several claims to flush a chain.
	for ctx.Err() == nil {
		claimed, err := d.store.ClaimDue(ctx, time.Now().UTC(), d.cfg.BatchSize)
		if err != nil {
			d.logger.Error("outbox claim failed", "err", err)
			return
		}
		if len(claimed) == 0 {
			return
		}
		d.dispatchBatch(ctx, claimed)
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, records []*Record) {
	groups := groupByCorrelation(records)

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, group := range groups {
		g.Go(func() error {
			d.dispatchGroup(ctx, group)
			return nil
		})
	}
	_ = g.Wait()
}

// dispatchGroup sends one correlation group strictly in id order. On the
// first failure the remaining records are released untried; dispatching them
// would reorder the aggregate's stream.
func (d *Dispatcher) dispatchGroup(ctx context.Context, records []*Record) {
	// Transitions must land even when the batch is being cancelled; a record
	// transition is atomic or not attempted, never interrupted.
	writeCtx := context.WithoutCancel(ctx)

	for i, rec := range records {
		if ctx.Err() != nil {
			d.releaseRest(writeCtx, records[i:], "dispatch cancelled")
			return
		}

		msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
		if err := d.publish(msgCtx, rec); err != nil {
			d.resolveFailure(writeCtx, rec, err)
			d.releaseRest(writeCtx, records[i+1:], "predecessor failed")
			return
		}

		if err := d.store.MarkDispatched(writeCtx, rec.ID, time.Now().UTC()); err != nil {
			// The lease reclaim will retry it; duplicate delivery is the
			// inbox gate's problem.
			d.logger.Error("mark dispatched failed", "record_id", rec.ID, "err", err)
			return
		}
		d.logger.Debug("outbox record dispatched",
			"record_id", rec.ID,
			"event_type", rec.EventType,
			"correlation_id", rec.CorrelationID,
			"attempts", rec.Attempts,
		)
	}
}

func (d *Dispatcher) publish(ctx context.Context, rec *Record) error {
	msg := transport.Message{
		Destination:   rec.Destination,
		Type:          rec.EventType,
		EventID:       rec.EventID.String(),
		CorrelationID: rec.CorrelationID,
		Payload:       rec.Payload,
	}

	operation := func() (struct{}, error) {
		pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
		defer cancel()
		if err := d.transport.Publish(pubCtx, msg); err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(d.cfg.PublishTries)),
	)
	return err
}

func (d *Dispatcher) resolveFailure(ctx context.Context, rec *Record, cause error) {
	if rec.Attempts >= d.cfg.MaxAttempts {
		if err := d.store.DeadLetter(ctx, rec.ID, cause.Error()); err != nil {
			d.logger.Error("dead-letter transition failed", "record_id", rec.ID, "err", err)
			return
		}
		d.logger.Error("outbox record dead-lettered",
			"record_id", rec.ID,
			"event_id", rec.EventID,
			"event_type", rec.EventType,
			"correlation_id", rec.CorrelationID,
			"attempts", rec.Attempts,
			"err", cause,
		)
		return
	}

	delay := retryDelay(d.cfg.BaseBackoff, d.cfg.MaxBackoff, rec.Attempts)
	if err := d.store.Release(ctx, rec.ID, cause.Error(), time.Now().UTC().Add(delay)); err != nil {
		d.logger.Error("release transition failed", "record_id", rec.ID, "err", err)
		return
	}
	d.logger.Warn("outbox publish failed, retrying later",
		"record_id", rec.ID,
		"event_type", rec.EventType,
		"attempts", rec.Attempts,
		"retry_in", delay,
		"err", cause,
	)
}

func (d *Dispatcher) releaseRest(ctx context.Context, records []*Record, cause string) {
	for _, rec := range records {
		if err := d.store.Release(ctx, rec.ID, cause, time.Now().UTC()); err != nil {
			d.logger.Error("release transition failed", "record_id", rec.ID, "err", err)
		}
	}
}

// groupByCorrelation splits records into per-correlation-id groups, keeping
// id order inside each group and first-seen order across groups.
func groupByCorrelation(records []*Record) [][]*Record {
	index := map[string]int{}
	var groups [][]*Record
	for _, rec := range records {
		i, ok := index[rec.CorrelationID]
		if !ok {
			i = len(groups)
			index[rec.CorrelationID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec)
	}
	return groups
}
