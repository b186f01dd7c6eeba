package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/eventpipe/inbox"
	"github.com/md-rashed-zaman/eventpipe/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// messageReader is the slice of kafka.Reader the consume loop depends on.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads a Kafka topic and pushes every message through the
// Endpoint. Failed deliveries are not committed away: Kafka redelivers and
// the inbox lease decides when a retry may run.
type Consumer struct {
	reader   messageReader
	endpoint *Endpoint
	logger   *slog.Logger
}

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topic   string
}

func NewConsumer(logger *slog.Logger, endpoint *Endpoint, cfg ConsumerConfig) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, endpoint: endpoint, logger: logger}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)

		outcome, err := c.endpoint.Deliver(ctxSpan, meta.EventID, meta.EventType, msg.Value)
		if err != nil {
			c.logger.Error("delivery failed",
				"delivery_id", meta.EventID,
				"event_type", meta.EventType,
				"outcome", string(outcome),
				"err", err,
			)
			span.RecordError(err)
			span.End()
			continue
		}
		if outcome != inbox.OutcomeProcessed {
			span.SetAttributes(attribute.String("delivery.outcome", string(outcome)))
		}
		span.End()
	}
}
