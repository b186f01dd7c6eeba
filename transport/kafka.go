package transport

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/eventpipe/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

var ErrNoBrokers = errors.New("kafka brokers not configured")

// Kafka publishes messages to Kafka, one topic per destination. The hash
// balancer keys partitions by correlation id so an aggregate's events land on
// one partition in order.
type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.Hash{},
	})
	return &Kafka{writer: writer}, nil
}

func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	m := kafka.Message{
		Topic: msg.Destination,
		Key:   []byte(msg.CorrelationID),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(msg.EventID)},
			{Key: kafkax.HeaderEventType, Value: []byte(msg.Type)},
			{Key: kafkax.HeaderCorrelationID, Value: []byte(msg.CorrelationID)},
		},
	}
	m.Headers = kafkax.InjectTraceHeaders(ctx, m.Headers)
	return k.writer.WriteMessages(ctx, m)
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
