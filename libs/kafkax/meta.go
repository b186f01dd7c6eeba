package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// Canonical message headers carried on every published event.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderCorrelationID = "correlation_id"
)

// EventMeta is the metadata consumers need before touching the payload. The
// event id doubles as the delivery id for inbox deduplication.
type EventMeta struct {
	EventID       string
	EventType     string
	CorrelationID string
}

func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:       HeaderValue(msg.Headers, HeaderEventID),
		EventType:     HeaderValue(msg.Headers, HeaderEventType),
		CorrelationID: HeaderValue(msg.Headers, HeaderCorrelationID),
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = string(msg.Key)
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
