// Package delivery is the receiving edge of the pipeline: it admits inbound
// deliveries through the inbox gate and fans admitted events out on the bus.
package delivery

import (
	"context"
	"errors"
	"log/slog"

	"github.com/md-rashed-zaman/eventpipe/bus"
	"github.com/md-rashed-zaman/eventpipe/event"
	"github.com/md-rashed-zaman/eventpipe/inbox"
)

var (
	ErrGateRequired     = errors.New("inbox gate is required")
	ErrCodecRequired    = errors.New("event codec is required")
	ErrRegistryRequired = errors.New("bus registry is required")
)

// Endpoint is the exposed inbound delivery boundary. Message-receiving
// adapters (Kafka consumer, webhook receiver, tests) call Deliver; the inbox
// gate and the registry handle the rest.
type Endpoint struct {
	gate     *inbox.Gate
	codec    *event.Codec
	registry *bus.Registry
	logger   *slog.Logger
}

func NewEndpoint(gate *inbox.Gate, codec *event.Codec, registry *bus.Registry, logger *slog.Logger) (*Endpoint, error) {
	if gate == nil {
		return nil, ErrGateRequired
	}
	if codec == nil {
		return nil, ErrCodecRequired
	}
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoint{gate: gate, codec: codec, registry: registry, logger: logger}, nil
}

// Deliver handles one inbound delivery: duplicate ids are skipped, fresh ids
// are decoded and published to every subscribed handler. A decode or handler
// failure leaves the delivery retryable.
func (e *Endpoint) Deliver(ctx context.Context, deliveryID, eventType string, payload []byte) (inbox.Outcome, error) {
	return e.gate.Process(ctx, deliveryID, eventType, func(ctx context.Context) error {
		evt, err := e.codec.Decode(eventType, payload)
		if err != nil {
			return err
		}
		return e.registry.Publish(ctx, evt)
	})
}
