// Package event defines the domain event contract shared by the capture,
// outbox, and delivery sides of the pipeline.
package event

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrEventTypeRequired = errors.New("event type is required")
	ErrDecoderRequired   = errors.New("decoder func is required")
	ErrDecoderRegistered = errors.New("decoder already registered for event type")
	ErrUnknownEventType  = errors.New("no decoder registered for event type")
	ErrEmptyPayload      = errors.New("event payload is empty")
	ErrNilEvent          = errors.New("event is nil")
)

// Event is one immutable domain fact. Payloads must be value copies of the
// relevant aggregate fields, never references back into the aggregate.
type Event interface {
	EventType() string
	PayloadJSON() ([]byte, error)
}

// Recorded wraps an Event with the identity and occurrence time assigned at
// capture. It is read-only after creation.
type Recorded struct {
	ID         uuid.UUID
	OccurredAt time.Time
	Event      Event
}

// MarshalPayload serializes a payload struct for an Event implementation.
func MarshalPayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload deserializes an event payload into v.
func UnmarshalPayload(data []byte, v any) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal event payload: %w", err)
	}
	return nil
}

// DecodeFunc turns a serialized payload back into a concrete Event.
type DecodeFunc func(payload []byte) (Event, error)

// Codec maps logical event type names to decoder funcs. Decoders are
// registered explicitly at process start; lookups after that are read-only.
type Codec struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

func NewCodec() *Codec {
	return &Codec{decoders: map[string]DecodeFunc{}}
}

func (c *Codec) RegisterDecoder(eventType string, fn DecodeFunc) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return ErrEventTypeRequired
	}
	if fn == nil {
		return ErrDecoderRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.decoders[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrDecoderRegistered, eventType)
	}
	c.decoders[eventType] = fn
	return nil
}

func (c *Codec) Decode(eventType string, payload []byte) (Event, error) {
	c.mu.RLock()
	fn, ok := c.decoders[eventType]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	evt, err := fn(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return evt, nil
}
