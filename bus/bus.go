// Package bus is the in-process event registry used for synchronous
// same-transaction side effects and for handler invocation after the inbox
// gate admits a delivery.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/md-rashed-zaman/eventpipe/event"
)

var (
	ErrEventTypeRequired = errors.New("event type is required")
	ErrHandlerRequired   = errors.New("handler is required")
	ErrHandlerNameTaken  = errors.New("handler name already subscribed for event type")
)

// Handler processes one event. Handlers subscribe explicitly for the concrete
// event types they understand; there is no dispatch by convention.
type Handler interface {
	Name() string
	Handle(ctx context.Context, evt event.Event) error
}

// HandlerFunc adapts a named func to Handler.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, evt event.Event) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, evt event.Event) error {
	return h.Fn(ctx, evt)
}

// HandlerError identifies which handler failed for an event.
type HandlerError struct {
	Handler string
	Err     error
}

func (e HandlerError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Handler, e.Err)
}

func (e HandlerError) Unwrap() error { return e.Err }

// Registry maps event types to ordered handler lists. It is built once at
// startup and injected where needed; steady-state use is read-only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string][]Handler{}}
}

// Subscribe appends h to the handler list for eventType. Registration order
// is invocation order. Handler names must be unique per event type.
func (r *Registry) Subscribe(eventType string, h Handler) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return ErrEventTypeRequired
	}
	if h == nil || strings.TrimSpace(h.Name()) == "" {
		return ErrHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.handlers[eventType] {
		if existing.Name() == h.Name() {
			return fmt.Errorf("%w: %s/%s", ErrHandlerNameTaken, eventType, h.Name())
		}
	}
	r.handlers[eventType] = append(r.handlers[eventType], h)
	return nil
}

// HandlerCount reports how many handlers are subscribed for eventType.
func (r *Registry) HandlerCount(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}

// Publish invokes every handler subscribed for evt's type in registration
// order. A failing handler does not stop the others; all failures are
// collected and returned as one joined error. Publishing an event nobody
// subscribed to is a no-op.
func (r *Registry) Publish(ctx context.Context, evt event.Event) error {
	if evt == nil {
		return event.ErrNilEvent
	}

	r.mu.RLock()
	handlers := r.handlers[evt.EventType()]
	r.mu.RUnlock()

	var failures []error
	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		if err := h.Handle(ctx, evt); err != nil {
			failures = append(failures, HandlerError{Handler: h.Name(), Err: err})
		}
	}
	return errors.Join(failures...)
}
