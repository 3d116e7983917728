package encounter

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// EventHandler is a synchronous, functional reaction to an event. Unlike
// observers, handlers may mutate other aggregates (transfer records,
// appointments).
type EventHandler interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// EventBus routes published events to the handlers registered for their
// type, then forwards them to the observer manager. A failing or
// panicking handler is logged and never propagated: the state transition
// that triggered the event is already authoritative.
type EventBus struct {
	mu        sync.RWMutex
	handlers  map[EventType][]EventHandler
	observers *ObserverManager
	log       zerolog.Logger
}

func NewEventBus(log zerolog.Logger, observers *ObserverManager) *EventBus {
	return &EventBus{
		handlers:  make(map[EventType][]EventHandler),
		observers: observers,
		log:       log.With().Str("component", "event_bus").Logger(),
	}
}

func (b *EventBus) Register(t EventType, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Unregister removes the named handler from an event type. Supported for
// testability; production registration is static at startup.
func (b *EventBus) Unregister(t EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.handlers[t][:0]
	for _, h := range b.handlers[t] {
		if h.Name() != name {
			kept = append(kept, h)
		}
	}
	b.handlers[t] = kept
}

// Publish invokes every handler registered for the event's type, then
// notifies the observers. Each handler runs under failure isolation.
func (b *EventBus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers[ev.Type]))
	copy(handlers, b.handlers[ev.Type])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ctx, h, ev)
	}

	if b.observers != nil {
		b.observers.NotifyObservers(ctx, ev)
	}
}

func (b *EventBus) invoke(ctx context.Context, h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("handler", h.Name()).
				Str("event_type", string(ev.Type)).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	if err := h.Handle(ctx, ev); err != nil {
		b.log.Error().
			Err(err).
			Str("handler", h.Name()).
			Str("event_type", string(ev.Type)).
			Str("encounter_id", ev.EncounterID.String()).
			Msg("event handler failed")
	}
}

// RegisterDefaultHandlers wires the built-in handlers the way the
// coordinator expects them: logging on everything, department status and
// appointment sync on close/reopen.
func (b *EventBus) RegisterDefaultHandlers(transfers DepartmentTransferStore, appts AppointmentLink, clock Clock) {
	logging := NewLoggingHandler(b.log)
	dept := NewDepartmentStatusHandler(transfers, clock, b.log)
	sync := NewAppointmentSyncHandler(appts, b.log)

	for _, t := range []EventType{EventClosed, EventReopened} {
		b.Register(t, logging)
		b.Register(t, dept)
		b.Register(t, sync)
	}
	b.Register(EventArchived, logging)
	b.Register(EventUnarchived, logging)
}
