package gxgbot

import (
	"context"
	"log/slog"
	"sync"
)

// EventKind identifies the type of an internal bot event
type EventKind int

const (
	// EventLevelUp is emitted when a member crosses a level threshold
	EventLevelUp EventKind = iota
	// EventErrorLogged is emitted when an error record is persisted
	EventErrorLogged
)

func (k EventKind) String() string {
	switch k {
	case EventLevelUp:
		return "level_up"
	case EventErrorLogged:
		return "error_logged"
	default:
		return "unknown"
	}
}

// LevelUpEvent carries the payload for [EventLevelUp]
type LevelUpEvent struct {
	UserID    string
	ChannelID string
	GuildID   string
	NewLevel  int
}

// ErrorLoggedEvent carries the payload for [EventErrorLogged]
type ErrorLoggedEvent struct {
	Record *ErrorRecord
}

// EventHandler processes a single dispatched event. The payload type
// depends on the event kind: *LevelUpEvent for EventLevelUp,
// *ErrorLoggedEvent for EventErrorLogged.
type EventHandler func(ctx context.Context, payload any)

// EventBus is a minimal in-process dispatcher. Handlers are invoked
// in their own goroutine per event; emitting never blocks on handler
// execution, and handler errors never propagate back to the emitter.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventKind][]EventHandler
	logger   *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: map[EventKind][]EventHandler{},
		logger:   logger.With(loggerNameKey, "event_bus"),
	}
}

// Subscribe registers a handler for the given event kind
func (b *EventBus) Subscribe(kind EventKind, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Emit dispatches the payload to all handlers registered for kind.
// Dispatch is fire-and-forget: each handler runs in its own goroutine,
// and panics are recovered and logged.
func (b *EventBus) Emit(ctx context.Context, kind EventKind, payload any) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers[kind]))
	copy(handlers, b.handlers[kind])
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.DebugContext(ctx, "no handlers for event", "event", kind.String())
		return
	}

	for _, handler := range handlers {
		h := handler
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.ErrorContext(
						ctx,
						"recovered panic in event handler",
						"event", kind.String(),
						"panic", r,
					)
				}
			}()
			h(ctx, payload)
		}()
	}
}
