// Package hooks dispatches conversation lifecycle events to in-process
// handlers and configured shell commands.
package hooks

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/soyeahso/chaincraft/internal/logging"
)

// Event names.
const (
	EventDesignStarted      = "design_started"
	EventTurnCompleted      = "turn_completed"
	EventTurnFailed         = "turn_failed"
	EventImageReady         = "image_ready"
	EventDesignApproved     = "design_approved"
	EventConversationClosed = "conversation_closed"
	EventAgentReconnected   = "agent_reconnected"
	EventGatewayStart       = "gateway_start"
	EventGatewayStop        = "gateway_stop"
)

// AllEvents lists all known event names.
var AllEvents = []string{
	EventDesignStarted,
	EventTurnCompleted,
	EventTurnFailed,
	EventImageReady,
	EventDesignApproved,
	EventConversationClosed,
	EventAgentReconnected,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload carries event data to handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Str returns the string stored under key, or "".
func (p Payload) Str(key string) string {
	v, _ := p.Data[key].(string)
	return v
}

// Handler handles one event. Returned errors are logged and do not stop
// other handlers.
type Handler func(ctx context.Context, p Payload) error

// Manager holds handler registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	inflight sync.WaitGroup
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for event under name.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes every handler registered for event under name.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.handlers[event][:0:0]
	for _, h := range m.handlers[event] {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	m.handlers[event] = kept
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]namedHandler(nil), m.handlers[event]...)
}

// Emit runs all handlers for event in registration order.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	p := Payload{Event: event, Data: data}
	for _, h := range m.snapshot(event) {
		m.run(ctx, h, p)
	}
}

// EmitAsync runs all handlers for event concurrently and returns at once.
// A panicking handler is recovered and logged.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	p := Payload{Event: event, Data: data}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()

		var wg conc.WaitGroup
		for _, h := range handlers {
			wg.Go(func() { m.run(ctx, h, p) })
		}
		if r := wg.WaitAndRecover(); r != nil {
			m.log.Error().Str("event", event).Str("panic", r.String()).Msg("hook handler panicked")
		}
	}()
}

// Wait blocks until every EmitAsync dispatch has finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func (m *Manager) run(ctx context.Context, h namedHandler, p Payload) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Msg("hook handler error")
	}
}

// Count returns the number of handlers registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}
