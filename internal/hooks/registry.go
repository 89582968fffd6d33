package hooks

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds in-process handlers per event, highest priority first.
type Registry struct {
	handlers map[Event][]*Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Event][]*Handler),
	}
}

// Register adds a handler for event. IDs are unique per event.
func (r *Registry) Register(event Event, handler *Handler) error {
	if !IsValidEvent(event) {
		return fmt.Errorf("%w: %s", ErrEventInvalid, event)
	}
	if handler == nil || handler.ID == "" || handler.Handle == nil {
		return fmt.Errorf("%w: handler ID and function are required", ErrHandlerNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handlers[event] {
		if h.ID == handler.ID {
			return fmt.Errorf("%w: %s", ErrHandlerExists, handler.ID)
		}
	}

	list := append(r.handlers[event], handler)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority > list[j].Priority
	})
	r.handlers[event] = list
	return nil
}

// Unregister removes a handler.
func (r *Registry) Unregister(event Event, handlerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[event]
	for i, h := range list {
		if h.ID == handlerID {
			r.handlers[event] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHandlerNotFound, handlerID)
}

// Handlers returns a copy of the handlers for event in execution order.
func (r *Registry) Handlers(event Event) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.handlers[event]
	if len(list) == 0 {
		return nil
	}
	out := make([]*Handler, len(list))
	copy(out, list)
	return out
}

// HasHandlers reports whether any handler is registered for event.
func (r *Registry) HasHandlers(event Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event]) > 0
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, list := range r.handlers {
		total += len(list)
	}
	return total
}

// Clear removes all handlers.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[Event][]*Handler)
}
