// Package notify provides listener registries for engine notifications.
//
// A Hook holds any number of independent listeners for one event category.
// A listener that panics is logged and skipped; the remaining listeners still
// run.
package notify

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Hook is a registry of listeners for events of type T.
type Hook[T any] struct {
	name string

	mu        sync.RWMutex
	next      uint64
	listeners map[uint64]func(T)
}

func NewHook[T any](name string) *Hook[T] {
	return &Hook[T]{
		name:      name,
		listeners: make(map[uint64]func(T)),
	}
}

// Add registers fn and returns a function that removes it.
func (h *Hook[T]) Add(fn func(T)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	h.next++
	id := h.next
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

func (h *Hook[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Fire invokes every listener in registration order.
func (h *Hook[T]) Fire(v T) {
	for _, fn := range h.snapshot() {
		h.call(fn, v)
	}
}

func (h *Hook[T]) snapshot() []func(T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.listeners) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, h.listeners[id])
	}
	return out
}

func (h *Hook[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			logger().Error().
				Str("hook", h.name).
				Interface("panic", r).
				Msg("listener panicked")
		}
	}()
	fn(v)
}

func logger() *zerolog.Logger {
	l := log.Logger.With().Str("component", "notify").Logger()
	return &l
}
