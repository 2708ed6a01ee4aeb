// Package poke is the process-wide invalidation channel: an ephemeral
// publish/subscribe registry that tells connected clients new data exists.
// Delivery is best effort and unordered; a missed poke is safe because
// clients pull periodically regardless and the protocol is idempotent.
package poke

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultChannel is the channel pushes publish on.
const DefaultChannel = "default"

// Hub maps channel names to listener callbacks. Lifecycle is scoped to the
// server process; nothing is persisted or retried.
type Hub struct {
	mu        sync.Mutex
	listeners map[string]map[string]func()
}

func NewHub() *Hub {
	return &Hub{listeners: make(map[string]map[string]func())}
}

// AddListener registers fn on a channel and returns its unsubscribe
// function. The caller must invoke it on connection teardown or the listener
// leaks for the life of the process.
func (h *Hub) AddListener(channel string, fn func()) func() {
	token := uuid.NewString()

	h.mu.Lock()
	set, ok := h.listeners[channel]
	if !ok {
		set = make(map[string]func())
		h.listeners[channel] = set
	}
	set[token] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.listeners[channel]; ok {
			delete(set, token)
			if len(set) == 0 {
				delete(h.listeners, channel)
			}
		}
	}
}

// Publish invokes every listener currently registered on the channel. The
// listener set is snapshotted under the lock and callbacks run outside it,
// so a listener may add or remove listeners without deadlocking.
func (h *Hub) Publish(channel string) {
	h.mu.Lock()
	callbacks := make([]func(), 0, len(h.listeners[channel]))
	for _, fn := range h.listeners[channel] {
		callbacks = append(callbacks, fn)
	}
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
