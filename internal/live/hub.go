// Package live fans out conversation events to connected viewers, backing
// the websocket live view of the debug API.
package live

import (
	"sync"
	"time"

	"github.com/user/kasuwabot/internal/types"
)

// Event is one history append as seen by a live viewer.
type Event struct {
	Tenant string              `json:"tenant"`
	Phone  string              `json:"phone"`
	Entry  *types.HistoryEntry `json:"entry"`
	At     time.Time           `json:"at"`
}

// Hub is an in-process publish/subscribe fanout. Slow subscribers drop
// events rather than blocking the conversation lanes.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new viewer and returns its event channel along
// with a cancel function that must be called when the viewer leaves.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the current viewer count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
