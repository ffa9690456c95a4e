// Package push fans freshly delivered messages out to live subscribers.
// Delivery here is best-effort: a slow or absent subscriber never blocks
// routing, and dropped events are recovered by polling the mailbox.
package push

import (
	"encoding/json"
	"sync"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// Hub tracks per-agent subscriptions.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a listener for an agent's deliveries. The returned
// cancel func must be called exactly once; it closes the channel.
func (h *Hub) Subscribe(agentID string) (chan []byte, func()) {
	ch := make(chan []byte, 8)
	h.mu.Lock()
	if _, ok := h.subs[agentID]; !ok {
		h.subs[agentID] = make(map[chan []byte]struct{})
	}
	h.subs[agentID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if subscribers, ok := h.subs[agentID]; ok {
			delete(subscribers, ch)
			if len(subscribers) == 0 {
				delete(h.subs, agentID)
			}
		}
		h.mu.Unlock()
		close(ch)
	}
}

// Notify pushes a delivered message to the recipient's subscribers. Sends
// never block; a full subscriber buffer drops the event.
func (h *Hub) Notify(agentID string, msg *models.Message) {
	if agentID == "" {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[agentID] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribers reports how many listeners an agent currently has.
func (h *Hub) Subscribers(agentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[agentID])
}
