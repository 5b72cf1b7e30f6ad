package chain

import "sync"

// Hub fans out live step events to subscribers, keyed by chain id. The
// executor (or reasoning loop) publishes each step as it is appended; an
// SSE bridge subscribes per chain and forwards events to remote clients.
//
// Delivery is best-effort: a subscriber that falls behind its channel
// buffer misses events rather than blocking the producer. Order and
// correlation are guaranteed by the chain itself, not the hub.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Step]struct{} // chain id → subscriber set
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Step]struct{})}
}

// Publish broadcasts a step to all subscribers of the chain (non-blocking).
func (h *Hub) Publish(chainID string, s Step) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[chainID] {
		select {
		case ch <- s:
		default:
			// subscriber is too slow — drop this event for them
		}
	}
}

// Subscribe returns a channel receiving new steps for the chain.
// Call Unsubscribe when done to avoid leaks.
func (h *Hub) Subscribe(chainID string) chan Step {
	ch := make(chan Step, 64)
	h.mu.Lock()
	if h.subs[chainID] == nil {
		h.subs[chainID] = make(map[chan Step]struct{})
	}
	h.subs[chainID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (h *Hub) Unsubscribe(chainID string, ch chan Step) {
	h.mu.Lock()
	if set, ok := h.subs[chainID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, chainID)
		}
	}
	h.mu.Unlock()
	close(ch)
}
