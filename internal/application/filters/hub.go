package filters

import (
	"log/slog"
	"sync"

	"licensure/internal/domain/filter"
)

// Change is the notification published after every successful write.
// State is a snapshot; subscribers must treat it as read-only.
type Change struct {
	VisitorID string
	State     filter.State
}

// Hub fans change notifications out to per-visitor subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the change.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

type subscription struct {
	ch   chan Change
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscription]struct{})}
}

// Subscribe registers for a visitor's changes.
// PRE: buffer >= 0
// POST: Returns a receive channel and a cancel func; cancel closes the channel
// and is safe to call more than once
func (h *Hub) Subscribe(visitorID string, buffer int) (<-chan Change, func()) {
	sub := &subscription{ch: make(chan Change, buffer)}

	h.mu.Lock()
	set, ok := h.subs[visitorID]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[visitorID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs[visitorID], sub)
		if len(h.subs[visitorID]) == 0 {
			delete(h.subs, visitorID)
		}
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub.ch, cancel
}

// Publish delivers c to the visitor's subscribers.
// PRE: none
// POST: every subscriber with buffer space has received c
func (h *Hub) Publish(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[c.VisitorID] {
		select {
		case sub.ch <- c:
		default:
			slog.Debug("filter_change_dropped", "visitor_id", c.VisitorID)
		}
	}
}

// Subscribers returns the number of live subscriptions for a visitor.
func (h *Hub) Subscribers(visitorID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[visitorID])
}
