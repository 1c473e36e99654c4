// Package notify fans out tariff and session change events to in-process
// subscribers and, through an MQTT bridge, to other server instances.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Kind identifies what changed.
type Kind string

const (
	TariffsReplaced   Kind = "tariffs.replaced"
	SessionRegistered Kind = "session.registered"
	SessionSettled    Kind = "session.settled"
	SessionCancelled  Kind = "session.cancelled"
)

// Event describes a change. Origin is the instance id that made the change.
type Event struct {
	Kind   Kind      `json:"kind"`
	Plate  string    `json:"plate,omitempty"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Hub is an in-process publish/subscribe fan-out. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every current subscriber.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropped change event for slow subscriber", "subscriber", id, "kind", ev.Kind)
		}
	}
}
