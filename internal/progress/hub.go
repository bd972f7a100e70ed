package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aseven02/streamget/internal/capture"
	"github.com/aseven02/streamget/internal/douyin"
)

// Event types published over the hub.
const (
	EventRunResolved     = "run_resolved"
	EventSessionStarted  = "session_started"
	EventSessionFinished = "session_finished"
	EventRunFinished     = "run_finished"
)

// Event is one capture lifecycle notification.
type Event struct {
	Type       string         `json:"type"`
	RunID      uuid.UUID      `json:"run_id"`
	RoomURL    string         `json:"room_url,omitempty"`
	AnchorName string         `json:"anchor_name,omitempty"`
	RoomStatus string         `json:"room_status,omitempty"`
	Quality    douyin.Quality `json:"quality,omitempty"`
	Status     capture.Status `json:"status,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	At         time.Time      `json:"at"`
}

// Publisher mirrors events to an external channel (e.g. Redis).
type Publisher interface {
	PublishEvent(ev Event) error
}

// Hub fans capture lifecycle events out to subscribers. Sessions publish
// from their own goroutines, so delivery is non-blocking: a subscriber
// that stops draining loses events rather than stalling captures.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	mirror Publisher
	logger *zap.Logger
}

// NewHub creates an event hub. mirror may be nil when no external
// consumers exist.
func NewHub(mirror Publisher, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		mirror: mirror,
		logger: logger,
	}
}

// Subscribe registers a new subscriber. The cancel func must be called
// when the subscriber goes away; the channel is closed by cancel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber and the mirror.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.Lock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// subscriber buffer full, skip
		}
	}
	h.mu.Unlock()

	if h.mirror != nil {
		if err := h.mirror.PublishEvent(ev); err != nil {
			h.logger.Warn("event mirror publish failed",
				zap.String("type", ev.Type), zap.Error(err))
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
