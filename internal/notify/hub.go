package notify

import (
	"sync"
	"time"

	"github.com/openlot/parkd/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Event kinds published on lot topics.
const (
	EventSessionStarted   = "SESSION_STARTED"
	EventSessionEnded     = "SESSION_ENDED"
	EventSpotAvailability = "SPOT_AVAILABILITY_CHANGED"
)

// subscriberBuffer bounds per-subscriber queues. A subscriber that
// falls this far behind starts losing events.
const subscriberBuffer = 32

// Event is a realtime notification scoped to one lot. Optional fields
// are nil when they do not apply to the kind.
type Event struct {
	Kind      string           `json:"kind"`
	LotID     string           `json:"lot_id"`
	SpotID    string           `json:"spot_id,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Available *bool            `json:"available,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	At        time.Time        `json:"at"`
}

type subscriber struct {
	lotID string
	ch    chan Event
}

// Hub fans events out to subscribers keyed by lot. Delivery is
// best-effort at-most-once: a full subscriber queue drops the event for
// that subscriber, and events published while disconnected are gone.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	logger      zerolog.Logger
}

// NewHub creates an event hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		logger:      logger.With().Str("component", "notify").Logger(),
	}
}

// Subscribe registers interest in one lot's events. The returned cancel
// function must be called when the subscriber goes away.
func (h *Hub) Subscribe(lotID string) (<-chan Event, func()) {
	sub := &subscriber{lotID: lotID, ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	metrics.WSSubscribers.Inc()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[sub]; ok {
			delete(h.subscribers, sub)
			close(sub.ch)
			metrics.WSSubscribers.Dec()
		}
		h.mu.Unlock()
	}

	return sub.ch, cancel
}

// Publish delivers the event to every subscriber of its lot without
// blocking. Slow subscribers lose the event.
func (h *Hub) Publish(event Event) {
	metrics.EventsPublished.WithLabelValues(event.Kind).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		if sub.lotID != event.LotID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			metrics.EventsDropped.Inc()
			h.logger.Debug().
				Str("lot_id", event.LotID).
				Str("kind", event.Kind).
				Msg("Dropped event for slow subscriber")
		}
	}
}

// SubscriberCount reports the number of active subscriptions for a lot.
func (h *Hub) SubscriberCount(lotID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var n int
	for sub := range h.subscribers {
		if sub.lotID == lotID {
			n++
		}
	}
	return n
}
