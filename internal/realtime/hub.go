package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	pkgerrors "github.com/openlots/openlots-backend/pkg/errors"
	"github.com/openlots/openlots-backend/pkg/logger"
	redispkg "github.com/openlots/openlots-backend/pkg/redis"
)

// subscriberBuffer bounds each watcher's queue; slow consumers drop events
// rather than stalling the fan-out.
const subscriberBuffer = 16

// Broadcaster publishes auction events to everyone watching a listing.
type Broadcaster interface {
	Broadcast(ctx context.Context, event Event) error
}

// Publisher is the cross-instance fan-out surface. Satisfied by the redis
// client; nil means single-instance local delivery.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Hub routes auction events to in-process subscribers and, when a publisher
// is configured, mirrors them across instances over redis pub/sub.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uuid.UUID]map[chan Event]struct{}

	publisher  Publisher
	subscriber *redispkg.Client
	logg       *logger.Logger
}

// NewHub wires the hub. The redis client may be nil for tests or
// single-process deployments.
func NewHub(client *redispkg.Client, logg *logger.Logger) (*Hub, error) {
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	hub := &Hub{
		listeners:  make(map[uuid.UUID]map[chan Event]struct{}),
		subscriber: client,
		logg:       logg,
	}
	if client != nil {
		hub.publisher = client
	}
	return hub, nil
}

// Subscribe registers a watcher for one listing. The returned cancel func
// must be called when the watcher disconnects.
func (h *Hub) Subscribe(listingID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	group, ok := h.listeners[listingID]
	if !ok {
		group = make(map[chan Event]struct{})
		h.listeners[listingID] = group
	}
	group[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if group, ok := h.listeners[listingID]; ok {
			if _, present := group[ch]; present {
				delete(group, ch)
				close(ch)
			}
			if len(group) == 0 {
				delete(h.listeners, listingID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast publishes an event. With redis configured the event round-trips
// through pub/sub so every instance delivers it; otherwise it is delivered
// to local subscribers directly.
func (h *Hub) Broadcast(ctx context.Context, event Event) error {
	if h.publisher == nil {
		h.deliverLocal(event)
		return nil
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode auction event")
	}
	if err := h.publisher.Publish(ctx, redispkg.AuctionChannel(event.ListingID.String()), raw); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish auction event")
	}
	return nil
}

// Run consumes the cross-instance event stream until ctx is cancelled. It is
// a no-op when no redis client is configured.
func (h *Hub) Run(ctx context.Context) error {
	if h.subscriber == nil {
		<-ctx.Done()
		return nil
	}

	sub, err := h.subscriber.PSubscribe(ctx, redispkg.AuctionChannelPattern())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe auction events")
	}
	defer sub.Close()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logg.Error(ctx, "drop malformed auction event", err)
				continue
			}
			h.deliverLocal(event)
		}
	}
}

// WatcherCount reports how many local subscribers a listing has.
func (h *Hub) WatcherCount(listingID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[listingID])
}

func (h *Hub) deliverLocal(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.listeners[event.ListingID] {
		select {
		case ch <- event:
		default:
		}
	}
}
