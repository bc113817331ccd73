// Package realtime fans change events out to websocket subscribers. Each
// subscription is scoped to one user at one place and only sees the rows
// that user is allowed to see there.
package realtime

import (
	"encoding/json"
	"sync"

	"herenow/pkg/logger"
	"herenow/pkg/model"

	"github.com/google/uuid"
)

type Scope struct {
	UserID  string
	PlaceID string
}

// Subscription is owned by whoever called Subscribe and must be closed by
// them. The hub closes it early when the subscriber falls behind.
type Subscription struct {
	ID    string
	Scope Scope

	events    chan model.ChangeEvent
	hub       *Hub
	closeOnce sync.Once
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan model.ChangeEvent {
	return s.events
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
	})
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	log    *logger.Logger
}

func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		log:    log,
	}
}

func (h *Hub) Subscribe(scope Scope) *Subscription {
	sub := &Subscription{
		ID:     uuid.New().String(),
		Scope:  scope,
		events: make(chan model.ChangeEvent, h.buffer),
		hub:    h,
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	h.log.Debug("Subscription opened", "subscription_id", sub.ID, "user_id", scope.UserID, "place_id", scope.PlaceID)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub.ID)
	close(sub.events)
	h.mu.Unlock()

	h.log.Debug("Subscription closed", "subscription_id", sub.ID)
}

// Publish hands event to every matching subscription without blocking.
// A subscriber whose buffer is full is dropped; it reconnects and
// re-fetches rather than silently missing events. Returns how many
// subscriptions received the event.
func (h *Hub) Publish(event model.ChangeEvent) int {
	route, err := routeOf(event)
	if err != nil {
		h.log.Warn("Unroutable change event dropped", "event_id", event.EventID, "table", event.Table, "error", err)
		return 0
	}

	delivered := 0
	var slow []*Subscription

	h.mu.RLock()
	for _, sub := range h.subs {
		if !route.matches(sub.Scope) {
			continue
		}
		select {
		case sub.events <- event:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.log.Warn("Slow subscriber dropped", "subscription_id", sub.ID, "user_id", sub.Scope.UserID)
		sub.Close()
	}
	return delivered
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// CloseAll ends every subscription, e.g. on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// route is who may see one event.
type route struct {
	everyone     bool
	placeID      string
	participants []string // empty means everyone at the place
}

func (r route) matches(scope Scope) bool {
	if r.everyone {
		return true
	}
	if r.placeID != scope.PlaceID {
		return false
	}
	if len(r.participants) == 0 {
		return true
	}
	for _, p := range r.participants {
		if p == scope.UserID {
			return true
		}
	}
	return false
}

type routingFields struct {
	PlaceID     string `json:"place_id"`
	InitiatorID string `json:"initiator_id"`
	InitiateeID string `json:"initiatee_id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
}

// routeOf derives visibility from the record. Deletes carry only the id, so
// they go to everyone and clients ignore ids they do not hold.
func routeOf(event model.ChangeEvent) (route, error) {
	if event.Type == model.EventDelete {
		return route{everyone: true}, nil
	}

	var f routingFields
	if err := json.Unmarshal(event.Record, &f); err != nil {
		return route{}, err
	}

	r := route{placeID: f.PlaceID}
	switch event.Table {
	case model.TableCheckins:
	case model.TableMessageRequests, model.TableMessageSessions:
		r.participants = []string{f.InitiatorID, f.InitiateeID}
	case model.TableMessages:
		r.participants = []string{f.SenderID, f.RecipientID}
	}
	return r, nil
}
