// Package hub fans conversation events out to subscribed devices. It
// generalizes the teacher's SessionManager (map-of-maps under one
// RWMutex, register/unregister/close-by-owner) to the shape of
// hub.py's SubscriptionHub: subscriptions are keyed by conv_id, each
// one wraps a bounded outbound channel instead of a bare callback so a
// slow consumer can't block the broadcaster.
package hub

import (
	"log/slog"
	"sync"

	"github.com/convgateway/core/internal/domain"
)

// DefaultOutboundQueueSize is the default bound on a subscription's
// outbound channel (§5: "bounded outbound queue, default 1000").
const DefaultOutboundQueueSize = 1000

// Subscription is a live device's registration for one conversation's
// events. Events arrive on Events(); the caller must drain it (a
// transport goroutine does this) and call Hub.Unsubscribe when the
// connection goes away.
type Subscription struct {
	DeviceID string
	ConvID   string

	events  chan domain.ConversationEvent
	dropped chan struct{}
	once    sync.Once
}

// Events returns the channel new events for this subscription arrive
// on. It is closed when the subscription is unsubscribed.
func (s *Subscription) Events() <-chan domain.ConversationEvent {
	return s.events
}

// Dropped returns a channel that's closed the moment this subscription
// is forcibly dropped for being too slow (its outbound queue filled).
// The transport layer selects on this to know to tear the connection
// down and have the client resubscribe from its last acked cursor.
func (s *Subscription) Dropped() <-chan struct{} {
	return s.dropped
}

func (s *Subscription) markDropped() {
	s.once.Do(func() { close(s.dropped) })
}

// Hub registers per-conversation subscriptions and broadcasts events to
// every subscriber of a conv_id, mirroring hub.py's SubscriptionHub.
type Hub struct {
	mu              sync.RWMutex
	byConv          map[string][]*Subscription
	outboundQueueSz int
}

// New builds a Hub whose subscriptions buffer up to queueSize events
// before being dropped (<=0 uses DefaultOutboundQueueSize).
func New(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultOutboundQueueSize
	}
	return &Hub{
		byConv:          make(map[string][]*Subscription),
		outboundQueueSz: queueSize,
	}
}

// Subscribe registers deviceID for convID's events and returns the
// Subscription handle.
func (h *Hub) Subscribe(deviceID, convID string) *Subscription {
	sub := &Subscription{
		DeviceID: deviceID,
		ConvID:   convID,
		events:   make(chan domain.ConversationEvent, h.outboundQueueSz),
		dropped:  make(chan struct{}),
	}
	h.mu.Lock()
	h.byConv[convID] = append(h.byConv[convID], sub)
	h.mu.Unlock()
	slog.Debug("hub subscribed", "device_id", deviceID, "conv_id", convID)
	return sub
}

// Unsubscribe removes a subscription and closes its events channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	subs := h.byConv[sub.ConvID]
	for i, s := range subs {
		if s == sub {
			h.byConv[sub.ConvID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.byConv[sub.ConvID]) == 0 {
		delete(h.byConv, sub.ConvID)
	}
	h.mu.Unlock()
	close(sub.events)
	slog.Debug("hub unsubscribed", "device_id", sub.DeviceID, "conv_id", sub.ConvID)
}

// Broadcast delivers event to every subscriber of its conv_id. A
// subscriber whose outbound queue is full is marked dropped instead of
// blocking the broadcaster or the other subscribers.
func (h *Hub) Broadcast(event domain.ConversationEvent) {
	h.mu.RLock()
	subs := make([]*Subscription, len(h.byConv[event.ConvID]))
	copy(subs, h.byConv[event.ConvID])
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.events <- event:
		default:
			slog.Warn("hub dropping slow subscriber", "device_id", sub.DeviceID, "conv_id", sub.ConvID, "seq", event.Seq)
			sub.markDropped()
		}
	}
}

// SubscriberCount returns how many devices are currently subscribed to
// convID.
func (h *Hub) SubscriberCount(convID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byConv[convID])
}
