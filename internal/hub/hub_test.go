package hub

import (
	"testing"
	"time"

	"github.com/convgateway/core/internal/domain"
)

func TestSubscribeAndBroadcastDeliversEvent(t *testing.T) {
	h := New(10)
	sub := h.Subscribe("device-1", "conv-1")

	h.Broadcast(domain.ConversationEvent{ConvID: "conv-1", Seq: 1})

	select {
	case event := <-sub.Events():
		if event.Seq != 1 {
			t.Errorf("expected seq 1, got %d", event.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestBroadcastDoesNotCrossConversations(t *testing.T) {
	h := New(10)
	sub := h.Subscribe("device-1", "conv-1")

	h.Broadcast(domain.ConversationEvent{ConvID: "conv-other", Seq: 1})

	select {
	case event := <-sub.Events():
		t.Fatalf("expected no event to cross conversations, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesEventsChannel(t *testing.T) {
	h := New(10)
	sub := h.Subscribe("device-1", "conv-1")
	h.Unsubscribe(sub)

	_, ok := <-sub.Events()
	if ok {
		t.Error("expected events channel to be closed after unsubscribe")
	}
	if h.SubscriberCount("conv-1") != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", h.SubscriberCount("conv-1"))
	}
}

func TestSubscriberCount(t *testing.T) {
	h := New(10)
	h.Subscribe("device-1", "conv-1")
	h.Subscribe("device-2", "conv-1")
	h.Subscribe("device-3", "conv-2")

	if got := h.SubscriberCount("conv-1"); got != 2 {
		t.Errorf("expected 2 subscribers on conv-1, got %d", got)
	}
	if got := h.SubscriberCount("conv-2"); got != 1 {
		t.Errorf("expected 1 subscriber on conv-2, got %d", got)
	}
}

func TestBroadcastMarksSlowSubscriberDropped(t *testing.T) {
	h := New(1)
	sub := h.Subscribe("device-1", "conv-1")

	h.Broadcast(domain.ConversationEvent{ConvID: "conv-1", Seq: 1})
	h.Broadcast(domain.ConversationEvent{ConvID: "conv-1", Seq: 2}) // fills the 1-slot queue past capacity

	select {
	case <-sub.Dropped():
	case <-time.After(time.Second):
		t.Fatal("expected a full outbound queue to mark the subscription dropped")
	}
}
