package push

import (
	"encoding/json"
	"testing"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

func TestNotifyReachesSubscriber(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("agent-1")
	defer cancel()

	h.Notify("agent-1", &models.Message{ID: "msg-1", Subject: "hi"})

	select {
	case data := <-ch:
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.ID != "msg-1" {
			t.Fatalf("got %q", msg.ID)
		}
	default:
		t.Fatal("no event received")
	}
}

func TestNotifyOtherAgentIsSilent(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("agent-1")
	defer cancel()

	h.Notify("agent-2", &models.Message{ID: "msg-2"})

	select {
	case <-ch:
		t.Fatal("event leaked to wrong subscriber")
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("agent-1")
	defer cancel()

	// Fill the buffer and keep going; Notify must never block.
	for i := 0; i < 20; i++ {
		h.Notify("agent-1", &models.Message{ID: "msg"})
	}

	if len(ch) != cap(ch) {
		t.Fatalf("buffer should be full, has %d of %d", len(ch), cap(ch))
	}
}

func TestCancelRemovesSubscription(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("agent-1")
	if h.Subscribers("agent-1") != 1 {
		t.Fatal("subscription not registered")
	}
	cancel()
	if h.Subscribers("agent-1") != 0 {
		t.Fatal("subscription not removed")
	}

	// Notify after cancel must not panic on the closed channel.
	h.Notify("agent-1", &models.Message{ID: "msg"})
}
