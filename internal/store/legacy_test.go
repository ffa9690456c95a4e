package store

import (
	"context"
	"testing"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// agent-1's mailbox used to be keyed by its session name.
func legacyMap(owner string) string {
	if owner == "agent-1" {
		return "23blocks-api-crm"
	}
	return ""
}

func TestCompatListsBothKeysDeduped(t *testing.T) {
	inner := newTestStore(t)
	ctx := context.Background()

	// One message only under the legacy key, one under both, one modern.
	if err := inner.PutInbox(ctx, "23blocks-api-crm", testMessage("msg-a", "x", "agent-1")); err != nil {
		t.Fatal(err)
	}
	if err := inner.PutInbox(ctx, "23blocks-api-crm", testMessage("msg-b", "x", "agent-1")); err != nil {
		t.Fatal(err)
	}
	dup := testMessage("msg-b", "x", "agent-1")
	dup.Status = models.StatusRead // modern copy differs; it must win
	if err := inner.PutInbox(ctx, "agent-1", dup); err != nil {
		t.Fatal(err)
	}
	if err := inner.PutInbox(ctx, "agent-1", testMessage("msg-c", "x", "agent-1")); err != nil {
		t.Fatal(err)
	}

	c := NewCompatMailbox(inner, legacyMap)
	msgs, err := c.List(ctx, "agent-1", ListFilter{Box: models.BoxInbox})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 deduped messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.ID == "msg-b" && m.Status != models.StatusRead {
			t.Fatal("agent-id copy should shadow the legacy copy")
		}
	}
}

func TestCompatGetFallsBack(t *testing.T) {
	inner := newTestStore(t)
	ctx := context.Background()

	if err := inner.PutInbox(ctx, "23blocks-api-crm", testMessage("msg-old", "x", "agent-1")); err != nil {
		t.Fatal(err)
	}

	c := NewCompatMailbox(inner, legacyMap)
	got, err := c.Get(ctx, "agent-1", "msg-old")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("legacy message not visible through compat layer")
	}
}

func TestCompatMutatesLegacyRow(t *testing.T) {
	inner := newTestStore(t)
	ctx := context.Background()

	if err := inner.PutInbox(ctx, "23blocks-api-crm", testMessage("msg-old", "x", "agent-1")); err != nil {
		t.Fatal(err)
	}

	c := NewCompatMailbox(inner, legacyMap)
	if err := c.MarkRead(ctx, "agent-1", "msg-old"); err != nil {
		t.Fatal(err)
	}

	got, _ := inner.Get(ctx, "23blocks-api-crm", "msg-old")
	if got == nil || got.Status != models.StatusRead {
		t.Fatalf("legacy row not updated: %+v", got)
	}
}

func TestCompatWithoutLegacyMapping(t *testing.T) {
	inner := newTestStore(t)
	ctx := context.Background()

	c := NewCompatMailbox(inner, nil)
	if err := c.PutInbox(ctx, "agent-2", testMessage("msg-n", "x", "agent-2")); err != nil {
		t.Fatal(err)
	}
	msgs, err := c.List(ctx, "agent-2", ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}
