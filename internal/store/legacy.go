package store

import (
	"context"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// CompatMailbox bridges the historical mailbox naming scheme. Older
// deployments keyed mailboxes by tmux session name; current ones key by
// agent id. Reads consult both keys and collapse duplicates by message id,
// preferring the agent-id copy. Writes always target the agent-id key;
// mutations fall through to the legacy key when the canonical row is absent.
// Routing and handlers never see the duality.
type CompatMailbox struct {
	inner MailboxStore
	// legacyOwner maps an agent id to its historical owner key, "" when the
	// agent never had one.
	legacyOwner func(owner string) string
}

// NewCompatMailbox wraps inner with legacy-key awareness. legacyOwner may be
// nil when no historical data exists.
func NewCompatMailbox(inner MailboxStore, legacyOwner func(owner string) string) *CompatMailbox {
	if legacyOwner == nil {
		legacyOwner = func(string) string { return "" }
	}
	return &CompatMailbox{inner: inner, legacyOwner: legacyOwner}
}

func (c *CompatMailbox) PutInbox(ctx context.Context, owner string, msg *models.Message) error {
	return c.inner.PutInbox(ctx, owner, msg)
}

func (c *CompatMailbox) PutSent(ctx context.Context, owner string, msg *models.Message) error {
	return c.inner.PutSent(ctx, owner, msg)
}

func (c *CompatMailbox) PutArchived(ctx context.Context, owner string, msg *models.Message) error {
	return c.inner.PutArchived(ctx, owner, msg)
}

func (c *CompatMailbox) Get(ctx context.Context, owner, id string) (*models.Message, error) {
	msg, err := c.inner.Get(ctx, owner, id)
	if err != nil || msg != nil {
		return msg, err
	}
	if legacy := c.legacyOwner(owner); legacy != "" {
		return c.inner.Get(ctx, legacy, id)
	}
	return nil, nil
}

func (c *CompatMailbox) List(ctx context.Context, owner string, f ListFilter) ([]models.Message, error) {
	msgs, err := c.inner.List(ctx, owner, f)
	if err != nil {
		return nil, err
	}
	legacy := c.legacyOwner(owner)
	if legacy == "" {
		return msgs, nil
	}

	old, err := c.inner.List(ctx, legacy, f)
	if err != nil {
		return nil, err
	}
	if len(old) == 0 {
		return msgs, nil
	}

	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = struct{}{}
	}
	for _, m := range old {
		if _, dup := seen[m.ID]; !dup {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

func (c *CompatMailbox) MarkRead(ctx context.Context, owner, id string) error {
	return c.mutate(ctx, owner, id, c.inner.MarkRead)
}

func (c *CompatMailbox) Archive(ctx context.Context, owner, id string) error {
	return c.mutate(ctx, owner, id, c.inner.Archive)
}

func (c *CompatMailbox) Delete(ctx context.Context, owner, id string) error {
	return c.mutate(ctx, owner, id, c.inner.Delete)
}

func (c *CompatMailbox) mutate(ctx context.Context, owner, id string, op func(context.Context, string, string) error) error {
	msg, err := c.inner.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if msg != nil {
		return op(ctx, owner, id)
	}
	if legacy := c.legacyOwner(owner); legacy != "" {
		return op(ctx, legacy, id)
	}
	// Unknown id: delegate so the caller sees the store's own behavior.
	return op(ctx, owner, id)
}
