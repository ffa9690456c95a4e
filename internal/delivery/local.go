package delivery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/23blocks-OS/ai-maestro/internal/metrics"
	"github.com/23blocks-OS/ai-maestro/internal/models"
	"github.com/23blocks-OS/ai-maestro/internal/push"
	"github.com/23blocks-OS/ai-maestro/internal/routing"
	"github.com/23blocks-OS/ai-maestro/internal/store"
)

// Fanout lands a message for a local recipient. The mailbox write is the
// durability boundary and the only step that can fail the delivery; the
// live push, the terminal nudge, and the webhook are side channels with
// their own failure budgets.
type Fanout struct {
	mailbox  store.MailboxStore
	hub      *push.Hub
	notifier *Notifier
	webhooks *WebhookDispatcher
	logger   zerolog.Logger
}

// NewFanout wires the local delivery chain. hub, notifier, and webhooks may
// each be nil; the corresponding channel is skipped.
func NewFanout(mailbox store.MailboxStore, hub *push.Hub, notifier *Notifier, webhooks *WebhookDispatcher, logger zerolog.Logger) *Fanout {
	return &Fanout{
		mailbox:  mailbox,
		hub:      hub,
		notifier: notifier,
		webhooks: webhooks,
		logger:   logger,
	}
}

// Deliver writes the message and fires the side channels. Once PutInbox
// returns nil the delivery is a success no matter what the side channels
// do.
func (f *Fanout) Deliver(ctx context.Context, recipient *models.ResolvedAgent, msg *models.Message, env models.Envelope, payload models.Payload, webhookURL string) error {
	if err := f.mailbox.PutInbox(ctx, recipient.AgentID, msg); err != nil {
		return fmt.Errorf("%w: %v", routing.ErrMailboxWrite, err)
	}

	if f.hub != nil {
		f.hub.Notify(recipient.AgentID, msg)
	}

	if f.notifier != nil && recipient.SessionName != "" {
		if err := f.notifier.Notify(ctx, recipient.SessionName, msg); err != nil {
			metrics.NotificationsSent.WithLabelValues("fail").Inc()
			f.logger.Warn().
				Str("message_id", msg.ID).
				Str("session", recipient.SessionName).
				Err(err).
				Msg("terminal notification failed")
		} else {
			metrics.NotificationsSent.WithLabelValues("ok").Inc()
		}
	}

	if f.webhooks != nil && webhookURL != "" {
		senderKey := ""
		if msg.AMP != nil {
			senderKey = msg.AMP.SenderPublicKey
		}
		f.webhooks.Schedule(webhookURL, msg.ID, models.WebhookBody{
			Envelope:        env,
			Payload:         payload,
			SenderPublicKey: senderKey,
		})
	}

	return nil
}
