package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/23blocks-OS/ai-maestro/internal/metrics"
	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// Forward re-sends a message the owner already holds to another recipient.
// The original stays untouched; the forward is a fresh send carrying a
// provenance record and the original quoted in the body.
func (e *Engine) Forward(ctx context.Context, ownerID, originalMessageID, to, note string) (*models.Message, error) {
	orig, err := e.mailbox.Get(ctx, ownerID, originalMessageID)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, fmt.Errorf("%w: %q", ErrMessageNotFound, originalMessageID)
	}

	req := SendRequest{
		From:     ownerID,
		To:       to,
		Subject:  forwardSubject(orig.Subject),
		Priority: orig.Priority,
		Payload: models.Payload{
			Type:    models.ContentNotification,
			Message: ComposeForwardBody(note, orig),
		},
		ForwardedFrom: &models.ForwardedFrom{
			OriginalMessageID: orig.ID,
			OriginalFrom:      orig.From,
			OriginalTo:        orig.To,
			OriginalTimestamp: orig.Timestamp,
			ForwardedBy:       ownerID,
			ForwardedAt:       time.Now().UTC(),
			ForwardNote:       note,
		},
	}

	msg, err := e.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.MessagesForwarded.Inc()
	return msg, nil
}

// ComposeForwardBody renders the forwarder's note above the quoted
// original.
func ComposeForwardBody(note string, orig *models.Message) string {
	var b strings.Builder
	if note != "" {
		b.WriteString(note)
		b.WriteString("\n\n")
	}
	b.WriteString("--- Forwarded message ---\n")
	b.WriteString("From: " + displayName(orig.FromLabel, orig.FromAlias, orig.From) + "\n")
	b.WriteString("To: " + displayName(orig.ToLabel, orig.ToAlias, orig.To) + "\n")
	b.WriteString("Sent: " + orig.Timestamp.Format(time.RFC3339) + "\n")
	b.WriteString("Subject: " + orig.Subject + "\n\n")
	b.WriteString(orig.Content.Message)
	return b.String()
}

func forwardSubject(subject string) string {
	if strings.HasPrefix(subject, "Fwd: ") {
		return subject
	}
	return "Fwd: " + subject
}

func displayName(label, alias, id string) string {
	if label != "" {
		return label
	}
	if alias != "" {
		return alias
	}
	return id
}
