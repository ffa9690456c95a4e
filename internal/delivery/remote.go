// Package delivery owns the ways a routed message actually reaches
// somewhere: a peer node over HTTP, the local mailbox fan-out, an outbound
// webhook, or a terminal notification.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/23blocks-OS/ai-maestro/internal/models"
	"github.com/23blocks-OS/ai-maestro/internal/routing"
)

// forwardTimeout bounds one node-to-node delivery attempt. There is no
// retry: the sender is told immediately and decides what to do.
const forwardTimeout = 10 * time.Second

// HTTPForwarder delivers envelopes to peer nodes.
type HTTPForwarder struct {
	client *http.Client
	selfID string
	logger zerolog.Logger
}

// NewHTTPForwarder creates a forwarder identifying itself as selfID.
func NewHTTPForwarder(selfID string, logger zerolog.Logger) *HTTPForwarder {
	return &HTTPForwarder{
		client: &http.Client{Timeout: forwardTimeout},
		selfID: selfID,
		logger: logger,
	}
}

// Forward POSTs the envelope to the peer's route endpoint. Any non-2xx
// response is a failure; timeouts are distinguishable via the error
// taxonomy.
func (f *HTTPForwarder) Forward(ctx context.Context, host *models.Host, env models.Envelope, payload models.Payload, senderPublicKey string) error {
	body, err := json.Marshal(models.RouteRequest{
		From:            env.From,
		To:              env.To,
		Subject:         env.Subject,
		Payload:         payload,
		Priority:        env.Priority,
		InReplyTo:       env.InReplyTo,
		Signature:       env.Signature,
		SenderPublicKey: senderPublicKey,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", routing.ErrRemoteDelivery, err)
	}

	ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host.URL+"/api/v1/route", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", routing.ErrRemoteDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-From", f.selfID)
	req.Header.Set("X-AMP-Envelope-Id", env.ID)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			f.logger.Warn().
				Str("host", host.ID).
				Str("envelope_id", env.ID).
				Dur("elapsed", time.Since(start)).
				Msg("remote delivery timed out")
			return fmt.Errorf("%w: %s", routing.ErrRemoteTimeout, host.ID)
		}
		return fmt.Errorf("%w: %v", routing.ErrRemoteDelivery, err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", routing.ErrRemoteDelivery, host.ID, resp.StatusCode)
	}

	f.logger.Debug().
		Str("host", host.ID).
		Str("envelope_id", env.ID).
		Dur("elapsed", time.Since(start)).
		Msg("envelope forwarded")
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
