package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/23blocks-OS/ai-maestro/internal/models"
	"github.com/23blocks-OS/ai-maestro/internal/resolve"
	"github.com/23blocks-OS/ai-maestro/internal/routing"
)

// RouteResponse represents the mesh routing response returned to peers.
type RouteResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// Route is the mesh ingress: peers POST envelopes here, and local clients
// may use it as a raw send. The only difference from SendMessage is the
// trust verdict derived from the forwarding headers.
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	var req models.RouteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !h.validateSend(w, &req) {
		return
	}

	forwardedFrom := r.Header.Get("X-Forwarded-From")
	envelopeID := r.Header.Get("X-AMP-Envelope-Id")

	msg, err := h.engine.Send(r.Context(), routing.SendRequest{
		From:            req.From,
		To:              req.To,
		Subject:         req.Subject,
		Priority:        req.Priority,
		Payload:         req.Payload,
		InReplyTo:       req.InReplyTo,
		Signature:       req.Signature,
		SenderPublicKey: req.SenderPublicKey,
		TrustOverride:   h.ingressTrust(req.From, forwardedFrom),
	})
	if err != nil {
		h.logger.Warn().
			Str("from", req.From).
			Str("to", req.To).
			Str("envelope_id", envelopeID).
			Str("forwarded_from", forwardedFrom).
			Err(err).
			Msg("route rejected")
		h.routeError(w, err)
		return
	}

	h.logger.Info().
		Str("message_id", msg.ID).
		Str("from", req.From).
		Str("to", req.To).
		Str("forwarded_from", forwardedFrom).
		Msg("message routed")

	h.JSON(w, http.StatusOK, RouteResponse{Status: "delivered", MessageID: msg.ID})
}

// ingressTrust turns the transport evidence into an explicit trust verdict
// when the declared origin and the forwarding path disagree. A message that
// claims a remote sender must actually arrive through the mesh, and the
// forwarding peer must match the host in the from address. Otherwise the
// verdict is left to the engine's classification.
func (h *Handler) ingressTrust(from, forwardedFrom string) *bool {
	_, fromHost := resolve.ParseQualifiedAddress(from)
	if fromHost == "" || h.dir.IsSelf(fromHost) {
		return nil
	}

	deny := false
	if forwardedFrom == "" {
		// Remote origin claimed without a forwarding peer: spoofed or
		// misrouted, either way unverified.
		return &deny
	}
	if !strings.EqualFold(forwardedFrom, fromHost) {
		return &deny
	}
	return nil
}
