package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/23blocks-OS/ai-maestro/internal/metrics"
	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// pickupKeyHeader authenticates relay pickups.
const pickupKeyHeader = "X-AMP-Pickup-Key"

// RelayPickupResponse represents a relay drain result.
type RelayPickupResponse struct {
	Messages []models.RelayEntry `json:"messages"`
	Count    int                 `json:"count"`
}

// RelayPendingResponse represents a relay queue depth probe.
type RelayPendingResponse struct {
	Pending int64 `json:"pending"`
}

// RelayPickup drains queued messages for an external agent. Drained entries
// are gone from the queue; the response body is the only copy.
func (h *Handler) RelayPickup(w http.ResponseWriter, r *http.Request) {
	if h.redis == nil || !h.redis.Available() {
		h.Error(w, http.StatusServiceUnavailable, "relay not configured")
		return
	}

	agent, ok := h.authorizePickup(w, r)
	if !ok {
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.redis.Drain(r.Context(), agent.ID.String(), limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "relay drain failed")
		return
	}
	if entries == nil {
		entries = []models.RelayEntry{}
	}
	metrics.RelayDrained.Add(float64(len(entries)))

	h.JSON(w, http.StatusOK, RelayPickupResponse{Messages: entries, Count: len(entries)})
}

// RelayPending reports queue depth without draining.
func (h *Handler) RelayPending(w http.ResponseWriter, r *http.Request) {
	if h.redis == nil || !h.redis.Available() {
		h.Error(w, http.StatusServiceUnavailable, "relay not configured")
		return
	}

	agent, ok := h.authorizePickup(w, r)
	if !ok {
		return
	}

	pending, err := h.redis.Pending(r.Context(), agent.ID.String())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "relay probe failed")
		return
	}

	h.JSON(w, http.StatusOK, RelayPendingResponse{Pending: pending})
}

// authorizePickup checks the pickup key against the agent's stored hash,
// writing the error response itself when the check fails.
func (h *Handler) authorizePickup(w http.ResponseWriter, r *http.Request) (*models.Agent, bool) {
	resolved, err := h.resolver.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil, false
	}
	if resolved == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return nil, false
	}

	agent, err := h.db.GetAgentByAlias(r.Context(), resolved.Alias)
	if err != nil || agent == nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil, false
	}
	if !agent.External {
		h.Error(w, http.StatusForbidden, "agent is not external; use the mailbox")
		return nil, false
	}
	if agent.PickupKeyHash == "" {
		h.Error(w, http.StatusForbidden, "relay pickup not configured for this agent")
		return nil, false
	}

	key := r.Header.Get(pickupKeyHeader)
	if key == "" {
		h.Error(w, http.StatusUnauthorized, pickupKeyHeader+" header is required")
		return nil, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(agent.PickupKeyHash), []byte(key)); err != nil {
		h.Error(w, http.StatusUnauthorized, "invalid pickup key")
		return nil, false
	}

	return agent, true
}
