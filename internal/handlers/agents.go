package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/23blocks-OS/ai-maestro/internal/crypto"
	"github.com/23blocks-OS/ai-maestro/internal/metrics"
	"github.com/23blocks-OS/ai-maestro/internal/models"
	"github.com/23blocks-OS/ai-maestro/internal/resolve"
)

// RegisterAgentRequest represents the registration request body.
type RegisterAgentRequest struct {
	Alias       string `json:"alias"`
	DisplayName string `json:"display_name"`
	SessionName string `json:"session_name"`
	PublicKey   string `json:"public_key"`
	WebhookURL  string `json:"webhook_url"`
	External    bool   `json:"external"`
	PickupKey   string `json:"pickup_key"`
}

// RegisterAgentResponse represents the registration response.
type RegisterAgentResponse struct {
	ID      string `json:"id"`
	Alias   string `json:"alias"`
	Address string `json:"address"`
}

// AgentListResponse represents the agent directory listing.
type AgentListResponse struct {
	Agents []models.Agent `json:"agents"`
	Count  int            `json:"count"`
}

// RegisterAgent handles agent registration. Registration is an upsert on
// alias: re-registering updates the mutable fields and returns 200.
func (h *Handler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Alias == "" {
		h.Error(w, http.StatusBadRequest, "alias is required")
		return
	}
	if !isValidAlias(req.Alias) {
		h.Error(w, http.StatusBadRequest, "invalid alias: lowercase letters, digits, - and _, 2-64 chars")
		return
	}
	if req.PublicKey != "" {
		if _, err := crypto.ValidatePublicKey(req.PublicKey); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid public_key: must be base64-encoded Ed25519 public key (32 bytes)")
			return
		}
	}
	if !isValidWebhookURL(req.WebhookURL) {
		h.Error(w, http.StatusBadRequest, "invalid webhook_url: must be http(s)")
		return
	}

	pickupHash := ""
	if req.PickupKey != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.PickupKey), bcrypt.DefaultCost)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to process pickup key")
			return
		}
		pickupHash = string(hash)
	}

	existing, err := h.db.GetAgentByAlias(r.Context(), req.Alias)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	if existing != nil {
		existing.DisplayName = sanitizeName(req.DisplayName)
		existing.SessionName = req.SessionName
		existing.External = req.External
		if req.PublicKey != "" {
			existing.PublicKey = req.PublicKey
		}
		if req.WebhookURL != "" {
			existing.WebhookURL = req.WebhookURL
		}
		if pickupHash != "" {
			existing.PickupKeyHash = pickupHash
		}
		if err := h.db.UpdateAgent(r.Context(), existing); err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to update agent")
			return
		}
		h.JSON(w, http.StatusOK, RegisterAgentResponse{
			ID:      existing.ID.String(),
			Alias:   existing.Alias,
			Address: resolve.QualifiedAddress(existing.Alias, h.dir.SelfID()),
		})
		return
	}

	agent, err := h.db.CreateAgent(r.Context(), &models.Agent{
		ID:            crypto.NewUUIDv7(),
		Alias:         req.Alias,
		DisplayName:   sanitizeName(req.DisplayName),
		SessionName:   req.SessionName,
		PublicKey:     req.PublicKey,
		WebhookURL:    req.WebhookURL,
		PickupKeyHash: pickupHash,
		External:      req.External,
	})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create agent")
		return
	}
	metrics.AgentsRegistered.Inc()

	h.JSON(w, http.StatusCreated, RegisterAgentResponse{
		ID:      agent.ID.String(),
		Alias:   agent.Alias,
		Address: resolve.QualifiedAddress(agent.Alias, h.dir.SelfID()),
	})
}

// ListAgentsHandler handles the agent directory listing.
func (h *Handler) ListAgentsHandler(w http.ResponseWriter, r *http.Request) {
	agents, err := h.db.ListAgents(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	h.JSON(w, http.StatusOK, AgentListResponse{Agents: agents, Count: len(agents)})
}

// GetAgent handles agent profile lookup by any identifier form.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.resolver.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if resolved == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	agent, err := h.db.GetAgentByAlias(r.Context(), resolved.Alias)
	if err != nil || agent == nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, agent)
}

// ResolveResponse represents an address resolution result.
type ResolveResponse struct {
	Identifier string                `json:"identifier"`
	Address    string                `json:"address"`
	Agent      *models.ResolvedAgent `json:"agent"`
}

// ResolveAddress resolves an identifier the way routing would: by id, then
// alias, then session name, then session segment.
func (h *Handler) ResolveAddress(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	resolved, err := h.resolver.Resolve(r.Context(), identifier)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if resolved == nil {
		h.Error(w, http.StatusNotFound, "no agent matches identifier")
		return
	}

	h.JSON(w, http.StatusOK, ResolveResponse{
		Identifier: identifier,
		Address:    resolve.QualifiedAddress(resolved.Alias, h.dir.SelfID()),
		Agent:      resolved,
	})
}
