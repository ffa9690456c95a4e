package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/23blocks-OS/ai-maestro/internal/hosts"
	"github.com/23blocks-OS/ai-maestro/internal/push"
	"github.com/23blocks-OS/ai-maestro/internal/resolve"
	"github.com/23blocks-OS/ai-maestro/internal/routing"
	"github.com/23blocks-OS/ai-maestro/internal/store"
)

// aliasRegex constrains agent aliases: lowercase letters, digits, hyphen
// and underscore, 2-64 characters.
var aliasRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db       store.AgentStore
	mailbox  store.MailboxStore
	redis    *store.RedisStore
	engine   *routing.Engine
	resolver *resolve.Resolver
	dir      *hosts.Directory
	hub      *push.Hub
	logger   zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies. redis and
// hub may be nil; the endpoints that need them answer 503.
func NewHandler(db store.AgentStore, mailbox store.MailboxStore, redis *store.RedisStore,
	engine *routing.Engine, resolver *resolve.Resolver, dir *hosts.Directory,
	hub *push.Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		db:       db,
		mailbox:  mailbox,
		redis:    redis,
		engine:   engine,
		resolver: resolver,
		dir:      dir,
		hub:      hub,
		logger:   logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// routeError maps a routing failure onto an HTTP status.
func (h *Handler) routeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, routing.ErrUnknownRecipient),
		errors.Is(err, routing.ErrUnknownSender),
		errors.Is(err, routing.ErrMessageNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, routing.ErrRemoteTimeout):
		h.Error(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, routing.ErrHostNotFound),
		errors.Is(err, routing.ErrRemoteDelivery):
		h.Error(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, routing.ErrRelayUnavailable):
		h.Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, routing.ErrPolicyBlocked):
		h.Error(w, http.StatusForbidden, err.Error())
	default:
		h.Error(w, http.StatusInternalServerError, "routing failed")
	}
}

// resolveOwner resolves a path identifier to a local agent id, writing the
// error response itself when it cannot.
func (h *Handler) resolveOwner(w http.ResponseWriter, r *http.Request, identifier string) (string, bool) {
	agent, err := h.resolver.Resolve(r.Context(), identifier)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return "", false
	}
	if agent == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return "", false
	}
	return agent.AgentID, true
}

// sanitizeName trims and limits a display name to 100 characters, removing
// control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidAlias validates an agent alias.
func isValidAlias(alias string) bool {
	return aliasRegex.MatchString(alias)
}

// isValidWebhookURL does the cheap shape check at registration time; the
// dispatcher re-checks the target before every delivery.
func isValidWebhookURL(raw string) bool {
	if raw == "" {
		return true // optional field
	}
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
