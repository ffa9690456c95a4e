package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/23blocks-OS/ai-maestro/internal/models"
	"github.com/23blocks-OS/ai-maestro/internal/routing"
	"github.com/23blocks-OS/ai-maestro/internal/store"
)

// maxMessageBytes bounds the message body accepted from clients.
const maxMessageBytes = 64 * 1024

// SendMessageResponse represents the send response.
type SendMessageResponse struct {
	ID         string `json:"id"`
	EnvelopeID string `json:"envelope_id"`
	ThreadID   string `json:"thread_id"`
	Timestamp  int64  `json:"ts"`
}

// MessageListResponse represents a mailbox listing.
type MessageListResponse struct {
	Messages []models.Message `json:"messages"`
	Count    int              `json:"count"`
}

// SendMessage handles a locally originated send. The body shape matches the
// mesh route endpoint so clients and peers speak one dialect.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.RouteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !h.validateSend(w, &req) {
		return
	}

	msg, err := h.engine.Send(r.Context(), routing.SendRequest{
		From:            req.From,
		To:              req.To,
		Subject:         req.Subject,
		Priority:        req.Priority,
		Payload:         req.Payload,
		InReplyTo:       req.InReplyTo,
		Signature:       req.Signature,
		SenderPublicKey: req.SenderPublicKey,
	})
	if err != nil {
		h.routeError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, SendMessageResponse{
		ID:         msg.ID,
		EnvelopeID: models.EnvelopeID(msg.ID),
		ThreadID:   models.ThreadIDFor(models.EnvelopeID(msg.ID), msg.InReplyTo),
		Timestamp:  msg.Timestamp.UnixMilli(),
	})
}

// validateSend rejects malformed sends before they reach the engine.
func (h *Handler) validateSend(w http.ResponseWriter, req *models.RouteRequest) bool {
	if req.From == "" {
		h.Error(w, http.StatusBadRequest, "from is required")
		return false
	}
	if req.To == "" {
		h.Error(w, http.StatusBadRequest, "to is required")
		return false
	}
	if req.Subject == "" {
		h.Error(w, http.StatusBadRequest, "subject is required")
		return false
	}
	if req.Payload.Message == "" {
		h.Error(w, http.StatusBadRequest, "payload.message is required")
		return false
	}
	if req.Priority != "" && !models.ValidPriority(req.Priority) {
		h.Error(w, http.StatusBadRequest, "invalid priority (low, normal, high, urgent)")
		return false
	}
	if req.Payload.Type != "" && !models.ValidContentType(req.Payload.Type) {
		h.Error(w, http.StatusBadRequest, "invalid payload type (request, response, notification, update)")
		return false
	}
	return true
}

// ListMessages handles a mailbox listing for one agent.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.resolveOwner(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := store.ListFilter{
		Box:      q.Get("box"),
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		From:     q.Get("from"),
		To:       q.Get("to"),
		Limit:    50,
	}
	if filter.Box == "" {
		filter.Box = models.BoxInbox
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = l
		}
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o > 0 {
			filter.Offset = o
		}
	}

	messages, err := h.mailbox.List(r.Context(), owner, filter)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, MessageListResponse{Messages: messages, Count: len(messages)})
}

// GetMessage handles fetching one message regardless of its box.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.resolveOwner(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	msg, err := h.mailbox.Get(r.Context(), owner, chi.URLParam(r, "messageID"))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if msg == nil {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}

	h.JSON(w, http.StatusOK, msg)
}

// MarkMessageRead marks a message read. Re-reading is a no-op.
func (h *Handler) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.resolveOwner(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	messageID := chi.URLParam(r, "messageID")
	msg, err := h.mailbox.Get(r.Context(), owner, messageID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if msg == nil {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}

	if err := h.mailbox.MarkRead(r.Context(), owner, messageID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update message")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"id": messageID, "status": models.StatusRead})
}

// ArchiveMessage moves a message to the archive. Archiving implies read.
func (h *Handler) ArchiveMessage(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.resolveOwner(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	messageID := chi.URLParam(r, "messageID")
	msg, err := h.mailbox.Get(r.Context(), owner, messageID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if msg == nil {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}

	if err := h.mailbox.Archive(r.Context(), owner, messageID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to archive message")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"id": messageID, "status": models.StatusArchived})
}

// DeleteMessage removes a message from the owner's mailbox.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.resolveOwner(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	messageID := chi.URLParam(r, "messageID")
	msg, err := h.mailbox.Get(r.Context(), owner, messageID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if msg == nil {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}

	if err := h.mailbox.Delete(r.Context(), owner, messageID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"id": messageID, "status": "deleted"})
}

// ForwardMessageRequest represents the forward request body.
type ForwardMessageRequest struct {
	To   string `json:"to"`
	Note string `json:"note,omitempty"`
}

// ForwardMessage re-sends a held message to another recipient.
func (h *Handler) ForwardMessage(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.resolveOwner(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req ForwardMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.To == "" {
		h.Error(w, http.StatusBadRequest, "to is required")
		return
	}

	msg, err := h.engine.Forward(r.Context(), owner, chi.URLParam(r, "messageID"), req.To, req.Note)
	if err != nil {
		h.routeError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, SendMessageResponse{
		ID:         msg.ID,
		EnvelopeID: models.EnvelopeID(msg.ID),
		ThreadID:   models.ThreadIDFor(models.EnvelopeID(msg.ID), msg.InReplyTo),
		Timestamp:  msg.Timestamp.UnixMilli(),
	})
}
