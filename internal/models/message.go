package models

import "time"

// Message priority levels, lowest to highest.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Mailbox status values. Status only moves forward: unread -> read -> archived.
const (
	StatusUnread   = "unread"
	StatusRead     = "read"
	StatusArchived = "archived"
)

// Content types carried in a message payload.
const (
	ContentRequest      = "request"
	ContentResponse     = "response"
	ContentNotification = "notification"
	ContentUpdate       = "update"
)

// Mailbox folders.
const (
	BoxInbox    = "inbox"
	BoxSent     = "sent"
	BoxArchived = "archived"
)

// Message is the durable unit of communication written to a mailbox.
// Addressing fields are frozen at send time; later renames of agents,
// sessions, or hosts never rewrite a stored message.
type Message struct {
	ID            string         `json:"id"` // msg-<ULID>
	From          string         `json:"from"`
	To            string         `json:"to"`
	FromAlias     string         `json:"from_alias,omitempty"`
	ToAlias       string         `json:"to_alias,omitempty"`
	FromLabel     string         `json:"from_label,omitempty"`
	ToLabel       string         `json:"to_label,omitempty"`
	FromSession   string         `json:"from_session,omitempty"`
	ToSession     string         `json:"to_session,omitempty"`
	FromHost      string         `json:"from_host,omitempty"`
	ToHost        string         `json:"to_host,omitempty"`
	FromVerified  bool           `json:"from_verified"`
	Timestamp     time.Time      `json:"timestamp"` // UTC
	Subject       string         `json:"subject"`
	Priority      string         `json:"priority"`
	Status        string         `json:"status"`
	Content       Content        `json:"content"`
	InReplyTo     string         `json:"in_reply_to,omitempty"`
	ForwardedFrom *ForwardedFrom `json:"forwarded_from,omitempty"`
	AMP           *AMPMeta       `json:"amp,omitempty"`
}

// Content is the body of a message.
type Content struct {
	Type        string              `json:"type"`
	Message     string              `json:"message"`
	Context     map[string]string   `json:"context,omitempty"`
	Attachments []string            `json:"attachments,omitempty"`
	Security    *SecurityAnnotation `json:"security,omitempty"`
}

// ForwardedFrom records provenance when a message is forwarded.
type ForwardedFrom struct {
	OriginalMessageID string    `json:"original_message_id"`
	OriginalFrom      string    `json:"original_from"`
	OriginalTo        string    `json:"original_to"`
	OriginalTimestamp time.Time `json:"original_timestamp"`
	ForwardedBy       string    `json:"forwarded_by"`
	ForwardedAt       time.Time `json:"forwarded_at"`
	ForwardNote       string    `json:"forward_note,omitempty"`
}

// AMPMeta carries protocol-level metadata alongside a stored message.
type AMPMeta struct {
	Signature         string `json:"signature,omitempty"`
	SenderPublicKey   string `json:"sender_public_key,omitempty"`
	SignatureVerified bool   `json:"signature_verified"`
	AMPAddress        string `json:"amp_address,omitempty"`
	EnvelopeID        string `json:"envelope_id,omitempty"`
}

// ValidPriority reports whether p is a known priority level.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ValidContentType reports whether t is a known content type.
func ValidContentType(t string) bool {
	switch t {
	case ContentRequest, ContentResponse, ContentNotification, ContentUpdate:
		return true
	}
	return false
}
