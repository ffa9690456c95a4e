package models

import "strings"

// Version is the protocol tag stamped on every envelope.
const Version = "amp/1.0"

// Envelope is the wire-level addressing record for a message in transit.
// Addresses are qualified (alias@hostId). The envelope id is the message id
// with separators normalized so it survives systems that dislike hyphens.
type Envelope struct {
	Version   string `json:"version"`
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Priority  string `json:"priority"`
	Timestamp int64  `json:"ts"` // Unix ms
	Signature string `json:"signature,omitempty"`
	ThreadID  string `json:"thread_id"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// Payload is the content half of a wire message.
type Payload struct {
	Type     string              `json:"type"`
	Message  string              `json:"message"`
	Context  map[string]string   `json:"context,omitempty"`
	Security *SecurityAnnotation `json:"security,omitempty"`
}

// SecurityAnnotation is attached by content scanning when an unverified
// sender's text trips an injection pattern. Flagged content is still
// delivered; the annotation is advisory.
type SecurityAnnotation struct {
	Flagged bool     `json:"flagged"`
	Flags   []string `json:"flags,omitempty"`
	Sender  string   `json:"sender,omitempty"`
	Note    string   `json:"note,omitempty"`
}

// RouteRequest is the body of POST /api/v1/route, the mesh ingress contract.
type RouteRequest struct {
	From            string  `json:"from"`
	To              string  `json:"to"`
	Subject         string  `json:"subject"`
	Payload         Payload `json:"payload"`
	Priority        string  `json:"priority"`
	InReplyTo       string  `json:"in_reply_to,omitempty"`
	Signature       string  `json:"signature,omitempty"`
	SenderPublicKey string  `json:"sender_public_key,omitempty"`
}

// WebhookBody is the body POSTed to a recipient's callback URL.
type WebhookBody struct {
	Envelope        Envelope `json:"envelope"`
	Payload         Payload  `json:"payload"`
	SenderPublicKey string   `json:"sender_public_key,omitempty"`
}

// RelayEntry is one queued message awaiting pickup by an external agent.
type RelayEntry struct {
	Envelope        Envelope `json:"envelope"`
	Payload         Payload  `json:"payload"`
	SenderPublicKey string   `json:"sender_public_key,omitempty"`
	EnqueuedAt      int64    `json:"enqueued_at"` // Unix ms
}

// EnvelopeID derives the wire id for a message id.
func EnvelopeID(messageID string) string {
	return strings.ReplaceAll(messageID, "-", "_")
}

// ThreadIDFor picks the thread id for an envelope: replies join the thread
// of the message they answer, fresh messages start their own.
func ThreadIDFor(envelopeID, inReplyTo string) string {
	if inReplyTo != "" {
		return inReplyTo
	}
	return envelopeID
}
