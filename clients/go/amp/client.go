// Package amp provides a client for AMP mesh nodes: identity management,
// envelope signing, message sends, mailbox reads, and relay pickup.
package amp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the node address used when AMP_URL is unset.
const DefaultBaseURL = "http://localhost:8080"

// Client is an AMP node API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Identity   *Identity
	HTTPClient *http.Client
}

// NewClient creates a client for the given node, loading any saved identity
// from the config dir. An empty baseURL falls back to AMP_URL, then to
// DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("AMP_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	configDir := os.Getenv("AMP_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".amp")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	if id, err := LoadIdentity(configDir); err == nil {
		c.Identity = id
	}
	return c
}

// Payload is the content half of a wire message. The JSON field order is
// part of the signing contract; see PayloadHash.
type Payload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

// Envelope is the wire-level addressing record stamped by the node.
type Envelope struct {
	Version   string `json:"version"`
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Priority  string `json:"priority"`
	Timestamp int64  `json:"ts"`
	Signature string `json:"signature,omitempty"`
	ThreadID  string `json:"thread_id"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// SecurityNote is attached by the node when content scanning flags a body.
type SecurityNote struct {
	Flagged bool     `json:"flagged"`
	Flags   []string `json:"flags,omitempty"`
	Sender  string   `json:"sender,omitempty"`
	Note    string   `json:"note,omitempty"`
}

// Content is the body of a stored message.
type Content struct {
	Type        string            `json:"type"`
	Message     string            `json:"message"`
	Context     map[string]string `json:"context,omitempty"`
	Attachments []string          `json:"attachments,omitempty"`
	Security    *SecurityNote     `json:"security,omitempty"`
}

// ForwardedFrom records provenance on a forwarded message.
type ForwardedFrom struct {
	OriginalMessageID string    `json:"original_message_id"`
	OriginalFrom      string    `json:"original_from"`
	OriginalTo        string    `json:"original_to"`
	OriginalTimestamp time.Time `json:"original_timestamp"`
	ForwardedBy       string    `json:"forwarded_by"`
	ForwardedAt       time.Time `json:"forwarded_at"`
	ForwardNote       string    `json:"forward_note,omitempty"`
}

// MessageMeta carries protocol metadata alongside a stored message.
type MessageMeta struct {
	Signature         string `json:"signature,omitempty"`
	SenderPublicKey   string `json:"sender_public_key,omitempty"`
	SignatureVerified bool   `json:"signature_verified"`
	AMPAddress        string `json:"amp_address,omitempty"`
	EnvelopeID        string `json:"envelope_id,omitempty"`
}

// Message is a mailbox entry as the node stores it.
type Message struct {
	ID            string         `json:"id"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	FromAlias     string         `json:"from_alias,omitempty"`
	ToAlias       string         `json:"to_alias,omitempty"`
	FromLabel     string         `json:"from_label,omitempty"`
	ToLabel       string         `json:"to_label,omitempty"`
	FromHost      string         `json:"from_host,omitempty"`
	ToHost        string         `json:"to_host,omitempty"`
	FromVerified  bool           `json:"from_verified"`
	Timestamp     time.Time      `json:"timestamp"`
	Subject       string         `json:"subject"`
	Priority      string         `json:"priority"`
	Status        string         `json:"status"`
	Content       Content        `json:"content"`
	InReplyTo     string         `json:"in_reply_to,omitempty"`
	ForwardedFrom *ForwardedFrom `json:"forwarded_from,omitempty"`
	AMP           *MessageMeta   `json:"amp,omitempty"`
}

// Sealed reports whether the body is a sealed payload this client may be
// able to open.
func (m *Message) Sealed() bool {
	return m.Content.Context["sealed"] == SealVersion
}

// routeRequest is the wire body for sends; it matches the node's dialect.
type routeRequest struct {
	From            string  `json:"from"`
	To              string  `json:"to"`
	Subject         string  `json:"subject"`
	Payload         Payload `json:"payload"`
	Priority        string  `json:"priority"`
	InReplyTo       string  `json:"in_reply_to,omitempty"`
	Signature       string  `json:"signature,omitempty"`
	SenderPublicKey string  `json:"sender_public_key,omitempty"`
}

// doRequest performs an HTTP request against the node API.
func (c *Client) doRequest(method, path string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Identity != nil && c.Identity.AgentID != "" {
		req.Header.Set("X-AMP-Agent", c.Identity.AgentID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("amp error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// RegisterOptions describes an agent registration.
type RegisterOptions struct {
	Alias       string
	DisplayName string
	SessionName string
	WebhookURL  string
	External    bool
	PickupKey   string
}

// RegisterResponse is the node's answer to a registration.
type RegisterResponse struct {
	ID      string `json:"id"`
	Alias   string `json:"alias"`
	Address string `json:"address"`
}

// Register registers (or re-registers) this client's agent. A fresh keypair
// is generated unless the saved identity already carries one for the alias.
func (c *Client) Register(opts RegisterOptions) (*RegisterResponse, error) {
	if opts.Alias == "" {
		return nil, fmt.Errorf("alias is required")
	}

	if c.Identity == nil || c.Identity.Alias != opts.Alias {
		id, err := NewIdentity(opts.Alias)
		if err != nil {
			return nil, err
		}
		c.Identity = id
	}

	body, _ := json.Marshal(map[string]interface{}{
		"alias":        opts.Alias,
		"display_name": opts.DisplayName,
		"session_name": opts.SessionName,
		"public_key":   c.Identity.PublicKeyB64(),
		"webhook_url":  opts.WebhookURL,
		"external":     opts.External,
		"pickup_key":   opts.PickupKey,
	})

	respBody, err := c.doRequest("POST", "/api/v1/agents", body, nil)
	if err != nil {
		return nil, err
	}

	var resp RegisterResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	c.Identity.AgentID = resp.ID
	c.Identity.Alias = resp.Alias
	c.Identity.Address = resp.Address
	if err := SaveIdentity(c.ConfigDir, c.Identity); err != nil {
		return nil, err
	}

	return &resp, nil
}

// SendOptions describes an outgoing message.
type SendOptions struct {
	To        string // alias, uuid, session name, or alias@host
	Subject   string
	Message   string
	Type      string // request, response, notification, update
	Priority  string // low, normal, high, urgent
	Context   map[string]string
	InReplyTo string
	Seal      bool // encrypt the body to the recipient's public key
}

// SendResponse is the node's answer to a send.
type SendResponse struct {
	ID         string `json:"id"`
	EnvelopeID string `json:"envelope_id"`
	ThreadID   string `json:"thread_id"`
	Timestamp  int64  `json:"ts"`
}

// Send routes a message through the node. When the client holds a private
// key the envelope is signed over the addresses the node will stamp: the
// recipient's resolved local address, or identifier@host for remote sends.
func (c *Client) Send(opts SendOptions) (*SendResponse, error) {
	if c.Identity == nil || c.Identity.Address == "" {
		return nil, fmt.Errorf("no registered identity; run register first")
	}

	if opts.Priority == "" {
		opts.Priority = "normal"
	}
	if opts.Type == "" {
		opts.Type = "notification"
	}

	payload := Payload{Type: opts.Type, Message: opts.Message, Context: opts.Context}

	if opts.Seal {
		sealed, err := c.sealFor(opts.To, opts.Message)
		if err != nil {
			return nil, err
		}
		if payload.Context == nil {
			payload.Context = map[string]string{}
		}
		payload.Context["sealed"] = SealVersion
		payload.Message = sealed
	}

	req := routeRequest{
		From:      c.Identity.Address,
		To:        opts.To,
		Subject:   opts.Subject,
		Payload:   payload,
		Priority:  opts.Priority,
		InReplyTo: opts.InReplyTo,
	}

	if c.Identity.PrivateKey != nil {
		signedTo, err := c.signedToAddress(opts.To)
		if err != nil {
			return nil, err
		}
		sig, err := SignEnvelope(c.Identity.PrivateKey, c.Identity.Address, signedTo,
			opts.Subject, opts.Priority, opts.InReplyTo, payload)
		if err != nil {
			return nil, err
		}
		req.Signature = sig
		req.SenderPublicKey = c.Identity.PublicKeyB64()
	}

	body, _ := json.Marshal(req)
	respBody, err := c.doRequest("POST", "/api/v1/messages", body, nil)
	if err != nil {
		return nil, err
	}

	var resp SendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// signedToAddress predicts the qualified "to" the node stamps on the
// envelope. Remote sends keep the identifier as written; local sends use
// the resolved canonical address, so an extra resolve round-trip happens
// here for bare identifiers.
func (c *Client) signedToAddress(to string) (string, error) {
	selfHost := c.selfHost()
	if i := strings.LastIndex(to, "@"); i >= 0 {
		host := strings.ToLower(to[i+1:])
		if host != "local" && !strings.EqualFold(host, selfHost) {
			return to[:i] + "@" + host, nil
		}
		to = to[:i]
	}
	resolved, err := c.Resolve(to)
	if err != nil {
		return "", fmt.Errorf("resolve recipient for signing: %w", err)
	}
	return resolved.Address, nil
}

// selfHost returns the host part of this identity's address.
func (c *Client) selfHost() string {
	if c.Identity == nil {
		return ""
	}
	if i := strings.LastIndex(c.Identity.Address, "@"); i >= 0 {
		return c.Identity.Address[i+1:]
	}
	return ""
}

// sealFor encrypts a body to the recipient's registered public key.
func (c *Client) sealFor(to, message string) (string, error) {
	ident := to
	if i := strings.LastIndex(ident, "@"); i >= 0 {
		ident = ident[:i]
	}
	agent, err := c.GetAgent(ident)
	if err != nil {
		return "", fmt.Errorf("look up recipient key: %w", err)
	}
	if agent.PublicKey == "" {
		return "", fmt.Errorf("recipient %q has no registered public key", to)
	}
	return SealPayload(message, agent.PublicKey)
}

// Open decrypts a sealed message body with this client's private key.
func (c *Client) Open(m *Message) (string, error) {
	if c.Identity == nil || c.Identity.PrivateKey == nil {
		return "", fmt.Errorf("no private key loaded")
	}
	return OpenPayload(m.Content.Message, c.Identity.PrivateKey)
}

// InboxOptions narrows a mailbox listing.
type InboxOptions struct {
	Box    string // inbox, sent, archived
	Status string // unread, read, archived
	Limit  int
}

// MessageList is a mailbox listing.
type MessageList struct {
	Messages []Message `json:"messages"`
	Count    int       `json:"count"`
}

// Inbox lists messages for an agent. An empty identifier uses this
// client's own agent id.
func (c *Client) Inbox(identifier string, opts InboxOptions) (*MessageList, error) {
	identifier, err := c.ownIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	if opts.Box != "" {
		q.Set("box", opts.Box)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/api/v1/agents/" + url.PathEscape(identifier) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	respBody, err := c.doRequest("GET", path, nil, nil)
	if err != nil {
		return nil, err
	}

	var resp MessageList
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMessage fetches one message from an agent's mailbox.
func (c *Client) GetMessage(identifier, messageID string) (*Message, error) {
	identifier, err := c.ownIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	respBody, err := c.doRequest("GET", c.messagePath(identifier, messageID), nil, nil)
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead marks a message read.
func (c *Client) MarkRead(identifier, messageID string) error {
	identifier, err := c.ownIdentifier(identifier)
	if err != nil {
		return err
	}
	_, err = c.doRequest("POST", c.messagePath(identifier, messageID)+"/read", nil, nil)
	return err
}

// Archive moves a message to the archive box.
func (c *Client) Archive(identifier, messageID string) error {
	identifier, err := c.ownIdentifier(identifier)
	if err != nil {
		return err
	}
	_, err = c.doRequest("POST", c.messagePath(identifier, messageID)+"/archive", nil, nil)
	return err
}

// Delete removes a message from an agent's mailbox.
func (c *Client) Delete(identifier, messageID string) error {
	identifier, err := c.ownIdentifier(identifier)
	if err != nil {
		return err
	}
	_, err = c.doRequest("DELETE", c.messagePath(identifier, messageID), nil, nil)
	return err
}

// Forward re-sends a held message to another recipient.
func (c *Client) Forward(identifier, messageID, to, note string) (*SendResponse, error) {
	identifier, err := c.ownIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]string{"to": to, "note": note})
	respBody, err := c.doRequest("POST", c.messagePath(identifier, messageID)+"/forward", body, nil)
	if err != nil {
		return nil, err
	}

	var resp SendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) messagePath(identifier, messageID string) string {
	return "/api/v1/agents/" + url.PathEscape(identifier) + "/messages/" + url.PathEscape(messageID)
}

// ownIdentifier substitutes this client's agent id for an empty identifier.
func (c *Client) ownIdentifier(identifier string) (string, error) {
	if identifier != "" {
		return identifier, nil
	}
	if c.Identity == nil || c.Identity.AgentID == "" {
		return "", fmt.Errorf("no registered identity; pass an agent identifier")
	}
	return c.Identity.AgentID, nil
}

// Agent is a registered agent in a node's directory.
type Agent struct {
	ID          string    `json:"id"`
	Alias       string    `json:"alias"`
	DisplayName string    `json:"display_name,omitempty"`
	SessionName string    `json:"session_name,omitempty"`
	PublicKey   string    `json:"public_key,omitempty"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	External    bool      `json:"external"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AgentList is a directory listing.
type AgentList struct {
	Agents []Agent `json:"agents"`
	Count  int     `json:"count"`
}

// ListAgents lists agents registered on the node.
func (c *Client) ListAgents() (*AgentList, error) {
	respBody, err := c.doRequest("GET", "/api/v1/agents", nil, nil)
	if err != nil {
		return nil, err
	}

	var resp AgentList
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAgent fetches one agent by id, alias, or session name.
func (c *Client) GetAgent(identifier string) (*Agent, error) {
	respBody, err := c.doRequest("GET", "/api/v1/agents/"+url.PathEscape(identifier), nil, nil)
	if err != nil {
		return nil, err
	}

	var agent Agent
	if err := json.Unmarshal(respBody, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ResolvedAgent is the node's routing view of an identifier.
type ResolvedAgent struct {
	AgentID     string `json:"agent_id,omitempty"`
	Alias       string `json:"alias"`
	DisplayName string `json:"display_name,omitempty"`
	SessionName string `json:"session_name,omitempty"`
	HostID      string `json:"host_id,omitempty"`
}

// ResolveResponse is the node's answer to a resolution probe.
type ResolveResponse struct {
	Identifier string         `json:"identifier"`
	Address    string         `json:"address"`
	Agent      *ResolvedAgent `json:"agent"`
}

// Resolve asks the node to resolve an identifier the way routing would.
func (c *Client) Resolve(identifier string) (*ResolveResponse, error) {
	respBody, err := c.doRequest("GET", "/api/v1/resolve/"+url.PathEscape(identifier), nil, nil)
	if err != nil {
		return nil, err
	}

	var resp ResolveResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Host is a peer node in the mesh.
type Host struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// HostList is the node's view of the mesh.
type HostList struct {
	Self  string `json:"self"`
	Hosts []Host `json:"hosts"`
	Count int    `json:"count"`
}

// Hosts lists the peers the node knows about.
func (c *Client) Hosts() (*HostList, error) {
	respBody, err := c.doRequest("GET", "/api/v1/hosts", nil, nil)
	if err != nil {
		return nil, err
	}

	var resp HostList
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RelayEntry is one queued message drained from the relay.
type RelayEntry struct {
	Envelope        Envelope `json:"envelope"`
	Payload         Payload  `json:"payload"`
	SenderPublicKey string   `json:"sender_public_key,omitempty"`
	EnqueuedAt      int64    `json:"enqueued_at"`
}

// RelayPickupResponse is a drained batch. The batch is the only copy; the
// node forgets drained entries.
type RelayPickupResponse struct {
	Messages []RelayEntry `json:"messages"`
	Count    int          `json:"count"`
}

// RelayPickup drains queued messages for an external agent.
func (c *Client) RelayPickup(identifier, pickupKey string, limit int) (*RelayPickupResponse, error) {
	identifier, err := c.ownIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	path := "/api/v1/relay/" + url.PathEscape(identifier) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	respBody, err := c.doRequest("GET", path, nil, map[string]string{"X-AMP-Pickup-Key": pickupKey})
	if err != nil {
		return nil, err
	}

	var resp RelayPickupResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RelayPending reports the relay queue depth for an agent.
func (c *Client) RelayPending(identifier string) (int64, error) {
	identifier, err := c.ownIdentifier(identifier)
	if err != nil {
		return 0, err
	}

	respBody, err := c.doRequest("GET", "/api/v1/relay/"+url.PathEscape(identifier)+"/pending", nil, nil)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Pending int64 `json:"pending"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, err
	}
	return resp.Pending, nil
}

// HealthCheck is one dependency probe in a health report.
type HealthCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the node's health report.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Host      string                 `json:"host"`
	Checks    map[string]HealthCheck `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks node health.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest("GET", "/health", nil, nil)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Watch subscribes to an agent's live message stream and invokes fn for
// each delivery until ctx is canceled or the stream drops.
func (c *Client) Watch(ctx context.Context, identifier string, fn func(Message)) error {
	identifier, err := c.ownIdentifier(identifier)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "GET",
		c.BaseURL+"/api/v1/agents/"+url.PathEscape(identifier)+"/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream client carries no timeout; the node heartbeats to keep
	// the connection alive.
	stream := &http.Client{Transport: c.HTTPClient.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("amp error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 128*1024)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if event != "message" {
				continue
			}
			var msg Message
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				continue
			}
			fn(msg)
		case line == "":
			event = ""
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}
