// Package routing moves messages from a sender to the right delivery path:
// the local mailbox, a peer node, or the relay queue for external agents.
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/23blocks-OS/ai-maestro/internal/metrics"
	"github.com/23blocks-OS/ai-maestro/internal/models"
	"github.com/23blocks-OS/ai-maestro/internal/resolve"
	"github.com/23blocks-OS/ai-maestro/internal/store"
	"github.com/23blocks-OS/ai-maestro/internal/trust"
)

// Resolver resolves identifiers against the local agent directory.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (*models.ResolvedAgent, error)
}

// HostDirectory answers locality and peer-lookup questions.
type HostDirectory interface {
	IsSelf(hostID string) bool
	Lookup(hostID string) *models.Host
	SelfID() string
}

// RemoteForwarder hands an envelope to a peer node.
type RemoteForwarder interface {
	Forward(ctx context.Context, host *models.Host, env models.Envelope, payload models.Payload, senderPublicKey string) error
}

// LocalDeliverer lands a message in a local recipient's world: mailbox
// first, then the best-effort side channels.
type LocalDeliverer interface {
	Deliver(ctx context.Context, recipient *models.ResolvedAgent, msg *models.Message, env models.Envelope, payload models.Payload, webhookURL string) error
}

// RelayQueue holds messages for external agents until they poll.
type RelayQueue interface {
	Available() bool
	Enqueue(ctx context.Context, recipientID string, entry *models.RelayEntry) error
}

// GovernancePolicy can veto a send before any routing work happens.
type GovernancePolicy interface {
	Available() bool
	AuthorizeSend(ctx context.Context, from, to string) error
}

// SendRequest is one send operation as the engine sees it.
type SendRequest struct {
	From            string // identifier, optionally qualified with @host
	To              string
	Subject         string
	Priority        string
	Payload         models.Payload
	InReplyTo       string
	Signature       string
	SenderPublicKey string
	// TrustOverride is the ingress layer's explicit verdict, when it has one.
	TrustOverride *bool
	// ForwardedFrom carries provenance when the send is a forward.
	ForwardedFrom *models.ForwardedFrom
}

// Engine is the routing state machine.
type Engine struct {
	resolver Resolver
	dir      HostDirectory
	agents   store.AgentStore
	mailbox  store.MailboxStore
	remote   RemoteForwarder
	local    LocalDeliverer
	relay    RelayQueue
	policy   GovernancePolicy
	logger   zerolog.Logger
}

// New wires an engine. relay and policy may be nil; the engine probes them.
func New(resolver Resolver, dir HostDirectory, agents store.AgentStore, mailbox store.MailboxStore,
	remote RemoteForwarder, local LocalDeliverer, relay RelayQueue, policy GovernancePolicy,
	logger zerolog.Logger) *Engine {
	return &Engine{
		resolver: resolver,
		dir:      dir,
		agents:   agents,
		mailbox:  mailbox,
		remote:   remote,
		local:    local,
		relay:    relay,
		policy:   policy,
		logger:   logger,
	}
}

// Send routes one message. The returned message reflects what was written
// to the recipient's mailbox (or forwarded on the wire); a non-nil error
// means nothing authoritative happened for the recipient.
func (e *Engine) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	if e.policy != nil && e.policy.Available() {
		if err := e.policy.AuthorizeSend(ctx, req.From, req.To); err != nil {
			metrics.RoutingFailures.WithLabelValues("policy").Inc()
			return nil, fmt.Errorf("%w: %v", ErrPolicyBlocked, err)
		}
	}

	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if req.Payload.Type == "" {
		req.Payload.Type = models.ContentNotification
	}

	toIdent, toHost := resolve.ParseQualifiedAddress(req.To)
	fromIdent, fromHost := resolve.ParseQualifiedAddress(req.From)

	sender, err := e.resolver.Resolve(ctx, fromIdent)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		if fromHost == "" || e.dir.IsSelf(fromHost) {
			metrics.RoutingFailures.WithLabelValues("unknown_sender").Inc()
			return nil, fmt.Errorf("%w: %q", ErrUnknownSender, req.From)
		}
		// Forwarded in from a peer: a stub sender carries the declared
		// addressing and never earns a sent copy here.
		sender = &models.ResolvedAgent{Alias: fromIdent, HostID: fromHost}
	}

	// Remote recipients resolve on their own node; routing here only needs
	// the peer's entry in the host directory.
	if toHost != "" && !e.dir.IsSelf(toHost) {
		recipient := &models.ResolvedAgent{Alias: toIdent, HostID: toHost}
		return e.sendRemote(ctx, req, sender, recipient, toIdent, toHost)
	}

	recipient, err := e.resolver.Resolve(ctx, toIdent)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		metrics.RoutingFailures.WithLabelValues("unknown_recipient").Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecipient, req.To)
	}
	return e.sendLocal(ctx, req, sender, recipient, fromHost)
}

func (e *Engine) sendRemote(ctx context.Context, req SendRequest, sender, recipient *models.ResolvedAgent, toIdent, toHost string) (*models.Message, error) {
	host := e.dir.Lookup(toHost)
	if host == nil || !host.Enabled {
		metrics.RoutingFailures.WithLabelValues("host_not_found").Inc()
		return nil, fmt.Errorf("%w: %q", ErrHostNotFound, toHost)
	}
	recipient.HostID = host.ID

	msg := e.buildMessage(req, sender, recipient, host.ID)
	env, payload := e.buildWire(req, msg, sender, toIdent, host.ID)

	if err := e.remote.Forward(ctx, host, env, payload, req.SenderPublicKey); err != nil {
		metrics.RoutingFailures.WithLabelValues("remote").Inc()
		// No sent copy on failure; the caller retries the whole send.
		return nil, err
	}
	metrics.MessagesRouted.WithLabelValues("remote").Inc()

	e.writeSentCopy(ctx, sender, msg)
	return msg, nil
}

func (e *Engine) sendLocal(ctx context.Context, req SendRequest, sender, recipient *models.ResolvedAgent, fromHost string) (*models.Message, error) {
	record, err := e.agentRecord(ctx, recipient.AgentID)
	if err != nil {
		return nil, err
	}

	msg := e.buildMessage(req, sender, recipient, e.dir.SelfID())
	env, payload := e.buildWire(req, msg, sender, recipient.Alias, e.dir.SelfID())

	// External agents with no live session get queued for pickup instead of
	// a mailbox write.
	if record != nil && record.External && record.SessionName == "" {
		if e.relay == nil || !e.relay.Available() {
			metrics.RoutingFailures.WithLabelValues("relay_unavailable").Inc()
			return nil, fmt.Errorf("%w: recipient %q is external", ErrRelayUnavailable, recipient.Alias)
		}
		entry := &models.RelayEntry{Envelope: env, Payload: payload, SenderPublicKey: req.SenderPublicKey}
		if err := e.relay.Enqueue(ctx, recipient.AgentID, entry); err != nil {
			metrics.RoutingFailures.WithLabelValues("relay").Inc()
			return nil, fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
		}
		metrics.MessagesRouted.WithLabelValues("relay").Inc()
		metrics.RelayQueued.Inc()

		e.writeSentCopy(ctx, sender, msg)
		return msg, nil
	}

	// Trust runs only where content lands in a mailbox.
	verified := trust.Classify(req.TrustOverride, sender.Local(), fromHost, e.dir)
	if req.Signature != "" && req.SenderPublicKey != "" {
		if err := trust.VerifyEnvelope(env, payload, req.SenderPublicKey); err == nil {
			verified = true
			msg.AMP.SignatureVerified = true
			metrics.SignaturesVerified.WithLabelValues("ok").Inc()
		} else {
			metrics.SignaturesVerified.WithLabelValues("fail").Inc()
			e.logger.Warn().
				Str("envelope_id", env.ID).
				Str("from", req.From).
				Err(err).
				Msg("envelope signature rejected")
		}
	}
	msg.FromVerified = verified

	if flags := trust.Apply(&payload, verified, sender.Label(), fromHost); len(flags) > 0 {
		metrics.ContentFlagged.Inc()
		e.logger.Warn().
			Str("envelope_id", env.ID).
			Str("from", req.From).
			Strs("flags", flags).
			Msg("content security flagged message")
	}
	msg.Content.Message = payload.Message
	msg.Content.Security = payload.Security

	webhookURL := ""
	if record != nil {
		webhookURL = record.WebhookURL
	}
	if err := e.local.Deliver(ctx, recipient, msg, env, payload, webhookURL); err != nil {
		metrics.RoutingFailures.WithLabelValues("mailbox").Inc()
		return nil, err
	}
	metrics.MessagesRouted.WithLabelValues("local").Inc()

	e.writeSentCopy(ctx, sender, msg)
	return msg, nil
}

// agentRecord fetches the full directory record behind a resolved agent.
func (e *Engine) agentRecord(ctx context.Context, agentID string) (*models.Agent, error) {
	id, err := uuid.Parse(agentID)
	if err != nil {
		return nil, nil
	}
	return e.agents.GetAgentByID(ctx, id)
}

// writeSentCopy records the send in the sender's sent folder. Only senders
// resolved to a local agent get one, and a failure here never fails the
// send: the authoritative write already happened.
func (e *Engine) writeSentCopy(ctx context.Context, sender *models.ResolvedAgent, msg *models.Message) {
	if !sender.Local() {
		return
	}
	sent := *msg
	sent.Status = models.StatusRead
	if err := e.mailbox.PutSent(ctx, sender.AgentID, &sent); err != nil {
		e.logger.Error().
			Str("message_id", msg.ID).
			Str("sender", sender.AgentID).
			Err(err).
			Msg("sent-folder write failed")
	}
}

// NewMessageID mints a message id.
func NewMessageID() string {
	return "msg-" + ulid.Make().String()
}

func (e *Engine) buildMessage(req SendRequest, sender, recipient *models.ResolvedAgent, toHost string) *models.Message {
	now := time.Now().UTC()
	id := NewMessageID()

	fromHost := sender.HostID
	if sender.Local() || fromHost == "" {
		fromHost = e.dir.SelfID()
	}

	msg := &models.Message{
		ID:          id,
		From:        senderKey(sender),
		To:          recipientKey(recipient),
		FromAlias:   sender.Alias,
		ToAlias:     recipient.Alias,
		FromLabel:   sender.Label(),
		ToLabel:     recipient.Label(),
		FromSession: sender.SessionName,
		ToSession:   recipient.SessionName,
		FromHost:    fromHost,
		ToHost:      toHost,
		Timestamp:   now,
		Subject:     req.Subject,
		Priority:    req.Priority,
		Status:      models.StatusUnread,
		Content: models.Content{
			Type:    req.Payload.Type,
			Message: req.Payload.Message,
			Context: req.Payload.Context,
		},
		InReplyTo:     req.InReplyTo,
		ForwardedFrom: req.ForwardedFrom,
		AMP: &models.AMPMeta{
			Signature:       req.Signature,
			SenderPublicKey: req.SenderPublicKey,
			AMPAddress:      resolve.QualifiedAddress(sender.Alias, fromHost),
			EnvelopeID:      models.EnvelopeID(id),
		},
	}
	return msg
}

func (e *Engine) buildWire(req SendRequest, msg *models.Message, sender *models.ResolvedAgent, toIdent, toHost string) (models.Envelope, models.Payload) {
	envID := models.EnvelopeID(msg.ID)
	env := models.Envelope{
		Version:   models.Version,
		ID:        envID,
		From:      resolve.QualifiedAddress(sender.Alias, msg.FromHost),
		To:        resolve.QualifiedAddress(toIdent, toHost),
		Subject:   req.Subject,
		Priority:  msg.Priority,
		Timestamp: msg.Timestamp.UnixMilli(),
		Signature: req.Signature,
		ThreadID:  models.ThreadIDFor(envID, req.InReplyTo),
		InReplyTo: req.InReplyTo,
	}
	payload := models.Payload{
		Type:    msg.Content.Type,
		Message: req.Payload.Message,
		Context: req.Payload.Context,
	}
	return env, payload
}

// senderKey picks the stored "from" value: the agent id when known, else
// the declared qualified address.
func senderKey(sender *models.ResolvedAgent) string {
	if sender.Local() {
		return sender.AgentID
	}
	return resolve.QualifiedAddress(sender.Alias, sender.HostID)
}

func recipientKey(recipient *models.ResolvedAgent) string {
	if recipient.Local() {
		return recipient.AgentID
	}
	return resolve.QualifiedAddress(recipient.Alias, recipient.HostID)
}
