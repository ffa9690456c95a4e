package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a registered agent in the local directory. External agents have
// no live session on this host; their messages wait in the relay queue.
type Agent struct {
	ID            uuid.UUID `json:"id"`
	Alias         string    `json:"alias"`
	DisplayName   string    `json:"display_name,omitempty"`
	SessionName   string    `json:"session_name,omitempty"`
	PublicKey     string    `json:"public_key,omitempty"` // base64 Ed25519
	WebhookURL    string    `json:"webhook_url,omitempty"`
	PickupKeyHash string    `json:"-"` // bcrypt, relay pickup auth
	External      bool      `json:"external"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ResolvedAgent is the routing view of a recipient or sender after address
// resolution. A stub (HostID set, AgentID empty) stands in for agents that
// only exist on a remote host.
type ResolvedAgent struct {
	AgentID     string `json:"agent_id,omitempty"`
	Alias       string `json:"alias"`
	DisplayName string `json:"display_name,omitempty"`
	SessionName string `json:"session_name,omitempty"`
	HostID      string `json:"host_id,omitempty"`
	HostURL     string `json:"host_url,omitempty"`
}

// Label returns the best human-readable name for the agent.
func (r *ResolvedAgent) Label() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.Alias
}

// Local reports whether the agent resolved to a record on this host.
func (r *ResolvedAgent) Local() bool {
	return r.AgentID != ""
}
