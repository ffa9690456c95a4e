// Package resolve turns the identifiers agents use for each other (ids,
// aliases, session names, session fragments) into directory records.
package resolve

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/23blocks-OS/ai-maestro/internal/models"
	"github.com/23blocks-OS/ai-maestro/internal/store"
)

// Resolver resolves free-form identifiers against the local agent directory.
type Resolver struct {
	agents store.AgentStore
}

// New creates a resolver backed by the given directory.
func New(agents store.AgentStore) *Resolver {
	return &Resolver{agents: agents}
}

// Resolve tries, in order: exact agent id, case-insensitive alias, exact
// live-session name, then a partial match where the identifier equals one
// hyphen- or underscore-delimited segment of a session name ("crm" matches
// "23blocks-api-crm"). The first hit wins; (nil, nil) means no match.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (*models.ResolvedAgent, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, nil
	}

	if id, err := uuid.Parse(identifier); err == nil {
		agent, err := r.agents.GetAgentByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if agent != nil {
			return resolved(agent), nil
		}
	}

	agent, err := r.agents.GetAgentByAlias(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if agent != nil {
		return resolved(agent), nil
	}

	agent, err = r.agents.GetAgentBySession(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if agent != nil {
		return resolved(agent), nil
	}

	return r.resolveSegment(ctx, identifier)
}

// resolveSegment scans session names for a delimited segment equal to the
// identifier. Agents are scanned in alias order, so matches are stable.
func (r *Resolver) resolveSegment(ctx context.Context, identifier string) (*models.ResolvedAgent, error) {
	agents, err := r.agents.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	for i := range agents {
		if sessionHasSegment(agents[i].SessionName, identifier) {
			return resolved(&agents[i]), nil
		}
	}
	return nil, nil
}

func sessionHasSegment(session, identifier string) bool {
	if session == "" {
		return false
	}
	for _, seg := range strings.FieldsFunc(session, func(r rune) bool {
		return r == '-' || r == '_'
	}) {
		if strings.EqualFold(seg, identifier) {
			return true
		}
	}
	return false
}

func resolved(a *models.Agent) *models.ResolvedAgent {
	return &models.ResolvedAgent{
		AgentID:     a.ID.String(),
		Alias:       a.Alias,
		DisplayName: a.DisplayName,
		SessionName: a.SessionName,
	}
}

// ParseQualifiedAddress splits "name@hostId" into its parts. Addresses
// without a host part target the local host; the split is at the last '@'
// so the host id never contains one.
func ParseQualifiedAddress(address string) (identifier, hostID string) {
	address = strings.TrimSpace(address)
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[:i], address[i+1:]
	}
	return address, ""
}

// QualifiedAddress joins an identifier with a host id.
func QualifiedAddress(identifier, hostID string) string {
	if hostID == "" {
		return identifier
	}
	return identifier + "@" + hostID
}
