package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DenylistPolicy is a simple governance policy: sends to or from a listed
// identifier are vetoed. It stands in for richer org policies; the engine
// only ever sees the GovernancePolicy interface.
type DenylistPolicy struct {
	mu     sync.RWMutex
	denied map[string]string // lowercased identifier -> reason
}

// NewDenylistPolicy builds a policy from identifier=reason pairs.
func NewDenylistPolicy(entries map[string]string) *DenylistPolicy {
	denied := make(map[string]string, len(entries))
	for id, reason := range entries {
		denied[strings.ToLower(id)] = reason
	}
	return &DenylistPolicy{denied: denied}
}

// Available reports whether the policy has anything to enforce.
func (p *DenylistPolicy) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.denied) > 0
}

// AuthorizeSend vetoes sends touching a denied identifier. The error names
// the party and the reason so the failure is actionable.
func (p *DenylistPolicy) AuthorizeSend(ctx context.Context, from, to string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, party := range []string{from, to} {
		ident := strings.ToLower(party)
		// The bare identifier and the qualified form are both checked.
		if i := strings.LastIndex(ident, "@"); i >= 0 {
			if reason, ok := p.denied[ident[:i]]; ok {
				return fmt.Errorf("%q is denied: %s", party, reason)
			}
		}
		if reason, ok := p.denied[ident]; ok {
			return fmt.Errorf("%q is denied: %s", party, reason)
		}
	}
	return nil
}

// Deny adds an identifier at runtime.
func (p *DenylistPolicy) Deny(identifier, reason string) {
	p.mu.Lock()
	p.denied[strings.ToLower(identifier)] = reason
	p.mu.Unlock()
}
