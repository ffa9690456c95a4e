// Package trust decides how much a message's claimed sender can be believed
// and what to do with content from senders it cannot vouch for.
package trust

import (
	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// HostRegistry is the slice of the host directory trust needs.
type HostRegistry interface {
	Lookup(hostID string) *models.Host
}

// Classify determines sender verification for a message. Precedence, highest
// first: an explicit override from the ingress layer, a sender resolved in
// the local directory, a declared origin host registered as an enabled peer.
// Anything else is unverified.
func Classify(override *bool, senderLocal bool, declaredHost string, reg HostRegistry) bool {
	if override != nil {
		return *override
	}
	if senderLocal {
		return true
	}
	if declaredHost != "" && reg != nil {
		if h := reg.Lookup(declaredHost); h != nil && h.Enabled {
			return true
		}
	}
	return false
}
