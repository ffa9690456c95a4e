package trust

import (
	"encoding/json"
	"fmt"

	"github.com/23blocks-OS/ai-maestro/internal/crypto"
	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// CanonicalPayload serializes a payload for hashing. The security annotation
// never participates: it is attached after verification, on this side of the
// wire.
func CanonicalPayload(p models.Payload) ([]byte, error) {
	p.Security = nil
	return json.Marshal(p)
}

// CanonicalString builds the exact bytes a sender signs for an envelope.
func CanonicalString(env models.Envelope, payload models.Payload) ([]byte, error) {
	serialized, err := CanonicalPayload(payload)
	if err != nil {
		return nil, err
	}
	hash := crypto.PayloadHash(serialized)
	return crypto.SignaturePayload(env.From, env.To, env.Subject, env.Priority, env.InReplyTo, hash), nil
}

// VerifyEnvelope checks the envelope signature against the sender's public
// key. A nil error upgrades the sender to verified regardless of how the
// trust classification came out.
func VerifyEnvelope(env models.Envelope, payload models.Payload, senderPublicKey string) error {
	if env.Signature == "" {
		return fmt.Errorf("%w: envelope carries no signature", crypto.ErrInvalidSignature)
	}

	pubkey, err := crypto.ValidatePublicKey(senderPublicKey)
	if err != nil {
		return err
	}

	canonical, err := CanonicalString(env, payload)
	if err != nil {
		return err
	}

	return crypto.VerifySignature(pubkey, canonical, env.Signature)
}
