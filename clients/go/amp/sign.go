package amp

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PayloadHash returns the SHA-256 hex digest of the payload's JSON form.
// Nodes hash the payload the same way before checking a signature, so the
// JSON field order here must not change.
func PayloadHash(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalString builds the exact bytes a sender signs:
// from|to|subject|priority|inReplyTo|payloadHash. The envelope id and
// timestamp stay out, so a signature survives re-enveloping on the
// receiving node.
func CanonicalString(from, to, subject, priority, inReplyTo string, p Payload) ([]byte, error) {
	hash, err := PayloadHash(p)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s", from, to, subject, priority, inReplyTo, hash)), nil
}

// SignEnvelope signs the canonical string and returns a base64 signature.
// from and to must be the qualified addresses the node will stamp on the
// envelope, not raw user input; see Client.Send for the qualification rules.
func SignEnvelope(priv ed25519.PrivateKey, from, to, subject, priority, inReplyTo string, p Payload) (string, error) {
	canonical, err := CanonicalString(from, to, subject, priority, inReplyTo, p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, canonical)), nil
}
