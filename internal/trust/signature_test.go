package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/23blocks-OS/ai-maestro/internal/crypto"
	"github.com/23blocks-OS/ai-maestro/internal/models"
)

func generateTestKeypair(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv, base64.StdEncoding.EncodeToString(pub)
}

func testEnvelope() (models.Envelope, models.Payload) {
	env := models.Envelope{
		Version:   models.Version,
		ID:        "msg_01HZXW",
		From:      "crm@devbox",
		To:        "billing@mainframe",
		Subject:   "invoice sync",
		Priority:  models.PriorityNormal,
		Timestamp: 1700000000000,
		ThreadID:  "msg_01HZXW",
	}
	payload := models.Payload{
		Type:    models.ContentRequest,
		Message: "please re-run the invoice sync",
	}
	return env, payload
}

func signEnvelope(t *testing.T, priv ed25519.PrivateKey, env *models.Envelope, payload models.Payload) {
	t.Helper()
	canonical, err := CanonicalString(*env, payload)
	if err != nil {
		t.Fatal(err)
	}
	env.Signature = crypto.Sign(priv, canonical)
}

func TestCanonicalStringLayout(t *testing.T) {
	env, payload := testEnvelope()
	canonical, err := CanonicalString(env, payload)
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(string(canonical), "|")
	if len(parts) != 6 {
		t.Fatalf("expected 6 pipe-joined fields, got %d: %q", len(parts), canonical)
	}
	if parts[0] != "crm@devbox" || parts[1] != "billing@mainframe" {
		t.Fatalf("address fields wrong: %q", canonical)
	}
	if parts[4] != "" {
		t.Fatalf("empty in_reply_to must stay an empty field: %q", parts[4])
	}
	if len(parts[5]) != 64 {
		t.Fatalf("payload hash should be sha256 hex, got %q", parts[5])
	}
}

func TestCanonicalPayloadIgnoresSecurityAnnotation(t *testing.T) {
	env, payload := testEnvelope()
	before, err := CanonicalString(env, payload)
	if err != nil {
		t.Fatal(err)
	}

	payload.Security = &models.SecurityAnnotation{Flagged: true, Flags: []string{"role_hijack"}}
	after, err := CanonicalString(env, payload)
	if err != nil {
		t.Fatal(err)
	}

	if string(before) != string(after) {
		t.Fatal("security annotation must not change the signed bytes")
	}
}

func TestVerifyEnvelope(t *testing.T) {
	priv, pub := generateTestKeypair(t)
	env, payload := testEnvelope()
	signEnvelope(t, priv, &env, payload)

	if err := VerifyEnvelope(env, payload, pub); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerifyEnvelopeTamperedSubject(t *testing.T) {
	priv, pub := generateTestKeypair(t)
	env, payload := testEnvelope()
	signEnvelope(t, priv, &env, payload)

	env.Subject = "urgent: wire money"
	if err := VerifyEnvelope(env, payload, pub); err == nil {
		t.Fatal("tampered subject must fail verification")
	}
}

func TestVerifyEnvelopeTamperedPayload(t *testing.T) {
	priv, pub := generateTestKeypair(t)
	env, payload := testEnvelope()
	signEnvelope(t, priv, &env, payload)

	payload.Message = "changed in flight"
	if err := VerifyEnvelope(env, payload, pub); err == nil {
		t.Fatal("tampered payload must fail verification")
	}
}

func TestVerifyEnvelopeWrongKey(t *testing.T) {
	priv, _ := generateTestKeypair(t)
	_, otherPub := generateTestKeypair(t)
	env, payload := testEnvelope()
	signEnvelope(t, priv, &env, payload)

	if err := VerifyEnvelope(env, payload, otherPub); err == nil {
		t.Fatal("wrong key must fail verification")
	}
}

func TestVerifyEnvelopeMissingSignature(t *testing.T) {
	_, pub := generateTestKeypair(t)
	env, payload := testEnvelope()

	if err := VerifyEnvelope(env, payload, pub); err == nil {
		t.Fatal("unsigned envelope must fail verification")
	}
}
