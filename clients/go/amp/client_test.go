package amp

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// testNode is a stub AMP node capturing what the client sends.
type testNode struct {
	mu           sync.Mutex
	sends        []routeRequest
	resolveCalls int
	pickupKey    string
	agentHeader  string
}

// handleMethod registers h on mux for pattern, restricted to method. It
// stands in for the Go 1.22+ "METHOD /path" mux patterns, which the
// ServeMux in older toolchains does not parse.
func handleMethod(mux *http.ServeMux, method, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	})
}

func newTestNode(t *testing.T) (*testNode, *Client) {
	t.Helper()
	n := &testNode{}

	mux := http.NewServeMux()
	handleMethod(mux, http.MethodGet, "/api/v1/resolve/", func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		n.resolveCalls++
		n.mu.Unlock()
		json.NewEncoder(w).Encode(ResolveResponse{
			Identifier: "billing",
			Address:    "billing@devbox",
			Agent:      &ResolvedAgent{AgentID: "22222222-2222-7222-8222-222222222222", Alias: "billing"},
		})
	})
	handleMethod(mux, http.MethodGet, "/api/v1/agents/billing", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Agent{Alias: "billing", PublicKey: n.billingKey()})
	})
	handleMethod(mux, http.MethodPost, "/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req routeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n.mu.Lock()
		n.sends = append(n.sends, req)
		n.agentHeader = r.Header.Get("X-AMP-Agent")
		n.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(SendResponse{ID: "msg-01TEST", EnvelopeID: "msg_01TEST", ThreadID: "msg_01TEST"})
	})
	handleMethod(mux, http.MethodGet, "/api/v1/relay/", func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		n.pickupKey = r.Header.Get("X-AMP-Pickup-Key")
		n.mu.Unlock()
		json.NewEncoder(w).Encode(RelayPickupResponse{
			Messages: []RelayEntry{{Envelope: Envelope{ID: "msg_01QUEUED"}, Payload: Payload{Type: "request", Message: "ping"}}},
			Count:    1,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	sender, err := NewIdentity("crm")
	if err != nil {
		t.Fatal(err)
	}
	sender.AgentID = "11111111-1111-7111-8111-111111111111"
	sender.Address = "crm@devbox"

	c := &Client{
		BaseURL:    srv.URL,
		ConfigDir:  t.TempDir(),
		Identity:   sender,
		HTTPClient: srv.Client(),
	}
	return n, c
}

var billingIdentity = func() *Identity {
	id, err := NewIdentity("billing")
	if err != nil {
		panic(err)
	}
	return id
}()

func (n *testNode) billingKey() string {
	return billingIdentity.PublicKeyB64()
}

func (n *testNode) lastSend(t *testing.T) routeRequest {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sends) == 0 {
		t.Fatal("node saw no send")
	}
	return n.sends[len(n.sends)-1]
}

func verifyClientSig(t *testing.T, c *Client, req routeRequest, signedTo string) {
	t.Helper()
	canonical, err := CanonicalString(req.From, signedTo, req.Subject, req.Priority, req.InReplyTo, req.Payload)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		t.Fatal(err)
	}
	if !ed25519.Verify(c.Identity.PublicKey, canonical, sig) {
		t.Fatalf("signature does not cover %q", canonical)
	}
}

func TestSendSignsOverResolvedAddress(t *testing.T) {
	n, c := newTestNode(t)

	resp, err := c.Send(SendOptions{To: "billing", Subject: "invoice run", Message: "start the nightly batch"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != "msg-01TEST" {
		t.Errorf("ID = %q", resp.ID)
	}

	req := n.lastSend(t)
	if req.From != "crm@devbox" {
		t.Errorf("From = %q", req.From)
	}
	if req.To != "billing" {
		t.Errorf("To should stay as written, got %q", req.To)
	}
	if req.Priority != "normal" || req.Payload.Type != "notification" {
		t.Errorf("defaults not applied: priority=%q type=%q", req.Priority, req.Payload.Type)
	}
	if req.SenderPublicKey != c.Identity.PublicKeyB64() {
		t.Error("sender public key missing")
	}
	if n.resolveCalls != 1 {
		t.Errorf("resolve calls = %d, want 1", n.resolveCalls)
	}

	// Local sends are signed over the node's canonical address for the
	// recipient, not the raw identifier.
	verifyClientSig(t, c, req, "billing@devbox")
}

func TestSendRemoteSkipsResolve(t *testing.T) {
	n, c := newTestNode(t)

	_, err := c.Send(SendOptions{To: "scout@Mainframe", Subject: "handoff", Message: "take over issue 88", Priority: "high"})
	if err != nil {
		t.Fatal(err)
	}

	if n.resolveCalls != 0 {
		t.Errorf("remote send should not resolve locally, got %d calls", n.resolveCalls)
	}

	req := n.lastSend(t)
	verifyClientSig(t, c, req, "scout@mainframe")
}

func TestSendSealed(t *testing.T) {
	n, c := newTestNode(t)

	_, err := c.Send(SendOptions{To: "billing", Subject: "credentials", Message: "token: tok_4411", Seal: true})
	if err != nil {
		t.Fatal(err)
	}

	req := n.lastSend(t)
	if req.Payload.Context["sealed"] != SealVersion {
		t.Fatalf("context = %v, want sealed marker", req.Payload.Context)
	}
	if req.Payload.Message == "token: tok_4411" {
		t.Fatal("body went out in the clear")
	}

	opened, err := OpenPayload(req.Payload.Message, billingIdentity.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	if opened != "token: tok_4411" {
		t.Fatalf("opened = %q", opened)
	}

	// The signature covers the sealed body, so relays cannot swap it.
	verifyClientSig(t, c, req, "billing@devbox")
}

func TestSendWithoutIdentity(t *testing.T) {
	_, c := newTestNode(t)
	c.Identity = nil

	if _, err := c.Send(SendOptions{To: "billing", Subject: "s", Message: "m"}); err == nil {
		t.Fatal("expected error without identity")
	}
}

func TestRegisterPersistsIdentity(t *testing.T) {
	mux := http.NewServeMux()
	handleMethod(mux, http.MethodPost, "/api/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Alias     string `json:"alias"`
			PublicKey string `json:"public_key"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.PublicKey == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(RegisterResponse{
			ID:      "33333333-3333-7333-8333-333333333333",
			Alias:   req.Alias,
			Address: req.Alias + "@devbox",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	c := &Client{BaseURL: srv.URL, ConfigDir: dir, HTTPClient: srv.Client()}

	resp, err := c.Register(RegisterOptions{Alias: "scout", DisplayName: "Scout Agent"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Address != "scout@devbox" {
		t.Errorf("Address = %q", resp.Address)
	}

	saved, err := LoadIdentity(dir)
	if err != nil {
		t.Fatal(err)
	}
	if saved.AgentID != resp.ID || saved.Address != "scout@devbox" {
		t.Errorf("saved identity = %+v", saved)
	}
}

func TestRelayPickupSendsKey(t *testing.T) {
	n, c := newTestNode(t)

	resp, err := c.RelayPickup("", "hunter2", 50)
	if err != nil {
		t.Fatal(err)
	}
	if n.pickupKey != "hunter2" {
		t.Errorf("pickup key header = %q", n.pickupKey)
	}
	if resp.Count != 1 || resp.Messages[0].Envelope.ID != "msg_01QUEUED" {
		t.Errorf("batch = %+v", resp)
	}
}

func TestErrorResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "message not found"})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := c.GetMessage("crm", "msg-01GONE")
	if err == nil {
		t.Fatal("expected error")
	}
	want := "amp error 404: message not found"
	if err.Error() != want {
		t.Errorf("err = %q, want %q", err.Error(), want)
	}
}

func TestWatchReceivesMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Error("no flusher")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {}\n\n")
		for _, id := range []string{"msg-01A", "msg-01B"} {
			data, _ := json.Marshal(Message{ID: id, Subject: "live"})
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
		}
		f.Flush()
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []string
	err := c.Watch(ctx, "crm", func(m Message) {
		got = append(got, m.ID)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "msg-01A" || got[1] != "msg-01B" {
		t.Errorf("received = %v", got)
	}
}
