package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/23blocks-OS/ai-maestro/clients/go/amp"
)

// Signs an envelope the way a registered agent would, for curl-driven
// testing and for agents implemented outside Go. The payload JSON is read
// from -payload or stdin and must be the exact bytes the node will see.
func main() {
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key (seed or full key)")
	from := flag.String("from", "", "Qualified sender address (alias@host)")
	to := flag.String("to", "", "Qualified recipient address the node will stamp")
	subject := flag.String("subject", "", "Message subject")
	priority := flag.String("priority", "normal", "Message priority")
	inReplyTo := flag.String("reply-to", "", "Envelope id this message answers")
	payloadFile := flag.String("payload", "", "File containing payload JSON (or use stdin)")
	flag.Parse()

	if *privKeyB64 == "" || *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key-base64> -from <alias@host> -to <alias@host> [-subject s] [-priority p] [-reply-to id] [-payload file]")
		fmt.Fprintln(os.Stderr, "  Reads payload JSON from stdin if -payload not specified")
		os.Exit(1)
	}

	keyBytes, err := base64.StdEncoding.DecodeString(*privKeyB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid private key: %v\n", err)
		os.Exit(1)
	}

	var privKey ed25519.PrivateKey
	switch len(keyBytes) {
	case ed25519.SeedSize:
		privKey = ed25519.NewKeyFromSeed(keyBytes)
	case ed25519.PrivateKeySize:
		privKey = ed25519.PrivateKey(keyBytes)
	default:
		fmt.Fprintf(os.Stderr, "Invalid private key length: %d\n", len(keyBytes))
		os.Exit(1)
	}

	var raw []byte
	if *payloadFile != "" {
		raw, err = os.ReadFile(*payloadFile)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
		os.Exit(1)
	}

	var payload amp.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload JSON: %v\n", err)
		os.Exit(1)
	}
	if payload.Type == "" {
		payload.Type = "notification"
	}

	canonical, err := amp.CanonicalString(*from, *to, *subject, *priority, *inReplyTo, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build canonical string: %v\n", err)
		os.Exit(1)
	}

	signature := base64.StdEncoding.EncodeToString(ed25519.Sign(privKey, canonical))
	publicKey := base64.StdEncoding.EncodeToString(privKey.Public().(ed25519.PublicKey))

	fmt.Printf("canonical:         %s\n", canonical)
	fmt.Printf("signature:         %s\n", signature)
	fmt.Printf("sender_public_key: %s\n", publicKey)
}
