package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
)

func main() {
	seedOnly := flag.Bool("seed", false, "Print the 32-byte seed instead of the full private key")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Public key (base64):  %s\n", base64.StdEncoding.EncodeToString(pub))
	if *seedOnly {
		// The seed form is what the client identity store keeps on disk.
		fmt.Printf("Seed (base64):        %s\n", base64.StdEncoding.EncodeToString(priv.Seed()))
	} else {
		fmt.Printf("Private key (base64): %s\n", base64.StdEncoding.EncodeToString(priv))
	}
}
