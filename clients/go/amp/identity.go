package amp

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Identity is an agent's registered identity and keypair.
type Identity struct {
	AgentID    string
	Alias      string
	Address    string // alias@hostId, assigned at registration
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// identityFile is the on-disk shape of agent.json. The private key lives in
// a separate file so agent.json can be shared freely.
type identityFile struct {
	ID        string `json:"id"`
	Alias     string `json:"alias,omitempty"`
	Address   string `json:"address,omitempty"`
	PublicKey string `json:"public_key"`
}

// NewIdentity generates a fresh Ed25519 keypair for an agent.
func NewIdentity(alias string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{Alias: alias, PublicKey: pub, PrivateKey: priv}, nil
}

// PublicKeyB64 returns the base64 encoding used on the wire.
func (id *Identity) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(id.PublicKey)
}

// identityLock returns the advisory lock guarding a config dir. Parallel
// CLI runs (tmux panes, CI steps) share the dir; reads and writes must not
// interleave with a registration rewriting agent.json.
func identityLock(dir string) *flock.Flock {
	return flock.New(filepath.Join(dir, "identity.lock"))
}

// LoadIdentity reads an identity from a config dir.
func LoadIdentity(dir string) (*Identity, error) {
	lock := identityLock(dir)
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock identity dir: %w", err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(filepath.Join(dir, "agent.json"))
	if err != nil {
		return nil, err
	}

	var file identityFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse agent.json: %w", err)
	}

	keyData, err := os.ReadFile(filepath.Join(dir, "private.key"))
	if err != nil {
		return nil, err
	}
	seed, err := base64.StdEncoding.DecodeString(string(keyData))
	if err != nil {
		return nil, fmt.Errorf("decode private.key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private.key: expected %d-byte seed, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{
		AgentID:    file.ID,
		Alias:      file.Alias,
		Address:    file.Address,
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
	}, nil
}

// SaveIdentity writes an identity to a config dir, creating it if needed.
func SaveIdentity(dir string, id *Identity) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	lock := identityLock(dir)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock identity dir: %w", err)
	}
	defer lock.Unlock()

	file := identityFile{
		ID:        id.AgentID,
		Alias:     id.Alias,
		Address:   id.Address,
		PublicKey: id.PublicKeyB64(),
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "agent.json"), data, 0600); err != nil {
		return err
	}

	seed := base64.StdEncoding.EncodeToString(id.PrivateKey.Seed())
	return os.WriteFile(filepath.Join(dir, "private.key"), []byte(seed), 0600)
}
