package hosts

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// SelfAlias is the deprecated literal still accepted as a synonym for the
// local host id in stored data and incoming envelopes.
const SelfAlias = "local"

// Directory is the process-wide view of the mesh host registry. It loads
// once from hosts.yaml (or the AMP_HOSTS environment value) and caches until
// Invalidate is called. Reads during an invalidation race may see the old
// snapshot; that is acceptable.
type Directory struct {
	mu      sync.RWMutex
	loaded  bool
	byID    map[string]*models.Host // lowercased id -> host
	order   []string
	selfID  string
	selfURL string
	file    string
	env     string
}

type hostsFile struct {
	Hosts []hostEntry `yaml:"hosts"`
}

type hostEntry struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled *bool  `yaml:"enabled"` // nil means true
}

// New builds a directory for a node identified by selfID, reachable at
// selfURL. file and env are the two configuration sources; file wins.
func New(selfID, selfURL, file, env string) *Directory {
	return &Directory{
		selfID:  selfID,
		selfURL: selfURL,
		file:    file,
		env:     env,
	}
}

// Load forces a (re)load from the configured sources. The self entry is
// inserted when the sources omit it.
func (d *Directory) Load() error {
	entries, err := d.read()
	if err != nil {
		return err
	}

	byID := make(map[string]*models.Host, len(entries)+1)
	var order []string
	for _, e := range entries {
		if e.ID == "" || e.URL == "" {
			continue
		}
		h := &models.Host{
			ID:      e.ID,
			Name:    e.Name,
			URL:     strings.TrimRight(e.URL, "/"),
			Enabled: e.Enabled == nil || *e.Enabled,
		}
		key := strings.ToLower(h.ID)
		if _, dup := byID[key]; !dup {
			order = append(order, key)
		}
		byID[key] = h
	}

	selfKey := strings.ToLower(d.selfID)
	if _, ok := byID[selfKey]; !ok && d.selfID != "" {
		byID[selfKey] = &models.Host{
			ID:      d.selfID,
			URL:     strings.TrimRight(d.selfURL, "/"),
			Enabled: true,
		}
		order = append(order, selfKey)
	}

	d.mu.Lock()
	d.byID = byID
	d.order = order
	d.loaded = true
	d.mu.Unlock()
	return nil
}

// Invalidate drops the cached snapshot. The next lookup reloads.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	d.loaded = false
	d.mu.Unlock()
}

// IsSelf reports whether hostID names this node. Comparison is
// case-insensitive, and the legacy "local" alias always means self.
func (d *Directory) IsSelf(hostID string) bool {
	if hostID == "" {
		return true
	}
	if strings.EqualFold(hostID, SelfAlias) {
		return true
	}
	return strings.EqualFold(hostID, d.selfID)
}

// Self returns this node's host record.
func (d *Directory) Self() *models.Host {
	if h := d.Lookup(d.selfID); h != nil {
		return h
	}
	return &models.Host{ID: d.selfID, URL: d.selfURL, Enabled: true}
}

// SelfID returns the canonical id of this node.
func (d *Directory) SelfID() string { return d.selfID }

// Lookup returns the host registered under hostID, or nil when unknown.
// The "local" alias resolves to the self entry.
func (d *Directory) Lookup(hostID string) *models.Host {
	d.ensure()
	if strings.EqualFold(hostID, SelfAlias) {
		hostID = d.selfID
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byID[strings.ToLower(hostID)]
}

// All returns the registered hosts in configuration order.
func (d *Directory) All() []*models.Host {
	d.ensure()
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*models.Host, 0, len(d.order))
	for _, key := range d.order {
		out = append(out, d.byID[key])
	}
	return out
}

func (d *Directory) ensure() {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if !loaded {
		// A failed reload keeps serving the previous snapshot and retries
		// on the next call.
		_ = d.Load()
	}
}

func (d *Directory) read() ([]hostEntry, error) {
	if d.file != "" {
		data, err := os.ReadFile(d.file)
		if err == nil {
			var f hostsFile
			if err := yaml.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("parse %s: %w", d.file, err)
			}
			return f.Hosts, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", d.file, err)
		}
	}
	return parseEnvHosts(d.env), nil
}

// parseEnvHosts parses the AMP_HOSTS fallback: comma-separated id=url pairs.
func parseEnvHosts(env string) []hostEntry {
	if env == "" {
		return nil
	}
	var entries []hostEntry
	for _, pair := range strings.Split(env, ",") {
		pair = strings.TrimSpace(pair)
		id, url, ok := strings.Cut(pair, "=")
		if !ok || id == "" || url == "" {
			continue
		}
		entries = append(entries, hostEntry{ID: id, URL: url})
	}
	return entries
}
