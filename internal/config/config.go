package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for a mesh node.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string

	// Identity of this node in the mesh.
	HostID   string // defaults to os.Hostname()
	HostName string // display name
	NodeURL  string // base URL peers use to reach this node

	// Hosts directory. File takes precedence; AMP_HOSTS env is the fallback.
	HostsFile string
	HostsEnv  string

	// Delivery tuning.
	WebhookWorkers int // bounded executor size for webhook retries
	TmuxBin        string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting

	// Governance denylist: agents barred from sending or receiving.
	// Parsed from AMP_DENYLIST as comma-separated identifier=reason pairs.
	DenyList map[string]string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		HostID:         os.Getenv("AMP_HOST_ID"),
		HostName:       os.Getenv("AMP_HOST_NAME"),
		NodeURL:        os.Getenv("AMP_NODE_URL"),
		HostsFile:      getEnv("AMP_HOSTS_FILE", "hosts.yaml"),
		HostsEnv:       os.Getenv("AMP_HOSTS"),
		WebhookWorkers: getEnvInt("AMP_WEBHOOK_WORKERS", 4),
		TmuxBin:        getEnv("AMP_TMUX_BIN", "tmux"),
	}

	if cfg.HostID == "" {
		if hn, err := os.Hostname(); err == nil {
			cfg.HostID = hn
		}
	}
	if cfg.NodeURL == "" {
		cfg.NodeURL = "http://" + cfg.HostID + ":" + cfg.Port
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	if denylist := os.Getenv("AMP_DENYLIST"); denylist != "" {
		cfg.DenyList = make(map[string]string)
		for _, entry := range strings.Split(denylist, ",") {
			identifier, reason, _ := strings.Cut(strings.TrimSpace(entry), "=")
			if identifier != "" {
				cfg.DenyList[identifier] = reason
			}
		}
	}

	// In production, require a database; relay features degrade without Redis.
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.HostID == "" {
			panic("AMP_HOST_ID is required in production when hostname lookup fails")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
