package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/replica-sync/internal/synchronizer"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for replica-sync.
type Config struct {
	// Remote server and the account to sync.
	ServerURL   string `env:"SERVER_URL"`
	AccountName string `env:"ACCOUNT_NAME"`
	AccessToken string `env:"ACCESS_TOKEN"`
	SpaceID     string `env:"SPACE_ID" envDefault:""`

	// Remote folders the periodic pass synchronizes, and how.
	SyncRoots    []string          `env:"SYNC_ROOTS" envDefault:"/" envSeparator:","`
	SyncMode     synchronizer.Mode `env:"SYNC_MODE" envDefault:"SYNC_CONTENTS"`
	SyncInterval time.Duration     `env:"SYNC_INTERVAL" envDefault:"5m"`

	// Where downloaded bytes and the state database live. Both default to
	// locations under ~/.replica-sync/.
	DataDir   string `env:"DATA_DIR"`
	StatePath string `env:"STATE_PATH"`

	TransferWorkers     int `env:"TRANSFER_WORKERS" envDefault:"4"`
	TransferMaxAttempts int `env:"TRANSFER_MAX_ATTEMPTS" envDefault:"3"`

	// Listen for server change events over a websocket.
	EnableEvents bool `env:"ENABLE_EVENTS" envDefault:"true"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:""`

	// MCP server settings (hash required when MCP is enabled)
	EnableMCP     bool   `env:"ENABLE_MCP" envDefault:"false"`
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:"127.0.0.1:8090"`
	MCPAPIKeyHash string `env:"MCP_API_KEY_HASH"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	cfg.SyncRoots = cleanRoots(cfg.SyncRoots)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("SERVER_URL must be an http or https URL")
	}

	if c.AccountName == "" {
		return fmt.Errorf("ACCOUNT_NAME is required")
	}

	if c.AccessToken == "" {
		return fmt.Errorf("ACCESS_TOKEN is required")
	}

	if len(c.SyncRoots) == 0 {
		return fmt.Errorf("SYNC_ROOTS must name at least one folder")
	}

	if c.SyncInterval < time.Second {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1s")
	}

	if c.TransferWorkers < 1 {
		return fmt.Errorf("TRANSFER_WORKERS must be at least 1")
	}

	if c.TransferMaxAttempts < 1 {
		return fmt.Errorf("TRANSFER_MAX_ATTEMPTS must be at least 1")
	}

	if c.EnableMCP && c.MCPAPIKeyHash == "" {
		return fmt.Errorf("MCP_API_KEY_HASH is required when MCP is enabled")
	}

	return nil
}

// resolvePaths fills in default directories and makes every path
// absolute. The transfer storage relies on prefix comparison against
// DataDir, which only works reliably with absolute paths.
func (c *Config) resolvePaths() error {
	if c.DataDir == "" || c.StatePath == "" {
		base, err := DefaultBaseDir()
		if err != nil {
			return err
		}

		if c.DataDir == "" {
			c.DataDir = filepath.Join(base, "data")
		}

		if c.StatePath == "" {
			c.StatePath = filepath.Join(base, "state.db")
		}
	}

	absDir, err := filepath.Abs(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolving data dir to absolute path: %w", err)
	}

	c.DataDir = absDir

	absState, err := filepath.Abs(c.StatePath)
	if err != nil {
		return fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	c.StatePath = absState

	return nil
}

// DefaultBaseDir returns ~/.replica-sync.
func DefaultBaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".replica-sync"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// cleanRoots trims each root, gives it a leading slash and drops empty
// and duplicate entries.
func cleanRoots(roots []string) []string {
	seen := make(map[string]struct{}, len(roots))
	out := make([]string, 0, len(roots))

	for _, r := range roots {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}

		if !strings.HasPrefix(r, "/") {
			r = "/" + r
		}

		if r = strings.TrimRight(r, "/"); r == "" {
			r = "/"
		}

		if _, dup := seen[r]; dup {
			continue
		}

		seen[r] = struct{}{}
		out = append(out, r)
	}

	return out
}
