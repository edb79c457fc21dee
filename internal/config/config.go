package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/docsync/internal/auth"
	"github.com/alexjbarnes/docsync/internal/remote"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for docsync.
type Config struct {
	// Local document database. Defaults to ~/.docsync/docs.db.
	DBPath string `env:"DOCSYNC_DB_PATH"`

	// Device name stamped into pushed snapshots. Defaults to system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// Sync engine
	SyncAuto       bool          `env:"SYNC_AUTO" envDefault:"true"`
	SyncInterval   time.Duration `env:"SYNC_INTERVAL" envDefault:"1m"`
	SyncGCInterval time.Duration `env:"SYNC_GC_INTERVAL" envDefault:"720h"`
	SyncMinCycle   time.Duration `env:"SYNC_MIN_CYCLE" envDefault:"300ms"`
	SyncMaxRetries int           `env:"SYNC_MAX_RETRIES" envDefault:"3"`

	// Remote snapshot backend: "file" or "s3".
	RemoteKind  string `env:"REMOTE_KIND" envDefault:"file"`
	RemotePath  string `env:"REMOTE_PATH"`
	RemoteWatch bool   `env:"REMOTE_WATCH" envDefault:"true"`

	S3Bucket    string `env:"S3_BUCKET"`
	S3Key       string `env:"S3_KEY" envDefault:"docsync/snapshot.json"`
	S3Region    string `env:"S3_REGION"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	// MCP server settings (API keys required when MCP is enabled)
	EnableMCP     bool   `env:"ENABLE_MCP" envDefault:"false"`
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:":8090"`
	MCPAPIKeys    string `env:"MCP_API_KEYS"`
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

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "docsync"
		}

		cfg.DeviceName = hostname
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// The file remote's watcher compares event paths against the
	// snapshot path, which only works with absolute paths.
	if cfg.RemotePath != "" {
		absPath, err := filepath.Abs(cfg.RemotePath)
		if err != nil {
			return nil, fmt.Errorf("resolving remote path to absolute path: %w", err)
		}

		cfg.RemotePath = absPath
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}

	if c.SyncGCInterval <= 0 {
		return fmt.Errorf("SYNC_GC_INTERVAL must be positive")
	}

	if c.SyncMinCycle < 0 {
		return fmt.Errorf("SYNC_MIN_CYCLE must not be negative")
	}

	if c.SyncMaxRetries < 1 {
		return fmt.Errorf("SYNC_MAX_RETRIES must be at least 1")
	}

	switch c.RemoteKind {
	case remote.KindFile:
		if c.RemotePath == "" {
			return fmt.Errorf("REMOTE_PATH is required when REMOTE_KIND is file")
		}
	case remote.KindS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when REMOTE_KIND is s3")
		}

		if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	default:
		return fmt.Errorf("REMOTE_KIND must be %q or %q, got %q", remote.KindFile, remote.KindS3, c.RemoteKind)
	}

	if c.EnableMCP && c.MCPAPIKeys == "" {
		return fmt.Errorf("MCP_API_KEYS is required when MCP is enabled")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Remote returns the remote backend configuration.
func (c *Config) Remote() remote.Config {
	return remote.Config{
		Kind: c.RemoteKind,
		Path: c.RemotePath,
		S3: remote.S3Config{
			Bucket:    c.S3Bucket,
			Key:       c.S3Key,
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		},
	}
}

// ParseMCPAPIKeys parses the MCP_API_KEYS string.
// Format: "user1:<bcrypt hash>,user2:<bcrypt hash>"
// Hashes come from `docsync gen-key`.
func (c *Config) ParseMCPAPIKeys() ([]auth.APIKey, error) {
	if c.MCPAPIKeys == "" {
		return nil, nil
	}

	seenUsers := make(map[string]struct{})

	var entries []auth.APIKey

	for _, pair := range strings.Split(c.MCPAPIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		// bcrypt hashes contain '$' but never ':', so the first colon
		// always separates the user.
		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		userID := pair[:idx]

		hash := pair[idx+1:]
		if userID == "" || hash == "" {
			return nil, fmt.Errorf("empty user or hash in entry %d", len(entries)+1)
		}

		if err := auth.ValidateHash(hash); err != nil {
			return nil, fmt.Errorf("entry %d: %w", len(entries)+1, err)
		}

		if _, dup := seenUsers[userID]; dup {
			return nil, fmt.Errorf("duplicate user_id %q in MCP_API_KEYS", userID)
		}

		seenUsers[userID] = struct{}{}
		entries = append(entries, auth.APIKey{UserID: userID, Hash: []byte(hash)})
	}

	return entries, nil
}
