// Package config loads the coordinator's settings:
// an optional TOML file first, environment variables over it, and cobra
// flags over both at the binary layer. The same precedence the CLI's own
// file-backed config store establishes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

// Defaults.
const (
	DefaultPort                      = 8090
	DefaultMaxConcurrentSyncs        = 10
	DefaultMaxConcurrentSyncsPerType = 3
	DefaultSchedulerIntervalSeconds  = 30
	DefaultStaleSyncTimeoutMinutes   = 10
)

// Blob storage backends.
const (
	BlobBackendSQLite = "sqlite"
	BlobBackendS3     = "s3"
)

// Config is the coordinator process configuration.
type Config struct {
	// Port the combined operator+SDK HTTP surface listens on.
	Port int `toml:"port"`

	// PublicURL is the base URL connectors reach the coordinator at.
	// Defaults to http://localhost:<port>.
	PublicURL string `toml:"public_url"`

	// DataDir holds the coordinator's SQLite database.
	DataDir string `toml:"data_dir"`

	// ConnectorURLs maps source type -> connector worker base URL.
	ConnectorURLs map[string]string `toml:"connectors"`

	MaxConcurrentSyncs        int `toml:"max_concurrent_syncs"`
	MaxConcurrentSyncsPerType int `toml:"max_concurrent_syncs_per_type"`
	SchedulerIntervalSeconds  int `toml:"scheduler_interval_seconds"`
	StaleSyncTimeoutMinutes   int `toml:"stale_sync_timeout_minutes"`

	// BlobBackend selects where document bodies live: "sqlite" or "s3".
	BlobBackend string `toml:"blob_backend"`

	S3Bucket       string `toml:"s3_bucket"`
	S3Region       string `toml:"s3_region"`
	S3Endpoint     string `toml:"s3_endpoint"`
	S3Prefix       string `toml:"s3_prefix"`
	S3UsePathStyle bool   `toml:"s3_use_path_style"`

	Verbose bool `toml:"verbose"`
}

// Load reads configPath (skipped when empty or missing) and then applies
// environment overrides. The result is validated.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Port:                      DefaultPort,
		ConnectorURLs:             map[string]string{},
		MaxConcurrentSyncs:        DefaultMaxConcurrentSyncs,
		MaxConcurrentSyncsPerType: DefaultMaxConcurrentSyncsPerType,
		SchedulerIntervalSeconds:  DefaultSchedulerIntervalSeconds,
		StaleSyncTimeoutMinutes:   DefaultStaleSyncTimeoutMinutes,
		BlobBackend:               BlobBackendSQLite,
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("reading config file %s: %w", configPath, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfigPath is ~/.sercha/coordinator.toml, next to the CLI's own
// config file.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sercha", "coordinator.toml")
}

func (c *Config) applyEnv() {
	if v, ok := envInt("PORT"); ok {
		c.Port = v
	}
	if v := os.Getenv("COORDINATOR_PUBLIC_URL"); v != "" {
		c.PublicURL = v
	}
	if v := os.Getenv("SERCHA_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v, ok := envInt("MAX_CONCURRENT_SYNCS"); ok {
		c.MaxConcurrentSyncs = v
	}
	if v, ok := envInt("MAX_CONCURRENT_SYNCS_PER_TYPE"); ok {
		c.MaxConcurrentSyncsPerType = v
	}
	if v, ok := envInt("SCHEDULER_INTERVAL_SECONDS"); ok {
		c.SchedulerIntervalSeconds = v
	}
	if v, ok := envInt("STALE_SYNC_TIMEOUT_MINUTES"); ok {
		c.StaleSyncTimeoutMinutes = v
	}
	if v := os.Getenv("BLOB_STORAGE_BACKEND"); v != "" {
		c.BlobBackend = strings.ToLower(v)
	}
	if v := os.Getenv("BLOB_S3_BUCKET"); v != "" {
		c.S3Bucket = v
	}
	if v := os.Getenv("BLOB_S3_REGION"); v != "" {
		c.S3Region = v
	}
	if v := os.Getenv("BLOB_S3_ENDPOINT"); v != "" {
		c.S3Endpoint = v
	}
	if v := os.Getenv("BLOB_S3_PREFIX"); v != "" {
		c.S3Prefix = v
	}
	if v := os.Getenv("BLOB_S3_PATH_STYLE"); v != "" {
		c.S3UsePathStyle = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("SERCHA_VERBOSE"); v != "" {
		c.Verbose = v == "1" || strings.EqualFold(v, "true")
	}

	// CONNECTOR_<TYPE>_URL entries override the file's connector table,
	// e.g. CONNECTOR_FILES_URL=http://localhost:8091.
	for _, sourceType := range []domain.SourceType{
		domain.SourceTypeDrive, domain.SourceTypeMail, domain.SourceTypeChat,
		domain.SourceTypeWiki, domain.SourceTypeTracker, domain.SourceTypeWeb,
		domain.SourceTypeFiles,
	} {
		key := "CONNECTOR_" + strings.ToUpper(string(sourceType)) + "_URL"
		if v := os.Getenv(key); v != "" {
			c.ConnectorURLs[string(sourceType)] = v
		}
	}
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxConcurrentSyncs <= 0 {
		return fmt.Errorf("max_concurrent_syncs must be positive, got %d", c.MaxConcurrentSyncs)
	}
	if c.MaxConcurrentSyncsPerType <= 0 {
		return fmt.Errorf("max_concurrent_syncs_per_type must be positive, got %d", c.MaxConcurrentSyncsPerType)
	}
	if c.SchedulerIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler_interval_seconds must be positive, got %d", c.SchedulerIntervalSeconds)
	}
	if c.StaleSyncTimeoutMinutes <= 0 {
		return fmt.Errorf("stale_sync_timeout_minutes must be positive, got %d", c.StaleSyncTimeoutMinutes)
	}
	switch c.BlobBackend {
	case BlobBackendSQLite:
	case BlobBackendS3:
		if c.S3Bucket == "" {
			return errors.New("blob backend s3 requires a bucket")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
	for sourceType := range c.ConnectorURLs {
		if !validSourceType(sourceType) {
			return fmt.Errorf("unknown source type %q in connector map", sourceType)
		}
	}
	return nil
}

// ResolvedPublicURL returns PublicURL, defaulting to localhost on the
// configured port.
func (c Config) ResolvedPublicURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return "http://localhost:" + strconv.Itoa(c.Port)
}

// SchedulerInterval returns the sweep cadence as a duration.
func (c Config) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSeconds) * time.Second
}

// StaleSyncTimeout returns the heartbeat staleness threshold as a duration.
func (c Config) StaleSyncTimeout() time.Duration {
	return time.Duration(c.StaleSyncTimeoutMinutes) * time.Minute
}

// TypedConnectorURLs converts the string-keyed connector map to the domain
// type the Sync Manager routes with.
func (c Config) TypedConnectorURLs() map[domain.SourceType]string {
	urls := make(map[domain.SourceType]string, len(c.ConnectorURLs))
	for sourceType, url := range c.ConnectorURLs {
		urls[domain.SourceType(sourceType)] = strings.TrimRight(url, "/")
	}
	return urls
}

func validSourceType(s string) bool {
	switch domain.SourceType(s) {
	case domain.SourceTypeDrive, domain.SourceTypeMail, domain.SourceTypeChat,
		domain.SourceTypeWiki, domain.SourceTypeTracker, domain.SourceTypeWeb,
		domain.SourceTypeFiles:
		return true
	default:
		return false
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
