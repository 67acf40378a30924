package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultListen = ":8645"

// Config captures the runtime settings for the CDP daemon.
type Config struct {
	ListenAddress  string        `yaml:"listen"`
	ProtocolConfig string        `yaml:"protocol_config"`
	InitialPrice   string        `yaml:"initial_price"`
	DataDir        string        `yaml:"data_dir"`
	SnapshotStore  string        `yaml:"snapshot_backend"`
	SnapshotEvery  time.Duration `yaml:"snapshot_interval"`
	MaxConnections int           `yaml:"max_connections"`
	TLS            TLSConfig     `yaml:"tls"`
	Auth           AuthConfig    `yaml:"auth"`
	RateLimit      RateLimit     `yaml:"rate_limit"`
	Quota          QuotaConfig   `yaml:"quota"`
	Archive        ArchiveConfig `yaml:"archive"`
	Log            LogConfig     `yaml:"log"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures HMAC signed bearer tokens. The token subject is the
// account the caller acts for.
type AuthConfig struct {
	HMACSecret     string        `yaml:"hmac_secret"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	AllowAnonymous bool          `yaml:"allow_anonymous_reads"`
	ClockSkew      time.Duration `yaml:"clock_skew"`
}

// RateLimit bounds requests per client address.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// QuotaConfig caps the stablecoin each account may borrow per window.
type QuotaConfig struct {
	MaxRequestsPerWindow uint32 `yaml:"max_requests_per_window"`
	MaxBorrowPerWindow   uint64 `yaml:"max_borrow_per_window"`
	WindowSeconds        uint32 `yaml:"window_seconds"`
}

// ArchiveConfig selects the event archive database.
type ArchiveConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LogConfig mirrors logging.Options.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.ProtocolConfig = strings.TrimSpace(cfg.ProtocolConfig)
	cfg.InitialPrice = strings.TrimSpace(cfg.InitialPrice)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.SnapshotStore = strings.ToLower(strings.TrimSpace(cfg.SnapshotStore))
	if cfg.SnapshotStore == "" {
		cfg.SnapshotStore = "leveldb"
	}
	if cfg.MaxConnections < 0 {
		cfg.MaxConnections = 0
	}
	if cfg.SnapshotEvery < 0 {
		cfg.SnapshotEvery = 0
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
	if cfg.Quota.WindowSeconds == 0 {
		cfg.Quota.WindowSeconds = 3600
	}
	cfg.Archive.Driver = strings.ToLower(strings.TrimSpace(cfg.Archive.Driver))
	cfg.Archive.DSN = strings.TrimSpace(cfg.Archive.DSN)
	cfg.Log.Level = strings.TrimSpace(cfg.Log.Level)
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.ProtocolConfig == "" {
		return fmt.Errorf("protocol_config is required")
	}
	if cfg.InitialPrice == "" {
		return fmt.Errorf("initial_price is required")
	}
	hasCert, hasKey := cfg.TLS.CertPath != "", cfg.TLS.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("tls: cert and key must either both be provided or both be empty")
	}
	if !cfg.TLS.AllowInsecure && !hasCert {
		return fmt.Errorf("tls: cert and key are required unless allow_insecure=true")
	}
	if cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret is required")
	}
	if len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth: hmac_secret must be at least 32 bytes")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit: requests_per_minute must not be negative")
	}
	switch cfg.SnapshotStore {
	case "leveldb", "bolt":
	default:
		return fmt.Errorf("snapshot_backend: unsupported backend %q", cfg.SnapshotStore)
	}
	switch cfg.Archive.Driver {
	case "":
	case "sqlite", "postgres":
		if cfg.Archive.DSN == "" {
			return fmt.Errorf("archive: dsn is required for driver %s", cfg.Archive.Driver)
		}
	default:
		return fmt.Errorf("archive: unsupported driver %q", cfg.Archive.Driver)
	}
	return nil
}
