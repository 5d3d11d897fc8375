package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/finchsec/tokenward/internal/lifecycle"
	"github.com/finchsec/tokenward/internal/scheduler"
	"github.com/finchsec/tokenward/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// StorageType represents the primary secret-storage backend.
type StorageType string

const (
	StorageTypeKeyring StorageType = "keyring"
	StorageTypeFile    StorageType = "file"
	StorageTypeEnv     StorageType = "env"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4780
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigStorageType     = StorageTypeKeyring
	DefaultConfigKeyringService  = "tokenward"
	DefaultConfigEnvPrefix       = "TOKENWARD_SECRET_"
)

// ServerConfig holds operator API server configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// BrokerConfig holds the broker endpoint shape shared by both environments.
// Only the API origins differ per environment (see EnvironmentConfig).
type BrokerConfig struct {
	// AuthorizeURL is the human-facing page that displays the verifier PIN.
	AuthorizeURL string `json:"authorize_url" validate:"required,url"`

	RequestTokenPath string `json:"request_token_path"`
	AccessTokenPath  string `json:"access_token_path"`
	KeepAlivePath    string `json:"keepalive_path"`

	// Timezone is the broker's reference timezone for the midnight expiry
	// policy.
	Timezone string `json:"timezone"`
}

// EnvironmentConfig holds one environment's consumer credentials and API
// origin. Consumer credentials are loaded here once at startup and never
// persisted by this subsystem.
type EnvironmentConfig struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	BaseURL        string `json:"base_url" validate:"omitempty,url"`
}

// StorageConfig describes where credential state persists.
type StorageConfig struct {
	// Type selects the primary (write) backend.
	Type StorageType `json:"type" validate:"required,oneof=keyring file env"`

	// Storage-specific settings
	Dir       string `json:"dir,omitempty"`        // For file storage: directory for secret files
	Service   string `json:"service,omitempty"`    // For keyring storage: service identifier
	EnvPrefix string `json:"env_prefix,omitempty"` // For env fallback: variable name prefix

	// DisableFallback turns off the layered read fallback (primary → file →
	// env). Writes always target the primary backend either way.
	DisableFallback bool `json:"disable_fallback"`
}

// SchedulerConfig holds renewal scheduler timing.
type SchedulerConfig struct {
	// Disabled turns the background scheduler off (one-shot CLI use).
	Disabled bool `json:"disabled"`

	TickInterval    time.Duration `json:"tick_interval"`
	IdleThreshold   time.Duration `json:"idle_threshold"`
	DailyCheckAt    string        `json:"daily_check_at"`
	RequestTokenTTL time.Duration `json:"request_token_ttl"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Server    ServerConfig    `json:"server"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
	Broker    BrokerConfig    `json:"broker"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Environments maps "prod"/"sandbox" to their credentials and origin.
	Environments map[string]EnvironmentConfig `json:"environments"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Broker.Timezone == "" {
		c.Broker.Timezone = lifecycle.DefaultTimezone
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}
	if c.Storage.Service == "" {
		c.Storage.Service = DefaultConfigKeyringService
	}
	if c.Storage.EnvPrefix == "" {
		c.Storage.EnvPrefix = DefaultConfigEnvPrefix
	}
	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = scheduler.DefaultTickInterval
	}
	if c.Scheduler.IdleThreshold == 0 {
		c.Scheduler.IdleThreshold = lifecycle.DefaultIdleThreshold
	}
	if c.Scheduler.DailyCheckAt == "" {
		c.Scheduler.DailyCheckAt = scheduler.DefaultDailyCheckAt
	}
	if c.Scheduler.RequestTokenTTL == 0 {
		c.Scheduler.RequestTokenTTL = lifecycle.DefaultRequestTokenTTL
	}

	// Dynamic defaults based on storage type
	if (c.Storage.Type == StorageTypeFile || !c.Storage.DisableFallback) && c.Storage.Dir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("storage.dir required (auto-detect failed: %w)", err)
		}
		c.Storage.Dir = filepath.Join(configDir, "tokenward", "secrets")
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// The handshake writes tokens; env storage is read-only.
	if c.Storage.Type == StorageTypeEnv {
		return errors.New("the token lifecycle requires writable storage, env is read-only")
	}
	if c.Storage.Type == StorageTypeFile && c.Storage.Dir == "" {
		return errors.New("storage.dir required for file storage")
	}

	configured := 0
	for name, env := range c.Environments {
		if _, err := lifecycle.ParseEnvironment(name); err != nil {
			return fmt.Errorf("environments: %w", err)
		}
		if env.ConsumerKey == "" {
			continue
		}
		configured++
		if env.ConsumerSecret == "" {
			return fmt.Errorf("environments.%s: consumer_secret required with consumer_key", name)
		}
		if env.BaseURL == "" {
			return fmt.Errorf("environments.%s: base_url required", name)
		}
	}
	if configured == 0 {
		return errors.New("at least one environment with consumer credentials required")
	}

	return nil
}

// NewStore builds the secret storage chain from the configuration: the
// primary write backend first, then the read-only fallbacks unless disabled.
func (c *StorageConfig) NewStore() (tokenstore.Store, error) {
	var primary tokenstore.Store
	var err error

	switch c.Type {
	case StorageTypeKeyring:
		primary, err = tokenstore.NewKeyringStore(c.Service)
	case StorageTypeFile:
		primary, err = tokenstore.NewFileStore(c.Dir)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.Type)
	}
	if err != nil {
		return nil, err
	}

	if c.DisableFallback {
		return primary, nil
	}

	layers := []tokenstore.Store{primary}
	if c.Type == StorageTypeKeyring {
		fileStore, err := tokenstore.NewFileStore(c.Dir)
		if err != nil {
			return nil, err
		}
		layers = append(layers, fileStore)
	}
	envStore, err := tokenstore.NewEnvStore(c.EnvPrefix)
	if err != nil {
		return nil, err
	}
	layers = append(layers, envStore)

	return tokenstore.NewLayered(layers...)
}
