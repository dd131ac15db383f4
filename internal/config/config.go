// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
	BackendLocal    = "local"
)

// EnvironmentTest enables the preset endpoint's force flags.
const EnvironmentTest = "test"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	App       AppConfig       `mapstructure:"app"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Preset    PresetConfig    `mapstructure:"preset"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AppConfig describes the deployment environment.
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetchConfig bounds outbound fetches and extracted text.
type FetchConfig struct {
	TimeoutMs        int    `mapstructure:"timeout_ms"`
	MaxResponseBytes int64  `mapstructure:"max_response_bytes"`
	MaxTextChars     int    `mapstructure:"max_text_chars"`
	MaxURLLength     int    `mapstructure:"max_url_length"`
	UserAgent        string `mapstructure:"user_agent"`
	// HostRPS throttles outbound requests per host. Zero disables it.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
	// BlockedDomains lists extra hosts ("a.example", "*.b.example") that
	// caller URLs may not target.
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// PresetConfig configures the fixed legal-search preset.
type PresetConfig struct {
	SearchURL   string       `mapstructure:"search_url"`
	Provider    string       `mapstructure:"provider"`
	Name        string       `mapstructure:"name"`
	Timezone    string       `mapstructure:"timezone"`
	MinPages    int          `mapstructure:"min_pages"`
	FreeText    string       `mapstructure:"free_text"`
	SubmitLabel string       `mapstructure:"submit_label"`
	Fields      PresetFields `mapstructure:"fields"`
}

// PresetFields overrides the candidate form field names per logical field.
// Empty lists keep the built-in candidates.
type PresetFields struct {
	DateFrom []string `mapstructure:"date_from"`
	DateTo   []string `mapstructure:"date_to"`
	MinPages []string `mapstructure:"min_pages"`
	FreeText []string `mapstructure:"free_text"`
	Submit   []string `mapstructure:"submit"`
}

// StorageConfig selects and configures the document store.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DatabaseConfig controls access to the relational database.
type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
// Notifications are disabled when TopicName is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig configures trace export. Export is disabled when
// ProjectID is empty.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SUMMARIES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Cloud Run injects PORT.
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("app.environment", "production")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("fetch.timeout_ms", 15000)
	v.SetDefault("fetch.max_response_bytes", 2*1024*1024)
	v.SetDefault("fetch.max_text_chars", 40000)
	v.SetDefault("fetch.max_url_length", 2048)
	v.SetDefault("fetch.user_agent", "summary-ingestor/1.0")
	v.SetDefault("fetch.host_rps", 0)
	v.SetDefault("fetch.host_burst", 1)
	v.SetDefault("fetch.blocked_domains", []string{})
	v.SetDefault("preset.search_url", "https://supreme.court.gov.il/Pages/fullsearch.aspx")
	v.SetDefault("preset.provider", "supreme.court.gov.il")
	v.SetDefault("preset.name", "last_week_decisions_over_2_pages")
	v.SetDefault("preset.timezone", "UTC")
	v.SetDefault("preset.min_pages", 3)
	v.SetDefault("preset.free_text", "החלטה")
	v.SetDefault("preset.submit_label", "חפש")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "summaries")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "summaries")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("telemetry.service_name", "summary-ingestor")
	v.SetDefault("telemetry.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("server.request_timeout_seconds must be >= 0")
	}
	if c.Fetch.TimeoutMs <= 0 {
		return fmt.Errorf("fetch.timeout_ms must be > 0")
	}
	if c.Fetch.MaxResponseBytes <= 0 {
		return fmt.Errorf("fetch.max_response_bytes must be > 0")
	}
	if c.Fetch.MaxTextChars <= 0 {
		return fmt.Errorf("fetch.max_text_chars must be > 0")
	}
	if c.Fetch.MaxURLLength <= 0 {
		return fmt.Errorf("fetch.max_url_length must be > 0")
	}
	if c.Fetch.HostRPS < 0 {
		return fmt.Errorf("fetch.host_rps must be >= 0")
	}
	if c.Preset.MinPages <= 0 {
		return fmt.Errorf("preset.min_pages must be > 0")
	}
	if _, err := time.LoadLocation(c.Preset.Timezone); err != nil {
		return fmt.Errorf("preset.timezone %q: %w", c.Preset.Timezone, err)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when storage.backend is postgres")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.backend is local")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout returns the outbound fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutMs) * time.Millisecond
}

// RequestTimeout returns the per-request handler deadline; zero disables it.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// ForceFlagsEnabled reports whether preset force flags are honored.
func (c Config) ForceFlagsEnabled() bool {
	return strings.EqualFold(c.App.Environment, EnvironmentTest)
}

// PresetLocation resolves the preset time zone. Validate guarantees it loads.
func (c Config) PresetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Preset.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
