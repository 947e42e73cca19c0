// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/paper-harvester/internal/logging"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Tree     TreeConfig     `mapstructure:"tree"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  logging.Config `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                int `mapstructure:"port"`
	RequestTimeoutSecs  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSecs int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HarvestConfig governs job-wide behavior shared by both portals.
type HarvestConfig struct {
	DefaultWorkers      int    `mapstructure:"default_workers"`
	BatchDelayMs        int    `mapstructure:"batch_delay_ms"`
	UserAgent           string `mapstructure:"user_agent"`
	IngestRetryAttempts int    `mapstructure:"ingest_retry_attempts"`
	IngestRetryDelayMs  int    `mapstructure:"ingest_retry_delay_ms"`
}

// SourceConfig locates one portal.
type SourceConfig struct {
	URL string `mapstructure:"url"`
}

// SourcesConfig lists the portal entry points.
type SourcesConfig struct {
	Portal1 SourceConfig `mapstructure:"portal1"`
	Portal2 SourceConfig `mapstructure:"portal2"`
}

// TreeConfig tunes the folder-tree walk on portal2.
type TreeConfig struct {
	MaxSiblings    int      `mapstructure:"max_siblings"`
	RetryAttempts  int      `mapstructure:"retry_attempts"`
	RetryBackoffMs int      `mapstructure:"retry_backoff_ms"`
	SettleMs       int      `mapstructure:"settle_ms"`
	UnwindMs       int      `mapstructure:"unwind_ms"`
	SkipFolders    []string `mapstructure:"skip_folders"`
}

// HTTPConfig configures the plain HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
	RespectRobots  bool `mapstructure:"respect_robots"`
	MaxBodyMB      int  `mapstructure:"max_body_mb"`
}

// HeadlessConfig configures the remote browser used on portal2.
type HeadlessConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	NavTimeoutSeconds   int  `mapstructure:"nav_timeout_seconds"`
	ReadyTimeoutSeconds int  `mapstructure:"ready_timeout_seconds"`
	PollIntervalMs      int  `mapstructure:"poll_interval_ms"`
}

// StorageConfig selects where paper copies are written.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	GCSPublicURLs bool   `mapstructure:"gcs_public_urls"`
	LocalDir      string `mapstructure:"local_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	Prefix        string `mapstructure:"prefix"`
	Upload        bool   `mapstructure:"upload"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("harvest.default_workers", 4)
	v.SetDefault("harvest.batch_delay_ms", 100)
	v.SetDefault("harvest.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) paper-harvester/1.0")
	v.SetDefault("harvest.ingest_retry_attempts", 2)
	v.SetDefault("harvest.ingest_retry_delay_ms", 500)
	v.SetDefault("sources.portal1.url", "")
	v.SetDefault("sources.portal2.url", "")
	v.SetDefault("tree.max_siblings", 30)
	v.SetDefault("tree.retry_attempts", 2)
	v.SetDefault("tree.retry_backoff_ms", 300)
	v.SetDefault("tree.settle_ms", 300)
	v.SetDefault("tree.unwind_ms", 5000)
	v.SetDefault("tree.skip_folders", []string{"guideline", "governance"})
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.max_body_mb", 50)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.ready_timeout_seconds", 10)
	v.SetDefault("headless.poll_interval_ms", 100)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_public_urls", false)
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.prefix", "papers")
	v.SetDefault("storage.upload", true)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "papers")
	v.SetDefault("db.max_conns", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Harvest.DefaultWorkers <= 0 {
		return fmt.Errorf("harvest.default_workers must be > 0")
	}
	if c.Harvest.BatchDelayMs < 0 {
		return fmt.Errorf("harvest.batch_delay_ms must be >= 0")
	}
	if c.Harvest.IngestRetryAttempts <= 0 {
		return fmt.Errorf("harvest.ingest_retry_attempts must be > 0")
	}
	if c.Tree.MaxSiblings <= 0 {
		return fmt.Errorf("tree.max_siblings must be > 0")
	}
	if c.Tree.RetryAttempts <= 0 {
		return fmt.Errorf("tree.retry_attempts must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs (got %q)", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// BatchDelay is the pause between flat-list batches.
func (c Config) BatchDelay() time.Duration {
	return time.Duration(c.Harvest.BatchDelayMs) * time.Millisecond
}

// HTTPTimeout bounds one plain HTTP request.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds one API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSecs) * time.Second
}

// ShutdownTimeout bounds graceful server shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSecs) * time.Second
}

// Milliseconds converts a millisecond config value to a duration.
func Milliseconds(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Seconds converts a second config value to a duration.
func Seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
