// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
// It is loaded once at process start and treated as immutable afterwards.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Weibo     WeiboConfig     `mapstructure:"weibo"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	TaskStore TaskStoreConfig `mapstructure:"task_store"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WeiboConfig holds the upstream session credential and request identity.
// Cookie comes from an authenticated m.weibo.cn session and is supplied
// externally; the service never negotiates one.
type WeiboConfig struct {
	Cookie    string `mapstructure:"cookie"`
	UserAgent string `mapstructure:"user_agent"`
	Proxy     string `mapstructure:"proxy"`
}

// HTTPConfig configures upstream request timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRetries     int `mapstructure:"max_retries"`
}

// CrawlerConfig governs dispatcher and crawl loop behavior.
type CrawlerConfig struct {
	Concurrency     int     `mapstructure:"concurrency"`
	QueueDepth      int     `mapstructure:"queue_depth"`
	DefaultMaxPages int     `mapstructure:"default_max_pages"`
	DefaultDelayS   float64 `mapstructure:"default_delay_seconds"`
}

// StorageConfig sets the base directory for per-user artifacts.
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// TaskStoreConfig selects the task store backend.
type TaskStoreConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// PublisherConfig selects the completion-event publisher backend.
type PublisherConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig controls optional post-run artifact snapshots.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

const defaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X) " +
	"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15A372 Safari/604.1"

// Load builds a Config from disk/environment. Environment variables use the
// WEIBO prefix with dots replaced by underscores (e.g. WEIBO_WEIBO_COOKIE).
func Load(path string) (Config, error) {
	// ExperimentalBindStruct matches viper >= 1.21 behavior, where Unmarshal
	// binds WEIBO_* environment variables for keys that have no default.
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetEnvPrefix("WEIBO")
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
	v.SetDefault("weibo.user_agent", defaultUserAgent)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.default_max_pages", 5)
	v.SetDefault("crawler.default_delay_seconds", 1.0)
	v.SetDefault("storage.base_dir", "data/weibo/users")
	v.SetDefault("task_store.backend", "memory")
	v.SetDefault("task_store.table", "crawl_tasks")
	v.SetDefault("publisher.backend", "memory")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "runs")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.DefaultMaxPages < 0 {
		return fmt.Errorf("crawler.default_max_pages must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.TaskStore.Backend {
	case "memory":
	case "postgres":
		if c.TaskStore.DSN == "" {
			return fmt.Errorf("task_store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown task_store.backend %q", c.TaskStore.Backend)
	}
	switch c.Publisher.Backend {
	case "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher.backend %q", c.Publisher.Backend)
	}
	switch c.Archive.Backend {
	case "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	return nil
}

// RequestTimeout converts the HTTP timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
