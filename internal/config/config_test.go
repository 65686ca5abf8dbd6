package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 15, cfg.HTTP.TimeoutSeconds)
	require.Equal(t, 3, cfg.HTTP.MaxRetries)
	require.Equal(t, 5, cfg.Crawler.Concurrency)
	require.Equal(t, 64, cfg.Crawler.QueueDepth)
	require.Equal(t, 5, cfg.Crawler.DefaultMaxPages)
	require.Equal(t, 1.0, cfg.Crawler.DefaultDelayS)
	require.Equal(t, "data/weibo/users", cfg.Storage.BaseDir)
	require.Equal(t, "memory", cfg.TaskStore.Backend)
	require.Equal(t, "crawl_tasks", cfg.TaskStore.Table)
	require.Equal(t, "memory", cfg.Publisher.Backend)
	require.Equal(t, "none", cfg.Archive.Backend)
	require.NotEmpty(t, cfg.Weibo.UserAgent)
	require.Equal(t, 15*time.Second, cfg.RequestTimeout())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
weibo:
  cookie: "SUB=abc"
crawler:
  concurrency: 2
  default_max_pages: 10
task_store:
  backend: postgres
  dsn: "postgres://localhost/crawler"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "SUB=abc", cfg.Weibo.Cookie)
	require.Equal(t, 2, cfg.Crawler.Concurrency)
	require.Equal(t, 10, cfg.Crawler.DefaultMaxPages)
	require.Equal(t, "postgres", cfg.TaskStore.Backend)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WEIBO_SERVER_PORT", "7070")
	t.Setenv("WEIBO_WEIBO_COOKIE", "SUB=env")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "SUB=env", cfg.Weibo.Cookie)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }},
		{"negative max pages", func(c *Config) { c.Crawler.DefaultMaxPages = -1 }},
		{"zero timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }},
		{"zero retries", func(c *Config) { c.HTTP.MaxRetries = 0 }},
		{"empty base dir", func(c *Config) { c.Storage.BaseDir = "" }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }},
		{"unknown task backend", func(c *Config) { c.TaskStore.Backend = "redis" }},
		{"postgres without dsn", func(c *Config) { c.TaskStore.Backend = "postgres" }},
		{"unknown publisher", func(c *Config) { c.Publisher.Backend = "kafka" }},
		{"pubsub without project", func(c *Config) { c.Publisher.Backend = "pubsub" }},
		{"local archive without dir", func(c *Config) { c.Archive.Backend = "local" }},
		{"gcs archive without bucket", func(c *Config) { c.Archive.Backend = "gcs" }},
		{"unknown archive", func(c *Config) { c.Archive.Backend = "s3" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
