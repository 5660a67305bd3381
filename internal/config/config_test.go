package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"auctionetl/internal/normalize"
)

var envVars = []string{
	"AUCTION_VERBOSE", "AUCTION_STORAGE", "AUCTION_DSN", "AUCTION_OUT_DIR",
	"AUCTION_TIMESTAMP_FORMAT", "AUCTION_NOW", "AUCTION_PLAIN_DESCRIPTIONS", "AUCTION_BATCH_ROWS",
	"AUCTION_METRICS_BACKEND", "AUCTION_METRICS_JOB", "AUCTION_METRICS_TAGS", "AUCTION_METRICS_FLUSH_EVERY",
}

// clearEnv unsets every AUCTION_* variable for the duration of the test.
// An empty but present variable would override defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "sqlite", cfg.Storage.Kind)
	require.Equal(t, "auction.db", cfg.Storage.DSN)
	require.Equal(t, ".", cfg.Storage.OutDir)
	require.Equal(t, normalize.FormatISO, cfg.TimestampFormat())
	require.Equal(t, int64(1008806402), cfg.Load.Now)
	require.Equal(t, 5000, cfg.Load.BatchRows)
	require.False(t, cfg.Load.PlainDescriptions)
	require.Equal(t, "none", cfg.Metrics.Backend)
	require.Equal(t, "auction_load", cfg.Metrics.JobName)
	require.Equal(t, 60*time.Second, cfg.Metrics.FlushEvery)
	require.False(t, cfg.Verbose)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "auction.yaml")
	yamlContent := `
storage:
  kind: flatfile
  out_dir: /var/lib/auction/dat
load:
  timestamp_format: epoch
  plain_descriptions: true
  batch_rows: 250
metrics:
  backend: datadog
  flush_every: 15s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	t.Setenv("AUCTION_TIMESTAMP_FORMAT", "iso")
	t.Setenv("AUCTION_METRICS_TAGS", "env:test,team:data")

	cfg, err := Load(path)
	require.NoError(t, err)

	// YAML values.
	require.Equal(t, "flatfile", cfg.Storage.Kind)
	require.Equal(t, "/var/lib/auction/dat", cfg.Storage.OutDir)
	require.True(t, cfg.Load.PlainDescriptions)
	require.Equal(t, 250, cfg.Load.BatchRows)
	require.Equal(t, "datadog", cfg.Metrics.Backend)
	require.Equal(t, 15*time.Second, cfg.Metrics.FlushEvery)

	// Environment wins over YAML.
	require.Equal(t, normalize.FormatISO, cfg.TimestampFormat())
	require.Equal(t, "env:test,team:data", cfg.Metrics.Tags)

	// Defaults fill what neither sets.
	require.Equal(t, int64(1008806402), cfg.Load.Now)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidValueFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUCTION_STORAGE", "oracle")
	_, err := Load("")
	require.ErrorContains(t, err, "storage.kind")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Storage: StorageConfig{Kind: "sqlite", DSN: "auction.db", OutDir: "."},
			Load:    LoadConfig{TimestampFormat: "iso", BatchRows: 10},
			Metrics: MetricsConfig{Backend: "none"},
		}
	}
	require.NoError(t, func() error { c := valid(); return c.Validate() }())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"unknown_kind", func(c *Config) { c.Storage.Kind = "mysql" }, "storage.kind"},
		{"empty_dsn", func(c *Config) { c.Storage.DSN = " " }, "storage.dsn"},
		{"flatfile_needs_out_dir", func(c *Config) { c.Storage.Kind = "flatfile"; c.Storage.OutDir = "" }, "storage.out_dir"},
		{"bad_format", func(c *Config) { c.Load.TimestampFormat = "rfc3339" }, "load.timestamp_format"},
		{"zero_batch", func(c *Config) { c.Load.BatchRows = 0 }, "load.batch_rows"},
		{"bad_metrics", func(c *Config) { c.Metrics.Backend = "pushgateway" }, "metrics.backend"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			require.ErrorContains(t, c.Validate(), tc.wantSub)
		})
	}

	t.Run("flatfile_ignores_dsn", func(t *testing.T) {
		c := valid()
		c.Storage.Kind = "flatfile"
		c.Storage.DSN = ""
		require.NoError(t, c.Validate())
	})
}

func TestDump_RedactsDSN(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Kind: "postgres", DSN: "postgres://loader:s3cret@db:5432/auction"},
		Load:    LoadConfig{TimestampFormat: "iso", BatchRows: 5000, Now: 1008806402},
		Metrics: MetricsConfig{Backend: "none", FlushEvery: time.Minute},
	}

	var buf bytes.Buffer
	require.NoError(t, cfg.Dump(&buf))
	require.NotContains(t, buf.String(), "s3cret")
	require.Contains(t, buf.String(), "kind: postgres")
	require.Contains(t, buf.String(), "flush_every: 1m0s")
	require.Equal(t, "postgres://loader:s3cret@db:5432/auction", cfg.Storage.DSN, "Dump must not modify the config")
}
