// Package config loads the loader's configuration from an optional YAML file
// and AUCTION_* environment variables. Environment variables override the
// file; command-line flags override both (see cmd/auction_load).
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"auctionetl/internal/logging"
	"auctionetl/internal/normalize"
)

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Load    LoadConfig    `yaml:"load"`
	Metrics MetricsConfig `yaml:"metrics"`

	Verbose bool `yaml:"verbose" env:"AUCTION_VERBOSE" env-default:"false"`
}

type StorageConfig struct {
	// Kind selects the backend: sqlite, postgres, mssql or flatfile.
	Kind string `yaml:"kind" env:"AUCTION_STORAGE" env-default:"sqlite"`
	DSN  string `yaml:"dsn" env:"AUCTION_DSN" env-default:"auction.db"`
	// OutDir is where the flatfile backend writes its .dat files.
	OutDir string `yaml:"out_dir" env:"AUCTION_OUT_DIR" env-default:"."`
}

type LoadConfig struct {
	TimestampFormat   string `yaml:"timestamp_format" env:"AUCTION_TIMESTAMP_FORMAT" env-default:"iso"`
	Now               int64  `yaml:"now" env:"AUCTION_NOW" env-default:"1008806402"`
	PlainDescriptions bool   `yaml:"plain_descriptions" env:"AUCTION_PLAIN_DESCRIPTIONS" env-default:"false"`
	BatchRows         int    `yaml:"batch_rows" env:"AUCTION_BATCH_ROWS" env-default:"5000"`
}

type MetricsConfig struct {
	// Backend is none or datadog.
	Backend    string        `yaml:"backend" env:"AUCTION_METRICS_BACKEND" env-default:"none"`
	JobName    string        `yaml:"job_name" env:"AUCTION_METRICS_JOB" env-default:"auction_load"`
	Tags       string        `yaml:"tags" env:"AUCTION_METRICS_TAGS" env-default:""`
	FlushEvery time.Duration `yaml:"flush_every" env:"AUCTION_METRICS_FLUSH_EVERY" env-default:"60s"`
}

var storageKinds = []string{"sqlite", "postgres", "mssql", "flatfile"}

// Load reads path (if non-empty) and the environment, then validates the
// result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cleanenv cannot check by type alone.
func (c *Config) Validate() error {
	if !contains(storageKinds, c.Storage.Kind) {
		return fmt.Errorf("storage.kind=%q: want one of %s", c.Storage.Kind, strings.Join(storageKinds, "|"))
	}
	if c.Storage.Kind == "flatfile" {
		if strings.TrimSpace(c.Storage.OutDir) == "" {
			return fmt.Errorf("storage.out_dir is required for flatfile")
		}
	} else if strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("storage.dsn is required for %s", c.Storage.Kind)
	}
	if _, err := normalize.ParseTimestampFormat(c.Load.TimestampFormat); err != nil {
		return fmt.Errorf("load.timestamp_format: %w", err)
	}
	if c.Load.BatchRows <= 0 {
		return fmt.Errorf("load.batch_rows=%d: must be positive", c.Load.BatchRows)
	}
	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		return fmt.Errorf("metrics.backend=%q: want none|datadog", c.Metrics.Backend)
	}
	return nil
}

// TimestampFormat returns the parsed load.timestamp_format. Call after Validate.
func (c *Config) TimestampFormat() normalize.TimestampFormat {
	f, _ := normalize.ParseTimestampFormat(c.Load.TimestampFormat)
	return f
}

// Dump writes the effective configuration as YAML, with credentials in the
// DSN redacted.
func (c *Config) Dump(w io.Writer) error {
	out := *c
	out.Storage.DSN = logging.SanitizeDSN(c.Storage.DSN)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
