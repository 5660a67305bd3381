// Command auction_load loads auction JSON documents into a relational store
// or a directory of delimited files.
//
//	auction_load [flags] <file.json>...
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auctionetl/internal/config"
	"auctionetl/internal/load"
	"auctionetl/internal/logging"
	"auctionetl/internal/metrics"
	"auctionetl/internal/metrics/datadog"
	"auctionetl/internal/storage"

	// register all backends with the storage factory.
	_ "auctionetl/internal/storage/all"
)

const usageLine = "usage: auction_load [flags] <file.json>..."

// appDeps holds the side-effecting seams of runMain.
type appDeps struct {
	loadConfig  func(path string) (*config.Config, error)
	initMetrics func(ctx context.Context, cfg config.MetricsConfig, runID string, log *zap.Logger) (func(), error)
	openRepo    func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	newRunID    func() string
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		initMetrics: initMetrics,
		openRepo:    storage.New,
		newRunID:    uuid.NewString,
	}
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

// runMain is main without the process exit. It returns 2 for usage errors,
// 1 for any other failure and 0 on success.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("auction_load", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageLine)
		fs.PrintDefaults()
	}

	var (
		cfgPath     = fs.String("config", "", "YAML config path (optional; AUCTION_* env vars apply either way)")
		kind        = fs.String("storage", "", "storage backend: sqlite|postgres|mssql|flatfile")
		dsn         = fs.String("dsn", "", "database DSN (sqlite file path for sqlite)")
		outDir      = fs.String("out", "", "output directory for the flatfile backend")
		tsFormat    = fs.String("timestamp-format", "", "timestamp representation: iso|epoch")
		metricsFlag = fs.String("metrics-backend", "", "metrics backend: none|datadog")
		plain       = fs.Bool("plain-descriptions", false, "strip HTML markup from item descriptions")
		printConfig = fs.Bool("print-config", false, "print the effective configuration and exit")
		verbose     = fs.Bool("v", false, "enable verbose logs")
	)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 && !*printConfig {
		fmt.Fprintln(stderr, usageLine)
		return 2
	}

	cfg, err := deps.loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	// Flags set on the command line win over file and environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "storage":
			cfg.Storage.Kind = *kind
		case "dsn":
			cfg.Storage.DSN = *dsn
		case "out":
			cfg.Storage.OutDir = *outDir
		case "timestamp-format":
			cfg.Load.TimestampFormat = *tsFormat
		case "metrics-backend":
			cfg.Metrics.Backend = *metricsFlag
		case "plain-descriptions":
			cfg.Load.PlainDescriptions = *plain
		case "v":
			cfg.Verbose = *verbose
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	if *printConfig {
		if err := cfg.Dump(stdout); err != nil {
			fmt.Fprintf(stderr, "print config: %v\n", err)
			return 1
		}
		return 0
	}

	runID := deps.newRunID()
	log := logging.New(stderr, cfg.Verbose).With(zap.String("run_id", runID))
	defer func() { _ = log.Sync() }()

	cleanup, err := deps.initMetrics(ctx, cfg.Metrics, runID, log)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	repo, err := deps.openRepo(ctx, storage.Config{
		Kind:   cfg.Storage.Kind,
		DSN:    cfg.Storage.DSN,
		OutDir: cfg.Storage.OutDir,
	})
	if err != nil {
		fmt.Fprintf(stderr, "open storage: %v\n", err)
		return 1
	}
	defer repo.Close()

	log.Info("load starting",
		zap.String("storage", cfg.Storage.Kind),
		zap.String("dsn", logging.SanitizeDSN(cfg.Storage.DSN)),
		zap.String("timestamp_format", string(cfg.TimestampFormat())),
		zap.Int("files", fs.NArg()))

	loader := load.New(repo, load.Options{
		Format:            cfg.TimestampFormat(),
		Now:               cfg.Load.Now,
		PlainDescriptions: cfg.Load.PlainDescriptions,
		BatchRows:         cfg.Load.BatchRows,
		Stdout:            stdout,
		Log:               log,
	})
	if err := loader.Run(ctx, fs.Args()); err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	return 0
}

// metricsBackend is what initMetrics needs from a concrete backend.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = metrics.SetBackend
)

// initMetrics installs the configured metrics backend. The returned cleanup
// is never nil and must be called once; for datadog it stops the flush loop
// and submits the tail of the run.
func initMetrics(ctx context.Context, cfg config.MetricsConfig, runID string, log *zap.Logger) (func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case "", "none":
		log.Debug("metrics disabled")
		return noop, nil

	case "datadog":
		tags := datadog.ParseTagsCSV(cfg.Tags)
		if runID != "" {
			tags = append(tags, "run_id:"+runID)
		}
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    cfg.JobName,
			Tags:       tags,
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		log.Info("metrics enabled", zap.String("backend", "datadog"), zap.String("job", cfg.JobName), zap.Strings("tags", tags))

		return func() {
			setMetricsBackend(nil)
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close error", zap.Error(err))
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog)", cfg.Backend)
	}
}
