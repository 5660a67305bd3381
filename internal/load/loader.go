// Package load drives a load run: it streams each JSON document, runs the
// entity extractors over its items and writes the rows through a
// storage.Repository, one transaction per document.
package load

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"auctionetl/internal/auction"
	"auctionetl/internal/metrics"
	"auctionetl/internal/normalize"
	pjson "auctionetl/internal/parser/json"
	"auctionetl/internal/storage"
)

// ItemsField is the envelope field holding the item array.
const ItemsField = "Items"

// DefaultBatchRows is the number of buffered rows that triggers a flush
// inside a document's transaction.
const DefaultBatchRows = 5000

// Options configures a Loader. The zero value loads ISO timestamps, writes
// NowSentinel as the reference time and discards progress output.
type Options struct {
	Format            normalize.TimestampFormat
	Now               int64
	PlainDescriptions bool
	BatchRows         int

	// Stdout receives the per-document progress lines.
	Stdout io.Writer
	Log    *zap.Logger
}

// Loader is the batch driver. A Loader holds the run's Dedup registry and
// must not be shared between runs.
type Loader struct {
	repo      storage.Repository
	opts      Options
	tables    []storage.TableSpec
	dedup     *Dedup
	extractor *auction.Extractor
	log       *zap.Logger
	stdout    io.Writer
}

func New(repo storage.Repository, opts Options) *Loader {
	if opts.Format == "" {
		opts.Format = normalize.FormatISO
	}
	if opts.Now == 0 {
		opts.Now = auction.NowSentinel
	}
	if opts.BatchRows <= 0 {
		opts.BatchRows = DefaultBatchRows
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}

	ex := auction.NewExtractor(opts.Format, log)
	ex.PlainDescriptions = opts.PlainDescriptions

	return &Loader{
		repo:      repo,
		opts:      opts,
		tables:    auction.Tables(opts.Format),
		dedup:     NewDedup(),
		extractor: ex,
		log:       log,
		stdout:    stdout,
	}
}

// IsDataFile reports whether path names a JSON document: longer than five
// characters and ending in ".json".
func IsDataFile(path string) bool {
	return len(path) > 5 && strings.HasSuffix(path, ".json")
}

// Run loads every data file in paths, in order, then runs the post-load step.
// Paths that are not data files are skipped. The first error aborts the run;
// documents committed before it stay loaded.
func (l *Loader) Run(ctx context.Context, paths []string) error {
	if l.repo == nil {
		return fmt.Errorf("load: repository is required")
	}

	err := l.step("ddl", func() error { return l.repo.EnsureTables(ctx, l.tables) })
	if err != nil {
		return fmt.Errorf("ensure tables: %w", err)
	}

	loaded := 0
	for _, path := range paths {
		if !IsDataFile(path) {
			l.log.Debug("skipping non-data file", zap.String("file", path))
			continue
		}
		if err := l.LoadFile(ctx, path); err != nil {
			return err
		}
		loaded++
	}

	err = l.step("finalize", func() error {
		return l.repo.Finalize(ctx, storage.FinalizeSpec{
			Tables:    l.tables,
			NowTable:  auction.TableNowTime,
			NowColumn: auction.NowColumn,
			Now:       l.opts.Format.Render(l.opts.Now),
		})
	})
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	fmt.Fprintln(l.stdout, "Inserted start time")

	l.log.Info("load complete",
		zap.Int("documents", loaded),
		zap.Int("users", l.dedup.Len(auction.TableUser)),
		zap.Int("categories", l.dedup.Len(auction.TableCategory)),
		zap.Int("items", l.dedup.Len(auction.TableItem)))
	return nil
}

// LoadFile loads one document inside its own transaction. On error nothing
// from the document is kept, neither rows nor dedup identities.
func (l *Loader) LoadFile(ctx context.Context, path string) (err error) {
	start := time.Now()
	items := 0
	defer func() {
		metrics.RecordDocument(err, items)
		metrics.RecordStep("document", err, time.Since(start))
	}()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	tx, err := l.repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", path, err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && err == nil {
			err = fmt.Errorf("%s: rollback: %w", path, rbErr)
		}
	}()

	pending := l.dedup.Begin()
	batch, err := newDocumentBatch(tx, pending, l.tables, l.opts.BatchRows, l.log)
	if err != nil {
		return err
	}

	err = pjson.StreamItems(ctx, bufio.NewReader(f), ItemsField, func(_ int, rec *auction.Record) error {
		items++
		return l.extractor.Extract(ctx, rec, batch)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := batch.flush(ctx); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", path, err)
	}
	pending.Commit()
	batch.record()

	inserted, skipped := batch.counts()
	l.log.Info("document loaded",
		zap.String("stage", "document"),
		zap.String("file", path),
		zap.Int("items", items),
		zap.Any("inserted", inserted),
		zap.Any("duplicates", skipped),
		zap.Duration("duration", durMS(start)))
	fmt.Fprintf(l.stdout, "Success parsing %s\n", path)
	return nil
}

// step runs fn as a named pipeline stage, logging and recording its outcome.
func (l *Loader) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(name, err, time.Since(start))
	if err != nil {
		l.log.Error("stage failed", zap.String("stage", name), zap.Duration("duration", durMS(start)), zap.Error(err))
		return err
	}
	l.log.Info("stage ok", zap.String("stage", name), zap.Duration("duration", durMS(start)))
	return nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
