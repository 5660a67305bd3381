package load

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"auctionetl/internal/metrics"
	"auctionetl/internal/storage"
)

// batchTable is the per-table state of a documentBatch.
type batchTable struct {
	spec     storage.TableSpec
	columns  []string
	identity []int // positions of spec.Identity in columns; nil for append-only
	rows     [][]any
	inserted int64
	skipped  int64
}

// documentBatch is the auction.Sink of one document. It drops rows whose
// identity was already admitted and buffers the rest, flushing them to the
// document's transaction in referential order once batchRows are buffered.
type documentBatch struct {
	tx        storage.Tx
	pending   *Pending
	order     []*batchTable
	byName    map[string]*batchTable
	batchRows int
	buffered  int
	log       *zap.Logger
}

func newDocumentBatch(tx storage.Tx, pending *Pending, tables []storage.TableSpec, batchRows int, log *zap.Logger) (*documentBatch, error) {
	b := &documentBatch{
		tx:        tx,
		pending:   pending,
		byName:    make(map[string]*batchTable, len(tables)),
		batchRows: batchRows,
		log:       log,
	}
	for _, spec := range tables {
		bt := &batchTable{spec: spec, columns: spec.ColumnNames()}
		if len(spec.Identity) > 0 {
			idx, err := spec.ColumnIndex(spec.Identity)
			if err != nil {
				return nil, err
			}
			bt.identity = idx
		}
		b.order = append(b.order, bt)
		b.byName[spec.Name] = bt
	}
	return b, nil
}

// Emit implements auction.Sink.
func (b *documentBatch) Emit(ctx context.Context, table string, row []any) error {
	bt, ok := b.byName[table]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrUnknownTable, table)
	}
	if len(row) != len(bt.columns) {
		return fmt.Errorf("table %s: row has %d values, want %d", table, len(row), len(bt.columns))
	}
	if bt.identity != nil && !b.pending.Admit(table, storage.IdentityKey(row, bt.identity)) {
		bt.skipped++
		return nil
	}

	bt.rows = append(bt.rows, row)
	b.buffered++
	if b.batchRows > 0 && b.buffered >= b.batchRows {
		return b.flush(ctx)
	}
	return nil
}

// flush writes every buffered row, parents before children.
func (b *documentBatch) flush(ctx context.Context) error {
	if b.buffered == 0 {
		return nil
	}
	for _, bt := range b.order {
		if len(bt.rows) == 0 {
			continue
		}
		n, err := b.tx.InsertRows(ctx, bt.spec.Name, bt.columns, bt.rows, bt.spec.Identity)
		if err != nil {
			return err
		}
		b.log.Debug("flushed rows",
			zap.String("table", bt.spec.Name),
			zap.Int("batch_rows", len(bt.rows)),
			zap.Int64("inserted", n))
		bt.inserted += n
		bt.rows = nil
	}
	b.buffered = 0
	return nil
}

// record reports the rows written per table. Call after the commit.
func (b *documentBatch) record() {
	for _, bt := range b.order {
		metrics.RecordRows(bt.spec.Name, bt.inserted)
	}
}

// counts returns inserted and skipped row counts keyed by table.
func (b *documentBatch) counts() (inserted, skipped map[string]int64) {
	inserted = make(map[string]int64, len(b.order))
	skipped = make(map[string]int64, len(b.order))
	for _, bt := range b.order {
		inserted[bt.spec.Name] = bt.inserted
		skipped[bt.spec.Name] = bt.skipped
	}
	return inserted, skipped
}
