package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"auctionetl/internal/storage"
)

// SQL Server rejects statements with more than 2100 parameters.
const maxParams = 2000

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Idempotent inserts use INSERT ... SELECT ... WHERE NOT EXISTS. Unlike
// Postgres ON CONFLICT, such a statement does not collapse duplicates inside
// its own VALUES source, so rows are deduplicated per chunk before sending.
//
// Foreign keys are created in Finalize, after every document has loaded.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens a SQL Server connection using the "sqlserver" driver and verifies
// connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates every table that does not exist yet.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &repoTx{tx: tx}, nil
}

// Finalize replaces the reference time and adds missing foreign keys. SQL
// Server checks existing rows when a constraint is added WITH CHECK.
func (r *Repo) Finalize(ctx context.Context, spec storage.FinalizeSpec) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+mssqlIdent(spec.NowTable)); err != nil {
		return fmt.Errorf("mssql: clear %s: %w", spec.NowTable, err)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (@p1)", mssqlIdent(spec.NowTable), mssqlIdent(spec.NowColumn))
	if _, err := tx.ExecContext(ctx, q, spec.Now); err != nil {
		return fmt.Errorf("mssql: insert %s: %w", spec.NowTable, err)
	}

	for _, t := range spec.Tables {
		for _, c := range t.Columns {
			if c.References == nil {
				continue
			}
			if _, err := tx.ExecContext(ctx, buildAddForeignKeySQL(t, c)); err != nil {
				return fmt.Errorf("%w: %s: %v", storage.ErrForeignKeyViolation, t.ForeignKeyName(c), err)
			}
		}
	}

	return tx.Commit()
}

type repoTx struct {
	tx txConn
}

// InsertRows inserts rows in chunks that stay under the parameter limit.
// With conflictColumns set, rows already present in the table and repeats
// inside a chunk are skipped; the first occurrence wins.
func (t *repoTx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: insert %s: columns empty", table)
	}

	maxRows := max(1, maxParams/len(columns))

	var total int64
	for start := 0; start < len(rows); start += maxRows {
		part := rows[start:min(start+maxRows, len(rows))]

		var (
			q    string
			args []any
		)
		if len(conflictColumns) > 0 {
			deduped, err := dedupeRowsByColumns(part, columns, conflictColumns)
			if err != nil {
				return total, fmt.Errorf("mssql: insert %s: %w", table, err)
			}
			q, args = buildInsertNotExistsSQL(table, columns, deduped, conflictColumns)
		} else {
			q, args = buildBulkInsertSQL(table, columns, part)
		}

		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (t *repoTx) Commit(context.Context) error { return t.tx.Commit() }

func (t *repoTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// dedupeRowsByColumns keeps the first row for each distinct value of
// dedupeColumns, preserving input order.
func dedupeRowsByColumns(rows [][]any, columns []string, dedupeColumns []string) ([][]any, error) {
	colPos := make(map[string]int, len(columns))
	for i, c := range columns {
		colPos[c] = i
	}
	idx := make([]int, len(dedupeColumns))
	for i, dc := range dedupeColumns {
		p, ok := colPos[dc]
		if !ok {
			return nil, fmt.Errorf("dedupe column %q not present in columns", dc)
		}
		idx[i] = p
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		k := storage.IdentityKey(row, idx)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out, nil
}

// buildCreateSQL renders an OBJECT_ID guarded CREATE TABLE without REFERENCES.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s: no columns", t.Name)
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("mssql: table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	for _, con := range t.Constraints {
		if len(con.Columns) == 0 {
			return "", fmt.Errorf("mssql: table %s: %s constraint requires columns", t.Name, con.Kind)
		}
		switch strings.ToLower(strings.TrimSpace(con.Kind)) {
		case "primary_key":
			defs = append(defs, "PRIMARY KEY ("+joinIdents(con.Columns)+")")
		case "unique":
			defs = append(defs, "UNIQUE ("+joinIdents(con.Columns)+")")
		default:
			return "", fmt.Errorf("mssql: table %s: unsupported constraint kind %q", t.Name, con.Kind)
		}
	}

	return wrapCreateIfMissing(t.Name, strings.Join(defs, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		escapeLiteral(tableName),
		mssqlIdent(tableName),
		innerDefs,
	)
}

// mssqlColumnDef maps logical column types to SQL Server types. Key columns
// need a bounded length to take part in PRIMARY KEY and UNIQUE constraints.
func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("column name is empty")
	}

	var typ string
	switch c.Type {
	case storage.TypeKey:
		typ = "NVARCHAR(255)"
	case storage.TypeText:
		typ = "NVARCHAR(MAX)"
	case storage.TypeInt:
		typ = "BIGINT"
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}

	def := mssqlIdent(c.Name) + " " + typ
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def, nil
}

func buildAddForeignKeySQL(t storage.TableSpec, c storage.ColumnSpec) string {
	name := t.ForeignKeyName(c)
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'F') IS NULL ALTER TABLE %s WITH CHECK ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s);",
		escapeLiteral(name),
		mssqlIdent(t.Name), mssqlIdent(name), mssqlIdent(c.Name),
		mssqlIdent(c.References.Table), mssqlIdent(c.References.Column),
	)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)
	return b.String(), args
}

// buildInsertNotExistsSQL materializes the rows as a derived table v and
// inserts only those that do not match an existing row on dedupeColumns.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(mssqlIdent(c))
	}

	b.WriteString(" FROM (VALUES ")
	args := writeValues(&b, columns, rows)

	b.WriteString(") AS v(")
	b.WriteString(joinIdents(columns))
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" t WHERE ")
	for i, dc := range dedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(dc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(dc))
	}
	b.WriteString(")")

	return b.String(), args
}

// writeValues appends "(@p1, @p2), (...)" and returns the matching args.
func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = mssqlIdent(c)
	}
	return strings.Join(out, ", ")
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// BeginTx begins a transaction and returns a txConn wrapper.
func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sql.Tx)(nil)
)
