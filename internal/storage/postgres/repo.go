package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"auctionetl/internal/storage"
)

// Postgres allows 65535 bind parameters per statement.
const maxParams = 60000

/*
Repo implements storage.Repository for Postgres.

It provides:
  - Idempotent inserts via INSERT ... ON CONFLICT (...) DO NOTHING
  - One pgx transaction per document
  - Foreign keys added with ALTER TABLE only after the whole batch has loaded,
    so documents may reference users that a later document introduces.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	// registers the backend factory
	storage.Register("postgres", New)
}

// New creates a new Postgres-backed Repo and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates every table without its foreign keys.
//
// This method is idempotent.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &repoTx{tx: tx}, nil
}

// Finalize replaces the reference time and adds every declared foreign key
// that does not exist yet. Adding a constraint validates existing rows, so a
// dangling reference fails here.
func (r *Repo) Finalize(ctx context.Context, spec storage.FinalizeSpec) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM "+pgIdent(spec.NowTable)); err != nil {
		return fmt.Errorf("clear %s: %w", spec.NowTable, err)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1)", pgIdent(spec.NowTable), pgIdent(spec.NowColumn))
	if _, err := tx.Exec(ctx, q, spec.Now); err != nil {
		return fmt.Errorf("insert %s: %w", spec.NowTable, err)
	}

	for _, t := range spec.Tables {
		for _, c := range t.Columns {
			if c.References == nil {
				continue
			}
			name := t.ForeignKeyName(c)
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = $1)`, name).Scan(&exists); err != nil {
				return fmt.Errorf("lookup constraint %s: %w", name, err)
			}
			if exists {
				continue
			}
			if _, err := tx.Exec(ctx, buildAddForeignKeySQL(t, c)); err != nil {
				return fmt.Errorf("%w: %s: %v", storage.ErrForeignKeyViolation, name, err)
			}
		}
	}

	return tx.Commit(ctx)
}

type repoTx struct {
	tx pgx.Tx
}

// InsertRows performs chunked multi-row INSERTs.
//
// If conflictColumns is non-empty, the INSERT is made idempotent using:
//
//	ON CONFLICT (<conflictColumns...>) DO NOTHING
//
// Postgres also collapses duplicates inside one statement this way.
func (t *repoTx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert %s: columns empty", table)
	}

	per := maxParams / len(columns)
	var affected int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		sql, args := buildInsertSQL(table, columns, rows[start:end], conflictColumns)
		cmd, err := t.tx.Exec(ctx, sql, args...)
		if err != nil {
			return affected, fmt.Errorf("insert %s: %w", table, err)
		}
		affected += cmd.RowsAffected()
	}
	return affected, nil
}

func (t *repoTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *repoTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// buildInsertSQL constructs a single INSERT statement and its args for Postgres.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdents(conflictColumns))
		b.WriteString(") DO NOTHING")
	}

	b.WriteString(";")
	return b.String(), args
}

func buildAddForeignKeySQL(t storage.TableSpec, c storage.ColumnSpec) string {
	return fmt.Sprintf(
		"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s);",
		pgIdent(t.Name), pgIdent(t.ForeignKeyName(c)), pgIdent(c.Name),
		pgIdent(c.References.Table), pgIdent(c.References.Column),
	)
}

// buildCreateSQL renders CREATE TABLE IF NOT EXISTS with column types,
// nullability and PRIMARY KEY/UNIQUE constraints. REFERENCES clauses are
// intentionally left out; see Finalize.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("table %s: no columns", t.Name)
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	for _, con := range t.Constraints {
		if len(con.Columns) == 0 {
			return "", fmt.Errorf("table %s: %s constraint requires columns", t.Name, con.Kind)
		}
		switch strings.ToLower(strings.TrimSpace(con.Kind)) {
		case "primary_key":
			defs = append(defs, "PRIMARY KEY ("+joinIdents(con.Columns)+")")
		case "unique":
			defs = append(defs, "UNIQUE ("+joinIdents(con.Columns)+")")
		default:
			return "", fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, con.Kind)
		}
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", pgIdent(t.Name), strings.Join(defs, ", ")), nil
}

// buildColumnDef renders a single column definition.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}

	var typ string
	switch c.Type {
	case storage.TypeKey, storage.TypeText:
		typ = "TEXT"
	case storage.TypeInt:
		typ = "BIGINT"
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", name, c.Type)
	}

	def := pgIdent(name) + " " + typ
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def, nil
}

// pgIdent double-quotes an identifier so reserved words like "user" work.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}
