package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"auctionetl/internal/storage"
)

// SQLite caps host parameters per statement; stay well below the default of 32766.
const maxParams = 30000

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - Foreign keys are declared inline in CREATE TABLE. SQLite only enforces
//     them once PRAGMA foreign_keys=ON, which Finalize issues after the load.
//   - The pragma is per-connection, so the pool is pinned to one connection.
//   - Duplicate identities are skipped with INSERT OR IGNORE, which relies on
//     the PRIMARY KEY/UNIQUE constraints created by EnsureTables.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: dsn is empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates every table with CREATE TABLE IF NOT EXISTS.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
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

// Finalize writes the reference time, enables foreign keys and verifies that
// the loaded rows satisfy them.
func (r *Repo) Finalize(ctx context.Context, spec storage.FinalizeSpec) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+sqlIdent(spec.NowTable)); err != nil {
		return fmt.Errorf("clear %s: %w", spec.NowTable, err)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?)", sqlIdent(spec.NowTable), sqlIdent(spec.NowColumn))
	if _, err := tx.ExecContext(ctx, q, spec.Now); err != nil {
		return fmt.Errorf("insert %s: %w", spec.NowTable, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// PRAGMA foreign_keys is a no-op inside a transaction.
	if _, err := r.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	return r.checkForeignKeys(ctx)
}

// checkForeignKeys reports rows that violate a declared foreign key.
func (r *Repo) checkForeignKeys(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	defer rows.Close()

	violations := map[string]int{}
	total := 0
	for rows.Next() {
		var table, parent string
		var rowid sql.NullInt64
		var fkid int64
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return err
		}
		violations[table+"->"+parent]++
		total++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if total > 0 {
		return fmt.Errorf("%w: %d rows %v", storage.ErrForeignKeyViolation, total, violations)
	}
	return nil
}

type repoTx struct {
	tx   *sql.Tx
	done bool
}

// InsertRows performs multi-row inserts, chunked under the parameter limit.
//
// If conflictColumns is non-empty, uses "INSERT OR IGNORE", which requires a
// PRIMARY KEY or UNIQUE constraint matching those columns.
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
		q, args := buildInsertSQL(table, columns, rows[start:end], len(conflictColumns) > 0)
		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return affected, fmt.Errorf("insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}
	return affected, nil
}

func (t *repoTx) Commit(context.Context) error {
	t.done = true
	return t.tx.Commit()
}

func (t *repoTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func buildInsertSQL(table string, columns []string, rows [][]any, ignore bool) (string, []any) {
	var b strings.Builder
	if ignore {
		b.WriteString("INSERT OR IGNORE INTO ")
	} else {
		b.WriteString("INSERT INTO ")
	}
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

func columnType(typ string) (string, error) {
	switch typ {
	case storage.TypeKey, storage.TypeText:
		return "TEXT", nil
	case storage.TypeInt:
		return "INTEGER", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", typ)
	}
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	for _, c := range t.Columns {
		typ, err := columnType(c.Type)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), typ)
		if !c.Nullable {
			col += " NOT NULL"
		}
		// Enforcement depends on PRAGMA foreign_keys=ON.
		if c.References != nil {
			col += fmt.Sprintf(" REFERENCES %s(%s)", sqlIdent(c.References.Table), sqlIdent(c.References.Column))
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		var kw string
		switch con.Kind {
		case "primary_key":
			kw = "PRIMARY KEY"
		case "unique":
			kw = "UNIQUE"
		default:
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", kw, joinIdentList(con.Columns)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}
