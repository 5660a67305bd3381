// Package flatfile writes one pipe-delimited .dat file per table, in the
// layout expected by bulk loaders such as sqlite3 ".import".
package flatfile

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"auctionetl/internal/normalize"
	"auctionetl/internal/storage"
)

const columnSeparator = "|"

// Repo implements storage.Repository on top of delimited files.
//
// Rows of a document are buffered in the Tx and appended to the files on
// Commit, so a rolled back document leaves no trace. Identities and the
// values of referenced and referencing columns are tracked in memory for the
// whole run: that is how duplicates are ignored and how Finalize checks
// references without parsing the files back.
type Repo struct {
	dir    string
	tables map[string]*table
	order  []string
}

type table struct {
	spec    storage.TableSpec
	path    string
	colPos  map[string]int
	seen    map[string]struct{}
	keyVals map[string]map[string]struct{} // referenced column -> values written
	refs    map[string]*refValues           // referencing column -> values written
	written int
}

// refValues holds the distinct values of a referencing column in the order
// they were first written, with the 1-based row that first carried them.
type refValues struct {
	order []string
	first map[string]int
}

func (rv *refValues) add(v string, row int) {
	if _, ok := rv.first[v]; ok {
		return
	}
	rv.first[v] = row
	rv.order = append(rv.order, v)
}

func init() {
	storage.Register("flatfile", New)
}

// New uses cfg.OutDir as the output directory, falling back to cfg.DSN.
func New(_ context.Context, cfg storage.Config) (storage.Repository, error) {
	dir := cfg.OutDir
	if strings.TrimSpace(dir) == "" {
		dir = cfg.DSN
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("flatfile: output directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("flatfile: %w", err)
	}
	return &Repo{dir: dir, tables: map[string]*table{}}, nil
}

func (r *Repo) Close() {}

// EnsureTables truncates (or creates) the file of every table.
func (r *Repo) EnsureTables(_ context.Context, tables []storage.TableSpec) error {
	referenced := map[string][]string{}
	for _, t := range tables {
		for _, c := range t.Columns {
			if c.References != nil {
				referenced[c.References.Table] = append(referenced[c.References.Table], c.References.Column)
			}
		}
	}

	for _, t := range tables {
		name := t.DataFile
		if name == "" {
			name = t.Name + ".dat"
		}
		path := filepath.Join(r.dir, name)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("flatfile: create %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}

		tb := &table{
			spec:    t,
			path:    path,
			colPos:  make(map[string]int, len(t.Columns)),
			seen:    map[string]struct{}{},
			keyVals: map[string]map[string]struct{}{},
			refs:    map[string]*refValues{},
		}
		for i, c := range t.Columns {
			tb.colPos[c.Name] = i
			if c.References != nil {
				tb.refs[c.Name] = &refValues{first: map[string]int{}}
			}
		}
		for _, col := range referenced[t.Name] {
			tb.keyVals[col] = map[string]struct{}{}
		}
		if _, exists := r.tables[t.Name]; !exists {
			r.order = append(r.order, t.Name)
		}
		r.tables[t.Name] = tb
	}
	return nil
}

func (r *Repo) Begin(context.Context) (storage.Tx, error) {
	return &repoTx{repo: r, pending: map[string][][]any{}, pendingKeys: map[string]map[string]struct{}{}}, nil
}

// Finalize rewrites the reference time file and verifies that every
// referencing value written during the run has a matching parent row.
func (r *Repo) Finalize(_ context.Context, spec storage.FinalizeSpec) error {
	nt, ok := r.tables[spec.NowTable]
	if !ok {
		return fmt.Errorf("flatfile: %w: %s", storage.ErrUnknownTable, spec.NowTable)
	}
	line := formatRow(nt.spec, []string{spec.NowColumn}, []any{spec.Now})
	if err := os.WriteFile(nt.path, []byte(line+"\n"), 0o644); err != nil {
		return fmt.Errorf("flatfile: write %s: %w", nt.path, err)
	}

	for _, t := range spec.Tables {
		for _, c := range t.Columns {
			if c.References == nil {
				continue
			}
			if err := r.checkReferences(t, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repo) checkReferences(t storage.TableSpec, c storage.ColumnSpec) error {
	child, ok := r.tables[t.Name]
	if !ok {
		return fmt.Errorf("flatfile: %w: %s", storage.ErrUnknownTable, t.Name)
	}
	parent, ok := r.tables[c.References.Table]
	if !ok {
		return fmt.Errorf("flatfile: %w: %s", storage.ErrUnknownTable, c.References.Table)
	}
	known := parent.keyVals[c.References.Column]
	rv := child.refs[c.Name]
	if rv == nil {
		return nil
	}

	for _, v := range rv.order {
		if _, ok := known[v]; !ok {
			return fmt.Errorf("%w: %s row %d: %s=%q has no %s.%s",
				storage.ErrForeignKeyViolation, filepath.Base(child.path), rv.first[v], c.Name, v, c.References.Table, c.References.Column)
		}
	}
	return nil
}

type repoTx struct {
	repo        *Repo
	pending     map[string][][]any
	pendingKeys map[string]map[string]struct{}
	order       []string
	done        bool
}

// InsertRows reorders rows into the table's column order and buffers them.
// Rows whose conflictColumns identity was already written, or is already
// pending in this Tx, are skipped.
func (t *repoTx) InsertRows(_ context.Context, tableName string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if t.done {
		return 0, fmt.Errorf("flatfile: transaction already finished")
	}
	tb, ok := t.repo.tables[tableName]
	if !ok {
		return 0, fmt.Errorf("flatfile: %w: %s", storage.ErrUnknownTable, tableName)
	}

	pos := make([]int, len(columns))
	for i, c := range columns {
		p, ok := tb.colPos[c]
		if !ok {
			return 0, fmt.Errorf("flatfile: table %s: unknown column %q", tableName, c)
		}
		pos[i] = p
	}
	var keyIdx []int
	if len(conflictColumns) > 0 {
		var err error
		if keyIdx, err = tb.spec.ColumnIndex(conflictColumns); err != nil {
			return 0, fmt.Errorf("flatfile: %w", err)
		}
	}

	if _, ok := t.pending[tableName]; !ok {
		t.order = append(t.order, tableName)
		t.pendingKeys[tableName] = map[string]struct{}{}
	}

	var n int64
	for _, row := range rows {
		full := make([]any, len(tb.spec.Columns))
		for i, p := range pos {
			full[p] = row[i]
		}
		if keyIdx != nil {
			k := storage.IdentityKey(full, keyIdx)
			if _, dup := tb.seen[k]; dup {
				continue
			}
			if _, dup := t.pendingKeys[tableName][k]; dup {
				continue
			}
			t.pendingKeys[tableName][k] = struct{}{}
		}
		t.pending[tableName] = append(t.pending[tableName], full)
		n++
	}
	return n, nil
}

// Commit appends buffered rows to their files and publishes the identities.
func (t *repoTx) Commit(context.Context) error {
	if t.done {
		return fmt.Errorf("flatfile: transaction already finished")
	}
	t.done = true

	for _, name := range t.order {
		tb := t.repo.tables[name]
		if err := appendRows(tb, t.pending[name]); err != nil {
			return err
		}
		for k := range t.pendingKeys[name] {
			tb.seen[k] = struct{}{}
		}
		for col, vals := range tb.keyVals {
			p := tb.colPos[col]
			for _, row := range t.pending[name] {
				if row[p] != nil {
					vals[storage.Text(row[p])] = struct{}{}
				}
			}
		}
		for col, rv := range tb.refs {
			p := tb.colPos[col]
			for i, row := range t.pending[name] {
				if v := storage.Text(row[p]); row[p] != nil && v != "" {
					rv.add(v, tb.written+i+1)
				}
			}
		}
		tb.written += len(t.pending[name])
	}
	return nil
}

func (t *repoTx) Rollback(context.Context) error {
	t.done = true
	t.pending = nil
	t.pendingKeys = nil
	return nil
}

func appendRows(tb *table, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	f, err := os.OpenFile(tb.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("flatfile: open %s: %w", tb.path, err)
	}
	w := bufio.NewWriter(f)
	names := tb.spec.ColumnNames()
	for _, row := range rows {
		if _, err := w.WriteString(formatRow(tb.spec, names, row) + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("flatfile: write %s: %w", tb.path, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flatfile: write %s: %w", tb.path, err)
	}
	return f.Close()
}

// formatRow renders one line. nil is written as an empty field and text
// columns are quoted so embedded separators survive.
func formatRow(spec storage.TableSpec, columns []string, row []any) string {
	types := make(map[string]string, len(spec.Columns))
	for _, c := range spec.Columns {
		types[c.Name] = c.Type
	}

	fields := make([]string, len(columns))
	for i, c := range columns {
		v := row[i]
		if v == nil {
			continue
		}
		s := storage.Text(v)
		if types[c] == storage.TypeText {
			s = *normalize.EscapeQuote(&s)
		}
		fields[i] = s
	}
	return strings.Join(fields, columnSeparator)
}
