// TableSpec lives here so that the domain schema and every backend can share it
// without import cycles.
package storage

import "fmt"

// Logical column types. Backends map them to native types.
const (
	// TypeKey is short unquoted text: identifiers, keys and timestamps.
	TypeKey = "key"
	// TypeText is unbounded free text. Delimited output quotes it.
	TypeText = "text"
	// TypeInt is a 64-bit integer.
	TypeInt = "int"
)

type TableSpec struct {
	Name        string
	Columns     []ColumnSpec
	Constraints []ConstraintSpec

	// Identity lists the columns that identify a row. Rows are inserted with
	// insert-or-ignore semantics on these columns. Empty means append-only.
	Identity []string

	// DataFile overrides the file name used by file-based backends.
	DataFile string
}

type ColumnSpec struct {
	Name       string
	Type       string
	Nullable   bool
	References *ForeignKey
}

type ForeignKey struct {
	Table  string
	Column string
}

type ConstraintSpec struct {
	Kind    string // "primary_key" | "unique"
	Columns []string
}

// ColumnNames returns the column names of t in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// ColumnIndex returns the position of every named column, or an error naming
// the first column that t does not declare.
func (t TableSpec) ColumnIndex(names []string) ([]int, error) {
	pos := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		pos[c.Name] = i
	}
	out := make([]int, 0, len(names))
	for _, n := range names {
		i, ok := pos[n]
		if !ok {
			return nil, fmt.Errorf("table %s: unknown column %q", t.Name, n)
		}
		out = append(out, i)
	}
	return out, nil
}

// ForeignKeyName is the constraint name used when a backend adds the foreign
// key of column c after the load.
func (t TableSpec) ForeignKeyName(c ColumnSpec) string {
	return "fk_" + t.Name + "_" + c.Name
}
