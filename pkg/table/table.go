// Package table provides the column-ordered tabular value shared by the
// mapping engine, the materializer and the file codecs.
//
// A Table's column set can grow: appending a row that names an unknown
// column adds it and pads every existing row with null. Cells hold nil,
// string, int64, float64, bool or time.Time.
package table

import (
	"fmt"
	"sort"
	"time"
)

// Table is an ordered set of named columns and rows.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any

	index map[string]int
}

// New creates an empty table with the given columns.
func New(name string, columns ...string) *Table {
	t := &Table{Name: name, index: make(map[string]int)}
	for _, c := range columns {
		t.AddColumn(c)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// AddColumn adds a column if absent and returns its index. Existing rows are
// padded with null.
func (t *Table) AddColumn(name string) int {
	if t.index == nil {
		t.reindex()
	}
	if i, ok := t.index[name]; ok {
		return i
	}
	t.Columns = append(t.Columns, name)
	i := len(t.Columns) - 1
	t.index[name] = i
	for r := range t.Rows {
		t.Rows[r] = append(t.Rows[r], nil)
	}
	return i
}

// ColumnIndex returns the index of a column, or -1.
func (t *Table) ColumnIndex(name string) int {
	if t.index == nil {
		t.reindex()
	}
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// Append adds a row given as column -> value. Unknown columns are added;
// columns absent from the map are null.
func (t *Table) Append(row map[string]any) {
	for _, k := range sortedKeys(row) {
		t.AddColumn(k)
	}
	values := make([]any, len(t.Columns))
	for k, v := range row {
		values[t.index[k]] = v
	}
	t.Rows = append(t.Rows, values)
}

// AppendOrdered adds a row given as parallel column and value slices,
// adding unknown columns in the order given.
func (t *Table) AppendOrdered(columns []string, values []any) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.AddColumn(c)
	}
	row := make([]any, len(t.Columns))
	for i, v := range values {
		row[idx[i]] = v
	}
	t.Rows = append(t.Rows, row)
}

// AppendRow adds a row aligned with Columns. Short rows are padded.
func (t *Table) AppendRow(values []any) error {
	if len(values) > len(t.Columns) {
		return fmt.Errorf("row has %d values, table %q has %d columns", len(values), t.Name, len(t.Columns))
	}
	row := make([]any, len(t.Columns))
	copy(row, values)
	t.Rows = append(t.Rows, row)
	return nil
}

// Get returns the cell at row i in the named column, or nil.
func (t *Table) Get(i int, column string) any {
	c := t.ColumnIndex(column)
	if c < 0 || i < 0 || i >= len(t.Rows) {
		return nil
	}
	return t.Rows[i][c]
}

// String returns the cell as a string and whether it was a non-null string.
func (t *Table) String(i int, column string) (string, bool) {
	s, ok := t.Get(i, column).(string)
	return s, ok
}

// Column returns every value of the named column, or nil if absent.
func (t *Table) Column(name string) []any {
	c := t.ColumnIndex(name)
	if c < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[c]
	}
	return out
}

// Record returns row i as a map, omitting null cells.
func (t *Table) Record(i int) map[string]any {
	m := make(map[string]any, len(t.Columns))
	for c, name := range t.Columns {
		if v := t.Rows[i][c]; v != nil {
			m[name] = v
		}
	}
	return m
}

// Project returns a new table with only the given columns, in that order.
// Unknown columns are an error.
func (t *Table) Project(columns []string) (*Table, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.ColumnIndex(c)
		if idx[i] < 0 {
			return nil, fmt.Errorf("table %q has no column %q", t.Name, c)
		}
	}
	out := New(t.Name, columns...)
	out.Rows = make([][]any, len(t.Rows))
	for r, row := range t.Rows {
		vals := make([]any, len(columns))
		for i, c := range idx {
			vals[i] = row[c]
		}
		out.Rows[r] = vals
	}
	return out, nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := New(t.Name, t.Columns...)
	out.Rows = make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// Distinct returns the distinct non-null values of a column in first-seen
// order.
func (t *Table) Distinct(column string) []any {
	var out []any
	seen := make(map[any]struct{})
	for _, v := range t.Column(column) {
		if v == nil {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.index[c] = i
	}
}

// ColumnType classifies the values stored in a column.
type ColumnType string

const (
	TypeNull      ColumnType = "null"
	TypeString    ColumnType = "string"
	TypeInt       ColumnType = "int"
	TypeFloat     ColumnType = "float"
	TypeBool      ColumnType = "bool"
	TypeTimestamp ColumnType = "timestamp"
	TypeMixed     ColumnType = "mixed"
)

// TypeOf returns the column type of a single cell value.
func TypeOf(v any) ColumnType {
	switch v.(type) {
	case nil:
		return TypeNull
	case string:
		return TypeString
	case int64:
		return TypeInt
	case float64:
		return TypeFloat
	case bool:
		return TypeBool
	case time.Time:
		return TypeTimestamp
	default:
		return TypeMixed
	}
}

// ColumnTypes infers a type per column: the common type of its non-null
// cells, TypeNull when all are null, TypeMixed otherwise.
func (t *Table) ColumnTypes() []ColumnType {
	types := make([]ColumnType, len(t.Columns))
	for c := range t.Columns {
		types[c] = TypeNull
	}
	for _, row := range t.Rows {
		for c, v := range row {
			vt := TypeOf(v)
			switch {
			case vt == TypeNull:
			case types[c] == TypeNull:
				types[c] = vt
			case types[c] != vt:
				types[c] = TypeMixed
			}
		}
	}
	return types
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
