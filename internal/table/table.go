// Package table provides the in-memory tabular buffer shared by every
// file codec and database gateway.
//
// A Table is an ordered list of named, typed columns plus an ordered list of
// rows. Every row holds exactly one value per column, aligned by index. Column
// order is significant: it decides the header order of generated files and the
// positional mapping when a file is loaded back into a database table.
//
// Tables are value-like containers. They are built fresh for every read,
// handed to the matching writer and then discarded.
package table

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// TextType is the declared type of columns read from files.
// File formats carry no native typing, so every value read from disk is text.
const TextType = "text"

// ErrRowWidth is returned when a row does not have one value per column.
var ErrRowWidth = errors.New("row width does not match column count")

// Column describes one column of a Table.
type Column struct {
	Name string // Column name as declared by the source
	Type string // Declared database type name, or TextType for file data
}

// Table is an ordered set of columns and rows.
type Table struct {
	columns []Column
	rows    [][]any
}

// New creates an empty table with the given columns.
// Returns an error if a column name is empty or appears twice.
func New(columns ...Column) (*Table, error) {
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i+1)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate column name %q", c.Name)
		}
		seen[c.Name] = true
	}

	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &Table{columns: cols}, nil
}

// NewText creates an empty table whose columns are all of TextType.
func NewText(names ...string) (*Table, error) {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Type: TextType}
	}
	return New(cols...)
}

// Columns returns the columns in order.
func (t *Table) Columns() []Column {
	return t.columns
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column, matched
// case-insensitively, or -1 if absent.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Rows returns the rows in order. Callers must not modify the result.
func (t *Table) Rows() [][]any {
	return t.rows
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// IsEmpty reports whether the table has no rows.
// A table with columns but no rows is empty.
func (t *Table) IsEmpty() bool {
	return t == nil || len(t.rows) == 0
}

// AppendRow adds a row. The row must have exactly one value per column.
func (t *Table) AppendRow(values ...any) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("%w: got %d values, want %d", ErrRowWidth, len(values), len(t.columns))
	}
	row := make([]any, len(values))
	copy(row, values)
	t.rows = append(t.rows, row)
	return nil
}

// Equal reports whether two tables have the same columns and rows.
func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	return reflect.DeepEqual(t.columns, other.columns) && reflect.DeepEqual(t.rows, other.rows)
}

// Batches splits the rows into consecutive slices of at most size rows.
// The slices share storage with the table.
func (t *Table) Batches(size int) [][][]any {
	if size <= 0 {
		size = len(t.rows)
	}
	var out [][][]any
	for start := 0; start < len(t.rows); start += size {
		end := start + size
		if end > len(t.rows) {
			end = len(t.rows)
		}
		out = append(out, t.rows[start:end])
	}
	return out
}
