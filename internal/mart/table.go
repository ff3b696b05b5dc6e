package mart

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// ColumnType is the logical type of a column; stores map it to their own types
type ColumnType string

const (
	Text    ColumnType = "text"
	Date    ColumnType = "date"
	Numeric ColumnType = "numeric"
	Float   ColumnType = "float"
	Integer ColumnType = "integer"
	Boolean ColumnType = "boolean"
)

// Column describes one table column
type Column struct {
	Name string
	Type ColumnType
}

// Table is a fully materialized table. Cells hold string, int64, float64, bool,
// decimal.Decimal, time.Time or nil for NULL. Key columns are never NULL.
type Table struct {
	Name    string
	Columns []Column
	Key     []string
	Rows    [][]any

	keyIdx []int
}

// NewTable creates an empty table. Every key must name a column.
func NewTable(name string, columns []Column, key ...string) *Table {
	t := &Table{Name: name, Columns: columns, Key: key}
	for _, k := range key {
		i := t.ColumnIndex(k)
		if i < 0 {
			panic(fmt.Sprintf("mart: key %q is not a column of %s", k, name))
		}
		t.keyIdx = append(t.keyIdx, i)
	}
	return t
}

// ColumnIndex returns the position of a column or -1
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in order
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Append adds a row; it must have one cell per column
func (t *Table) Append(cells ...any) {
	if len(cells) != len(t.Columns) {
		panic(fmt.Sprintf("mart: %s row has %d cells, want %d", t.Name, len(cells), len(t.Columns)))
	}
	t.Rows = append(t.Rows, cells)
}

// Sort orders rows by key columns ascending
func (t *Table) Sort() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.compareKeys(t.Rows[i], t.Rows[j]) < 0
	})
}

// CheckKeys fails when two rows share a key. Rows must be sorted.
func (t *Table) CheckKeys() error {
	for i := 1; i < len(t.Rows); i++ {
		if t.compareKeys(t.Rows[i-1], t.Rows[i]) == 0 {
			return apperrors.NewComputationError("duplicate_key",
				fmt.Sprintf("table %s has duplicate key %s", t.Name, t.KeyString(t.Rows[i]))).
				WithContext("table", t.Name)
		}
	}
	return nil
}

// KeyString renders a row's key for messages
func (t *Table) KeyString(row []any) string {
	parts := make([]string, len(t.keyIdx))
	for i, k := range t.keyIdx {
		parts[i] = FormatCell(row[k])
	}
	return strings.Join(parts, "|")
}

func (t *Table) compareKeys(a, b []any) int {
	for _, k := range t.keyIdx {
		if c := compareCells(a[k], b[k]); c != 0 {
			return c
		}
	}
	return 0
}

// Records renders every row with FormatCell
func (t *Table) Records() [][]string {
	out := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		rec := make([]string, len(row))
		for j, cell := range row {
			rec[j] = FormatCell(cell)
		}
		out[i] = rec
	}
	return out
}

// Args converts a row into database/sql arguments
func Args(row []any) []any {
	out := make([]any, len(row))
	for i, cell := range row {
		switch v := cell.(type) {
		case time.Time:
			out[i] = domain.FormatDate(v)
		case decimal.Decimal:
			out[i] = v.String()
		default:
			out[i] = v
		}
	}
	return out
}

// FormatCell renders a cell the same way on every run. NULL renders empty.
func FormatCell(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case decimal.Decimal:
		return v.String()
	case time.Time:
		return domain.FormatDate(v)
	default:
		return fmt.Sprint(v)
	}
}

// compareCells orders cells of the same column; NULL sorts first
func compareCells(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string))
	case int64:
		return cmpOrdered(x, b.(int64))
	case int:
		return cmpOrdered(x, b.(int))
	case float64:
		return cmpOrdered(x, b.(float64))
	case time.Time:
		return x.Compare(b.(time.Time))
	case decimal.Decimal:
		return x.Cmp(b.(decimal.Decimal))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	}
	return strings.Compare(FormatCell(a), FormatCell(b))
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// nullableDate returns NULL for the zero time
func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
