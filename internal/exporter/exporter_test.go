package exporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/mart"
)

func sampleTables() []*mart.Table {
	val := mart.NewTable("valuation_by_portfolio_date", []mart.Column{
		{Name: "portfolio_id", Type: mart.Text},
		{Name: "date", Type: mart.Date},
		{Name: "value", Type: mart.Numeric},
		{Name: "stale", Type: mart.Boolean},
	}, "portfolio_id", "date")
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	val.Append("p1", day, decimal.RequireFromString("1250.5"), false)
	val.Append("p2", day, nil, true)

	q := mart.NewTable("quarantine", []mart.Column{
		{Name: "kind", Type: mart.Text},
		{Name: "line", Type: mart.Integer},
		{Name: "reason", Type: mart.Text},
	}, "kind", "line")
	q.Append("transactions", 4, `bad "quantity", negative`)
	return []*mart.Table{val, q}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, len(content) >= 3)
	assert.Equal(t, []byte{0xEF, 0xBB, 0xBF}, content[:3])

	records, err := csv.NewReader(bytes.NewReader(content[3:])).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSVWriter_WriteCSV(t *testing.T) {
	dir := t.TempDir()
	writer := NewCSVWriter(nil)

	path := filepath.Join(dir, "nested", "basic.csv")
	err := writer.WriteCSV(path, WriteOptions{
		Headers: []string{"Name", "Notes"},
		Records: [][]string{
			{"Company, Inc", "with \"quotes\""},
			{"Plain", "line\nbreak"},
		},
	})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, []string{"Name", "Notes"}, records[0])
	assert.Equal(t, "Company, Inc", records[1][0])
	assert.Equal(t, "with \"quotes\"", records[1][1])
	assert.Equal(t, "line\nbreak", records[2][1])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestCSVWriter_OverwriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	writer := NewCSVWriter(nil)
	path := filepath.Join(dir, "out.csv")

	require.NoError(t, writer.WriteCSV(path, WriteOptions{Headers: []string{"a"}, Records: [][]string{{"1"}, {"2"}}}))
	require.NoError(t, writer.WriteCSV(path, WriteOptions{Headers: []string{"a"}, Records: [][]string{{"3"}}}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\n3\n", string(content))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteAtomic_FailureKeepsOldFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keep.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	err := writeAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(content))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"csv", "xlsx", "both", "none", ""} {
		_, err := New(t.TempDir(), format, nil)
		assert.NoError(t, err, format)
	}

	_, err := New(t.TempDir(), "parquet", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTypeConfig, apperrors.KindOf(err))
}

func TestExporter_ExportCSV(t *testing.T) {
	dir := t.TempDir()
	exp, err := New(dir, "csv", nil)
	require.NoError(t, err)

	paths, err := exp.Export(context.Background(), sampleTables())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "valuation_by_portfolio_date.csv"),
		filepath.Join(dir, "quarantine.csv"),
	}, paths)

	records := readCSV(t, paths[0])
	assert.Equal(t, [][]string{
		{"portfolio_id", "date", "value", "stale"},
		{"p1", "2024-03-01", "1250.5", "false"},
		{"p2", "2024-03-01", "", "true"},
	}, records)

	records = readCSV(t, paths[1])
	assert.Equal(t, []string{"transactions", "4", `bad "quantity", negative`}, records[1])
}

func TestExporter_RerunIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	exp, err := New(dir, "csv", nil)
	require.NoError(t, err)

	paths, err := exp.Export(context.Background(), sampleTables())
	require.NoError(t, err)
	first, err := os.ReadFile(paths[0])
	require.NoError(t, err)

	_, err = exp.Export(context.Background(), sampleTables())
	require.NoError(t, err)
	second, err := os.ReadFile(paths[0])
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestExporter_ExportWorkbook(t *testing.T) {
	dir := t.TempDir()
	exp, err := New(dir, "xlsx", nil)
	require.NoError(t, err)

	paths, err := exp.Export(context.Background(), sampleTables())
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, WorkbookName)}, paths)

	f, err := excelize.OpenFile(paths[0])
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"valuation_by_portfolio_date", "quarantine"}, f.GetSheetList())

	rows, err := f.GetRows("valuation_by_portfolio_date")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"portfolio_id", "date", "value", "stale"}, rows[0])
	assert.Equal(t, "p1", rows[1][0])
	assert.Equal(t, "2024-03-01", rows[1][1])
	assert.Equal(t, "1250.5", rows[1][2])

	rows, err = f.GetRows("quarantine")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "transactions", rows[1][0])
}

func TestExporter_Both(t *testing.T) {
	dir := t.TempDir()
	exp, err := New(dir, "both", nil)
	require.NoError(t, err)

	paths, err := exp.Export(context.Background(), sampleTables())
	require.NoError(t, err)
	assert.Len(t, paths, 3)
	for _, p := range paths {
		assert.FileExists(t, p)
	}
}

func TestExporter_NoneWritesNothing(t *testing.T) {
	dir := t.TempDir()
	exp, err := New(dir, "none", nil)
	require.NoError(t, err)

	paths, err := exp.Export(context.Background(), sampleTables())
	require.NoError(t, err)
	assert.Empty(t, paths)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExporter_CancelledContext(t *testing.T) {
	exp, err := New(t.TempDir(), "csv", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = exp.Export(ctx, sampleTables())
	assert.ErrorIs(t, err, context.Canceled)
}
