package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// RawRow is one untyped input record with its origin. Malformed carries the parse
// error of a record the CSV reader could not split; its Fields may be partial.
type RawRow struct {
	Source    string
	Line      int
	Fields    map[string]string
	Malformed string
}

// Get returns the normalized value of a column, or "" when absent
func (r RawRow) Get(column string) string {
	return r.Fields[column]
}

// Batches holds raw rows per entity kind in input order
type Batches struct {
	Rows    map[domain.EntityKind][]RawRow
	Sources []string
}

// NewBatches returns empty batches
func NewBatches() *Batches {
	return &Batches{Rows: make(map[domain.EntityKind][]RawRow, len(domain.EntityKinds))}
}

// Add appends rows of a kind
func (b *Batches) Add(kind domain.EntityKind, rows ...RawRow) {
	b.Rows[kind] = append(b.Rows[kind], rows...)
}

// Count returns the number of rows read for a kind
func (b *Batches) Count(kind domain.EntityKind) int {
	return len(b.Rows[kind])
}

// columns whose values keep their case; everything else is lowercased
var preserveCase = map[string]bool{
	"name":   true,
	"sector": true,
}

// Loader reads source batches from CSV files, directories of CSV files and XLSX workbooks
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger.With(slog.String("component", "ingest"))}
}

// Load reads every location in order and concatenates their rows per kind.
// A location may be a directory holding <kind>.csv files and workbooks, a single
// <kind>.csv file, or an .xlsx workbook with one sheet per kind. Any unreadable
// location aborts the run.
func (l *Loader) Load(ctx context.Context, locations []string) (*Batches, error) {
	if len(locations) == 0 {
		return nil, apperrors.NewFatalIngestionError("no source locations given", nil)
	}

	batches := NewBatches()
	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(loc)
		if err != nil {
			return nil, apperrors.NewFatalIngestionError("unreadable source location", err).WithContext("location", loc)
		}

		if info.IsDir() {
			err = l.loadDir(ctx, loc, batches)
		} else {
			err = l.loadFile(ctx, loc, batches)
		}
		if err != nil {
			return nil, err
		}
		batches.Sources = append(batches.Sources, loc)
	}

	for _, kind := range domain.EntityKinds {
		l.logger.InfoContext(ctx, "batch_loaded",
			slog.String("kind", string(kind)),
			slog.Int("rows", batches.Count(kind)))
	}
	return batches, nil
}

func (l *Loader) loadDir(ctx context.Context, dir string, batches *Batches) error {
	for _, kind := range domain.EntityKinds {
		path := filepath.Join(dir, string(kind)+".csv")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := l.loadCSV(ctx, path, kind, batches); err != nil {
			return err
		}
	}

	workbooks, err := filepath.Glob(filepath.Join(dir, "*.xlsx"))
	if err != nil {
		return apperrors.NewFatalIngestionError("scan source directory", err).WithContext("location", dir)
	}
	sort.Strings(workbooks)
	for _, wb := range workbooks {
		if strings.HasPrefix(filepath.Base(wb), "~$") {
			continue
		}
		if err := l.loadWorkbook(ctx, wb, batches); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) loadFile(ctx context.Context, path string, batches *Batches) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return l.loadWorkbook(ctx, path, batches)
	case ".csv":
		kind, ok := KindFromName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		if !ok {
			return apperrors.NewFatalIngestionError("csv file name does not name an entity kind", nil).WithContext("location", path)
		}
		return l.loadCSV(ctx, path, kind, batches)
	default:
		return apperrors.NewFatalIngestionError("unsupported source file type", nil).WithContext("location", path)
	}
}

func (l *Loader) loadCSV(ctx context.Context, path string, kind domain.EntityKind, batches *Batches) error {
	file, err := os.Open(path)
	if err != nil {
		return apperrors.NewFatalIngestionError("open csv", err).WithContext("location", path)
	}
	defer file.Close()

	rows, err := ReadCSV(file, path)
	if err != nil {
		return apperrors.NewFatalIngestionError("read csv", err).WithContext("location", path)
	}
	batches.Add(kind, rows...)
	l.logger.DebugContext(ctx, "csv_read",
		slog.String("file", path),
		slog.String("kind", string(kind)),
		slog.Int("rows", len(rows)))
	return nil
}

// ReadCSV parses CSV content with a header row into raw rows. Lines are 1-based and
// count the header, so the first data record is line 2. A record that fails to parse
// is returned flagged as Malformed; only an unreadable header or an I/O failure is an error.
func ReadCSV(r io.Reader, source string) ([]RawRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := NormalizeHeader(header)

	var rows []RawRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			// keep the record so it is quarantined, then resume at the next one
			row, _ := buildRow(columns, record, source, perr.StartLine)
			row.Source, row.Line = source, perr.StartLine
			row.Malformed = perr.Err.Error()
			rows = append(rows, row)
			continue
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		if row, ok := buildRow(columns, record, source, line); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// buildRow maps a record onto normalized columns; blank records are skipped
func buildRow(columns, record []string, source string, line int) (RawRow, bool) {
	fields := make(map[string]string, len(columns))
	blank := true
	for i, col := range columns {
		if col == "" || i >= len(record) {
			continue
		}
		v := NormalizeValue(col, record[i])
		if v != "" {
			blank = false
		}
		fields[col] = v
	}
	if blank {
		return RawRow{}, false
	}
	return RawRow{Source: source, Line: line, Fields: fields}, true
}

// NormalizeHeader lowercases header names and joins words with underscores
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.Join(strings.FieldsFunc(h, func(r rune) bool {
			return r == ' ' || r == '-' || r == '_' || r == '\t'
		}), "_")
		out[i] = h
	}
	return out
}

// NormalizeValue trims a value and lowercases it unless the column keeps its case
func NormalizeValue(column, value string) string {
	value = strings.TrimSpace(value)
	if preserveCase[column] {
		return value
	}
	return strings.ToLower(value)
}

// KindFromName resolves a file or sheet name to an entity kind
func KindFromName(name string) (domain.EntityKind, bool) {
	n := NormalizeHeader([]string{name})[0]
	for _, kind := range domain.EntityKinds {
		if n == string(kind) {
			return kind, true
		}
	}
	return "", false
}
