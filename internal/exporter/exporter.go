package exporter

import (
	"context"
	"log/slog"
	"path/filepath"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/mart"
)

// WorkbookName is the file holding every table when exporting XLSX
const WorkbookName = "marts.xlsx"

// Exporter writes mart tables to files for the reporting layer
type Exporter struct {
	dir    string
	csv    bool
	xlsx   bool
	writer *CSVWriter
	logger *slog.Logger
}

// New creates an exporter writing into dir. format is csv, xlsx, both or none.
func New(dir, format string, logger *slog.Logger) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Exporter{dir: dir, logger: logger.With(slog.String("component", "exporter"))}
	switch format {
	case "csv":
		e.csv = true
	case "xlsx":
		e.xlsx = true
	case "both":
		e.csv, e.xlsx = true, true
	case "none", "":
	default:
		return nil, apperrors.NewConfigError("unsupported export format "+format, nil)
	}
	e.writer = NewCSVWriter(e.logger)
	return e, nil
}

// Export writes each table as <dir>/<table>.csv and/or all tables into one
// workbook. It returns the paths written.
func (e *Exporter) Export(ctx context.Context, tables []*mart.Table) ([]string, error) {
	var paths []string
	if e.csv {
		for _, t := range tables {
			if err := ctx.Err(); err != nil {
				return paths, err
			}
			path := filepath.Join(e.dir, t.Name+".csv")
			err := e.writer.WriteCSV(path, WriteOptions{
				Headers:   t.ColumnNames(),
				Records:   t.Records(),
				BOMPrefix: true,
			})
			if err != nil {
				return paths, apperrors.NewStorageError("export csv", err).WithContext("path", path)
			}
			paths = append(paths, path)
		}
	}
	if e.xlsx && len(tables) > 0 {
		path := filepath.Join(e.dir, WorkbookName)
		if err := WriteWorkbook(path, tables); err != nil {
			return paths, apperrors.NewStorageError("export xlsx", err).WithContext("path", path)
		}
		paths = append(paths, path)
	}

	if len(paths) > 0 {
		e.logger.InfoContext(ctx, "marts_exported",
			slog.String("dir", e.dir),
			slog.Int("files", len(paths)))
	}
	return paths, nil
}
