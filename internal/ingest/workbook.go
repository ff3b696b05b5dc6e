package ingest

import (
	"context"
	"log/slog"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
)

// loadWorkbook reads every sheet whose name is an entity kind. Other sheets are ignored.
func (l *Loader) loadWorkbook(ctx context.Context, path string, batches *Batches) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return apperrors.NewFatalIngestionError("open workbook", err).WithContext("location", path)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		kind, ok := KindFromName(sheet)
		if !ok {
			l.logger.DebugContext(ctx, "sheet_skipped", slog.String("file", path), slog.String("sheet", sheet))
			continue
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return apperrors.NewFatalIngestionError("read sheet", err).
				WithContext("location", path).
				WithContext("sheet", sheet)
		}
		if len(rows) == 0 {
			continue
		}

		source := path + "#" + sheet
		columns := NormalizeHeader(rows[0])
		read := 0
		for i, record := range rows[1:] {
			// sheet rows are 1-based and the header occupies row 1
			if row, ok := buildRow(columns, record, source, i+2); ok {
				batches.Add(kind, row)
				read++
			}
		}
		l.logger.DebugContext(ctx, "sheet_read",
			slog.String("file", path),
			slog.String("sheet", sheet),
			slog.Int("rows", read))
	}
	return nil
}
