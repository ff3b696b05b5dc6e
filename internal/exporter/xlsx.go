package exporter

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/RyanSy/PortfolioAnalysis/internal/mart"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// WriteWorkbook writes every table to its own sheet of one workbook, atomically.
// Sheet names are table names, which fit Excel's 31 character limit.
func WriteWorkbook(path string, tables []*mart.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", t.Name); err != nil {
				return fmt.Errorf("failed to name sheet %s: %w", t.Name, err)
			}
		} else if _, err := f.NewSheet(t.Name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", t.Name, err)
		}
		if err := writeSheet(f, t); err != nil {
			return fmt.Errorf("sheet %s: %w", t.Name, err)
		}
	}

	return writeAtomic(path, func(w io.Writer) error {
		return f.Write(w)
	})
}

func writeSheet(f *excelize.File, t *mart.Table) error {
	sw, err := f.NewStreamWriter(t.Name)
	if err != nil {
		return err
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for r, row := range t.Rows {
		cells := make([]interface{}, len(row))
		for i, cell := range row {
			cells[i] = sheetValue(cell)
		}
		name, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(name, cells); err != nil {
			return fmt.Errorf("row %d: %w", r+1, err)
		}
	}
	return sw.Flush()
}

// sheetValue keeps numbers numeric so the sheet stays usable for analysis
func sheetValue(cell any) interface{} {
	switch v := cell.(type) {
	case decimal.Decimal:
		return v.InexactFloat64()
	case time.Time:
		return domain.FormatDate(v)
	default:
		return v
	}
}
