// Package exporter writes mart tables to files for the reporting layer.
//
// CSVWriter writes one CSV per table with a UTF-8 BOM so Excel detects the
// encoding. WriteWorkbook puts every table on its own sheet of one XLSX file.
// Both write to a temporary file in the target directory and rename it into
// place, so a reader never sees a half-written export.
//
// Example usage:
//
//	exp, err := exporter.New("out", "both", logger)
//	paths, err := exp.Export(ctx, tables)
package exporter
