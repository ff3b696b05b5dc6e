// Package ingest reads raw brokerage batches (accounts, portfolios, tickers,
// price bars, transactions and corporate actions) from CSV files or XLSX
// workbooks. Header names are normalized to snake_case and values are trimmed
// and lowercased, except free-text ticker metadata. No typing or validation
// happens here.
package ingest
