// Package mart materializes the query-optimized tables read by the reporting
// layer: valuation_by_portfolio_date, metric_by_portfolio_period,
// metric_by_ticker_period and anomaly_flags, plus the quarantine table and the
// canonical warehouse fact tables.
//
// Tables are plain typed rows with declared key columns. Rows are sorted by key
// and cells render through FormatCell, so identical inputs give identical tables.
package mart
