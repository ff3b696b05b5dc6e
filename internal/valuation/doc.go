// Package valuation replays each portfolio's immutable transaction log into daily
// holdings and market values.
//
// The replay is a pure left fold (Fold) over events sorted by date, with
// corporate actions ahead of the day's trades and trades ordered by sequence
// number and transaction id. Every calendar date of the horizon gets a point:
// held tickers are priced from the exact bar when one exists and forward-filled
// otherwise. A held ticker with no bar on or before the date leaves the point
// stale with no value and records a missing-price diagnostic.
package valuation
