// Package pricing provides the immutable price book built once per run from the
// warehouse price history: exact and forward-filled lookups, split adjustment,
// split-adjusted returns, trailing average volume, and the exchange trading-day
// calendar backed by scmhub/calendar.
package pricing
