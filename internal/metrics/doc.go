// Package metrics computes growth, volatility, consistency, extreme swings and
// pluggable KPIs over portfolio valuation series, plus per-ticker statistics and
// contribution to growth.
//
// Statistics use non-stale valuations on trading days only. A value that cannot
// be computed (zero base, too few samples, zero volatility) is reported as
// undefined with its code and never as zero. Rankings order by value with ties
// broken by subject id ascending.
package metrics
