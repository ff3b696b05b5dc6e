// Package warehouse builds the canonical fact tables from validated rows.
//
// Every table is keyed by its natural identifier and sorted by it, so identical
// input always yields identical tables. Exact duplicates are dropped and counted;
// conflicting duplicates are quarantined and the first row in input order wins.
// The resulting Warehouse is immutable and shared read-only by the valuation,
// metrics and anomaly stages.
package warehouse
