// Package validation turns raw ingest rows into typed domain records. Rows that
// fail typing, range checks or foreign-key resolution are quarantined with a
// reason and a code; they never abort the batch on their own.
package validation
