// Package storage persists warehouse facts and mart tables in SQLite or
// PostgreSQL.
//
// Fact tables are append-only: rows whose natural key is already stored are
// skipped. Mart tables are replaced by key: the new rows are bulk-loaded into a
// temporary staging table (COPY on PostgreSQL), keys missing from the staging
// table are deleted and the rest upserted, all in one transaction.
package storage
