package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/mart"
)

// OpenSQLite opens an embedded SQLite database; ":memory:" gives a private
// in-memory database
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.NewStorageError("open sqlite", err).WithContext("path", path)
	}
	// one connection: SQLite has a single writer and :memory: is per connection
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("ping sqlite", err).WithContext("path", path)
	}

	s := newSQLStore(db, sqliteDialect{}, logger)
	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			s.logger.WarnContext(ctx, "sqlite_wal_failed", slog.String("error", err.Error()))
		}
	}
	return s, nil
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

// decimals stay TEXT so their digits survive unchanged
func (sqliteDialect) columnType(t mart.ColumnType) string {
	switch t {
	case mart.Float:
		return "REAL"
	case mart.Integer, mart.Boolean:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) table(name string) string { return quote(name) }

func (sqliteDialect) createStaging(staging, table string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT * FROM %s WHERE 0", staging, table)
}

func (sqliteDialect) dropStaging(staging string) string {
	return "DROP TABLE IF EXISTS temp." + staging
}

func (sqliteDialect) load(ctx context.Context, tx *sql.Tx, staging string, t *mart.Table) error {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		staging, quoteAll(t.ColumnNames()), marks))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, row := range t.Rows {
		if _, err := stmt.ExecContext(ctx, mart.Args(row)...); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

// OpenPostgres connects to PostgreSQL and creates the schema when one is set
func OpenPostgres(ctx context.Context, dsn, schema string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.NewStorageError("open postgres", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("ping postgres", err)
	}
	if schema != "" {
		if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quote(schema)); err != nil {
			db.Close()
			return nil, apperrors.NewStorageError("create schema", err).WithContext("schema", schema)
		}
	}
	return newSQLStore(db, postgresDialect{schema: schema}, logger), nil
}

type postgresDialect struct {
	schema string
}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) columnType(t mart.ColumnType) string {
	switch t {
	case mart.Date:
		return "DATE"
	case mart.Numeric:
		return "NUMERIC"
	case mart.Float:
		return "DOUBLE PRECISION"
	case mart.Integer:
		return "BIGINT"
	case mart.Boolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (d postgresDialect) table(name string) string {
	if d.schema == "" {
		return quote(name)
	}
	return quote(d.schema) + "." + quote(name)
}

func (postgresDialect) createStaging(staging, table string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", staging, table)
}

func (postgresDialect) dropStaging(staging string) string {
	return "DROP TABLE IF EXISTS pg_temp." + staging
}

// load streams rows with COPY
func (postgresDialect) load(ctx context.Context, tx *sql.Tx, staging string, t *mart.Table) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(staging, t.ColumnNames()...))
	if err != nil {
		return err
	}
	for i, row := range t.Rows {
		if _, err := stmt.ExecContext(ctx, mart.Args(row)...); err != nil {
			stmt.Close()
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	return stmt.Close()
}
