package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/mart"
)

// Store persists warehouse and mart tables
type Store interface {
	// EnsureTable creates the table with its primary key when absent
	EnsureTable(ctx context.Context, t *mart.Table) error
	// AppendRows inserts rows whose key is not stored yet and returns how many
	AppendRows(ctx context.Context, t *mart.Table) (int, error)
	// ReplaceTable makes the stored table equal to t in one transaction
	ReplaceTable(ctx context.Context, t *mart.Table) error
	Close() error
}

// Open returns the store selected by cfg. Driver "none" keeps nothing.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	var (
		s   *SQLStore
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		s, err = OpenSQLite(ctx, cfg.SQLitePath, logger)
	case "postgres":
		s, err = OpenPostgres(ctx, cfg.DSN, cfg.Schema, logger)
	case "none", "":
		return NopStore{}, nil
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unsupported storage driver %q", cfg.Driver), nil)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NopStore discards everything
type NopStore struct{}

func (NopStore) EnsureTable(context.Context, *mart.Table) error { return nil }

func (NopStore) AppendRows(context.Context, *mart.Table) (int, error) { return 0, nil }

func (NopStore) ReplaceTable(context.Context, *mart.Table) error { return nil }

func (NopStore) Close() error { return nil }

// dialect holds what differs between database engines
type dialect interface {
	name() string
	columnType(mart.ColumnType) string
	// table qualifies a table name with the schema, if any
	table(name string) string
	// createStaging returns the statement creating an empty temporary copy of table
	createStaging(staging, table string) string
	dropStaging(staging string) string
	// load bulk-inserts rows into the staging table inside tx
	load(ctx context.Context, tx *sql.Tx, staging string, t *mart.Table) error
}

// SQLStore is a Store over database/sql. Every write runs in one transaction
// through a staging table, so readers never see a partial table.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

func newSQLStore(db *sql.DB, d dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger.With(slog.String("component", "storage"), slog.String("driver", d.name())),
	}
}

// DB exposes the underlying handle
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) EnsureTable(ctx context.Context, t *mart.Table) error {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = fmt.Sprintf("%s %s", quote(c.Name), s.dialect.columnType(c.Type))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (%s))",
		s.dialect.table(t.Name), strings.Join(cols, ", "), quoteAll(t.Key))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return apperrors.NewStorageError("create table", err).WithContext("table", t.Name)
	}
	return nil
}

func (s *SQLStore) AppendRows(ctx context.Context, t *mart.Table) (int, error) {
	var inserted int64
	err := s.withStaging(ctx, t, func(tx *sql.Tx, staging string) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s WHERE true ON CONFLICT (%s) DO NOTHING",
			s.dialect.table(t.Name), quoteAll(t.ColumnNames()), quoteAll(t.ColumnNames()),
			staging, quoteAll(t.Key)))
		if err != nil {
			return err
		}
		inserted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, apperrors.NewStorageError("append rows", err).WithContext("table", t.Name)
	}
	s.logger.InfoContext(ctx, "rows_appended",
		slog.String("table", t.Name),
		slog.Int("offered", len(t.Rows)),
		slog.Int64("inserted", inserted))
	return int(inserted), nil
}

func (s *SQLStore) ReplaceTable(ctx context.Context, t *mart.Table) error {
	target := s.dialect.table(t.Name)
	err := s.withStaging(ctx, t, func(tx *sql.Tx, staging string) error {
		match := make([]string, len(t.Key))
		for i, k := range t.Key {
			match[i] = fmt.Sprintf("s.%s = %s.%s", quote(k), target, quote(k))
		}
		del := fmt.Sprintf("DELETE FROM %s WHERE NOT EXISTS (SELECT 1 FROM %s s WHERE %s)",
			target, staging, strings.Join(match, " AND "))
		if _, err := tx.ExecContext(ctx, del); err != nil {
			return fmt.Errorf("delete absent keys: %w", err)
		}

		if _, err := tx.ExecContext(ctx, upsert(target, staging, t)); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		return nil
	})
	if err != nil {
		return apperrors.NewStorageError("replace table", err).WithContext("table", t.Name)
	}
	s.logger.InfoContext(ctx, "table_replaced",
		slog.String("table", t.Name),
		slog.Int("rows", len(t.Rows)))
	return nil
}

// withStaging loads t into a fresh staging table and runs fn in the same
// transaction. Any error rolls everything back.
func (s *SQLStore) withStaging(ctx context.Context, t *mart.Table, fn func(tx *sql.Tx, staging string) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	staging := "stage_" + t.Name
	if _, err := tx.ExecContext(ctx, s.dialect.dropStaging(staging)); err != nil {
		return fmt.Errorf("drop staging: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.createStaging(staging, s.dialect.table(t.Name))); err != nil {
		return fmt.Errorf("create staging: %w", err)
	}
	if err := s.dialect.load(ctx, tx, staging, t); err != nil {
		return fmt.Errorf("load staging: %w", err)
	}
	if err := fn(tx, staging); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.dropStaging(staging)); err != nil {
		return fmt.Errorf("drop staging: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// upsert inserts every staged row, overwriting non-key columns of existing keys
func upsert(target, staging string, t *mart.Table) string {
	cols := quoteAll(t.ColumnNames())
	isKey := make(map[string]bool, len(t.Key))
	for _, k := range t.Key {
		isKey[k] = true
	}
	var set []string
	for _, c := range t.Columns {
		if !isKey[c.Name] {
			set = append(set, fmt.Sprintf("%s = excluded.%s", quote(c.Name), quote(c.Name)))
		}
	}
	action := "DO NOTHING"
	if len(set) > 0 {
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE true ON CONFLICT (%s) %s",
		target, cols, cols, staging, quoteAll(t.Key), action)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteAll(idents []string) string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = quote(id)
	}
	return strings.Join(out, ", ")
}
