package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/mart"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

func openMemory(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func valuations(rows ...[]any) *mart.Table {
	t := mart.NewTable("valuation_by_portfolio_date", []mart.Column{
		{Name: "portfolio_id", Type: mart.Text},
		{Name: "date", Type: mart.Date},
		{Name: "value", Type: mart.Numeric},
		{Name: "stale", Type: mart.Boolean},
	}, "portfolio_id", "date")
	for _, r := range rows {
		t.Append(r...)
	}
	return t
}

type storedRow struct {
	portfolio string
	date      string
	value     sql.NullString
	stale     bool
}

func readAll(t *testing.T, s *SQLStore) []storedRow {
	t.Helper()
	rows, err := s.DB().Query(`SELECT "portfolio_id", "date", "value", "stale" FROM "valuation_by_portfolio_date" ORDER BY 1, 2`)
	require.NoError(t, err)
	defer rows.Close()

	var out []storedRow
	for rows.Next() {
		var r storedRow
		require.NoError(t, rows.Scan(&r.portfolio, &r.date, &r.value, &r.stale))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func date(s string) any {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestReplaceTable(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	first := valuations(
		[]any{"p1", date("2024-01-01"), decimal.RequireFromString("100.50"), false},
		[]any{"p1", date("2024-01-02"), nil, true},
		[]any{"p2", date("2024-01-01"), decimal.NewFromInt(7), false},
	)
	require.NoError(t, s.EnsureTable(ctx, first))
	require.NoError(t, s.ReplaceTable(ctx, first))

	got := readAll(t, s)
	require.Len(t, got, 3)
	assert.Equal(t, "100.5", got[0].value.String)
	assert.False(t, got[1].value.Valid)
	assert.True(t, got[1].stale)

	// p2 disappears, p1's second day gets a value
	second := valuations(
		[]any{"p1", date("2024-01-01"), decimal.RequireFromString("100.50"), false},
		[]any{"p1", date("2024-01-02"), decimal.NewFromInt(99), false},
	)
	require.NoError(t, s.ReplaceTable(ctx, second))

	got = readAll(t, s)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-02", got[1].date)
	assert.Equal(t, "99", got[1].value.String)
	assert.False(t, got[1].stale)

	// rerun with identical input changes nothing
	require.NoError(t, s.ReplaceTable(ctx, second))
	assert.Equal(t, got, readAll(t, s))
}

func TestReplaceTable_FailureKeepsPreviousRows(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	tbl := valuations([]any{"p1", date("2024-01-01"), decimal.NewFromInt(1), false})
	require.NoError(t, s.EnsureTable(ctx, tbl))
	require.NoError(t, s.ReplaceTable(ctx, tbl))

	// a column the stored table does not have fails the staging load
	wider := mart.NewTable("valuation_by_portfolio_date", []mart.Column{
		{Name: "portfolio_id", Type: mart.Text},
		{Name: "date", Type: mart.Date},
		{Name: "value", Type: mart.Numeric},
		{Name: "stale", Type: mart.Boolean},
		{Name: "extra", Type: mart.Text},
	}, "portfolio_id", "date")
	wider.Append("p9", date("2024-01-01"), decimal.NewFromInt(2), false, "x")

	err := s.ReplaceTable(ctx, wider)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTypeStorage, apperrors.KindOf(err))

	got := readAll(t, s)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].portfolio)
}

func TestAppendRows(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	tbl := valuations(
		[]any{"p1", date("2024-01-01"), decimal.NewFromInt(1), false},
		[]any{"p1", date("2024-01-02"), decimal.NewFromInt(2), false},
	)
	require.NoError(t, s.EnsureTable(ctx, tbl))

	n, err := s.AppendRows(ctx, tbl)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// existing keys are left untouched
	more := valuations(
		[]any{"p1", date("2024-01-02"), decimal.NewFromInt(50), false},
		[]any{"p1", date("2024-01-03"), decimal.NewFromInt(3), false},
	)
	n, err = s.AppendRows(ctx, more)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := readAll(t, s)
	require.Len(t, got, 3)
	assert.Equal(t, "2", got[1].value.String)
}

func TestEnsureTable_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	tbl := valuations()
	require.NoError(t, s.EnsureTable(ctx, tbl))
	require.NoError(t, s.EnsureTable(ctx, tbl))
	require.NoError(t, s.ReplaceTable(ctx, tbl))
	assert.Empty(t, readAll(t, s))
}

func TestReplaceTable_MissingTable(t *testing.T) {
	err := openMemory(t).ReplaceTable(context.Background(), valuations())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTypeStorage, apperrors.KindOf(err))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StorageConfig{Driver: "none"}, nil)
	require.NoError(t, err)
	assert.IsType(t, NopStore{}, s)

	_, err = Open(ctx, config.StorageConfig{Driver: "oracle"}, nil)
	assert.Equal(t, apperrors.ErrTypeConfig, apperrors.KindOf(err))

	path := filepath.Join(t.TempDir(), "warehouse.db")
	s, err = Open(ctx, config.StorageConfig{Driver: "sqlite", SQLitePath: path}, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureTable(ctx, valuations()))
}

func TestUpsertStatement(t *testing.T) {
	stmt := upsert(`"t"`, "stage_t", valuations())
	assert.Equal(t,
		`INSERT INTO "t" ("portfolio_id", "date", "value", "stale") SELECT "portfolio_id", "date", "value", "stale" FROM stage_t WHERE true ON CONFLICT ("portfolio_id", "date") DO UPDATE SET "value" = excluded."value", "stale" = excluded."stale"`,
		stmt)

	keysOnly := mart.NewTable("k", []mart.Column{{Name: "id", Type: mart.Text}}, "id")
	assert.Contains(t, upsert(`"k"`, "stage_k", keysOnly), "DO NOTHING")
}

func TestPostgresDialect(t *testing.T) {
	d := postgresDialect{schema: "pa"}
	assert.Equal(t, `"pa"."anomaly_flags"`, d.table("anomaly_flags"))
	assert.Equal(t, "NUMERIC", d.columnType(mart.Numeric))
	assert.Equal(t, "DATE", d.columnType(mart.Date))
	assert.Contains(t, d.createStaging("stage_x", `"pa"."x"`), "ON COMMIT DROP")
	assert.Equal(t, `"x"`, postgresDialect{}.table("x"))
}
