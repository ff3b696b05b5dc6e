package mart

import (
	"context"
	"log/slog"
	"strings"

	"github.com/RyanSy/PortfolioAnalysis/internal/anomaly"
	"github.com/RyanSy/PortfolioAnalysis/internal/metrics"
	"github.com/RyanSy/PortfolioAnalysis/internal/valuation"
	"github.com/RyanSy/PortfolioAnalysis/internal/warehouse"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Mart table names
const (
	TableValuationByPortfolioDate = "valuation_by_portfolio_date"
	TableMetricByPortfolioPeriod  = "metric_by_portfolio_period"
	TableMetricByTickerPeriod     = "metric_by_ticker_period"
	TableAnomalyFlags             = "anomaly_flags"
	TableQuarantine               = "quarantine"
)

// Input is everything the marts are derived from
type Input struct {
	Warehouse  *warehouse.Warehouse
	Valuation  *valuation.Result
	Metrics    *metrics.Result
	Anomalies  *anomaly.Result
	Quarantine []domain.QuarantineRecord
}

// Builder materializes the mart tables
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a mart builder
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger.With(slog.String("component", "mart"))}
}

// Build returns the mart tables in a fixed order, each sorted by key and checked
// for duplicate keys
func (b *Builder) Build(ctx context.Context, in Input) ([]*Table, error) {
	tables := []*Table{
		ValuationByPortfolioDate(in.Warehouse, in.Valuation),
		MetricByPortfolioPeriod(in.Metrics),
		MetricByTickerPeriod(in.Metrics),
		AnomalyFlags(in.Anomalies),
		Quarantine(in.Quarantine),
	}
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.Sort()
		if err := t.CheckKeys(); err != nil {
			return nil, err
		}
		b.logger.DebugContext(ctx, "mart_built",
			slog.String("table", t.Name),
			slog.Int("rows", len(t.Rows)))
	}
	return tables, nil
}

// ValuationByPortfolioDate has one row per portfolio and horizon date
func ValuationByPortfolioDate(wh *warehouse.Warehouse, res *valuation.Result) *Table {
	t := NewTable(TableValuationByPortfolioDate, []Column{
		{"portfolio_id", Text},
		{"account_id", Text},
		{"classification", Text},
		{"date", Date},
		{"value", Numeric},
		{"dividend_cash", Numeric},
		{"stale", Boolean},
		{"forward_filled", Boolean},
		{"missing_tickers", Text},
	}, "portfolio_id", "date")
	if res == nil {
		return t
	}
	for _, s := range res.Series {
		classification := ""
		if wh != nil {
			if acc, ok := wh.Account(s.AccountID); ok {
				classification = string(acc.Classification)
			}
		}
		for _, v := range s.Points {
			var value any
			if v.Value.Valid {
				value = v.Value.Decimal
			}
			t.Append(v.PortfolioID, s.AccountID, classification, v.Date, value, v.DividendCash,
				v.Stale, v.ForwardFilled, strings.Join(v.MissingTickers, ","))
		}
	}
	return t
}

var metricColumns = []Column{
	{"metric", Text},
	{"period", Text},
	{"value", Float},
	{"defined", Boolean},
	{"reason", Text},
	{"rank", Integer},
	{"top_n", Boolean},
	{"bottom_n", Boolean},
}

// MetricByPortfolioPeriod has one row per portfolio, metric and period
func MetricByPortfolioPeriod(res *metrics.Result) *Table {
	t := NewTable(TableMetricByPortfolioPeriod,
		append([]Column{{"portfolio_id", Text}}, metricColumns...),
		"portfolio_id", "metric", "period")
	if res != nil {
		appendMetrics(t, res.Portfolio)
	}
	return t
}

// MetricByTickerPeriod has one row per ticker, metric and period
func MetricByTickerPeriod(res *metrics.Result) *Table {
	t := NewTable(TableMetricByTickerPeriod,
		append([]Column{{"ticker_symbol", Text}}, metricColumns...),
		"ticker_symbol", "metric", "period")
	if res != nil {
		appendMetrics(t, res.Ticker)
	}
	return t
}

// undefined values are NULL, never zero
func appendMetrics(t *Table, records []domain.MetricRecord) {
	for _, r := range records {
		var value, rank any
		if r.Defined {
			value = r.Value
		}
		if r.Rank > 0 {
			rank = int64(r.Rank)
		}
		t.Append(r.SubjectID, r.Metric, r.Period, value, r.Defined, r.Reason, rank, r.Top, r.Bottom)
	}
}

// AnomalyFlags has one row per flag
func AnomalyFlags(res *anomaly.Result) *Table {
	t := NewTable(TableAnomalyFlags, []Column{
		{"rule", Text},
		{"subject_kind", Text},
		{"subject_id", Text},
		{"ticker_symbol", Text},
		{"side", Text},
		{"date", Date},
		{"window_start", Date},
		{"window_end", Date},
		{"score", Float},
		{"severity", Text},
		{"detail", Text},
	}, "rule", "subject_kind", "subject_id", "ticker_symbol", "side", "date")
	if res == nil {
		return t
	}
	for _, f := range res.Flags {
		t.Append(f.Rule, string(f.SubjectKind), f.SubjectID, f.Symbol, string(f.Side), f.Date,
			nullableDate(f.WindowStart), nullableDate(f.WindowEnd), f.Score, string(f.Severity), f.Detail)
	}
	return t
}

// Quarantine has one row per excluded input row
func Quarantine(records []domain.QuarantineRecord) *Table {
	t := NewTable(TableQuarantine, []Column{
		{"kind", Text},
		{"source", Text},
		{"line", Integer},
		{"code", Text},
		{"natural_key", Text},
		{"reason", Text},
		{"detail", Text},
	}, "kind", "source", "line", "code")
	for _, r := range records {
		t.Append(string(r.Kind), r.Source, int64(r.Line), r.Code, r.Key, r.Reason, r.Detail)
	}
	return t
}
