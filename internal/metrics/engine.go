package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/pricing"
	"github.com/RyanSy/PortfolioAnalysis/internal/valuation"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Metric names
const (
	MetricGrowth                      = "growth"
	MetricVolatilityDaily             = "volatility_daily"
	MetricVolatilityDailyAnnualized   = "volatility_daily_annualized"
	MetricVolatilityMonthly           = "volatility_monthly"
	MetricVolatilityMonthlyAnnualized = "volatility_monthly_annualized"
	MetricConsistency                 = "consistency"
	MetricExtremeSwing                = "extreme_swing"
	MetricAvgDailyVolume              = "avg_daily_volume"
	MetricContribution                = "contribution"
)

// Result holds every metric record, sorted and ranked
type Result struct {
	Portfolio   []domain.MetricRecord
	Ticker      []domain.MetricRecord
	Diagnostics []*apperrors.AppError
	// TickerVolatility is each ticker's annualized daily volatility over the horizon
	TickerVolatility map[string]Measure
	Period           string
}

// Lookup returns the record for a subject, metric and period
func (r *Result) Lookup(kind domain.SubjectKind, id, metric, period string) (domain.MetricRecord, bool) {
	records := r.Portfolio
	if kind == domain.SubjectTicker {
		records = r.Ticker
	}
	for _, rec := range records {
		if rec.SubjectID == id && rec.Metric == metric && rec.Period == period {
			return rec, true
		}
	}
	return domain.MetricRecord{}, false
}

// Engine computes portfolio and ticker statistics over valuation series
type Engine struct {
	cfg     config.MetricsConfig
	book    *pricing.Book
	cal     *pricing.Calendar
	kpis    []KPI
	swing   SwingRule
	workers int
	logger  *slog.Logger
}

// NewEngine creates an engine. Extra KPIs run after the configured ones.
func NewEngine(cfg config.MetricsConfig, book *pricing.Book, cal *pricing.Calendar, workers int, logger *slog.Logger, extra ...KPI) (*Engine, error) {
	kpis, err := LookupKPIs(cfg.KPIs)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:  cfg,
		book: book,
		cal:  cal,
		kpis: append(kpis, extra...),
		swing: SwingRule{
			SigmaMultiple:    cfg.SwingSigmaMultiple,
			AbsoluteFallback: cfg.SwingAbsoluteFallback,
			MinSamples:       cfg.MinSwingSamples,
		},
		workers: workers,
		logger:  logger.With(slog.String("component", "metrics")),
	}, nil
}

// Run computes per-portfolio metrics from the valuation series and per-ticker
// metrics for symbols. Portfolios and tickers are processed in parallel.
func (e *Engine) Run(ctx context.Context, val *valuation.Result, symbols []string) (*Result, error) {
	period := val.Horizon.Label()
	portRecs := make([][]domain.MetricRecord, len(val.Series))
	contribs := make([]map[string]decimal.Decimal, len(val.Series))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, s := range val.Series {
		i, s := i, s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			portRecs[i] = e.portfolioMetrics(s, period)
			contribs[i] = e.contributions(s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	contribution := make(map[string]decimal.Decimal)
	for _, c := range contribs {
		for sym, v := range c {
			contribution[sym] = contribution[sym].Add(v)
		}
	}

	tickRecs := make([][]domain.MetricRecord, len(symbols))
	vols := make([]Measure, len(symbols))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tickRecs[i], vols[i] = e.tickerMetrics(sym, val.Horizon, contribution[sym], period)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{TickerVolatility: make(map[string]Measure, len(symbols)), Period: period}
	for _, recs := range portRecs {
		res.Portfolio = append(res.Portfolio, recs...)
	}
	for i, recs := range tickRecs {
		res.Ticker = append(res.Ticker, recs...)
		res.TickerVolatility[symbols[i]] = vols[i]
	}
	Rank(res.Portfolio, e.cfg.RankingSize)
	Rank(res.Ticker, e.cfg.RankingSize)
	SortRecords(res.Portfolio)
	SortRecords(res.Ticker)

	for _, recs := range [][]domain.MetricRecord{res.Portfolio, res.Ticker} {
		for _, r := range recs {
			if !r.Defined {
				res.Diagnostics = append(res.Diagnostics, apperrors.NewComputationError(r.Reason,
					fmt.Sprintf("%s undefined for %s %s", r.Metric, r.SubjectKind, r.SubjectID)).
					WithContext("period", r.Period))
			}
		}
	}

	if len(res.Diagnostics) > 0 {
		e.logger.WarnContext(ctx, "undefined_metrics", slog.Int("count", len(res.Diagnostics)))
	}
	e.logger.InfoContext(ctx, "metrics_complete",
		slog.Int("portfolio_records", len(res.Portfolio)),
		slog.Int("ticker_records", len(res.Ticker)))
	return res, nil
}

// Points returns the non-stale trading-day values of a series
func (e *Engine) Points(s *valuation.Series) []Point {
	out := make([]Point, 0, len(s.Points))
	for _, pt := range s.Points {
		if pt.Stale || !pt.Value.Valid || !e.cal.IsTradingDay(pt.Date) {
			continue
		}
		v, _ := pt.Value.Decimal.Float64()
		out = append(out, Point{Date: pt.Date, Value: v})
	}
	return out
}

func (e *Engine) portfolioMetrics(s *valuation.Series, period string) []domain.MetricRecord {
	points := e.Points(s)
	id := s.PortfolioID
	rec := func(metric, p string, m Measure) domain.MetricRecord {
		return record(domain.SubjectPortfolio, id, metric, p, m)
	}

	growth := Growth(points)
	daily := Volatility(Returns(points))
	dailyAnn := Annualize(daily, e.cfg.TradingDaysPerYear)
	monthlyChanges := MonthlyChanges(points)
	monthly := Volatility(definedValues(monthlyChanges))
	monthlyAnn := Annualize(monthly, e.cfg.MonthsPerYear)

	out := []domain.MetricRecord{
		rec(MetricGrowth, period, growth),
		rec(MetricVolatilityDaily, period, daily),
		rec(MetricVolatilityDailyAnnualized, period, dailyAnn),
		rec(MetricVolatilityMonthly, period, monthly),
		rec(MetricVolatilityMonthlyAnnualized, period, monthlyAnn),
		rec(MetricConsistency, period, Consistency(monthly)),
	}
	for _, c := range monthlyChanges {
		out = append(out, rec(MetricGrowth, c.Month, c.Change))
	}
	for _, c := range e.swing.ExtremeSwings(monthlyChanges) {
		out = append(out, rec(MetricExtremeSwing, c.Month, c.Change))
	}

	in := Inputs{
		PortfolioID:       id,
		Points:            points,
		Growth:            growth,
		VolatilityDaily:   dailyAnn,
		VolatilityMonthly: monthlyAnn,
	}
	for _, k := range e.kpis {
		out = append(out, rec(k.Name(), period, k.Compute(in)))
	}
	return out
}

// contributions attributes each day's change in value to tickers:
// quantity held the day before times the split-adjusted price change.
func (e *Engine) contributions(s *valuation.Series) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for i := 1; i < len(s.Points); i++ {
		prev, cur := s.Points[i-1].Date, s.Points[i].Date
		for sym, qty := range s.HoldingsAt(i - 1) {
			p0, ok0 := e.book.PriceAt(sym, prev)
			p1, ok1 := e.book.PriceAt(sym, cur)
			if !ok0 || !ok1 {
				continue
			}
			adjusted := p1.Price.Mul(e.book.SplitFactor(sym, prev, cur))
			out[sym] = out[sym].Add(qty.Mul(adjusted.Sub(p0.Price)))
		}
	}
	return out
}

func (e *Engine) tickerMetrics(sym string, h domain.Horizon, contribution decimal.Decimal, period string) ([]domain.MetricRecord, Measure) {
	rec := func(metric string, m Measure) domain.MetricRecord {
		return record(domain.SubjectTicker, sym, metric, period, m)
	}

	first, last := -1, -1
	volume := decimal.Zero
	for i, b := range e.book.Bars(sym) {
		if !h.Contains(b.Date) {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
		volume = volume.Add(b.Volume)
	}

	growth := undefined(apperrors.CodeInsufficientData)
	avgVolume := undefined(apperrors.CodeInsufficientData)
	if first >= 0 {
		if r, ok := e.book.Return(sym, first, last); ok {
			growth = value(r)
		} else {
			growth = undefined(apperrors.CodeZeroBase)
		}
		avg, _ := volume.Div(decimal.NewFromInt(int64(last - first + 1))).Float64()
		avgVolume = value(avg)
	}
	vol := Annualize(Volatility(e.book.DailyReturns(sym, h)), e.cfg.TradingDaysPerYear)
	c, _ := contribution.Float64()

	return []domain.MetricRecord{
		rec(MetricGrowth, growth),
		rec(MetricVolatilityDailyAnnualized, vol),
		rec(MetricAvgDailyVolume, avgVolume),
		rec(MetricContribution, value(c)),
	}, vol
}

func record(kind domain.SubjectKind, id, metric, period string, m Measure) domain.MetricRecord {
	r := domain.MetricRecord{
		SubjectKind: kind,
		SubjectID:   id,
		Metric:      metric,
		Period:      period,
		Defined:     m.Defined(),
		Reason:      m.Code,
	}
	if r.Defined {
		r.Value = m.Value
	}
	return r
}
