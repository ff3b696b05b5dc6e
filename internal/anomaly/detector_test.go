package anomaly

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/metrics"
	"github.com/RyanSy/PortfolioAnalysis/internal/pricing"
	"github.com/RyanSy/PortfolioAnalysis/internal/valuation"
	"github.com/RyanSy/PortfolioAnalysis/internal/warehouse"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fixture builds a warehouse where account aN owns portfolio pN unless told otherwise
type fixture struct {
	owners     map[string]string
	tickers    map[string]bool
	bars       []domain.PriceBar
	txns       []domain.Transaction
	volatility map[string]metrics.Measure
}

func newFixture() *fixture {
	return &fixture{
		owners:     make(map[string]string),
		tickers:    make(map[string]bool),
		volatility: make(map[string]metrics.Measure),
	}
}

func (f *fixture) bar(symbol string, d time.Time, close float64, volume int64) {
	f.tickers[symbol] = true
	f.bars = append(f.bars, domain.PriceBar{
		Symbol: symbol, Date: d, Close: decimal.NewFromFloat(close), Volume: decimal.NewFromInt(volume),
	})
}

// trade records a transaction for account acc and returns its id
func (f *fixture) trade(acc, symbol string, d time.Time, qty int64) string {
	return f.tradeIn(acc, "p"+acc[1:], symbol, d, qty)
}

func (f *fixture) tradeIn(acc, portfolio, symbol string, d time.Time, qty int64) string {
	f.owners[portfolio] = acc
	f.tickers[symbol] = true
	id := fmt.Sprintf("t%05d", len(f.txns)+1)
	f.txns = append(f.txns, domain.Transaction{
		TransactionID: id, PortfolioID: portfolio, Symbol: symbol, Date: d,
		Quantity: decimal.NewFromInt(qty), Price: decimal.NewFromInt(1), SequenceNo: int64(len(f.txns)),
	})
	return id
}

func (f *fixture) input(t *testing.T, start, end string) Input {
	t.Helper()
	var accounts []domain.Account
	var portfolios []domain.Portfolio
	seen := make(map[string]bool)
	for pid, acc := range f.owners {
		portfolios = append(portfolios, domain.Portfolio{PortfolioID: pid, AccountID: acc})
		if !seen[acc] {
			seen[acc] = true
			accounts = append(accounts, domain.Account{AccountID: acc, Classification: domain.ClassificationNonRetirement})
		}
	}
	var tickers []domain.Ticker
	for sym := range f.tickers {
		tickers = append(tickers, domain.Ticker{Symbol: sym})
	}
	wh, err := warehouse.New(accounts, portfolios, tickers, f.bars, f.txns, nil)
	require.NoError(t, err)

	h, err := domain.NewHorizon(start, end)
	require.NoError(t, err)
	book := pricing.NewBook(wh.Bars, wh.Actions)
	val, err := valuation.NewEngine(book, 2, nil).Run(context.Background(), wh, h)
	require.NoError(t, err)

	return Input{
		Warehouse: wh,
		Book:      book,
		Calendar:  pricing.NewCalendar(""),
		Valuation: val,
		Metrics:   &metrics.Result{TickerVolatility: f.volatility},
		Horizon:   h,
	}
}

func detect(t *testing.T, in Input, rules ...Rule) *Result {
	t.Helper()
	res, err := NewDetectorWithRules(nil, rules...).Detect(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestHerdRule_FlagsOnlyTheCrowdedGroup(t *testing.T) {
	f := newFixture()
	// baseline: three accounts buy X every day
	for d := day("2024-01-01"); d.Before(day("2024-04-10")); d = d.AddDate(0, 0, 1) {
		for i := 1; i <= 3; i++ {
			f.trade(fmt.Sprintf("a%02d", i), "X", d, 1)
		}
	}
	target := day("2024-04-10")
	for i := 1; i <= 50; i++ {
		f.trade(fmt.Sprintf("a%02d", i), "X", target, 1)
	}
	// same day, other groups stay small
	f.trade("a51", "X", target, -1)
	f.trade("a52", "X", target, -1)
	for i := 1; i <= 3; i++ {
		f.trade(fmt.Sprintf("a%02d", i), "Y", target, 1)
	}
	f.bar("X", day("2024-01-01"), 10, 1000)
	f.bar("Y", day("2024-01-01"), 10, 1000)

	res := detect(t, f.input(t, "2024-04-01", "2024-04-10"), &HerdRule{cfg: config.Default().Anomaly.Herd})

	require.Len(t, res.Flags, 1)
	flag := res.Flags[0]
	assert.Equal(t, RuleHerdTrading, flag.Rule)
	assert.Equal(t, domain.SubjectTicker, flag.SubjectKind)
	assert.Equal(t, "X", flag.SubjectID)
	assert.Equal(t, domain.SideBuy, flag.Side)
	assert.Equal(t, target, flag.Date)
	// 50 accounts against a threshold of max(min accounts 10, 3x mean 3)
	assert.InDelta(t, 5.0, flag.Score, 1e-9)
	assert.Equal(t, domain.SeverityHigh, flag.Severity)
	assert.Equal(t, day("2024-01-11"), flag.WindowStart)
	assert.Equal(t, day("2024-04-09"), flag.WindowEnd)
}

func TestLiquidityRule(t *testing.T) {
	f := newFixture()
	start := day("2024-01-01")
	for i := 0; i < 30; i++ {
		f.bar("Y", start.AddDate(0, 0, i), 5, 1000)
		f.bar("Z", start.AddDate(0, 0, i), 5, 0)
	}
	f.trade("a1", "Y", start, 15000)
	f.trade("a2", "Y", start, 2000)
	f.trade("a3", "Z", start, 10)

	res := detect(t, f.input(t, "2024-01-01", "2024-01-30"), &LiquidityRule{cfg: config.Default().Anomaly.Liquidity})

	require.Len(t, res.Flags, 1)
	flag := res.Flags[0]
	assert.Equal(t, RuleOutsizedHolding, flag.Rule)
	assert.Equal(t, domain.SubjectAccount, flag.SubjectKind)
	assert.Equal(t, "a1", flag.SubjectID)
	assert.Equal(t, "Y", flag.Symbol)
	assert.InDelta(t, 1.5, flag.Score, 1e-9)
	assert.Equal(t, domain.SeverityMedium, flag.Severity)
	assert.Equal(t, day("2024-01-30"), flag.Date)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, apperrors.ErrTypeComputation, res.Diagnostics[0].Type)
	assert.Equal(t, apperrors.CodeZeroVolume, apperrors.CodeOf(res.Diagnostics[0]))
}

func TestLiquidityRule_SumsAccountPortfolios(t *testing.T) {
	f := newFixture()
	start := day("2024-01-01")
	for i := 0; i < 30; i++ {
		f.bar("Y", start.AddDate(0, 0, i), 5, 1000)
	}
	f.tradeIn("a1", "p1", "Y", start, 6000)
	f.tradeIn("a1", "p1b", "Y", start.AddDate(0, 0, 1), 6000)

	res := detect(t, f.input(t, "2024-01-01", "2024-01-30"), &LiquidityRule{cfg: config.Default().Anomaly.Liquidity})
	require.Len(t, res.Flags, 1)
	assert.InDelta(t, 1.2, res.Flags[0].Score, 1e-9)
}

func TestPreMoveRule(t *testing.T) {
	f := newFixture()
	start := day("2024-01-01")
	for i := 0; i < 60; i++ {
		price := 100.0
		if i > 40 {
			price = 130
		}
		f.bar("M", start.AddDate(0, 0, i), price, 1000)
	}
	before := start.AddDate(0, 0, 37)

	flagged := f.trade("a1", "M", before, 10)
	// a2's earlier trade makes the same-size trade ordinary
	f.trade("a2", "M", start.AddDate(0, 0, 5), 10)
	f.trade("a2", "M", before, 10)
	// selling ahead of a rise is not profitable
	f.trade("a3", "M", before, -10)

	res := detect(t, f.input(t, "2024-01-01", "2024-02-29"), &PreMoveRule{cfg: config.Default().Anomaly.PreMove})

	require.Len(t, res.Flags, 1)
	flag := res.Flags[0]
	assert.Equal(t, RulePreMoveTrade, flag.Rule)
	assert.Equal(t, domain.SubjectTransaction, flag.SubjectKind)
	assert.Equal(t, flagged, flag.SubjectID)
	assert.Equal(t, "M", flag.Symbol)
	assert.Equal(t, domain.SideBuy, flag.Side)
	assert.Equal(t, before, flag.WindowStart)
	assert.Equal(t, start.AddDate(0, 0, 42), flag.WindowEnd)
	// a 30% move against a 15% threshold
	assert.InDelta(t, 2.0, flag.Score, 1e-9)
	assert.Contains(t, flag.Detail, "first trade")
}

func TestPreMoveRule_TradeBetweenBarsAnchorsAfterTrade(t *testing.T) {
	build := func(jumpFrom int) Input {
		f := newFixture()
		start := day("2024-01-01")
		for i := 0; i < 60; i++ {
			if i == 37 {
				continue
			}
			price := 100.0
			if i >= jumpFrom {
				price = 130
			}
			f.bar("M", start.AddDate(0, 0, i), price, 1000)
		}
		f.trade("a1", "M", start.AddDate(0, 0, 37), 10)
		return f.input(t, "2024-01-01", "2024-02-29")
	}
	rule := &PreMoveRule{cfg: config.Default().Anomaly.PreMove}

	// the jump lands on the first bar after the trade, before the window opens
	assert.Empty(t, detect(t, build(38), rule).Flags)

	res := detect(t, build(41), rule)
	require.Len(t, res.Flags, 1)
	assert.Equal(t, day("2024-02-08"), res.Flags[0].WindowStart)
	assert.Equal(t, day("2024-02-13"), res.Flags[0].WindowEnd)
}

func TestPreMoveRule_OversizedTrade(t *testing.T) {
	f := newFixture()
	start := day("2024-01-01")
	for i := 0; i < 60; i++ {
		price := 100.0
		if i > 40 {
			price = 80
		}
		f.bar("M", start.AddDate(0, 0, i), price, 1000)
	}
	f.trade("a1", "M", start, 100)
	id := f.trade("a1", "M", start.AddDate(0, 0, 38), -400)

	res := detect(t, f.input(t, "2024-01-01", "2024-02-29"), &PreMoveRule{cfg: config.Default().Anomaly.PreMove})

	require.Len(t, res.Flags, 1)
	assert.Equal(t, id, res.Flags[0].SubjectID)
	assert.Equal(t, domain.SideSell, res.Flags[0].Side)
	assert.Contains(t, res.Flags[0].Detail, "4.0x")
}

// riskLadder gives account aN N trades in ticker TN whose volatility is N/10
func riskLadder() *fixture {
	f := newFixture()
	start := day("2024-01-01")
	for n := 1; n <= 4; n++ {
		sym := fmt.Sprintf("T%d", n)
		for i := 0; i < 31; i++ {
			f.bar(sym, start.AddDate(0, 0, i), 10, 1000)
		}
		for i := 0; i < n; i++ {
			f.trade(fmt.Sprintf("a%d", n), sym, start.AddDate(0, 0, i), 1)
		}
		f.volatility[sym] = metrics.Measure{Value: float64(n) / 10}
	}
	return f
}

func TestRiskFrequencyRule(t *testing.T) {
	f := riskLadder()

	res := detect(t, f.input(t, "2024-01-01", "2024-01-31"), &RiskFrequencyRule{cfg: config.Default().Anomaly.RiskFrequency})

	// the 0.75 cut over four accounts is the third value, which must be exceeded
	require.Len(t, res.Flags, 1)
	flag := res.Flags[0]
	assert.Equal(t, RuleHighRiskHighFrequency, flag.Rule)
	assert.Equal(t, "a4", flag.SubjectID)
	assert.InDelta(t, 4.0/3.0, flag.Score, 1e-9)
	assert.Contains(t, flag.Detail, "100% of exposure")
}

func TestRiskFrequencyRule_TickerQuantileOnlyChangesDetail(t *testing.T) {
	f := riskLadder()
	cfg := config.Default().Anomaly.RiskFrequency
	cfg.HighRiskQuantile = 0.25

	res := detect(t, f.input(t, "2024-01-01", "2024-01-31"), &RiskFrequencyRule{cfg: cfg})

	require.Len(t, res.Flags, 1)
	assert.Equal(t, "a4", res.Flags[0].SubjectID)
	assert.InDelta(t, 4.0/3.0, res.Flags[0].Score, 1e-9)
}

func TestRiskFrequencyRule_NoSpreadFlagsNobody(t *testing.T) {
	f := newFixture()
	start := day("2024-01-01")
	for i := 0; i < 31; i++ {
		f.bar("HI", start.AddDate(0, 0, i), 10, 1000)
	}
	for _, acc := range []string{"a1", "a2", "a3", "a4"} {
		f.trade(acc, "HI", start, 1)
		f.trade(acc, "HI", start.AddDate(0, 0, 1), 1)
	}
	f.volatility["HI"] = metrics.Measure{Value: 0.9}

	res := detect(t, f.input(t, "2024-01-01", "2024-01-31"), &RiskFrequencyRule{cfg: config.Default().Anomaly.RiskFrequency})
	assert.Empty(t, res.Flags)
}

func TestDetect_RerunIsIdentical(t *testing.T) {
	f := newFixture()
	start := day("2024-01-01")
	for i := 0; i < 60; i++ {
		price := 100.0
		if i > 40 {
			price = 130
		}
		f.bar("M", start.AddDate(0, 0, i), price, 10)
	}
	for i := 1; i <= 20; i++ {
		f.trade(fmt.Sprintf("a%02d", i), "M", start.AddDate(0, 0, 37), int64(100*i))
	}
	f.volatility["M"] = metrics.Measure{Value: 0.4}
	in := f.input(t, "2024-01-01", "2024-02-29")

	d := NewDetector(config.Default().Anomaly, nil)
	first, err := d.Detect(context.Background(), in)
	require.NoError(t, err)
	second, err := d.Detect(context.Background(), in)
	require.NoError(t, err)

	assert.NotZero(t, first.Count(RuleHerdTrading))
	assert.NotZero(t, first.Count(RuleOutsizedHolding))
	assert.NotZero(t, first.Count(RulePreMoveTrade))
	assert.Equal(t, first, second)
}

func TestDetect_CancelledContext(t *testing.T) {
	f := newFixture()
	f.bar("X", day("2024-01-01"), 10, 1000)
	f.trade("a1", "X", day("2024-01-01"), 1)
	in := f.input(t, "2024-01-01", "2024-01-31")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDetector(config.Default().Anomaly, nil).Detect(ctx, in)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSortFlags(t *testing.T) {
	flags := []domain.AnomalyFlag{
		{Rule: RulePreMoveTrade, SubjectKind: domain.SubjectTransaction, SubjectID: "t2"},
		{Rule: RuleHerdTrading, SubjectKind: domain.SubjectTicker, SubjectID: "X", Date: day("2024-01-02"), Side: domain.SideSell},
		{Rule: RuleHerdTrading, SubjectKind: domain.SubjectTicker, SubjectID: "X", Date: day("2024-01-02"), Side: domain.SideBuy},
		{Rule: RuleHerdTrading, SubjectKind: domain.SubjectTicker, SubjectID: "X", Date: day("2024-01-01")},
		{Rule: RulePreMoveTrade, SubjectKind: domain.SubjectTransaction, SubjectID: "t1"},
	}
	SortFlags(flags)

	assert.Equal(t, day("2024-01-01"), flags[0].Date)
	assert.Equal(t, domain.SideBuy, flags[1].Side)
	assert.Equal(t, domain.SideSell, flags[2].Side)
	assert.Equal(t, "t1", flags[3].SubjectID)
	assert.Equal(t, "t2", flags[4].SubjectID)
}
