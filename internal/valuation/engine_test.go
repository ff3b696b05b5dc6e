package valuation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/pricing"
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

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bar(symbol, date, close string) domain.PriceBar {
	return domain.PriceBar{Symbol: symbol, Date: day(date), Close: dec(close), Volume: dec("1000")}
}

func trade(id, portfolio, symbol, date, qty string, seq int64) domain.Transaction {
	return domain.Transaction{
		TransactionID: id, PortfolioID: portfolio, Symbol: symbol,
		Date: day(date), Quantity: dec(qty), Price: dec("1"), SequenceNo: seq,
	}
}

func horizon(t *testing.T, start, end string) domain.Horizon {
	t.Helper()
	h, err := domain.NewHorizon(start, end)
	require.NoError(t, err)
	return h
}

func build(t *testing.T, bars []domain.PriceBar, txns []domain.Transaction, actions []domain.CorporateAction) (*warehouse.Warehouse, *pricing.Book) {
	t.Helper()
	wh, err := warehouse.New(
		[]domain.Account{{AccountID: "a1", Classification: domain.ClassificationRetirement}},
		[]domain.Portfolio{{PortfolioID: "p2", AccountID: "a1"}, {PortfolioID: "p1", AccountID: "a1"}},
		[]domain.Ticker{{Symbol: "abc"}, {Symbol: "xyz"}},
		bars, txns, actions,
	)
	require.NoError(t, err)
	return wh, pricing.NewBook(wh.Bars, wh.Actions)
}

func TestRun_ZeroTransactionsValueZero(t *testing.T) {
	wh, book := build(t, []domain.PriceBar{bar("abc", "2024-01-01", "10")}, nil, nil)
	h := horizon(t, "2024-01-01", "2024-01-10")

	res, err := NewEngine(book, 2, nil).Run(context.Background(), wh, h)
	require.NoError(t, err)
	require.Len(t, res.Series, 2)
	assert.Equal(t, "p1", res.Series[0].PortfolioID)

	for _, s := range res.Series {
		require.Len(t, s.Points, 10)
		for _, pt := range s.Points {
			assert.True(t, pt.Value.Valid)
			assert.True(t, pt.Value.Decimal.IsZero())
			assert.False(t, pt.Stale)
		}
	}
	assert.Len(t, res.Valuations(), 20)
}

func TestRun_ForwardFillAndSells(t *testing.T) {
	bars := []domain.PriceBar{
		bar("abc", "2024-01-01", "10"),
		bar("abc", "2024-01-03", "12"),
	}
	txns := []domain.Transaction{
		trade("t1", "p1", "abc", "2024-01-01", "10", 1),
		trade("t2", "p1", "abc", "2024-01-03", "-4", 1),
		trade("t3", "p1", "abc", "2024-01-04", "-6", 1),
	}
	wh, book := build(t, bars, txns, nil)

	res, err := NewEngine(book, 1, nil).Run(context.Background(), wh, horizon(t, "2024-01-01", "2024-01-04"))
	require.NoError(t, err)
	s := res.Get("p1")
	require.NotNil(t, s)

	want := []string{"100", "100", "72", "0"}
	for i, w := range want {
		assert.Equal(t, w, s.Points[i].Value.Decimal.String(), "day %d", i)
	}
	assert.False(t, s.Points[0].ForwardFilled)
	assert.True(t, s.Points[1].ForwardFilled)

	st, ok := s.StateAt(day("2024-01-04"))
	require.True(t, ok)
	assert.Empty(t, st.Holdings)
}

func TestRun_MissingPriceMarksStale(t *testing.T) {
	bars := []domain.PriceBar{
		bar("abc", "2024-01-01", "10"),
		bar("xyz", "2024-01-03", "5"),
	}
	txns := []domain.Transaction{
		trade("t1", "p1", "abc", "2024-01-01", "1", 1),
		trade("t2", "p1", "xyz", "2024-01-01", "2", 2),
	}
	wh, book := build(t, bars, txns, nil)

	res, err := NewEngine(book, 4, nil).Run(context.Background(), wh, horizon(t, "2024-01-01", "2024-01-03"))
	require.NoError(t, err)
	s := res.Get("p1")

	for i := 0; i < 2; i++ {
		assert.True(t, s.Points[i].Stale)
		assert.False(t, s.Points[i].Value.Valid)
		assert.Equal(t, []string{"xyz"}, s.Points[i].MissingTickers)
	}
	assert.False(t, s.Points[2].Stale)
	assert.Equal(t, "20", s.Points[2].Value.Decimal.String())

	assert.Equal(t, 2, res.StaleCount)
	require.Len(t, res.Diagnostics, 2)
	assert.Equal(t, apperrors.ErrTypeMissingPriceData, res.Diagnostics[0].Type)
}

func TestRun_SplitAdjustsQuantityAndForwardFilledPrice(t *testing.T) {
	bars := []domain.PriceBar{
		bar("abc", "2024-01-01", "20"),
		bar("abc", "2024-01-04", "11"),
	}
	txns := []domain.Transaction{
		trade("t1", "p1", "abc", "2024-01-01", "10", 1),
		// placed on the split day, after the split
		trade("t2", "p1", "abc", "2024-01-03", "5", 1),
	}
	actions := []domain.CorporateAction{
		{Symbol: "abc", Date: day("2024-01-03"), Action: domain.ActionSplit, Value: dec("2")},
	}
	wh, book := build(t, bars, txns, actions)

	res, err := NewEngine(book, 1, nil).Run(context.Background(), wh, horizon(t, "2024-01-01", "2024-01-04"))
	require.NoError(t, err)
	s := res.Get("p1")

	assert.Equal(t, "200", s.Points[1].Value.Decimal.String())
	// 10 shares become 20, plus 5 bought after the split, at the adjusted price 10
	assert.Equal(t, "250", s.Points[2].Value.Decimal.String())
	assert.Equal(t, "275", s.Points[3].Value.Decimal.String())

	st, _ := s.StateAt(day("2024-01-03"))
	assert.Equal(t, "25", st.Holdings.Quantity("abc").String())
}

func TestRun_DividendAccruesCash(t *testing.T) {
	bars := []domain.PriceBar{bar("abc", "2024-01-01", "10")}
	txns := []domain.Transaction{trade("t1", "p1", "abc", "2024-01-01", "100", 1)}
	actions := []domain.CorporateAction{
		{Symbol: "abc", Date: day("2024-01-02"), Action: domain.ActionDividend, Value: dec("0.5")},
	}
	wh, book := build(t, bars, txns, actions)

	res, err := NewEngine(book, 1, nil).Run(context.Background(), wh, horizon(t, "2024-01-01", "2024-01-03"))
	require.NoError(t, err)
	s := res.Get("p1")

	assert.True(t, s.Points[0].DividendCash.IsZero())
	assert.Equal(t, "50", s.Points[1].DividendCash.String())
	assert.Equal(t, "50", s.Points[2].DividendCash.String())
	assert.Equal(t, "1000", s.Points[2].Value.Decimal.String())
}

func TestRun_TransactionsBeforeHorizonAreFolded(t *testing.T) {
	bars := []domain.PriceBar{bar("abc", "2023-12-01", "10")}
	txns := []domain.Transaction{trade("t1", "p1", "abc", "2023-12-01", "3", 1)}
	wh, book := build(t, bars, txns, nil)

	res, err := NewEngine(book, 1, nil).Run(context.Background(), wh, horizon(t, "2024-01-01", "2024-01-02"))
	require.NoError(t, err)
	assert.Equal(t, "30", res.Get("p1").Points[0].Value.Decimal.String())
}

func TestReplayEqualsIncremental(t *testing.T) {
	var bars []domain.PriceBar
	var txns []domain.Transaction
	start := day("2024-01-01")
	for i := 0; i < 30; i++ {
		d := domain.FormatDate(start.AddDate(0, 0, i))
		bars = append(bars, bar("abc", d, fmt.Sprintf("%d.25", 10+i%7)))
		if i%3 == 0 {
			bars = append(bars, bar("xyz", d, fmt.Sprintf("%d", 40-i)))
		}
		qty := fmt.Sprintf("%d", (i%5)-2)
		if qty != "0" {
			txns = append(txns, trade(fmt.Sprintf("a%02d", i), "p1", "abc", d, qty, int64(i%2)))
		}
		if i%4 == 0 {
			txns = append(txns, trade(fmt.Sprintf("x%02d", i), "p1", "xyz", d, "3", 0))
		}
	}
	actions := []domain.CorporateAction{
		{Symbol: "xyz", Date: day("2024-01-10"), Action: domain.ActionSplit, Value: dec("3")},
		{Symbol: "abc", Date: day("2024-01-15"), Action: domain.ActionDividend, Value: dec("0.1")},
	}
	wh, book := build(t, bars, txns, actions)

	res, err := NewEngine(book, 2, nil).Run(context.Background(), wh, horizon(t, "2024-01-01", "2024-01-30"))
	require.NoError(t, err)
	s := res.Get("p1")
	events := BuildEvents(wh.TransactionsByPortfolio()["p1"], wh.Actions)

	for _, pt := range s.Points {
		incremental, ok := s.StateAt(pt.Date)
		require.True(t, ok)
		replayed := Replay(events, pt.Date)
		assert.True(t, replayed.Equal(incremental), "state differs on %s", domain.FormatDate(pt.Date))
	}
}

func TestFold_DoesNotMutateInput(t *testing.T) {
	s := State{Holdings: Holdings{"abc": dec("5")}}
	next := Fold(s, []Event{{Kind: EventTrade, Symbol: "abc", Amount: dec("-5")}})

	assert.Equal(t, "5", s.Holdings.Quantity("abc").String())
	assert.Empty(t, next.Holdings)
	assert.True(t, Fold(s, nil).Equal(s))
}

func TestBuildEvents_ActionsBeforeTrades(t *testing.T) {
	txns := []domain.Transaction{
		trade("t2", "p1", "abc", "2024-01-02", "1", 2),
		trade("t1", "p1", "abc", "2024-01-02", "1", 1),
	}
	actions := []domain.CorporateAction{
		{Symbol: "abc", Date: day("2024-01-02"), Action: domain.ActionSplit, Value: dec("2")},
		{Symbol: "zzz", Date: day("2024-01-02"), Action: domain.ActionSplit, Value: dec("2")},
	}
	events := BuildEvents(txns, actions)
	require.Len(t, events, 3)
	assert.Equal(t, EventSplit, events[0].Kind)
	assert.Equal(t, "t1", events[1].TransactionID)
	assert.Equal(t, "t2", events[2].TransactionID)
}

func TestRun_CancelledContext(t *testing.T) {
	wh, book := build(t, []domain.PriceBar{bar("abc", "2024-01-01", "10")}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(book, 1, nil).Run(ctx, wh, horizon(t, "2024-01-01", "2024-01-02"))
	assert.ErrorIs(t, err, context.Canceled)
}
