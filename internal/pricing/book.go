package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Quote is the price of a ticker as of a date
type Quote struct {
	Price decimal.Decimal
	// BarDate is the date of the bar the price came from
	BarDate time.Time
	// Exact is false when the price was forward-filled from an earlier bar
	Exact bool
}

type split struct {
	date  time.Time
	ratio decimal.Decimal
}

// Book is an immutable price history shared read-only across workers.
// Bars are kept per ticker in date order.
type Book struct {
	bars   map[string][]domain.PriceBar
	splits map[string][]split
}

// NewBook indexes price bars and split actions. Input order does not matter.
func NewBook(bars []domain.PriceBar, actions []domain.CorporateAction) *Book {
	b := &Book{
		bars:   make(map[string][]domain.PriceBar),
		splits: make(map[string][]split),
	}
	for _, bar := range bars {
		b.bars[bar.Symbol] = append(b.bars[bar.Symbol], bar)
	}
	for sym, series := range b.bars {
		sort.SliceStable(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
		b.bars[sym] = series
	}
	for _, a := range actions {
		if a.Action != domain.ActionSplit {
			continue
		}
		b.splits[a.Symbol] = append(b.splits[a.Symbol], split{date: a.Date, ratio: a.Value})
	}
	for sym, s := range b.splits {
		sort.SliceStable(s, func(i, j int) bool { return s[i].date.Before(s[j].date) })
		b.splits[sym] = s
	}
	return b
}

// Symbols returns every ticker with at least one bar, sorted
func (b *Book) Symbols() []string {
	out := make([]string, 0, len(b.bars))
	for sym := range b.bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Bars returns the ticker's bars in date order. The slice must not be modified.
func (b *Book) Bars(symbol string) []domain.PriceBar {
	return b.bars[symbol]
}

// IndexOnOrBefore returns the index of the last bar dated on or before d, or -1
func (b *Book) IndexOnOrBefore(symbol string, d time.Time) int {
	series := b.bars[symbol]
	i := sort.Search(len(series), func(i int) bool { return series[i].Date.After(d) })
	return i - 1
}

// PriceAt returns the close on d, or the most recent earlier close adjusted for any
// split that took effect after that bar and on or before d. ok is false when the
// ticker has no bar on or before d.
func (b *Book) PriceAt(symbol string, d time.Time) (Quote, bool) {
	i := b.IndexOnOrBefore(symbol, d)
	if i < 0 {
		return Quote{}, false
	}
	bar := b.bars[symbol][i]
	q := Quote{Price: bar.Close, BarDate: bar.Date, Exact: bar.Date.Equal(d)}
	if !q.Exact {
		if f := b.SplitFactor(symbol, bar.Date, d); !f.Equal(decimal.NewFromInt(1)) {
			q.Price = q.Price.Div(f)
		}
	}
	return q, true
}

// SplitFactor is the product of split ratios effective in (from, to]
func (b *Book) SplitFactor(symbol string, from, to time.Time) decimal.Decimal {
	f := decimal.NewFromInt(1)
	for _, s := range b.splits[symbol] {
		if s.date.After(from) && !s.date.After(to) {
			f = f.Mul(s.ratio)
		}
	}
	return f
}

// Return is the split-adjusted simple return from bar i to bar j of a ticker
func (b *Book) Return(symbol string, i, j int) (float64, bool) {
	series := b.bars[symbol]
	if i < 0 || j < 0 || i >= len(series) || j >= len(series) || series[i].Close.IsZero() {
		return 0, false
	}
	end := series[j].Close.Mul(b.SplitFactor(symbol, series[i].Date, series[j].Date))
	r, _ := end.Div(series[i].Close).Sub(decimal.NewFromInt(1)).Float64()
	return r, true
}

// DailyReturns returns consecutive bar-to-bar returns for bars dated inside h
func (b *Book) DailyReturns(symbol string, h domain.Horizon) []float64 {
	series := b.bars[symbol]
	var out []float64
	prev := -1
	for i, bar := range series {
		if !h.Contains(bar.Date) {
			continue
		}
		if prev >= 0 {
			if r, ok := b.Return(symbol, prev, i); ok {
				out = append(out, r)
			}
		}
		prev = i
	}
	return out
}

// AverageVolume is the mean volume of the last window bars on or before d.
// n is the number of bars averaged; ok is false when there are none.
func (b *Book) AverageVolume(symbol string, d time.Time, window int) (avg float64, n int, ok bool) {
	end := b.IndexOnOrBefore(symbol, d)
	if end < 0 || window <= 0 {
		return 0, 0, false
	}
	start := end - window + 1
	if start < 0 {
		start = 0
	}
	sum := decimal.Zero
	for _, bar := range b.bars[symbol][start : end+1] {
		sum = sum.Add(bar.Volume)
	}
	n = end - start + 1
	avg, _ = sum.Div(decimal.NewFromInt(int64(n))).Float64()
	return avg, n, true
}
