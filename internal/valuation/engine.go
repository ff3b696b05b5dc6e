package valuation

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/pricing"
	"github.com/RyanSy/PortfolioAnalysis/internal/warehouse"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Series is a portfolio's dense valuation series over the horizon with the
// holdings snapshot behind every point. Consecutive days without events share
// one snapshot.
type Series struct {
	PortfolioID string
	AccountID   string
	Points      []domain.Valuation
	states      []State
	start       time.Time
}

// StateAt returns the holdings and dividend cash as of d
func (s *Series) StateAt(d time.Time) (State, bool) {
	i := s.index(d)
	if i < 0 {
		return State{}, false
	}
	return s.states[i], true
}

// HoldingsAt returns the holdings as of the i-th point
func (s *Series) HoldingsAt(i int) Holdings {
	return s.states[i].Holdings
}

// Last returns the final point and state of the series
func (s *Series) Last() (domain.Valuation, State, bool) {
	if len(s.Points) == 0 {
		return domain.Valuation{}, State{}, false
	}
	n := len(s.Points) - 1
	return s.Points[n], s.states[n], true
}

func (s *Series) index(d time.Time) int {
	i := int(domain.Day(d).Sub(s.start).Hours() / 24)
	if i < 0 || i >= len(s.Points) {
		return -1
	}
	return i
}

// Result holds every portfolio's series, sorted by portfolio id
type Result struct {
	Horizon     domain.Horizon
	Series      []*Series
	Diagnostics []*apperrors.AppError
	StaleCount  int
}

// Get returns a portfolio's series, or nil
func (r *Result) Get(portfolioID string) *Series {
	for _, s := range r.Series {
		if s.PortfolioID == portfolioID {
			return s
		}
	}
	return nil
}

// Valuations flattens all series in (portfolio, date) order
func (r *Result) Valuations() []domain.Valuation {
	n := 0
	for _, s := range r.Series {
		n += len(s.Points)
	}
	out := make([]domain.Valuation, 0, n)
	for _, s := range r.Series {
		out = append(out, s.Points...)
	}
	return out
}

// Engine replays each portfolio's transactions into a valuation series
type Engine struct {
	book    *pricing.Book
	workers int
	logger  *slog.Logger
}

// NewEngine creates an engine. workers bounds the number of portfolios valued concurrently.
func NewEngine(book *pricing.Book, workers int, logger *slog.Logger) *Engine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{book: book, workers: workers, logger: logger.With(slog.String("component", "valuation"))}
}

// Run values every portfolio of the warehouse on every calendar date of h.
// Portfolios are independent and valued in parallel; missing prices never fail the run.
func (e *Engine) Run(ctx context.Context, wh *warehouse.Warehouse, h domain.Horizon) (*Result, error) {
	if err := h.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid horizon", err)
	}
	days := h.Days()
	txns := wh.TransactionsByPortfolio()

	series := make([]*Series, len(wh.Portfolios))
	diags := make([][]*apperrors.AppError, len(wh.Portfolios))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, p := range wh.Portfolios {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			events := BuildEvents(txns[p.PortfolioID], wh.Actions)
			series[i], diags[i] = e.Value(p, events, days)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Horizon: h, Series: series}
	for i, s := range series {
		res.Diagnostics = append(res.Diagnostics, diags[i]...)
		for _, pt := range s.Points {
			if pt.Stale {
				res.StaleCount++
			}
		}
	}

	if res.StaleCount > 0 {
		e.logger.WarnContext(ctx, "stale_valuations",
			slog.Int("points", res.StaleCount),
			slog.Int("missing_prices", len(res.Diagnostics)))
	}
	e.logger.InfoContext(ctx, "valuation_complete",
		slog.Int("portfolios", len(series)),
		slog.Int("days", len(days)))
	return res, nil
}

// Value folds one portfolio's events across days, which must be consecutive
// calendar dates. Events dated before the first day are folded into its snapshot.
func (e *Engine) Value(p domain.Portfolio, events []Event, days []time.Time) (*Series, []*apperrors.AppError) {
	s := &Series{
		PortfolioID: p.PortfolioID,
		AccountID:   p.AccountID,
		Points:      make([]domain.Valuation, len(days)),
		states:      make([]State, len(days)),
	}
	if len(days) > 0 {
		s.start = days[0]
	}

	var diags []*apperrors.AppError
	state := State{Holdings: Holdings{}}
	next := 0
	for i, d := range days {
		j := next
		for j < len(events) && !events[j].Date.After(d) {
			j++
		}
		state = Fold(state, events[next:j])
		next = j

		pt, missing := e.price(p.PortfolioID, d, state)
		for _, sym := range missing {
			diags = append(diags, apperrors.NewMissingPriceDataError(p.PortfolioID, sym, domain.FormatDate(d)))
		}
		s.Points[i] = pt
		s.states[i] = state
	}
	return s, diags
}

func (e *Engine) price(portfolioID string, d time.Time, state State) (domain.Valuation, []string) {
	pt := domain.Valuation{PortfolioID: portfolioID, Date: d, DividendCash: state.DividendCash}
	total := decimal.Zero
	var missing []string
	for _, sym := range state.Holdings.Symbols() {
		q, ok := e.book.PriceAt(sym, d)
		if !ok {
			missing = append(missing, sym)
			continue
		}
		if !q.Exact {
			pt.ForwardFilled = true
		}
		total = total.Add(state.Holdings[sym].Mul(q.Price))
	}
	if len(missing) > 0 {
		pt.Stale = true
		pt.MissingTickers = missing
		return pt, missing
	}
	pt.Value = decimal.NullDecimal{Decimal: total, Valid: true}
	return pt, nil
}
