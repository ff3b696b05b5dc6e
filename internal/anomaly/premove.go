package anomaly

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	"github.com/RyanSy/PortfolioAnalysis/internal/pricing"
	"github.com/RyanSy/PortfolioAnalysis/internal/warehouse"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// PreMoveRule flags trades that come right before an unusually large price move,
// when the trade is itself unusual for the account: its first trade in the ticker
// or far larger than its average size there. This is a scoring heuristic and
// carries no evidentiary weight.
type PreMoveRule struct {
	cfg config.PreMoveConfig
}

func (r *PreMoveRule) Name() string { return RulePreMoveTrade }

// spreads below this are treated as zero
const minSpread = 1e-12

type pastTrade struct {
	date time.Time
	size decimal.Decimal
}

// move is the ticker's return over the lookahead window and the distribution of
// earlier returns over windows of the same length
type move struct {
	from, to time.Time
	change   float64
	mean, sd float64
	samples  int
}

func (r *PreMoveRule) Evaluate(ctx context.Context, in Input) (Finding, error) {
	history := make(map[string][]pastTrade)
	moves := make(map[string]struct {
		m  move
		ok bool
	})

	// replay order across all of an account's portfolios, so history only
	// holds earlier trades
	txns := append([]domain.Transaction(nil), in.Warehouse.Transactions...)
	warehouse.SortForReplay(txns)

	var out Finding
	for _, t := range txns {
		if err := ctx.Err(); err != nil {
			return Finding{}, err
		}
		key := in.Warehouse.AccountOf(t.PortfolioID) + "|" + t.Symbol
		prior := history[key]
		history[key] = append(prior, pastTrade{date: t.Date, size: t.Quantity.Abs()})
		if !in.Horizon.Contains(t.Date) {
			continue
		}

		why, unusual := r.unusualSize(in.Book, t, prior)
		if !unusual {
			continue
		}

		// the move is measured from the first bar on or after the trade
		i := in.Book.IndexOnOrBefore(t.Symbol, t.Date)
		if bars := in.Book.Bars(t.Symbol); i < 0 || !bars[i].Date.Equal(t.Date) {
			i++
		}
		mk := t.Symbol + "|" + strconv.Itoa(i)
		cached, seen := moves[mk]
		if !seen {
			cached.m, cached.ok = r.lookahead(in.Book, t.Symbol, i)
			moves[mk] = cached
		}
		if !cached.ok {
			continue
		}
		if f, ok := r.judge(t, cached.m, why); ok {
			out.Flags = append(out.Flags, f)
		}
	}
	return out, nil
}

// unusualSize reports whether t is the account's first trade in the ticker or at
// least SizeMultiple times its mean earlier size. Earlier sizes are restated in
// post-split shares as of t.
func (r *PreMoveRule) unusualSize(b *pricing.Book, t domain.Transaction, prior []pastTrade) (string, bool) {
	if len(prior) == 0 {
		return "first trade in ticker", true
	}
	sum := decimal.Zero
	for _, p := range prior {
		sum = sum.Add(p.size.Mul(b.SplitFactor(t.Symbol, p.date, t.Date)))
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(prior))))
	if !mean.IsPositive() {
		return "first trade in ticker", true
	}
	multiple, _ := t.Quantity.Abs().Div(mean).Float64()
	if multiple < r.cfg.SizeMultiple {
		return "", false
	}
	return fmt.Sprintf("size %.1fx the account's average", multiple), true
}

// lookahead measures the return from bar i to LookaheadBars bars later
func (r *PreMoveRule) lookahead(b *pricing.Book, sym string, i int) (move, bool) {
	n := r.cfg.LookaheadBars
	bars := b.Bars(sym)
	if i < 0 || i+n >= len(bars) {
		return move{}, false
	}
	change, ok := b.Return(sym, i, i+n)
	if !ok {
		return move{}, false
	}
	m := move{from: bars[i].Date, to: bars[i+n].Date, change: change}

	var past []float64
	for k := n; k <= i; k++ {
		if ret, ok := b.Return(sym, k-n, k); ok {
			past = append(past, ret)
		}
	}
	m.samples = len(past)
	if len(past) >= 2 {
		m.mean, m.sd = stat.MeanStdDev(past, nil)
	}
	return m, true
}

func (r *PreMoveRule) judge(t domain.Transaction, m move, why string) (domain.AnomalyFlag, bool) {
	if r.cfg.RequireProfitable {
		if t.Side() == domain.SideBuy && m.change <= 0 {
			return domain.AnomalyFlag{}, false
		}
		if t.Side() == domain.SideSell && m.change >= 0 {
			return domain.AnomalyFlag{}, false
		}
	}

	score := math.Abs(m.change) / r.cfg.MoveThreshold
	if m.samples >= r.cfg.MinMoveSamples && m.sd > minSpread {
		score = math.Max(score, math.Abs(m.change-m.mean)/(r.cfg.SigmaMultiple*m.sd))
	}
	if score < 1 {
		return domain.AnomalyFlag{}, false
	}

	f := newFlag(RulePreMoveTrade, domain.SubjectTransaction, t.TransactionID, score)
	f.Symbol = t.Symbol
	f.Side = t.Side()
	f.Date = t.Date
	f.WindowStart = m.from
	f.WindowEnd = m.to
	f.Detail = fmt.Sprintf("%s; price moved %+.1f%% over the next %d bars",
		why, 100*m.change, r.cfg.LookaheadBars)
	return f, true
}
