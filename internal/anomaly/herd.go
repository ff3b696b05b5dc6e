package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// HerdRule flags (ticker, date, side) groups traded by far more distinct accounts
// than the ticker's baseline for that side. The baseline is the distinct-account
// count on each of the preceding trading days, zero days included.
type HerdRule struct {
	cfg config.HerdConfig
}

func (r *HerdRule) Name() string { return RuleHerdTrading }

type herdKey struct {
	symbol string
	side   domain.Side
}

func (r *HerdRule) Evaluate(ctx context.Context, in Input) (Finding, error) {
	accounts := make(map[herdKey]map[time.Time]map[string]bool)
	for _, t := range in.Warehouse.Transactions {
		k := herdKey{t.Symbol, t.Side()}
		byDay := accounts[k]
		if byDay == nil {
			byDay = make(map[time.Time]map[string]bool)
			accounts[k] = byDay
		}
		set := byDay[t.Date]
		if set == nil {
			set = make(map[string]bool)
			byDay[t.Date] = set
		}
		set[in.Warehouse.AccountOf(t.PortfolioID)] = true
	}

	var out Finding
	for k, byDay := range accounts {
		if err := ctx.Err(); err != nil {
			return Finding{}, err
		}
		for d, set := range byDay {
			if !in.Horizon.Contains(d) || len(set) < r.cfg.MinAccounts {
				continue
			}
			days := r.baselineDays(in, d)
			counts := make([]float64, len(days))
			for i, bd := range days {
				counts[i] = float64(len(byDay[bd]))
			}
			if f, ok := r.judge(k, d, len(set), counts, days); ok {
				out.Flags = append(out.Flags, f)
			}
		}
	}
	return out, nil
}

// baselineDays returns the trading days before d, most recent last
func (r *HerdRule) baselineDays(in Input, d time.Time) []time.Time {
	days := make([]time.Time, 0, r.cfg.BaselineDays)
	// bounded so a calendar without trading days cannot loop forever
	limit := 4*r.cfg.BaselineDays + 14
	cur := d
	for tries := 0; len(days) < r.cfg.BaselineDays && tries < limit; tries++ {
		cur = cur.AddDate(0, 0, -1)
		if in.Calendar.IsTradingDay(cur) {
			days = append(days, cur)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

func (r *HerdRule) judge(k herdKey, d time.Time, count int, baseline []float64, days []time.Time) (domain.AnomalyFlag, bool) {
	var mean, sd float64
	if len(baseline) > 1 {
		mean, sd = stat.MeanStdDev(baseline, nil)
	} else if len(baseline) == 1 {
		mean = baseline[0]
	}

	statistical := mean + r.cfg.SigmaMultiple*sd
	multiple := r.cfg.BaselineMultiple * mean
	c := float64(count)
	if c <= statistical || c < multiple {
		return domain.AnomalyFlag{}, false
	}

	threshold := math.Max(float64(r.cfg.MinAccounts), math.Max(statistical, multiple))
	f := newFlag(RuleHerdTrading, domain.SubjectTicker, k.symbol, ratio(c, threshold))
	f.Symbol = k.symbol
	f.Side = k.side
	f.Date = d
	if len(days) > 0 {
		f.WindowStart = days[0]
		f.WindowEnd = days[len(days)-1]
	}
	f.Detail = fmt.Sprintf("%d distinct accounts %s on one day; baseline mean %.2f sd %.2f over %d trading days",
		count, verb(k.side), mean, sd, len(baseline))
	return f, true
}

func verb(s domain.Side) string {
	if s == domain.SideSell {
		return "sold"
	}
	return "bought"
}
