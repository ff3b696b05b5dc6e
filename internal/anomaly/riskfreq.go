package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// RiskFrequencyRule flags accounts that are both risk-seeking and hyperactive: their
// exposure-weighted average ticker volatility and their trades per month must both
// exceed the configured percentile of all accounts. A dimension with no spread
// across accounts flags nobody. HighRiskQuantile only classifies tickers for the
// exposure share reported in the detail; it does not gate the flag.
type RiskFrequencyRule struct {
	cfg config.RiskFrequencyConfig
}

func (r *RiskFrequencyRule) Name() string { return RuleHighRiskHighFrequency }

type accountActivity struct {
	id string
	// exposure-weighted average annualized volatility of held tickers
	risk float64
	// share of exposure in top-quantile volatility tickers
	highRiskShare float64
	trades        int
	perMonth      float64
}

func (r *RiskFrequencyRule) Evaluate(ctx context.Context, in Input) (Finding, error) {
	highRiskCut, ok := r.highRiskCut(in)
	if !ok {
		return Finding{}, nil
	}

	exposure := r.exposures(in)
	trades := make(map[string]int)
	for _, t := range in.Warehouse.Transactions {
		if in.Horizon.Contains(t.Date) {
			trades[in.Warehouse.AccountOf(t.PortfolioID)]++
		}
	}
	months := float64(monthsSpanned(in.Horizon))

	var acts []accountActivity
	for _, acc := range in.Warehouse.Accounts {
		if err := ctx.Err(); err != nil {
			return Finding{}, err
		}
		a := accountActivity{id: acc.AccountID, trades: trades[acc.AccountID]}
		a.perMonth = float64(a.trades) / months

		var weighted, total, high float64
		held := exposure[acc.AccountID]
		// summed in symbol order so the result is reproducible
		syms := make([]string, 0, len(held))
		for sym := range held {
			syms = append(syms, sym)
		}
		sort.Strings(syms)
		for _, sym := range syms {
			w := held[sym]
			vol := in.Metrics.TickerVolatility[sym]
			if !vol.Defined() || w <= 0 {
				continue
			}
			weighted += w * vol.Value
			total += w
			if vol.Value >= highRiskCut {
				high += w
			}
		}
		if total == 0 {
			continue
		}
		a.risk = weighted / total
		a.highRiskShare = high / total
		acts = append(acts, a)
	}
	if len(acts) == 0 {
		return Finding{}, nil
	}

	riskCut, riskSpread := quantile(acts, r.cfg.RiskPercentile, func(a accountActivity) float64 { return a.risk })
	freqCut, freqSpread := quantile(acts, r.cfg.FrequencyPercentile, func(a accountActivity) float64 { return a.perMonth })
	if !riskSpread || !freqSpread {
		return Finding{}, nil
	}

	var out Finding
	for _, a := range acts {
		if a.trades < r.cfg.MinTrades || a.risk <= riskCut || a.perMonth <= freqCut {
			continue
		}
		score := math.Min(ratio(a.risk, riskCut), ratio(a.perMonth, freqCut))
		f := newFlag(RuleHighRiskHighFrequency, domain.SubjectAccount, a.id, score)
		f.Date = in.Horizon.End
		f.WindowStart = in.Horizon.Start
		f.WindowEnd = in.Horizon.End
		f.Detail = fmt.Sprintf("weighted volatility %.4f (cut %.4f), %.2f trades/month (cut %.2f), %.0f%% of exposure in high-risk tickers",
			a.risk, riskCut, a.perMonth, freqCut, 100*a.highRiskShare)
		out.Flags = append(out.Flags, f)
	}
	return out, nil
}

// highRiskCut is the volatility quantile above which a ticker counts as high risk
func (r *RiskFrequencyRule) highRiskCut(in Input) (float64, bool) {
	var vols []float64
	for _, m := range in.Metrics.TickerVolatility {
		if m.Defined() {
			vols = append(vols, m.Value)
		}
	}
	if len(vols) == 0 {
		return 0, false
	}
	sort.Float64s(vols)
	return stat.Quantile(r.cfg.HighRiskQuantile, stat.Empirical, vols, nil), true
}

// exposures sums each account's daily market value per ticker over the horizon
func (r *RiskFrequencyRule) exposures(in Input) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, s := range in.Valuation.Series {
		acc := out[s.AccountID]
		if acc == nil {
			acc = make(map[string]float64)
			out[s.AccountID] = acc
		}
		for i, pt := range s.Points {
			for sym, qty := range s.HoldingsAt(i) {
				q, ok := in.Book.PriceAt(sym, pt.Date)
				if !ok {
					continue
				}
				v, _ := qty.Abs().Mul(q.Price).Round(8).Float64()
				acc[sym] += v
			}
		}
	}
	return out
}

// quantile returns the p-quantile of the accounts' values and whether they differ at all
func quantile(acts []accountActivity, p float64, get func(accountActivity) float64) (float64, bool) {
	vals := make([]float64, len(acts))
	for i, a := range acts {
		vals[i] = get(a)
	}
	sort.Float64s(vals)
	return stat.Quantile(p, stat.Empirical, vals, nil), vals[len(vals)-1] > vals[0]
}

func monthsSpanned(h domain.Horizon) int {
	return (h.End.Year()-h.Start.Year())*12 + int(h.End.Month()-h.Start.Month()) + 1
}
