package anomaly

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// LiquidityRule flags accounts whose holding in a ticker at the end of the horizon
// is more than Multiple times the ticker's trailing average daily volume.
// Holdings are summed over all of the account's portfolios.
type LiquidityRule struct {
	cfg config.LiquidityConfig
}

func (r *LiquidityRule) Name() string { return RuleOutsizedHolding }

func (r *LiquidityRule) Evaluate(ctx context.Context, in Input) (Finding, error) {
	held := make(map[string]map[string]decimal.Decimal)
	for _, s := range in.Valuation.Series {
		_, st, ok := s.Last()
		if !ok {
			continue
		}
		acc := held[s.AccountID]
		if acc == nil {
			acc = make(map[string]decimal.Decimal)
			held[s.AccountID] = acc
		}
		for sym, q := range st.Holdings {
			acc[sym] = acc[sym].Add(q)
		}
	}

	var out Finding
	zeroVolume := make(map[string]bool)
	for _, id := range sortedKeys(held) {
		if err := ctx.Err(); err != nil {
			return Finding{}, err
		}
		for _, sym := range sortedKeys(held[id]) {
			qty := held[id][sym].Abs()
			if qty.IsZero() {
				continue
			}
			avg, n, ok := in.Book.AverageVolume(sym, in.Horizon.End, r.cfg.VolumeWindowBars)
			if !ok {
				continue
			}
			if avg == 0 {
				if !zeroVolume[sym] {
					zeroVolume[sym] = true
					out.Diagnostics = append(out.Diagnostics,
						apperrors.NewComputationError(apperrors.CodeZeroVolume, "no traded volume in window").
							WithContext("ticker", sym).
							WithContext("bars", n))
				}
				continue
			}

			q, _ := qty.Float64()
			multiple := q / avg
			if multiple <= r.cfg.Multiple {
				continue
			}
			f := newFlag(RuleOutsizedHolding, domain.SubjectAccount, id, ratio(multiple, r.cfg.Multiple))
			f.Symbol = sym
			f.Date = in.Horizon.End
			f.WindowStart = in.Horizon.Start
			f.WindowEnd = in.Horizon.End
			f.Detail = fmt.Sprintf("holding %s is %.1fx the %d-bar average daily volume %.0f",
				qty.String(), multiple, n, avg)
			out.Flags = append(out.Flags, f)
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
