package anomaly

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/metrics"
	"github.com/RyanSy/PortfolioAnalysis/internal/pricing"
	"github.com/RyanSy/PortfolioAnalysis/internal/valuation"
	"github.com/RyanSy/PortfolioAnalysis/internal/warehouse"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Rule names
const (
	RuleHerdTrading           = "herd_trading"
	RuleHighRiskHighFrequency = "high_risk_high_frequency"
	RulePreMoveTrade          = "pre_move_trade"
	RuleOutsizedHolding       = "outsized_holding"
)

// Input is everything a rule may read. Rules never modify it.
type Input struct {
	Warehouse *warehouse.Warehouse
	Book      *pricing.Book
	Calendar  *pricing.Calendar
	Valuation *valuation.Result
	Metrics   *metrics.Result
	Horizon   domain.Horizon
}

// Finding is what one rule produced
type Finding struct {
	Flags       []domain.AnomalyFlag
	Diagnostics []*apperrors.AppError
}

// Rule is one independent anomaly heuristic
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (Finding, error)
}

// Result holds the flags of every rule, sorted by rule, subject and date
type Result struct {
	Flags       []domain.AnomalyFlag
	Diagnostics []*apperrors.AppError
}

// Count returns the number of flags raised by a rule
func (r *Result) Count(rule string) int {
	n := 0
	for _, f := range r.Flags {
		if f.Rule == rule {
			n++
		}
	}
	return n
}

// Detector runs anomaly rules concurrently
type Detector struct {
	rules  []Rule
	logger *slog.Logger
}

// NewDetector creates a detector with the four standard rules configured by cfg
func NewDetector(cfg config.AnomalyConfig, logger *slog.Logger) *Detector {
	return NewDetectorWithRules(logger,
		&HerdRule{cfg: cfg.Herd},
		&RiskFrequencyRule{cfg: cfg.RiskFrequency},
		&PreMoveRule{cfg: cfg.PreMove},
		&LiquidityRule{cfg: cfg.Liquidity},
	)
}

// NewDetectorWithRules creates a detector running exactly the given rules
func NewDetectorWithRules(logger *slog.Logger, rules ...Rule) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{rules: rules, logger: logger.With(slog.String("component", "anomaly"))}
}

// Detect evaluates every rule in parallel and merges the flags deterministically
func (d *Detector) Detect(ctx context.Context, in Input) (*Result, error) {
	findings := make([]Finding, len(d.rules))

	g, gctx := errgroup.WithContext(ctx)
	for i, rule := range d.rules {
		i, rule := i, rule
		g.Go(func() error {
			f, err := rule.Evaluate(gctx, in)
			if err != nil {
				return err
			}
			findings[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for i, f := range findings {
		res.Flags = append(res.Flags, f.Flags...)
		res.Diagnostics = append(res.Diagnostics, f.Diagnostics...)
		d.logger.InfoContext(ctx, "rule_evaluated",
			slog.String("rule", d.rules[i].Name()),
			slog.Int("flags", len(f.Flags)))
	}
	SortFlags(res.Flags)
	return res, nil
}

// SortFlags orders flags by rule, subject, ticker, date and side
func SortFlags(flags []domain.AnomalyFlag) {
	sort.Slice(flags, func(i, j int) bool {
		a, b := flags[i], flags[j]
		if c := strings.Compare(a.Rule, b.Rule); c != 0 {
			return c < 0
		}
		if a.SubjectKind != b.SubjectKind {
			return a.SubjectKind < b.SubjectKind
		}
		if c := strings.Compare(a.SubjectID, b.SubjectID); c != 0 {
			return c < 0
		}
		if c := strings.Compare(a.Symbol, b.Symbol); c != 0 {
			return c < 0
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Side < b.Side
	})
}

func newFlag(rule string, kind domain.SubjectKind, id string, score float64) domain.AnomalyFlag {
	return domain.AnomalyFlag{
		Rule:        rule,
		SubjectKind: kind,
		SubjectID:   id,
		Score:       score,
		Severity:    domain.SeverityFor(score),
	}
}

// ratio expresses v as a multiple of a positive threshold
func ratio(v, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	return v / threshold
}
