package metrics

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
)

// Inputs is what a KPI sees of one portfolio
type Inputs struct {
	PortfolioID string
	Points      []Point
	Growth      Measure
	// VolatilityDaily is annualized
	VolatilityDaily   Measure
	VolatilityMonthly Measure
}

// KPI is a pluggable portfolio statistic computed alongside the built-in ones
type KPI interface {
	Name() string
	Compute(in Inputs) Measure
}

// KPIFunc adapts a function to the KPI interface
type KPIFunc struct {
	ID string
	Fn func(in Inputs) Measure
}

func (k KPIFunc) Name() string              { return k.ID }
func (k KPIFunc) Compute(in Inputs) Measure { return k.Fn(in) }

var (
	kpiMu    sync.RWMutex
	kpiIndex = map[string]KPI{}
)

// RegisterKPI makes a KPI selectable by name from configuration
func RegisterKPI(k KPI) {
	kpiMu.Lock()
	defer kpiMu.Unlock()
	kpiIndex[k.Name()] = k
}

// LookupKPIs resolves KPI names, failing on the first unknown one
func LookupKPIs(names []string) ([]KPI, error) {
	kpiMu.RLock()
	defer kpiMu.RUnlock()
	out := make([]KPI, 0, len(names))
	for _, n := range names {
		k, ok := kpiIndex[n]
		if !ok {
			return nil, apperrors.NewConfigError(fmt.Sprintf("unknown KPI %q (known: %v)", n, kpiNames()), nil)
		}
		out = append(out, k)
	}
	return out, nil
}

func kpiNames() []string {
	names := make([]string, 0, len(kpiIndex))
	for n := range kpiIndex {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RiskAdjustedReturn is growth divided by annualized daily volatility
var RiskAdjustedReturn = KPIFunc{
	ID: "risk_adjusted_return",
	Fn: func(in Inputs) Measure {
		if !in.Growth.Defined() {
			return in.Growth
		}
		if !in.VolatilityDaily.Defined() {
			return in.VolatilityDaily
		}
		if in.VolatilityDaily.Value == 0 {
			return undefined(apperrors.CodeZeroVolatility)
		}
		return value(in.Growth.Value / in.VolatilityDaily.Value)
	},
}

// MaxDrawdownKPI is the largest peak-to-trough decline over the horizon
var MaxDrawdownKPI = KPIFunc{
	ID: "max_drawdown",
	Fn: func(in Inputs) Measure { return MaxDrawdown(in.Points) },
}

func init() {
	RegisterKPI(RiskAdjustedReturn)
	RegisterKPI(MaxDrawdownKPI)
}
