package metrics

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Measure is a metric value that may be undefined. Code carries the computation
// error code when it is.
type Measure struct {
	Value float64
	Code  string
}

// Defined reports whether the measure has a value
func (m Measure) Defined() bool { return m.Code == "" }

func value(v float64) Measure      { return Measure{Value: v} }
func undefined(code string) Measure { return Measure{Code: code} }

// Point is one non-stale valuation used for statistics
type Point struct {
	Date  time.Time
	Value float64
}

// Growth is (last - first) / first over the points
func Growth(points []Point) Measure {
	if len(points) == 0 {
		return undefined(apperrors.CodeInsufficientData)
	}
	return change(points[0].Value, points[len(points)-1].Value)
}

func change(from, to float64) Measure {
	if from == 0 {
		return undefined(apperrors.CodeZeroBase)
	}
	return value((to - from) / from)
}

// Returns are the period-over-period percentage changes between consecutive
// points. Pairs starting from a zero value have no defined return and are skipped.
func Returns(points []Point) []float64 {
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		if points[i-1].Value == 0 {
			continue
		}
		out = append(out, points[i].Value/points[i-1].Value-1)
	}
	return out
}

// Volatility is the sample standard deviation of returns
func Volatility(returns []float64) Measure {
	if len(returns) < 2 {
		return undefined(apperrors.CodeInsufficientData)
	}
	return value(stat.StdDev(returns, nil))
}

// Annualize scales a periodic volatility by the square root of periods per year
func Annualize(m Measure, periodsPerYear int) Measure {
	if !m.Defined() {
		return m
	}
	return value(m.Value * math.Sqrt(float64(periodsPerYear)))
}

// Consistency is 1 / (1 + monthly volatility); steadier series score closer to 1
func Consistency(monthlyVol Measure) Measure {
	if !monthlyVol.Defined() {
		return monthlyVol
	}
	return value(1 / (1 + monthlyVol.Value))
}

// MonthEnds returns the last point of each month present, in order
func MonthEnds(points []Point) []Point {
	var out []Point
	for i, p := range points {
		if i+1 < len(points) && domain.MonthKey(points[i+1].Date) == domain.MonthKey(p.Date) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// MonthlyChange is one month's change from the previous month end, or from the
// first point of the series for the first month.
type MonthlyChange struct {
	Month  string
	Change Measure
}

// MonthlyChanges computes month-over-month changes
func MonthlyChanges(points []Point) []MonthlyChange {
	ends := MonthEnds(points)
	if len(ends) == 0 {
		return nil
	}
	out := make([]MonthlyChange, 0, len(ends))
	base := points[0].Value
	for _, e := range ends {
		out = append(out, MonthlyChange{Month: domain.MonthKey(e.Date), Change: change(base, e.Value)})
		base = e.Value
	}
	return out
}

// definedValues returns the values of the defined monthly changes
func definedValues(changes []MonthlyChange) []float64 {
	out := make([]float64, 0, len(changes))
	for _, c := range changes {
		if c.Change.Defined() {
			out = append(out, c.Change.Value)
		}
	}
	return out
}

// spreads below this are treated as zero
const degenerateSpread = 1e-12

// SwingRule flags months whose change is extreme for the series. Each month is
// compared with the other months: with enough samples and a non-degenerate spread
// among them it is extreme beyond SigmaMultiple standard deviations of their mean;
// otherwise beyond the absolute fallback. Leaving the month out keeps a single
// outlier from inflating its own baseline on short horizons.
type SwingRule struct {
	SigmaMultiple    float64
	AbsoluteFallback float64
	MinSamples       int
}

// ExtremeSwings returns the changes the rule flags
func (r SwingRule) ExtremeSwings(changes []MonthlyChange) []MonthlyChange {
	vals := definedValues(changes)
	statistical := len(vals) >= r.MinSamples && len(vals) >= 3
	others := make([]float64, 0, len(vals))

	var out []MonthlyChange
	k := 0
	for _, c := range changes {
		if !c.Change.Defined() {
			continue
		}
		v := c.Change.Value
		self := k
		k++

		if statistical {
			others = append(others[:0], vals[:self]...)
			others = append(others, vals[self+1:]...)
			mean, sd := stat.MeanStdDev(others, nil)
			if sd > degenerateSpread {
				if math.Abs(v-mean) > r.SigmaMultiple*sd {
					out = append(out, c)
				}
				continue
			}
		}
		if math.Abs(v) > r.AbsoluteFallback {
			out = append(out, c)
		}
	}
	return out
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction of the peak
func MaxDrawdown(points []Point) Measure {
	if len(points) == 0 {
		return undefined(apperrors.CodeInsufficientData)
	}
	peak, worst := 0.0, 0.0
	for _, p := range points {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (peak - p.Value) / peak; dd > worst {
				worst = dd
			}
		}
	}
	if peak == 0 {
		return undefined(apperrors.CodeZeroBase)
	}
	return value(worst)
}
