package metrics

import (
	"sort"

	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

type rankGroup struct {
	kind   domain.SubjectKind
	metric string
	period string
}

// Rank numbers the defined records of every (subject kind, metric, period) group
// from 1, highest value first, ties by subject id ascending, and marks the
// best n records Top and the worst n Bottom. The bottom set orders ascending with the
// same tie rule, so a tie at the boundary keeps the lower id. Undefined records
// keep rank 0. records is modified in place.
func Rank(records []domain.MetricRecord, n int) {
	n = max(n, 0)
	groups := make(map[rankGroup][]int)
	for i, r := range records {
		records[i].Rank, records[i].Top, records[i].Bottom = 0, false, false
		if !r.Defined {
			continue
		}
		g := rankGroup{r.SubjectKind, r.Metric, r.Period}
		groups[g] = append(groups[g], i)
	}
	for _, idx := range groups {
		sort.Slice(idx, func(a, b int) bool {
			return descending(records[idx[a]], records[idx[b]])
		})
		for pos, i := range idx {
			records[i].Rank = pos + 1
			records[i].Top = pos < n
		}
		sort.Slice(idx, func(a, b int) bool {
			return ascending(records[idx[a]], records[idx[b]])
		})
		for _, i := range idx[:min(n, len(idx))] {
			records[i].Bottom = true
		}
	}
}

func descending(a, b domain.MetricRecord) bool {
	if a.Value != b.Value {
		return a.Value > b.Value
	}
	return a.SubjectID < b.SubjectID
}

func ascending(a, b domain.MetricRecord) bool {
	if a.Value != b.Value {
		return a.Value < b.Value
	}
	return a.SubjectID < b.SubjectID
}

// SortRecords orders records by subject kind, subject id, metric and period
func SortRecords(records []domain.MetricRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.SubjectKind != b.SubjectKind {
			return a.SubjectKind < b.SubjectKind
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.Period < b.Period
	})
}
