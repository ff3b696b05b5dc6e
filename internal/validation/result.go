package validation

import "github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"

// Origin locates a row in its source batch
type Origin struct {
	Source string
	Line   int
}

// Record is a typed row that passed validation, with its origin. Index is the
// row's position in its kind's input order.
type Record[T any] struct {
	Origin
	Index int
	Value T
}

// Result holds validated rows per kind, in input order, and every quarantined row
type Result struct {
	Accounts     []Record[domain.Account]
	Portfolios   []Record[domain.Portfolio]
	Tickers      []Record[domain.Ticker]
	Bars         []Record[domain.PriceBar]
	Transactions []Record[domain.Transaction]
	Actions      []Record[domain.CorporateAction]

	Quarantine []domain.QuarantineRecord
	Read       map[domain.EntityKind]int
}

// Validated returns the number of rows of kind that passed validation
func (r *Result) Validated(kind domain.EntityKind) int {
	switch kind {
	case domain.KindAccount:
		return len(r.Accounts)
	case domain.KindPortfolio:
		return len(r.Portfolios)
	case domain.KindTicker:
		return len(r.Tickers)
	case domain.KindPriceBar:
		return len(r.Bars)
	case domain.KindTransaction:
		return len(r.Transactions)
	case domain.KindCorporateAction:
		return len(r.Actions)
	}
	return 0
}

// Quarantined returns the quarantined rows of one kind
func (r *Result) Quarantined(kind domain.EntityKind) []domain.QuarantineRecord {
	var out []domain.QuarantineRecord
	for _, q := range r.Quarantine {
		if q.Kind == kind {
			out = append(out, q)
		}
	}
	return out
}
