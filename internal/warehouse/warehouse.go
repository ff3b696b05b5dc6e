package warehouse

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Warehouse holds the canonical fact tables, each sorted by natural key.
// It is read-only once built.
type Warehouse struct {
	Accounts     []domain.Account
	Portfolios   []domain.Portfolio
	Tickers      []domain.Ticker
	Bars         []domain.PriceBar
	Transactions []domain.Transaction
	Actions      []domain.CorporateAction

	accountByID   map[string]domain.Account
	portfolioByID map[string]domain.Portfolio
	tickerBySym   map[string]domain.Ticker
	stats         Stats
}

// Count returns the number of rows in a kind's table
func (w *Warehouse) Count(kind domain.EntityKind) int {
	switch kind {
	case domain.KindAccount:
		return len(w.Accounts)
	case domain.KindPortfolio:
		return len(w.Portfolios)
	case domain.KindTicker:
		return len(w.Tickers)
	case domain.KindPriceBar:
		return len(w.Bars)
	case domain.KindTransaction:
		return len(w.Transactions)
	case domain.KindCorporateAction:
		return len(w.Actions)
	}
	return 0
}

// Account looks up an account by id
func (w *Warehouse) Account(id string) (domain.Account, bool) {
	a, ok := w.accountByID[id]
	return a, ok
}

// Portfolio looks up a portfolio by id
func (w *Warehouse) Portfolio(id string) (domain.Portfolio, bool) {
	p, ok := w.portfolioByID[id]
	return p, ok
}

// Ticker looks up a ticker by symbol
func (w *Warehouse) Ticker(symbol string) (domain.Ticker, bool) {
	t, ok := w.tickerBySym[symbol]
	return t, ok
}

// AccountOf returns the account owning a portfolio, or "" when unknown
func (w *Warehouse) AccountOf(portfolioID string) string {
	return w.portfolioByID[portfolioID].AccountID
}

// TransactionsByPortfolio groups transactions per portfolio in replay order:
// date, then sequence number, then transaction id.
func (w *Warehouse) TransactionsByPortfolio() map[string][]domain.Transaction {
	out := make(map[string][]domain.Transaction, len(w.Portfolios))
	for _, p := range w.Portfolios {
		out[p.PortfolioID] = nil
	}
	for _, t := range w.Transactions {
		out[t.PortfolioID] = append(out[t.PortfolioID], t)
	}
	for _, txns := range out {
		SortForReplay(txns)
	}
	return out
}

// SortForReplay orders transactions by date, sequence number and transaction id
func SortForReplay(txns []domain.Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		a, b := txns[i], txns[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.SequenceNo != b.SequenceNo {
			return a.SequenceNo < b.SequenceNo
		}
		return a.TransactionID < b.TransactionID
	})
}

// index builds the lookup maps; called once after the tables are final
func (w *Warehouse) index() {
	w.accountByID = make(map[string]domain.Account, len(w.Accounts))
	for _, a := range w.Accounts {
		w.accountByID[a.AccountID] = a
	}
	w.portfolioByID = make(map[string]domain.Portfolio, len(w.Portfolios))
	for _, p := range w.Portfolios {
		w.portfolioByID[p.PortfolioID] = p
	}
	w.tickerBySym = make(map[string]domain.Ticker, len(w.Tickers))
	for _, t := range w.Tickers {
		w.tickerBySym[t.Symbol] = t
	}
}

// CheckIntegrity verifies every foreign key of the fact tables resolves
func (w *Warehouse) CheckIntegrity() error {
	for _, p := range w.Portfolios {
		if _, ok := w.accountByID[p.AccountID]; !ok {
			return apperrors.NewReferentialIntegrityError("account", p.AccountID).
				WithContext("portfolio_id", p.PortfolioID)
		}
	}
	for _, b := range w.Bars {
		if _, ok := w.tickerBySym[b.Symbol]; !ok {
			return apperrors.NewReferentialIntegrityError("ticker", b.Symbol).
				WithContext("table", string(domain.KindPriceBar))
		}
	}
	for _, t := range w.Transactions {
		if _, ok := w.portfolioByID[t.PortfolioID]; !ok {
			return apperrors.NewReferentialIntegrityError("portfolio", t.PortfolioID).
				WithContext("transaction_id", t.TransactionID)
		}
		if _, ok := w.tickerBySym[t.Symbol]; !ok {
			return apperrors.NewReferentialIntegrityError("ticker", t.Symbol).
				WithContext("transaction_id", t.TransactionID)
		}
	}
	for _, a := range w.Actions {
		if _, ok := w.tickerBySym[a.Symbol]; !ok {
			return apperrors.NewReferentialIntegrityError("ticker", a.Symbol).
				WithContext("table", string(domain.KindCorporateAction))
		}
	}
	return nil
}

// CheckHorizon fails the run when no price bar falls inside the analysis horizon
func (w *Warehouse) CheckHorizon(h domain.Horizon) error {
	for _, b := range w.Bars {
		if h.Contains(b.Date) {
			return nil
		}
	}
	return apperrors.NewFatalIngestionError(
		fmt.Sprintf("horizon %s holds no valid price data", h.Label()), nil).
		WithContext("price_bars", len(w.Bars))
}

// Natural keys. Dates render as YYYY-MM-DD so keys sort chronologically.

func accountKey(a domain.Account) string     { return a.AccountID }
func portfolioKey(p domain.Portfolio) string { return p.PortfolioID }
func tickerKey(t domain.Ticker) string       { return t.Symbol }

func barKey(b domain.PriceBar) string {
	return joinKey(b.Symbol, domain.FormatDate(b.Date))
}

func transactionKey(t domain.Transaction) string {
	return joinKey(t.PortfolioID, t.Symbol, domain.FormatDate(t.Date), strconv.FormatInt(t.SequenceNo, 10))
}

func actionKey(a domain.CorporateAction) string {
	return joinKey(a.Symbol, domain.FormatDate(a.Date), string(a.Action))
}

func joinKey(parts ...string) string {
	return strings.Join(parts, "|")
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
