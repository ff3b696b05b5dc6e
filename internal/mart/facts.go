package mart

import (
	"github.com/RyanSy/PortfolioAnalysis/internal/warehouse"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Facts returns the canonical warehouse tables, keyed by natural key, in
// dependency order. They are append-only in storage.
func Facts(wh *warehouse.Warehouse) []*Table {
	accounts := NewTable(string(domain.KindAccount), []Column{
		{"account_id", Text},
		{"classification", Text},
	}, "account_id")
	for _, a := range wh.Accounts {
		accounts.Append(a.AccountID, string(a.Classification))
	}

	portfolios := NewTable(string(domain.KindPortfolio), []Column{
		{"portfolio_id", Text},
		{"account_id", Text},
	}, "portfolio_id")
	for _, p := range wh.Portfolios {
		portfolios.Append(p.PortfolioID, p.AccountID)
	}

	tickers := NewTable(string(domain.KindTicker), []Column{
		{"ticker_symbol", Text},
		{"name", Text},
		{"sector", Text},
	}, "ticker_symbol")
	for _, t := range wh.Tickers {
		tickers.Append(t.Symbol, t.Name, t.Sector)
	}

	bars := NewTable(string(domain.KindPriceBar), []Column{
		{"ticker_symbol", Text},
		{"date", Date},
		{"close_price", Numeric},
		{"volume", Numeric},
	}, "ticker_symbol", "date")
	for _, b := range wh.Bars {
		bars.Append(b.Symbol, b.Date, b.Close, b.Volume)
	}

	txns := NewTable(string(domain.KindTransaction), []Column{
		{"portfolio_id", Text},
		{"ticker_symbol", Text},
		{"date", Date},
		{"sequence_no", Integer},
		{"transaction_id", Text},
		{"quantity", Numeric},
		{"price", Numeric},
	}, "portfolio_id", "ticker_symbol", "date", "sequence_no")
	for _, t := range wh.Transactions {
		txns.Append(t.PortfolioID, t.Symbol, t.Date, t.SequenceNo, t.TransactionID, t.Quantity, t.Price)
	}

	actions := NewTable(string(domain.KindCorporateAction), []Column{
		{"ticker_symbol", Text},
		{"date", Date},
		{"action", Text},
		{"value", Numeric},
	}, "ticker_symbol", "date", "action")
	for _, a := range wh.Actions {
		actions.Append(a.Symbol, a.Date, string(a.Action), a.Value)
	}

	out := []*Table{accounts, portfolios, tickers, bars, txns, actions}
	for _, t := range out {
		t.Sort()
	}
	return out
}
