package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityKind names a raw input batch and its warehouse table
type EntityKind string

const (
	KindAccount         EntityKind = "accounts"
	KindPortfolio       EntityKind = "portfolios"
	KindTicker          EntityKind = "tickers"
	KindPriceBar        EntityKind = "price_bars"
	KindTransaction     EntityKind = "transactions"
	KindCorporateAction EntityKind = "corporate_actions"
)

// EntityKinds lists every kind in validation (dependency) order
var EntityKinds = []EntityKind{
	KindAccount,
	KindPortfolio,
	KindTicker,
	KindPriceBar,
	KindTransaction,
	KindCorporateAction,
}

// Required reports whether a run is fatal without valid rows of this kind
func (k EntityKind) Required() bool {
	return k != KindCorporateAction
}

// Classification is an account's tax classification
type Classification string

const (
	ClassificationRetirement    Classification = "retirement"
	ClassificationNonRetirement Classification = "non_retirement"
)

// Classifications lists the accepted classification values
var Classifications = []Classification{ClassificationRetirement, ClassificationNonRetirement}

// Account is a brokerage account; it owns one or more portfolios
type Account struct {
	AccountID      string         `json:"account_id" db:"account_id" validate:"required,max=64"`
	Classification Classification `json:"classification" db:"classification" validate:"required,classification"`
}

// Portfolio belongs to exactly one account
type Portfolio struct {
	PortfolioID string `json:"portfolio_id" db:"portfolio_id" validate:"required,max=64"`
	AccountID   string `json:"account_id" db:"account_id" validate:"required,max=64"`
}

// Ticker is reference data for a traded symbol
type Ticker struct {
	Symbol string `json:"ticker_symbol" db:"ticker_symbol" validate:"required,ticker"`
	Name   string `json:"name,omitempty" db:"name" validate:"max=200"`
	Sector string `json:"sector,omitempty" db:"sector" validate:"max=100"`
}

// PriceBar is one trading day's close and traded volume for a ticker
type PriceBar struct {
	Symbol string          `json:"ticker_symbol" db:"ticker_symbol" validate:"required,ticker"`
	Date   time.Time       `json:"date" db:"date" validate:"required"`
	Close  decimal.Decimal `json:"close_price" db:"close_price"`
	Volume decimal.Decimal `json:"volume" db:"volume"`
}

// Side is the direction of a transaction
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Transaction is an immutable buy (positive quantity) or sell (negative quantity)
type Transaction struct {
	TransactionID string          `json:"transaction_id" db:"transaction_id" validate:"required,max=64"`
	PortfolioID   string          `json:"portfolio_id" db:"portfolio_id" validate:"required,max=64"`
	Symbol        string          `json:"ticker_symbol" db:"ticker_symbol" validate:"required,ticker"`
	Date          time.Time       `json:"date" db:"date" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	Price         decimal.Decimal `json:"price" db:"price"`
	SequenceNo    int64           `json:"sequence_no" db:"sequence_no" validate:"gte=0"`
}

// Side derives the direction from the sign of the quantity
func (t Transaction) Side() Side {
	if t.Quantity.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// ActionType is a corporate action kind
type ActionType string

const (
	ActionSplit    ActionType = "split"
	ActionDividend ActionType = "dividend"
)

// CorporateAction adjusts holdings at its effective date. For a split Value is the number
// of new shares per old share; for a dividend it is the cash paid per share.
type CorporateAction struct {
	Symbol string          `json:"ticker_symbol" db:"ticker_symbol" validate:"required,ticker"`
	Date   time.Time       `json:"date" db:"date" validate:"required"`
	Action ActionType      `json:"action" db:"action" validate:"required,oneof=split dividend"`
	Value  decimal.Decimal `json:"value" db:"value"`
}
