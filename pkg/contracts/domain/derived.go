package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a running quantity of a ticker held by a portfolio as of a date
type Holding struct {
	PortfolioID string          `json:"portfolio_id"`
	Symbol      string          `json:"ticker_symbol"`
	Date        time.Time       `json:"date"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// Valuation is the market value of a portfolio on one calendar date.
// Value is invalid when Stale is set: at least one held ticker had no price on or before Date.
type Valuation struct {
	PortfolioID    string              `json:"portfolio_id"`
	Date           time.Time           `json:"date"`
	Value          decimal.NullDecimal `json:"value"`
	DividendCash   decimal.Decimal     `json:"dividend_cash"`
	Stale          bool                `json:"stale"`
	ForwardFilled  bool                `json:"forward_filled"`
	MissingTickers []string            `json:"missing_tickers,omitempty"`
}

// SubjectKind names what a metric or flag describes
type SubjectKind string

const (
	SubjectAccount     SubjectKind = "account"
	SubjectPortfolio   SubjectKind = "portfolio"
	SubjectTicker      SubjectKind = "ticker"
	SubjectTransaction SubjectKind = "transaction"
)

// MetricRecord is one derived scalar. Undefined values keep Defined false and carry the
// computation error code in Reason; they are never reported as zero.
type MetricRecord struct {
	SubjectKind SubjectKind `json:"subject_kind"`
	SubjectID   string      `json:"subject_id"`
	Metric      string      `json:"metric"`
	Period      string      `json:"period"`
	Value       float64     `json:"value"`
	Defined     bool        `json:"defined"`
	Reason      string      `json:"reason,omitempty"`
	Rank        int         `json:"rank,omitempty"`
	Top         bool        `json:"top,omitempty"`
	Bottom      bool        `json:"bottom,omitempty"`
}

// Severity grades an anomaly flag
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor grades a score expressed as a multiple of the rule threshold
func SeverityFor(score float64) Severity {
	switch {
	case score >= 3:
		return SeverityHigh
	case score >= 1.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AnomalyFlag is a heuristic finding; it is created once and never mutated
type AnomalyFlag struct {
	Rule        string      `json:"rule"`
	SubjectKind SubjectKind `json:"subject_kind"`
	SubjectID   string      `json:"subject_id"`
	Symbol      string      `json:"ticker_symbol,omitempty"`
	Side        Side        `json:"side,omitempty"`
	Date        time.Time   `json:"date"`
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
	Score       float64     `json:"score"`
	Severity    Severity    `json:"severity"`
	Detail      string      `json:"detail"`
}

// QuarantineRecord is an input row excluded from the warehouse
type QuarantineRecord struct {
	Kind   EntityKind `json:"kind"`
	Source string     `json:"source"`
	Line   int        `json:"line"`
	Key    string     `json:"key"`
	Reason string     `json:"reason"`
	Code   string     `json:"code"`
	Detail string     `json:"detail"`
}

// Quarantine codes
const (
	CodeMissingField         = "missing_field"
	CodeInvalidFormat        = "invalid_format"
	CodeInvalidValue         = "invalid_value"
	CodeDateOutOfRange       = "date_out_of_range"
	CodeUnknownAccount       = "unknown_account"
	CodeUnknownPortfolio     = "unknown_portfolio"
	CodeUnknownTicker        = "unknown_ticker"
	CodeConflictingDuplicate = "conflicting_duplicate"
)
