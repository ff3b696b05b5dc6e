package validation

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/ingest"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// earliest date any row may carry
var minDate = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Validator types raw rows, checks them and quarantines the ones that fail.
// Isolated bad rows never abort the batch.
type Validator struct {
	validate      *validator.Validate
	ticker        *regexp.Regexp
	minSimilarity float64
	dataEnd       time.Time
	logger        *slog.Logger
}

// New creates a validator. Rows dated after dataEnd are out of range.
func New(cfg config.ValidationConfig, dataEnd time.Time, logger *slog.Logger) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	re, err := regexp.Compile(cfg.TickerPattern)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid ticker pattern", err)
	}

	v := &Validator{
		ticker:        re,
		minSimilarity: cfg.ClassificationMinSimilarity,
		dataEnd:       domain.Day(dataEnd),
		logger:        logger.With(slog.String("component", "validator")),
	}

	v.validate = validator.New()
	v.validate.RegisterValidation("ticker", v.isValidTicker)
	v.validate.RegisterValidation("classification", isClassification)
	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v, nil
}

// isValidTicker validates ticker symbol format against the configured pattern
func (v *Validator) isValidTicker(fl validator.FieldLevel) bool {
	return v.ticker.MatchString(fl.Field().String())
}

func isClassification(fl validator.FieldLevel) bool {
	c := domain.Classification(fl.Field().String())
	return c == domain.ClassificationRetirement || c == domain.ClassificationNonRetirement
}

// Validate checks every batch in dependency order. Foreign keys resolve only against
// rows of the parent kind that already passed. A required kind left without any
// valid row is fatal; the partial result is still returned for reporting.
func (v *Validator) Validate(ctx context.Context, batches *ingest.Batches) (*Result, error) {
	res := &Result{Read: make(map[domain.EntityKind]int, len(domain.EntityKinds))}
	for _, kind := range domain.EntityKinds {
		res.Read[kind] = batches.Count(kind)
	}

	rows := make(map[domain.EntityKind][]ingest.RawRow, len(domain.EntityKinds))
	for _, kind := range domain.EntityKinds {
		rows[kind] = res.quarantineMalformed(kind, batches.Rows[kind])
	}

	accounts := v.validateAccounts(rows[domain.KindAccount], res)
	portfolios := v.validatePortfolios(rows[domain.KindPortfolio], accounts, res)
	tickers := v.validateTickers(rows[domain.KindTicker], res)
	v.validateBars(rows[domain.KindPriceBar], tickers, res)
	v.validateTransactions(rows[domain.KindTransaction], portfolios, tickers, res)
	v.validateActions(rows[domain.KindCorporateAction], tickers, res)

	v.logSummary(ctx, res)

	for _, kind := range domain.EntityKinds {
		if kind.Required() && res.Validated(kind) == 0 {
			return res, apperrors.NewFatalIngestionError(
				fmt.Sprintf("no valid %s rows", kind), nil).
				WithContext("kind", string(kind)).
				WithContext("read", res.Read[kind])
		}
	}
	return res, nil
}

func (v *Validator) validateAccounts(rows []ingest.RawRow, res *Result) map[string]bool {
	valid := make(map[string]bool, len(rows))
	for i, row := range rows {
		acc, issue := v.parseAccount(row)
		if issue != nil {
			res.quarantine(domain.KindAccount, row, row.Get("account_id"), issue)
			continue
		}
		valid[acc.AccountID] = true
		res.Accounts = append(res.Accounts, Record[domain.Account]{Origin: originOf(row), Index: i, Value: acc})
	}
	return valid
}

func (v *Validator) parseAccount(row ingest.RawRow) (domain.Account, *apperrors.AppError) {
	id, issue := required(row, "account_id")
	if issue != nil {
		return domain.Account{}, issue
	}
	raw, issue := required(row, "classification")
	if issue != nil {
		return domain.Account{}, issue
	}

	candidates := make([]string, len(domain.Classifications))
	for i, c := range domain.Classifications {
		candidates[i] = string(c)
	}
	match, score := BestMatch(raw, candidates)
	if score < v.minSimilarity {
		return domain.Account{}, invalid(domain.CodeInvalidValue,
			fmt.Sprintf("classification %q matches no known value (best %q at %.2f)", raw, match, score))
	}

	acc := domain.Account{AccountID: id, Classification: domain.Classification(match)}
	return acc, v.checkStruct(acc)
}

func (v *Validator) validatePortfolios(rows []ingest.RawRow, accounts map[string]bool, res *Result) map[string]bool {
	valid := make(map[string]bool, len(rows))
	for i, row := range rows {
		p := domain.Portfolio{PortfolioID: row.Get("portfolio_id"), AccountID: row.Get("account_id")}
		issue := v.checkStruct(p)
		if issue == nil && !accounts[p.AccountID] {
			issue = unknown("account", p.AccountID, domain.CodeUnknownAccount)
		}
		if issue != nil {
			res.quarantine(domain.KindPortfolio, row, p.PortfolioID, issue)
			continue
		}
		valid[p.PortfolioID] = true
		res.Portfolios = append(res.Portfolios, Record[domain.Portfolio]{Origin: originOf(row), Index: i, Value: p})
	}
	return valid
}

func (v *Validator) validateTickers(rows []ingest.RawRow, res *Result) map[string]bool {
	valid := make(map[string]bool, len(rows))
	for i, row := range rows {
		tk := domain.Ticker{Symbol: row.Get("ticker_symbol"), Name: row.Get("name"), Sector: row.Get("sector")}
		if issue := v.checkStruct(tk); issue != nil {
			res.quarantine(domain.KindTicker, row, tk.Symbol, issue)
			continue
		}
		valid[tk.Symbol] = true
		res.Tickers = append(res.Tickers, Record[domain.Ticker]{Origin: originOf(row), Index: i, Value: tk})
	}
	return valid
}

func (v *Validator) validateBars(rows []ingest.RawRow, tickers map[string]bool, res *Result) {
	for i, row := range rows {
		bar, issue := v.parseBar(row)
		if issue == nil && !tickers[bar.Symbol] {
			issue = unknown("ticker", bar.Symbol, domain.CodeUnknownTicker)
		}
		if issue != nil {
			res.quarantine(domain.KindPriceBar, row, joinKey(row, "ticker_symbol", "date"), issue)
			continue
		}
		res.Bars = append(res.Bars, Record[domain.PriceBar]{Origin: originOf(row), Index: i, Value: bar})
	}
}

func (v *Validator) parseBar(row ingest.RawRow) (domain.PriceBar, *apperrors.AppError) {
	var bar domain.PriceBar
	var issue *apperrors.AppError

	bar.Symbol = row.Get("ticker_symbol")
	if bar.Date, issue = v.parseDate(row, "date"); issue != nil {
		return bar, issue
	}
	if bar.Close, issue = parseDecimal(row, "close_price"); issue != nil {
		return bar, issue
	}
	if bar.Volume, issue = parseDecimal(row, "volume"); issue != nil {
		return bar, issue
	}
	if !bar.Close.IsPositive() {
		return bar, invalid(domain.CodeInvalidValue, "close_price must be positive")
	}
	if bar.Volume.IsNegative() {
		return bar, invalid(domain.CodeInvalidValue, "volume must be non-negative")
	}
	return bar, v.checkStruct(bar)
}

func (v *Validator) validateTransactions(rows []ingest.RawRow, portfolios, tickers map[string]bool, res *Result) {
	for i, row := range rows {
		txn, issue := v.parseTransaction(row)
		if issue == nil && !portfolios[txn.PortfolioID] {
			issue = unknown("portfolio", txn.PortfolioID, domain.CodeUnknownPortfolio)
		}
		if issue == nil && !tickers[txn.Symbol] {
			issue = unknown("ticker", txn.Symbol, domain.CodeUnknownTicker)
		}
		if issue != nil {
			res.quarantine(domain.KindTransaction, row, row.Get("transaction_id"), issue)
			continue
		}
		res.Transactions = append(res.Transactions, Record[domain.Transaction]{Origin: originOf(row), Index: i, Value: txn})
	}
}

func (v *Validator) parseTransaction(row ingest.RawRow) (domain.Transaction, *apperrors.AppError) {
	txn := domain.Transaction{
		TransactionID: row.Get("transaction_id"),
		PortfolioID:   row.Get("portfolio_id"),
		Symbol:        row.Get("ticker_symbol"),
	}
	var issue *apperrors.AppError

	if txn.Date, issue = v.parseDate(row, "date"); issue != nil {
		return txn, issue
	}
	if txn.Quantity, issue = parseDecimal(row, "quantity"); issue != nil {
		return txn, issue
	}
	if txn.Price, issue = parseDecimal(row, "price"); issue != nil {
		return txn, issue
	}
	if txn.SequenceNo, issue = parseInt(row, "sequence_no"); issue != nil {
		return txn, issue
	}
	if txn.Quantity.IsZero() {
		return txn, invalid(domain.CodeInvalidValue, "quantity must be non-zero")
	}
	if !txn.Price.IsPositive() {
		return txn, invalid(domain.CodeInvalidValue, "price must be positive")
	}
	return txn, v.checkStruct(txn)
}

func (v *Validator) validateActions(rows []ingest.RawRow, tickers map[string]bool, res *Result) {
	for i, row := range rows {
		act, issue := v.parseAction(row)
		if issue == nil && !tickers[act.Symbol] {
			issue = unknown("ticker", act.Symbol, domain.CodeUnknownTicker)
		}
		if issue != nil {
			res.quarantine(domain.KindCorporateAction, row, joinKey(row, "ticker_symbol", "date", "action"), issue)
			continue
		}
		res.Actions = append(res.Actions, Record[domain.CorporateAction]{Origin: originOf(row), Index: i, Value: act})
	}
}

func (v *Validator) parseAction(row ingest.RawRow) (domain.CorporateAction, *apperrors.AppError) {
	act := domain.CorporateAction{
		Symbol: row.Get("ticker_symbol"),
		Action: domain.ActionType(row.Get("action")),
	}
	var issue *apperrors.AppError

	if act.Date, issue = v.parseDate(row, "date"); issue != nil {
		return act, issue
	}
	if act.Value, issue = parseDecimal(row, "value"); issue != nil {
		return act, issue
	}
	if issue = v.checkStruct(act); issue != nil {
		return act, issue
	}
	if !act.Value.IsPositive() {
		return act, invalid(domain.CodeInvalidValue, fmt.Sprintf("%s value must be positive", act.Action))
	}
	return act, nil
}

// parseDate parses a required date and checks it against the dataset range
func (v *Validator) parseDate(row ingest.RawRow, col string) (time.Time, *apperrors.AppError) {
	raw, issue := required(row, col)
	if issue != nil {
		return time.Time{}, issue
	}
	d, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, invalid(domain.CodeInvalidFormat, fmt.Sprintf("%s: %v", col, err))
	}
	if d.Before(minDate) || d.After(v.dataEnd) {
		return time.Time{}, invalid(domain.CodeDateOutOfRange,
			fmt.Sprintf("%s %s outside %s..%s", col, domain.FormatDate(d), domain.FormatDate(minDate), domain.FormatDate(v.dataEnd)))
	}
	return d, nil
}

// checkStruct runs struct-tag validation and maps the first failure to a quarantine code
func (v *Validator) checkStruct(s interface{}) *apperrors.AppError {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return invalid(domain.CodeInvalidValue, err.Error())
	}
	fe := fieldErrs[0]
	return invalid(codeForTag(fe.Tag()), formatValidationError(fe))
}

func codeForTag(tag string) string {
	switch tag {
	case "required":
		return domain.CodeMissingField
	case "ticker":
		return domain.CodeInvalidFormat
	default:
		return domain.CodeInvalidValue
	}
}

// formatValidationError formats validation error messages
func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "ticker":
		return fmt.Sprintf("%s %q must be a valid ticker symbol", field, err.Value())
	case "classification":
		return fmt.Sprintf("%s must be retirement or non_retirement", field)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

func (v *Validator) logSummary(ctx context.Context, res *Result) {
	for _, kind := range domain.EntityKinds {
		q := res.Quarantined(kind)
		if len(q) == 0 {
			continue
		}
		byCode := make(map[string]int)
		for _, r := range q {
			byCode[r.Code]++
		}
		codes := make([]string, 0, len(byCode))
		for c := range byCode {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		attrs := []any{
			slog.String("kind", string(kind)),
			slog.Int("read", res.Read[kind]),
			slog.Int("quarantined", len(q)),
		}
		for _, c := range codes {
			attrs = append(attrs, slog.Int(c, byCode[c]))
		}
		v.logger.WarnContext(ctx, "rows_quarantined", attrs...)
	}
}

func (r *Result) quarantine(kind domain.EntityKind, row ingest.RawRow, key string, issue *apperrors.AppError) {
	r.Quarantine = append(r.Quarantine, domain.QuarantineRecord{
		Kind:   kind,
		Source: row.Source,
		Line:   row.Line,
		Key:    key,
		Reason: string(issue.Type),
		Code:   apperrors.CodeOf(issue),
		Detail: issue.Message,
	})
}

// quarantineMalformed quarantines records the reader could not parse and returns the rest
func (r *Result) quarantineMalformed(kind domain.EntityKind, rows []ingest.RawRow) []ingest.RawRow {
	kept := rows[:0:0]
	for _, row := range rows {
		if row.Malformed == "" {
			kept = append(kept, row)
			continue
		}
		r.quarantine(kind, row, "", invalid(domain.CodeInvalidFormat, "malformed record: "+row.Malformed))
	}
	return kept
}

func originOf(row ingest.RawRow) Origin {
	return Origin{Source: row.Source, Line: row.Line}
}

func joinKey(row ingest.RawRow, cols ...string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = row.Get(c)
	}
	return strings.Join(parts, "|")
}

func invalid(code, detail string) *apperrors.AppError {
	return apperrors.NewValidationError(detail).WithContext("code", code)
}

func unknown(entity, id, code string) *apperrors.AppError {
	return apperrors.NewReferentialIntegrityError(entity, id).WithContext("code", code)
}
