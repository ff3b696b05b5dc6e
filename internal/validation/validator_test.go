package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/ingest"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

var testDataEnd = time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(config.Default().Validation, testDataEnd, nil)
	require.NoError(t, err)
	return v
}

func addRows(b *ingest.Batches, kind domain.EntityKind, records ...map[string]string) {
	for i, fields := range records {
		b.Add(kind, ingest.RawRow{Source: string(kind) + ".csv", Line: i + 2, Fields: fields})
	}
}

// baseBatches returns a minimal valid data set
func baseBatches() *ingest.Batches {
	b := ingest.NewBatches()
	addRows(b, domain.KindAccount,
		map[string]string{"account_id": "a1", "classification": "retirement"},
		map[string]string{"account_id": "a2", "classification": "non-retirement"},
	)
	addRows(b, domain.KindPortfolio,
		map[string]string{"portfolio_id": "p1", "account_id": "a1"},
		map[string]string{"portfolio_id": "p2", "account_id": "a2"},
	)
	addRows(b, domain.KindTicker,
		map[string]string{"ticker_symbol": "abc", "name": "Alpha", "sector": "Tech"},
	)
	addRows(b, domain.KindPriceBar,
		map[string]string{"ticker_symbol": "abc", "date": "2024-01-02", "close_price": "10.50", "volume": "1,000"},
	)
	addRows(b, domain.KindTransaction,
		map[string]string{"transaction_id": "t1", "portfolio_id": "p1", "ticker_symbol": "abc",
			"date": "2024-01-02", "quantity": "10", "price": "10.25", "sequence_no": "1"},
	)
	return b
}

func TestValidate_AllValid(t *testing.T) {
	v := newTestValidator(t)

	res, err := v.Validate(context.Background(), baseBatches())
	require.NoError(t, err)

	assert.Empty(t, res.Quarantine)
	require.Len(t, res.Accounts, 2)
	assert.Equal(t, domain.ClassificationNonRetirement, res.Accounts[1].Value.Classification)
	assert.Equal(t, "accounts.csv", res.Accounts[1].Source)
	assert.Equal(t, 3, res.Accounts[1].Line)

	require.Len(t, res.Bars, 1)
	assert.Equal(t, "1000", res.Bars[0].Value.Volume.String())
	assert.Equal(t, "10.5", res.Bars[0].Value.Close.String())

	require.Len(t, res.Transactions, 1)
	txn := res.Transactions[0].Value
	assert.Equal(t, int64(1), txn.SequenceNo)
	assert.Equal(t, domain.SideBuy, txn.Side())
	assert.Equal(t, 2, res.Read[domain.KindAccount])
}

func TestValidate_UnknownPortfolioQuarantinedWithoutBlockingOthers(t *testing.T) {
	b := baseBatches()
	addRows(b, domain.KindTransaction,
		map[string]string{"transaction_id": "t9", "portfolio_id": "p404", "ticker_symbol": "abc",
			"date": "2024-01-02", "quantity": "-5", "price": "10", "sequence_no": "2"},
	)
	v := newTestValidator(t)

	res, err := v.Validate(context.Background(), b)
	require.NoError(t, err)

	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "t1", res.Transactions[0].Value.TransactionID)

	require.Len(t, res.Quarantine, 1)
	q := res.Quarantine[0]
	assert.Equal(t, domain.KindTransaction, q.Kind)
	assert.Equal(t, string(apperrors.ErrTypeReferentialIntegrity), q.Reason)
	assert.Equal(t, domain.CodeUnknownPortfolio, q.Code)
	assert.Equal(t, "t9", q.Key)
	assert.Equal(t, 2, q.Line)
}

func TestValidate_RowIssues(t *testing.T) {
	tests := []struct {
		name     string
		kind     domain.EntityKind
		fields   map[string]string
		wantCode string
		wantType apperrors.ErrorType
	}{
		{
			name:     "account missing id",
			kind:     domain.KindAccount,
			fields:   map[string]string{"classification": "retirement"},
			wantCode: domain.CodeMissingField,
			wantType: apperrors.ErrTypeValidation,
		},
		{
			name:     "unmatched classification",
			kind:     domain.KindAccount,
			fields:   map[string]string{"account_id": "a9", "classification": "brokerage"},
			wantCode: domain.CodeInvalidValue,
			wantType: apperrors.ErrTypeValidation,
		},
		{
			name:     "portfolio unknown account",
			kind:     domain.KindPortfolio,
			fields:   map[string]string{"portfolio_id": "p9", "account_id": "a404"},
			wantCode: domain.CodeUnknownAccount,
			wantType: apperrors.ErrTypeReferentialIntegrity,
		},
		{
			name:     "malformed ticker",
			kind:     domain.KindTicker,
			fields:   map[string]string{"ticker_symbol": "$$$"},
			wantCode: domain.CodeInvalidFormat,
			wantType: apperrors.ErrTypeValidation,
		},
		{
			name:     "bar unparseable date",
			kind:     domain.KindPriceBar,
			fields:   map[string]string{"ticker_symbol": "abc", "date": "not-a-date", "close_price": "1", "volume": "1"},
			wantCode: domain.CodeInvalidFormat,
			wantType: apperrors.ErrTypeValidation,
		},
		{
			name:     "bar future date",
			kind:     domain.KindPriceBar,
			fields:   map[string]string{"ticker_symbol": "abc", "date": "2030-01-01", "close_price": "1", "volume": "1"},
			wantCode: domain.CodeDateOutOfRange,
			wantType: apperrors.ErrTypeValidation,
		},
		{
			name:     "bar negative close",
			kind:     domain.KindPriceBar,
			fields:   map[string]string{"ticker_symbol": "abc", "date": "2024-01-03", "close_price": "-1", "volume": "1"},
			wantCode: domain.CodeInvalidValue,
			wantType: apperrors.ErrTypeValidation,
		},
		{
			name:     "bar unknown ticker",
			kind:     domain.KindPriceBar,
			fields:   map[string]string{"ticker_symbol": "zzz", "date": "2024-01-03", "close_price": "1", "volume": "1"},
			wantCode: domain.CodeUnknownTicker,
			wantType: apperrors.ErrTypeReferentialIntegrity,
		},
		{
			name: "zero quantity",
			kind: domain.KindTransaction,
			fields: map[string]string{"transaction_id": "t2", "portfolio_id": "p1", "ticker_symbol": "abc",
				"date": "2024-01-02", "quantity": "0", "price": "1", "sequence_no": "1"},
			wantCode: domain.CodeInvalidValue,
			wantType: apperrors.ErrTypeValidation,
		},
		{
			name: "non numeric price",
			kind: domain.KindTransaction,
			fields: map[string]string{"transaction_id": "t2", "portfolio_id": "p1", "ticker_symbol": "abc",
				"date": "2024-01-02", "quantity": "1", "price": "ten", "sequence_no": "1"},
			wantCode: domain.CodeInvalidFormat,
			wantType: apperrors.ErrTypeValidation,
		},
		{
			name: "negative sequence",
			kind: domain.KindTransaction,
			fields: map[string]string{"transaction_id": "t2", "portfolio_id": "p1", "ticker_symbol": "abc",
				"date": "2024-01-02", "quantity": "1", "price": "1", "sequence_no": "-1"},
			wantCode: domain.CodeInvalidValue,
			wantType: apperrors.ErrTypeValidation,
		},
		{
			name:     "unknown action",
			kind:     domain.KindCorporateAction,
			fields:   map[string]string{"ticker_symbol": "abc", "date": "2024-01-02", "action": "merger", "value": "2"},
			wantCode: domain.CodeInvalidValue,
			wantType: apperrors.ErrTypeValidation,
		},
		{
			name:     "zero split ratio",
			kind:     domain.KindCorporateAction,
			fields:   map[string]string{"ticker_symbol": "abc", "date": "2024-01-02", "action": "split", "value": "0"},
			wantCode: domain.CodeInvalidValue,
			wantType: apperrors.ErrTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := baseBatches()
			addRows(b, tt.kind, tt.fields)
			v := newTestValidator(t)

			res, err := v.Validate(context.Background(), b)
			require.NoError(t, err)
			require.Len(t, res.Quarantine, 1)

			q := res.Quarantine[0]
			assert.Equal(t, tt.kind, q.Kind)
			assert.Equal(t, tt.wantCode, q.Code)
			assert.Equal(t, string(tt.wantType), q.Reason)
			assert.NotEmpty(t, q.Detail)
		})
	}
}

func TestValidate_ForeignKeysOnlyResolveAgainstValidParents(t *testing.T) {
	b := baseBatches()
	addRows(b, domain.KindAccount, map[string]string{"account_id": "a3", "classification": "brokerage"})
	addRows(b, domain.KindPortfolio, map[string]string{"portfolio_id": "p3", "account_id": "a3"})
	v := newTestValidator(t)

	res, err := v.Validate(context.Background(), b)
	require.NoError(t, err)

	require.Len(t, res.Quarantine, 2)
	assert.Equal(t, domain.CodeInvalidValue, res.Quarantine[0].Code)
	assert.Equal(t, domain.CodeUnknownAccount, res.Quarantine[1].Code)
}

func TestValidate_CorporateActions(t *testing.T) {
	b := baseBatches()
	addRows(b, domain.KindCorporateAction,
		map[string]string{"ticker_symbol": "abc", "date": "2024-01-03", "action": "split", "value": "2"},
		map[string]string{"ticker_symbol": "abc", "date": "2024-01-04", "action": "dividend", "value": "0.25"},
	)
	v := newTestValidator(t)

	res, err := v.Validate(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, domain.ActionSplit, res.Actions[0].Value.Action)
	assert.Equal(t, "0.25", res.Actions[1].Value.Value.String())
}

func TestValidate_EmptyRequiredKindIsFatal(t *testing.T) {
	b := baseBatches()
	b.Rows[domain.KindPriceBar] = nil
	v := newTestValidator(t)

	res, err := v.Validate(context.Background(), b)
	require.Error(t, err)
	assert.True(t, apperrors.IsFatalIngestion(err))
	require.NotNil(t, res)
	assert.Len(t, res.Transactions, 1)
}

func TestValidate_AllRowsQuarantinedIsFatal(t *testing.T) {
	b := baseBatches()
	b.Rows[domain.KindTicker] = nil
	addRows(b, domain.KindTicker, map[string]string{"ticker_symbol": "!!"})
	v := newTestValidator(t)

	_, err := v.Validate(context.Background(), b)
	require.Error(t, err)
	assert.True(t, apperrors.IsFatalIngestion(err))
}

func TestValidate_MissingCorporateActionsIsFine(t *testing.T) {
	v := newTestValidator(t)
	res, err := v.Validate(context.Background(), baseBatches())
	require.NoError(t, err)
	assert.Empty(t, res.Actions)
}

func TestNew_InvalidTickerPattern(t *testing.T) {
	cfg := config.Default().Validation
	cfg.TickerPattern = "("
	_, err := New(cfg, testDataEnd, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTypeConfig, apperrors.KindOf(err))
}

func TestParseInt_AcceptsSpreadsheetIntegers(t *testing.T) {
	row := ingest.RawRow{Fields: map[string]string{"sequence_no": "3.0"}}
	n, issue := parseInt(row, "sequence_no")
	require.Nil(t, issue)
	assert.Equal(t, int64(3), n)

	row.Fields["sequence_no"] = "3.5"
	_, issue = parseInt(row, "sequence_no")
	require.NotNil(t, issue)
	assert.Equal(t, domain.CodeInvalidFormat, apperrors.CodeOf(issue))
}

func TestValidate_MalformedRecordQuarantined(t *testing.T) {
	b := baseBatches()
	b.Add(domain.KindTransaction, ingest.RawRow{
		Source:    "transactions.csv",
		Line:      3,
		Fields:    map[string]string{"transaction_id": "t2"},
		Malformed: `bare " in non-quoted-field`,
	})
	addRows(b, domain.KindTransaction,
		map[string]string{"transaction_id": "t3", "portfolio_id": "p2", "ticker_symbol": "abc",
			"date": "2024-01-02", "quantity": "4", "price": "10", "sequence_no": "1"},
	)
	v := newTestValidator(t)

	res, err := v.Validate(context.Background(), b)
	require.NoError(t, err)

	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "t1", res.Transactions[0].Value.TransactionID)
	assert.Equal(t, "t3", res.Transactions[1].Value.TransactionID)
	assert.Equal(t, 3, res.Read[domain.KindTransaction])

	require.Len(t, res.Quarantine, 1)
	q := res.Quarantine[0]
	assert.Equal(t, domain.KindTransaction, q.Kind)
	assert.Equal(t, string(apperrors.ErrTypeValidation), q.Reason)
	assert.Equal(t, domain.CodeInvalidFormat, q.Code)
	assert.Equal(t, 3, q.Line)
	assert.Contains(t, q.Detail, "bare")
}
