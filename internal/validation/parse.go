package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/ingest"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

func required(row ingest.RawRow, col string) (string, *apperrors.AppError) {
	v := row.Get(col)
	if v == "" {
		return "", invalid(domain.CodeMissingField, col+" is required")
	}
	return v, nil
}

// parseDecimal parses a required number; thousands separators are accepted
func parseDecimal(row ingest.RawRow, col string) (decimal.Decimal, *apperrors.AppError) {
	raw, issue := required(row, col)
	if issue != nil {
		return decimal.Zero, issue
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return decimal.Zero, invalid(domain.CodeInvalidFormat, fmt.Sprintf("%s %q is not a number", col, raw))
	}
	return d, nil
}

// parseInt parses a required non-negative integer; spreadsheet values like "3.0" are accepted
func parseInt(row ingest.RawRow, col string) (int64, *apperrors.AppError) {
	raw, issue := required(row, col)
	if issue != nil {
		return 0, issue
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		d, derr := decimal.NewFromString(raw)
		if derr != nil || !d.IsInteger() {
			return 0, invalid(domain.CodeInvalidFormat, fmt.Sprintf("%s %q is not an integer", col, raw))
		}
		n = d.IntPart()
	}
	if n < 0 {
		return 0, invalid(domain.CodeInvalidValue, fmt.Sprintf("%s must be non-negative", col))
	}
	return n, nil
}
