package journal

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromDecimal converts a decimal into a pgtype.Numeric value.
func numericFromDecimal(value decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	if err := out.Scan(value.String()); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", value.String(), err)
	}
	return out, nil
}

// decimalFromText parses a value selected with ::text back into a decimal.
func decimalFromText(value string) (decimal.Decimal, error) {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse decimal %q: %w", value, err)
	}
	return parsed, nil
}
