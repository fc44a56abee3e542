package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/lotmatch/errs"
	"github.com/coachpo/lotmatch/ledger"
)

// TimedFill pairs a parsed fill with the symbol it belongs to.
type TimedFill struct {
	Symbol string
	Fill   ledger.Fill
}

// csv column layout: time,symbol,side,price,amount,fee,order_id,correlation_id
const (
	colTime = iota
	colSymbol
	colSide
	colPrice
	colAmount
	colFee
	colOrderID
	colCorrelationID
	columnCount
)

// ReadFills parses a CSV fill feed. The first row must be a header. Rows are
// validated eagerly so a malformed feed fails before any matching starts;
// values that would parse to NaN in a float pipeline are rejected here as
// unparseable decimals.
func ReadFills(r io.Reader) ([]TimedFill, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = columnCount
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errs.New("replay/feed", errs.CodeInvalidFill,
			errs.WithMessage("read header"), errs.WithCause(err))
	}
	if strings.TrimSpace(strings.ToLower(header[colTime])) != "time" {
		return nil, errs.New("replay/feed", errs.CodeInvalidFill,
			errs.WithMessage("first row must be the column header"))
	}

	var fills []TimedFill
	for row := 2; ; row++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.New("replay/feed", errs.CodeInvalidFill,
				errs.WithMessage(fmt.Sprintf("read row %d", row)), errs.WithCause(err))
		}
		fill, symbol, err := parseRow(fields)
		if err != nil {
			return nil, errs.New("replay/feed", errs.CodeInvalidFill,
				errs.WithMessage(fmt.Sprintf("row %d", row)), errs.WithCause(err))
		}
		fills = append(fills, TimedFill{Symbol: symbol, Fill: fill})
	}
	return fills, nil
}

func parseRow(fields []string) (ledger.Fill, string, error) {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[colTime]))
	if err != nil {
		return ledger.Fill{}, "", fmt.Errorf("parse time: %w", err)
	}
	symbol := strings.TrimSpace(fields[colSymbol])
	if symbol == "" {
		return ledger.Fill{}, "", fmt.Errorf("symbol required")
	}
	side := ledger.Side(strings.TrimSpace(fields[colSide]))
	if err := side.Validate(); err != nil {
		return ledger.Fill{}, "", err
	}
	price, err := decimal.NewFromString(strings.TrimSpace(fields[colPrice]))
	if err != nil {
		return ledger.Fill{}, "", fmt.Errorf("parse price: %w", err)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(fields[colAmount]))
	if err != nil {
		return ledger.Fill{}, "", fmt.Errorf("parse amount: %w", err)
	}
	fee := decimal.Zero
	if raw := strings.TrimSpace(fields[colFee]); raw != "" {
		fee, err = decimal.NewFromString(raw)
		if err != nil {
			return ledger.Fill{}, "", fmt.Errorf("parse fee: %w", err)
		}
	}

	fill := ledger.Fill{
		Time:          ts.UTC(),
		Price:         price,
		Amount:        amount,
		Fee:           fee,
		Side:          side,
		OrderID:       strings.TrimSpace(fields[colOrderID]),
		CorrelationID: strings.TrimSpace(fields[colCorrelationID]),
	}
	if err := fill.Validate(); err != nil {
		return ledger.Fill{}, "", err
	}
	return fill, symbol, nil
}
