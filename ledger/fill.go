package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/lotmatch/errs"
)

// Fill is an immutable record of one execution produced by an external venue.
// A zero Fee means no fee was reported.
type Fill struct {
	Time          time.Time       `json:"time"`
	Price         decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Side          Side            `json:"side"`
	OrderID       string          `json:"orderId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// Validate rejects fills that must never reach a position book: non-positive
// price or amount, negative fee, unknown side.
func (f Fill) Validate() error {
	if err := f.Side.Validate(); err != nil {
		return err
	}
	if !f.Price.IsPositive() {
		return errs.New("ledger/fill", errs.CodeInvalidFill,
			errs.WithMessage("fill price must be positive"))
	}
	if !f.Amount.IsPositive() {
		return errs.New("ledger/fill", errs.CodeInvalidFill,
			errs.WithMessage("fill amount must be positive"))
	}
	if f.Fee.IsNegative() {
		return errs.New("ledger/fill", errs.CodeInvalidFill,
			errs.WithMessage("fill fee must not be negative"))
	}
	return nil
}

// matchKey returns the identifier a specific-lot exit resolves against:
// correlation id first, then order id.
func (f Fill) matchKey() string {
	if f.CorrelationID != "" {
		return f.CorrelationID
	}
	return f.OrderID
}
