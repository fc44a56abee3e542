package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is an open, not-yet-matched quantity created by an entry fill. Lots are
// owned exclusively by a PositionBook; callers only ever see value copies.
type Lot struct {
	EntryIndex    int             `json:"entryIndex"`
	EntrySequence uint64          `json:"entrySequence"`
	EntryTime     time.Time       `json:"entryTime"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	OrderID       string          `json:"orderId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

func newLot(index int, fill Fill, sequence uint64) Lot {
	return Lot{
		EntryIndex:    index,
		EntrySequence: sequence,
		EntryTime:     fill.Time,
		EntryPrice:    fill.Price,
		Amount:        fill.Amount,
		Fee:           fill.Fee,
		OrderID:       fill.OrderID,
		CorrelationID: fill.CorrelationID,
	}
}

// merge folds other into the receiver at the amount-weighted mean price. The
// receiver's sequence, index and entry time survive; identifiers survive only
// when both lots agree on them.
func (l Lot) merge(other Lot) Lot {
	total := l.Amount.Add(other.Amount)
	merged := Lot{
		EntryIndex:    l.EntryIndex,
		EntrySequence: l.EntrySequence,
		EntryTime:     l.EntryTime,
		EntryPrice:    l.EntryPrice,
		Amount:        total,
		Fee:           l.Fee.Add(other.Fee),
		OrderID:       l.OrderID,
		CorrelationID: l.CorrelationID,
	}
	if total.IsPositive() {
		weighted := l.EntryPrice.Mul(l.Amount).Add(other.EntryPrice.Mul(other.Amount))
		merged.EntryPrice = weighted.Div(total)
	}
	if l.OrderID != other.OrderID {
		merged.OrderID = ""
	}
	if l.CorrelationID != other.CorrelationID {
		merged.CorrelationID = ""
	}
	return merged
}

// reduce shrinks the lot by the matched amount and the prorated share of its
// entry fee. Everything else stays unchanged, entry sequence included.
func (l *Lot) reduce(amount, feePortion decimal.Decimal) {
	l.Amount = l.Amount.Sub(amount)
	l.Fee = l.Fee.Sub(feePortion)
}

// feePortionFor prorates the lot's entry fee over the matched amount.
func (l Lot) feePortionFor(amount decimal.Decimal) decimal.Decimal {
	if l.Fee.IsZero() || !l.Amount.IsPositive() {
		return decimal.Zero
	}
	if amount.GreaterThanOrEqual(l.Amount) {
		return l.Fee
	}
	return l.Fee.Mul(amount).Div(l.Amount)
}

func (l Lot) matches(key string) bool {
	if key == "" {
		return false
	}
	return l.CorrelationID == key || l.OrderID == key
}

func cloneLots(lots []Lot) []Lot {
	out := make([]Lot, len(lots))
	copy(out, lots)
	return out
}
