// Package costs defines the pluggable cost models consumed by the lot-matching
// engine. The engine invokes these models when a position closes; it never
// computes cost formulas itself.
package costs

import (
	"time"

	"github.com/shopspring/decimal"
)

// Leg carries the attributes of one side of a position that cost models may
// price against.
type Leg struct {
	Time   time.Time
	Price  decimal.Decimal
	Amount decimal.Decimal
	Fee    decimal.Decimal
}

// Notional returns price multiplied by amount.
func (l Leg) Notional() decimal.Decimal {
	return l.Price.Mul(l.Amount)
}

// TransactionModel prices the cost of executing one leg.
type TransactionModel interface {
	Cost(leg Leg) decimal.Decimal
}

// HoldingModel prices the cost of holding the entry leg until the exit time.
type HoldingModel interface {
	Cost(entry Leg, exitTime time.Time) decimal.Decimal
}

// ZeroCost is a transaction and holding model that always returns zero.
type ZeroCost struct{}

// Cost implements TransactionModel.
func (ZeroCost) Cost(Leg) decimal.Decimal { return decimal.Zero }

// HoldingCost implements HoldingModel via the Holding wrapper below.
type zeroHolding struct{}

func (zeroHolding) Cost(Leg, time.Time) decimal.Decimal { return decimal.Zero }

// ZeroHolding returns a holding model that always prices zero.
func ZeroHolding() HoldingModel { return zeroHolding{} }

// RecordedFee is a transaction model that charges exactly the fee recorded on
// the leg's fills. Live trading records use it so realized costs always match
// what the venue reported.
type RecordedFee struct{}

// Cost implements TransactionModel.
func (RecordedFee) Cost(leg Leg) decimal.Decimal {
	if leg.Fee.IsNegative() {
		return decimal.Zero
	}
	return leg.Fee
}

// ProportionalTransaction applies maker/taker style percentage fees.
type ProportionalTransaction struct {
	Rate decimal.Decimal
}

// Cost implements TransactionModel.
func (p ProportionalTransaction) Cost(leg Leg) decimal.Decimal {
	if leg.Amount.LessThanOrEqual(decimal.Zero) || leg.Price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if p.Rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return leg.Notional().Mul(p.Rate)
}

// LinearHolding charges a per-day rate on the entry notional for the time the
// position stayed open.
type LinearHolding struct {
	DailyRate decimal.Decimal
}

// Cost implements HoldingModel.
func (h LinearHolding) Cost(entry Leg, exitTime time.Time) decimal.Decimal {
	if h.DailyRate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	held := exitTime.Sub(entry.Time)
	if held <= 0 {
		return decimal.Zero
	}
	days := decimal.NewFromFloat(held.Hours() / 24)
	return entry.Notional().Mul(h.DailyRate).Mul(days)
}
