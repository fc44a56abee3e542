package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/lotmatch/costs"
)

// PositionLeg is one side of a closed position: the matched portion of an
// entry lot, or the matched portion of an exit fill.
type PositionLeg struct {
	Index         int             `json:"index"`
	Time          time.Time       `json:"time"`
	Price         decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Side          Side            `json:"side"`
	OrderID       string          `json:"orderId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

func (l PositionLeg) costLeg() costs.Leg {
	return costs.Leg{Time: l.Time, Price: l.Price, Amount: l.Amount, Fee: l.Fee}
}

// ClosedPosition pairs an entry lot (or portion thereof) with an exit fill.
// Instances are append-only: once recorded they are never edited or removed.
// The sequence pair makes replay and serialization deterministic.
type ClosedPosition struct {
	Entry         PositionLeg     `json:"entry"`
	Exit          PositionLeg     `json:"exit"`
	EntrySequence uint64          `json:"entrySequence"`
	ExitSequence  uint64          `json:"exitSequence"`
	GrossProfit   decimal.Decimal `json:"grossProfit"`
	TotalCost     decimal.Decimal `json:"totalCost"`
	NetProfit     decimal.Decimal `json:"netProfit"`
}

// price the closed position through the configured cost models. Gross profit
// is signed by the opening side; the models supply every cost figure.
func (c *ClosedPosition) price(opening Side, transaction costs.TransactionModel, holding costs.HoldingModel) {
	gross := c.Exit.Price.Sub(c.Entry.Price).Mul(c.Entry.Amount)
	if opening == SideSell {
		gross = gross.Neg()
	}
	cost := transaction.Cost(c.Entry.costLeg()).
		Add(transaction.Cost(c.Exit.costLeg())).
		Add(holding.Cost(c.Entry.costLeg(), c.Exit.Time))
	c.GrossProfit = gross
	c.TotalCost = cost
	c.NetProfit = gross.Sub(cost)
}

func cloneClosed(positions []ClosedPosition) []ClosedPosition {
	out := make([]ClosedPosition, len(positions))
	copy(out, positions)
	return out
}

// NetOpenPosition aggregates all currently open lots. It is derived on demand
// and never cached.
type NetOpenPosition struct {
	Side              Side            `json:"side"`
	Amount            decimal.Decimal `json:"amount"`
	AverageEntryPrice decimal.Decimal `json:"averageEntryPrice"`
	TotalCost         decimal.Decimal `json:"totalCost"`
	TotalFees         decimal.Decimal `json:"totalFees"`
	EarliestEntry     time.Time       `json:"earliestEntry"`
	LatestEntry       time.Time       `json:"latestEntry"`
}
