package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/lotmatch/costs"
	"github.com/coachpo/lotmatch/errs"
)

// PositionBook maintains the ordered open lots and the append-only closed
// positions for one instrument. The book itself is not safe for concurrent
// use; LiveTradingRecord provides the locked façade.
type PositionBook struct {
	openingSide Side
	policy      MatchPolicy
	transaction costs.TransactionModel
	holding     costs.HoldingModel
	openLots    []Lot
	closed      []ClosedPosition
	nextSeq     uint64
}

// NewPositionBook constructs a book. Invalid sides, unknown policies and nil
// cost models are rejected immediately.
func NewPositionBook(openingSide Side, policy MatchPolicy, transaction costs.TransactionModel, holding costs.HoldingModel) (*PositionBook, error) {
	if err := openingSide.Validate(); err != nil {
		return nil, errs.New("ledger/book", errs.CodeConstruction,
			errs.WithMessage("opening side required"), errs.WithCause(err))
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if transaction == nil {
		return nil, errs.New("ledger/book", errs.CodeConstruction,
			errs.WithMessage("transaction cost model required"))
	}
	if holding == nil {
		return nil, errs.New("ledger/book", errs.CodeConstruction,
			errs.WithMessage("holding cost model required"))
	}
	return &PositionBook{
		openingSide: openingSide,
		policy:      policy,
		transaction: transaction,
		holding:     holding,
		openLots:    make([]Lot, 0),
		closed:      make([]ClosedPosition, 0),
		nextSeq:     0,
	}, nil
}

// OpeningSide returns the side that currently opens positions.
func (b *PositionBook) OpeningSide() Side { return b.openingSide }

// Policy returns the active match policy.
func (b *PositionBook) Policy() MatchPolicy { return b.policy }

// NextSequence returns the sequence number the next recorded fill must carry.
func (b *PositionBook) NextSequence() uint64 { return b.nextSeq }

// RecordEntry creates or merges a lot from an entry fill. Sequence numbers are
// monotonic and never reused; a stale sequence is a conflict.
func (b *PositionBook) RecordEntry(index int, fill Fill, sequence uint64) error {
	if err := fill.Validate(); err != nil {
		return err
	}
	if err := b.checkSequence(sequence); err != nil {
		return err
	}
	if len(b.openLots) == 0 {
		// A flat book lets the first fill establish the opening side.
		b.openingSide = fill.Side
	} else if fill.Side != b.openingSide {
		return errs.New("ledger/book", errs.CodeInvalidFill,
			errs.WithMessage("entry side does not match opening side"))
	}
	lot := newLot(index, fill, sequence)
	if b.policy == MatchAverageCost && len(b.openLots) > 0 {
		b.openLots[0] = b.openLots[0].merge(lot)
	} else {
		b.openLots = append(b.openLots, lot)
	}
	b.nextSeq = sequence + 1
	return nil
}

// RecordExit matches an exit fill against the open lots and returns the
// closed positions produced, oldest entry first. Validation failures leave
// the book unmodified.
func (b *PositionBook) RecordExit(index int, fill Fill, sequence uint64) ([]ClosedPosition, error) {
	if err := fill.Validate(); err != nil {
		return nil, err
	}
	if err := b.checkSequence(sequence); err != nil {
		return nil, err
	}
	if len(b.openLots) > 0 && fill.Side != b.openingSide.Opposite() {
		return nil, errs.New("ledger/book", errs.CodeInvalidFill,
			errs.WithMessage("exit side must oppose the opening side"))
	}
	plan, err := planMatch(b.policy, b.openLots, fill)
	if err != nil {
		return nil, err
	}
	return b.applyExit(plan, index, fill, sequence), nil
}

// applyExit executes a previously validated allocation plan. The exit fee is
// prorated across the matched lots; the final allocation receives the exact
// remainder so fee sums are conserved.
func (b *PositionBook) applyExit(plan []allocation, index int, fill Fill, sequence uint64) []ClosedPosition {
	produced := make([]ClosedPosition, 0, len(plan))
	remaining := decimal.Zero
	for _, alloc := range plan {
		remaining = remaining.Add(alloc.amount)
	}
	remainingFee := fill.Fee
	for _, alloc := range plan {
		exitFee := remainingFee
		if !remainingFee.IsZero() && alloc.amount.LessThan(remaining) {
			exitFee = remainingFee.Mul(alloc.amount).Div(remaining)
		}
		closed := b.closeLot(alloc, fill, index, exitFee, sequence)
		produced = append(produced, closed)
		remaining = remaining.Sub(alloc.amount)
		remainingFee = remainingFee.Sub(exitFee)
	}
	b.closed = append(b.closed, produced...)
	b.nextSeq = sequence + 1
	return produced
}

func (b *PositionBook) checkSequence(sequence uint64) error {
	if sequence < b.nextSeq {
		return errs.New("ledger/book", errs.CodeConflict,
			errs.WithMessage("sequence numbers are monotonic and never reused"))
	}
	return nil
}

// closeLot shrinks or removes the allocated lot and builds the resulting
// closed position. The remainder of a split keeps its sequence, entry time,
// price and identifiers; only the amount and prorated fee shrink.
func (b *PositionBook) closeLot(alloc allocation, fill Fill, index int, exitFee decimal.Decimal, exitSequence uint64) ClosedPosition {
	at := b.lotIndex(alloc.sequence)
	lot := b.openLots[at]
	entryFee := lot.feePortionFor(alloc.amount)
	if alloc.amount.Equal(lot.Amount) {
		b.openLots = append(b.openLots[:at], b.openLots[at+1:]...)
	} else {
		b.openLots[at].reduce(alloc.amount, entryFee)
	}
	closed := ClosedPosition{
		Entry: PositionLeg{
			Index:         lot.EntryIndex,
			Time:          lot.EntryTime,
			Price:         lot.EntryPrice,
			Amount:        alloc.amount,
			Fee:           entryFee,
			Side:          b.openingSide,
			OrderID:       lot.OrderID,
			CorrelationID: lot.CorrelationID,
		},
		Exit: PositionLeg{
			Index:         index,
			Time:          fill.Time,
			Price:         fill.Price,
			Amount:        alloc.amount,
			Fee:           exitFee,
			Side:          fill.Side,
			OrderID:       fill.OrderID,
			CorrelationID: fill.CorrelationID,
		},
		EntrySequence: lot.EntrySequence,
		ExitSequence:  exitSequence,
	}
	closed.price(b.openingSide, b.transaction, b.holding)
	return closed
}

func (b *PositionBook) lotIndex(sequence uint64) int {
	for i := range b.openLots {
		if b.openLots[i].EntrySequence == sequence {
			return i
		}
	}
	// Unreachable: allocations are planned against the same lot slice.
	return -1
}

// OpenLots returns a read-only ordered snapshot of the current open lots in
// insertion/consume order.
func (b *PositionBook) OpenLots() []Lot {
	return cloneLots(b.openLots)
}

// ClosedPositions returns all closed positions, oldest first.
func (b *PositionBook) ClosedPositions() []ClosedPosition {
	return cloneClosed(b.closed)
}

// NetOpenPosition computes the aggregate of the open lots. The second return
// is false when the book is flat.
func (b *PositionBook) NetOpenPosition() (NetOpenPosition, bool) {
	if len(b.openLots) == 0 {
		return NetOpenPosition{}, false
	}
	net := NetOpenPosition{
		Side:          b.openingSide,
		Amount:        decimal.Zero,
		TotalCost:     decimal.Zero,
		TotalFees:     decimal.Zero,
		EarliestEntry: b.openLots[0].EntryTime,
		LatestEntry:   b.openLots[0].EntryTime,
	}
	for _, lot := range b.openLots {
		net.Amount = net.Amount.Add(lot.Amount)
		net.TotalCost = net.TotalCost.Add(lot.EntryPrice.Mul(lot.Amount))
		net.TotalFees = net.TotalFees.Add(lot.Fee)
		if lot.EntryTime.Before(net.EarliestEntry) {
			net.EarliestEntry = lot.EntryTime
		}
		if lot.EntryTime.After(net.LatestEntry) {
			net.LatestEntry = lot.EntryTime
		}
	}
	if net.Amount.IsPositive() {
		net.AverageEntryPrice = net.TotalCost.Div(net.Amount)
	}
	return net, true
}

// Rehydrate re-attaches cost models after deserialization and reprices the
// recorded closed positions through them.
func (b *PositionBook) Rehydrate(transaction costs.TransactionModel, holding costs.HoldingModel) error {
	if transaction == nil {
		transaction = costs.RecordedFee{}
	}
	if holding == nil {
		holding = costs.ZeroHolding()
	}
	b.transaction = transaction
	b.holding = holding
	for i := range b.closed {
		b.closed[i].price(b.openingSide, transaction, holding)
	}
	return nil
}
