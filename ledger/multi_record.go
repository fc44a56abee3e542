package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/lotmatch/costs"
	"github.com/coachpo/lotmatch/errs"
)

// MultiTradingRecord tracks several simultaneously open positions matched by
// (index, price, amount) alone: no fees, no identifiers, FIFO or LIFO only.
// It is a thin adapter over the same PositionBook engine the live record
// uses, so the matching logic cannot drift between the two.
type MultiTradingRecord struct {
	mu   sync.Mutex
	book *PositionBook
}

// NewMultiTradingRecord constructs a record. Only FIFO and LIFO are valid
// here; the richer policies need fill-level bookkeeping this record does not
// carry.
func NewMultiTradingRecord(openingSide Side, policy MatchPolicy) (*MultiTradingRecord, error) {
	if policy != MatchFIFO && policy != MatchLIFO {
		return nil, errs.New("ledger/multi", errs.CodeConstruction,
			errs.WithMessage("multi trading record supports FIFO and LIFO only"))
	}
	book, err := NewPositionBook(openingSide, policy, costs.ZeroCost{}, costs.ZeroHolding())
	if err != nil {
		return nil, err
	}
	return &MultiTradingRecord{book: book}, nil
}

// Policy returns the configured matching policy.
func (r *MultiTradingRecord) Policy() MatchPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.book.Policy()
}

// Enter always opens a new independent position.
func (r *MultiTradingRecord) Enter(index int, price, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enterLocked(index, price, amount)
}

func (r *MultiTradingRecord) enterLocked(index int, price, amount decimal.Decimal) error {
	fill := Fill{Time: time.Time{}, Price: price, Amount: amount, Fee: decimal.Zero, Side: r.book.OpeningSide()}
	return r.book.RecordEntry(index, fill, r.book.NextSequence())
}

// Exit matches the requested amount against the open positions. An open
// position whose amount equals the request exactly is preferred; otherwise
// the configured policy selects the oldest (FIFO) or newest (LIFO) position,
// splitting it when it is larger than the request and clamping the request to
// its amount when smaller. A non-positive amount is treated as "no specific
// amount": the policy-selected position is closed in full.
func (r *MultiTradingRecord) Exit(index int, price, amount decimal.Decimal) ([]ClosedPosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitLocked(index, price, amount)
}

func (r *MultiTradingRecord) exitLocked(index int, price, amount decimal.Decimal) ([]ClosedPosition, error) {
	if !price.IsPositive() {
		return nil, errs.New("ledger/multi", errs.CodeInvalidFill,
			errs.WithMessage("exit price must be positive"))
	}
	lot, ok := r.selectLot(amount)
	if !ok {
		return nil, errs.New("ledger/multi", errs.CodeNoOpenPosition,
			errs.WithMessage("exit without open position"))
	}
	matched := amount
	if !matched.IsPositive() || matched.GreaterThan(lot.Amount) {
		matched = lot.Amount
	}
	fill := Fill{Time: time.Time{}, Price: price, Amount: matched, Fee: decimal.Zero, Side: r.book.OpeningSide().Opposite()}
	plan := []allocation{{sequence: lot.EntrySequence, amount: matched}}
	return r.book.applyExit(plan, index, fill, r.book.NextSequence()), nil
}

// Operate enters when the record is flat and exits otherwise.
func (r *MultiTradingRecord) Operate(index int, price, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.book.openLots) == 0 {
		return r.enterLocked(index, price, amount)
	}
	_, err := r.exitLocked(index, price, amount)
	return err
}

// FindOpenPositionByAmount locates an open position whose amount equals the
// request exactly, in policy order. A non-positive amount never matches.
func (r *MultiTradingRecord) FindOpenPositionByAmount(amount decimal.Decimal) (Lot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByAmount(amount)
}

// OpenPositions returns the open positions in insertion order.
func (r *MultiTradingRecord) OpenPositions() []Lot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.book.OpenLots()
}

// Positions returns the closed positions, oldest first.
func (r *MultiTradingRecord) Positions() []ClosedPosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.book.ClosedPositions()
}

func (r *MultiTradingRecord) findByAmount(amount decimal.Decimal) (Lot, bool) {
	if !amount.IsPositive() {
		return Lot{}, false
	}
	lots := r.book.openLots
	next := orderFor(r.book.Policy(), len(lots))
	for i := next(); i >= 0; i = next() {
		if lots[i].Amount.Equal(amount) {
			return lots[i], true
		}
	}
	return Lot{}, false
}

func (r *MultiTradingRecord) selectLot(amount decimal.Decimal) (Lot, bool) {
	lots := r.book.openLots
	if len(lots) == 0 {
		return Lot{}, false
	}
	if lot, ok := r.findByAmount(amount); ok {
		return lot, true
	}
	if r.book.Policy() == MatchLIFO {
		return lots[len(lots)-1], true
	}
	return lots[0], true
}
