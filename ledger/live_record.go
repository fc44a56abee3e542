package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/lotmatch/costs"
)

// LiveTradingRecord is the concurrency-safe façade over one PositionBook.
// Multiple goroutines may record fills and read views at the same time; every
// mutation is applied atomically and snapshots never observe a torn state.
//
// Transaction costs are always the fees recorded on the fills themselves;
// only the holding cost model is pluggable.
type LiveTradingRecord struct {
	mu        sync.RWMutex
	name      string
	book      *PositionBook
	nextIndex int
	totalFees decimal.Decimal
}

// NewLiveTradingRecord constructs a record. A nil holding model defaults to
// zero holding costs.
func NewLiveTradingRecord(name string, openingSide Side, policy MatchPolicy, holding costs.HoldingModel) (*LiveTradingRecord, error) {
	if holding == nil {
		holding = costs.ZeroHolding()
	}
	book, err := NewPositionBook(openingSide, policy, costs.RecordedFee{}, holding)
	if err != nil {
		return nil, err
	}
	return &LiveTradingRecord{
		name:      name,
		book:      book,
		nextIndex: 0,
		totalFees: decimal.Zero,
	}, nil
}

// Name returns the record name.
func (r *LiveTradingRecord) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// Policy returns the execution match policy used by this record.
func (r *LiveTradingRecord) Policy() MatchPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.book.Policy()
}

// RecordFill records a fill with an auto-incremented trade index.
func (r *LiveTradingRecord) RecordFill(fill Fill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordLocked(r.nextIndex, fill)
}

// RecordFillAt records a fill against a caller-chosen trade index.
func (r *LiveTradingRecord) RecordFillAt(index int, fill Fill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordLocked(index, fill)
}

// recordLocked dispatches the fill to the book. When lots are open, the fill
// side relative to the dominant open side decides entry versus exit; a flat
// book treats any fill as an entry that establishes the opening side.
func (r *LiveTradingRecord) recordLocked(index int, fill Fill) error {
	if err := fill.Validate(); err != nil {
		return err
	}
	sequence := r.book.NextSequence()
	entry := len(r.book.openLots) == 0 || fill.Side == r.book.OpeningSide()
	if entry {
		if err := r.book.RecordEntry(index, fill, sequence); err != nil {
			return err
		}
	} else {
		if _, err := r.book.RecordExit(index, fill, sequence); err != nil {
			return err
		}
	}
	if index >= r.nextIndex {
		r.nextIndex = index + 1
	}
	r.totalFees = r.totalFees.Add(fill.Fee)
	return nil
}

// Positions returns all closed positions, oldest first.
func (r *LiveTradingRecord) Positions() []ClosedPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.book.ClosedPositions()
}

// OpenLots returns the current open lots in consume order.
func (r *LiveTradingRecord) OpenLots() []Lot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.book.OpenLots()
}

// NetOpenPosition computes the aggregate open position. The second return is
// false when the record is flat.
func (r *LiveTradingRecord) NetOpenPosition() (NetOpenPosition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.book.NetOpenPosition()
}

// TotalFees returns the sum of the fees on every accepted fill.
func (r *LiveTradingRecord) TotalFees() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalFees
}

// Snapshot bundles an immutable deep copy of the record's observable state.
// Mutating a snapshot's collections never touches the live record.
type Snapshot struct {
	Name            string           `json:"name"`
	OpeningSide     Side             `json:"openingSide"`
	MatchPolicy     MatchPolicy      `json:"matchPolicy"`
	TakenAt         time.Time        `json:"takenAt"`
	OpenLots        []Lot            `json:"openLots"`
	ClosedPositions []ClosedPosition `json:"closedPositions"`
	TotalFees       decimal.Decimal  `json:"totalFees"`
	NextSequence    uint64           `json:"nextSequence"`
}

// Snapshot produces a consistent point-in-time copy under the read lock.
func (r *LiveTradingRecord) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Name:            r.name,
		OpeningSide:     r.book.OpeningSide(),
		MatchPolicy:     r.book.Policy(),
		TakenAt:         time.Now().UTC(),
		OpenLots:        r.book.OpenLots(),
		ClosedPositions: r.book.ClosedPositions(),
		TotalFees:       r.totalFees,
		NextSequence:    r.book.NextSequence(),
	}
}

// Rehydrate re-attaches the transient holding cost model after
// deserialization. Transaction costs remain the recorded fees.
func (r *LiveTradingRecord) Rehydrate(holding costs.HoldingModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.book.Rehydrate(costs.RecordedFee{}, holding)
}
