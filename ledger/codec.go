package ledger

import (
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/lotmatch/costs"
	"github.com/coachpo/lotmatch/errs"
)

// bookState is the durable wire form of a PositionBook. Field order and the
// sequence numbers preserve matching order across restarts.
type bookState struct {
	OpeningSide     Side             `json:"openingSide"`
	MatchPolicy     MatchPolicy      `json:"matchPolicy"`
	OpenLots        []Lot            `json:"openLots"`
	ClosedPositions []ClosedPosition `json:"closedPositions"`
	NextSequence    uint64           `json:"nextSequence"`
}

// MarshalJSON implements json.Marshaler.
func (b *PositionBook) MarshalJSON() ([]byte, error) {
	state := bookState{
		OpeningSide:     b.openingSide,
		MatchPolicy:     b.policy,
		OpenLots:        b.openLots,
		ClosedPositions: b.closed,
		NextSequence:    b.nextSeq,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, errs.New("ledger/codec", errs.CodeSerialization,
			errs.WithMessage("encode position book"), errs.WithCause(err))
	}
	return data, nil
}

// UnmarshalJSON implements json.Unmarshaler. Cost models are transient: the
// decoded book uses recorded-fee transaction costs and zero holding costs
// until Rehydrate is called. Stored profit figures are preserved as written.
func (b *PositionBook) UnmarshalJSON(data []byte) error {
	var state bookState
	if err := json.Unmarshal(data, &state); err != nil {
		return errs.New("ledger/codec", errs.CodeSerialization,
			errs.WithMessage("decode position book"), errs.WithCause(err))
	}
	if err := state.OpeningSide.Validate(); err != nil {
		return err
	}
	if err := state.MatchPolicy.Validate(); err != nil {
		return err
	}
	b.openingSide = state.OpeningSide
	b.policy = state.MatchPolicy
	b.openLots = state.OpenLots
	b.closed = state.ClosedPositions
	b.nextSeq = state.NextSequence
	b.transaction = costs.RecordedFee{}
	b.holding = costs.ZeroHolding()
	if b.openLots == nil {
		b.openLots = make([]Lot, 0)
	}
	if b.closed == nil {
		b.closed = make([]ClosedPosition, 0)
	}
	return nil
}

// recordState is the durable wire form of a LiveTradingRecord.
type recordState struct {
	Name      string          `json:"name"`
	NextIndex int             `json:"nextIndex"`
	TotalFees decimal.Decimal `json:"totalFees"`
	Book      *PositionBook   `json:"book"`
}

// MarshalJSON implements json.Marshaler.
func (r *LiveTradingRecord) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state := recordState{
		Name:      r.name,
		NextIndex: r.nextIndex,
		TotalFees: r.totalFees,
		Book:      r.book,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, errs.New("ledger/codec", errs.CodeSerialization,
			errs.WithMessage("encode live trading record"), errs.WithCause(err))
	}
	return data, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *LiveTradingRecord) UnmarshalJSON(data []byte) error {
	var state recordState
	state.Book = new(PositionBook)
	if err := json.Unmarshal(data, &state); err != nil {
		return errs.New("ledger/codec", errs.CodeSerialization,
			errs.WithMessage("decode live trading record"), errs.WithCause(err))
	}
	if state.Book == nil {
		return errs.New("ledger/codec", errs.CodeSerialization,
			errs.WithMessage("live trading record payload missing book"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = state.Name
	r.nextIndex = state.NextIndex
	r.totalFees = state.TotalFees
	r.book = state.Book
	return nil
}

// EncodeSnapshot serializes a snapshot to its wire form.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, errs.New("ledger/codec", errs.CodeSerialization,
			errs.WithMessage("encode snapshot"), errs.WithCause(err))
	}
	return data, nil
}

// DecodeSnapshot restores a snapshot from its wire form.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errs.New("ledger/codec", errs.CodeSerialization,
			errs.WithMessage("decode snapshot"), errs.WithCause(err))
	}
	return snap, nil
}
