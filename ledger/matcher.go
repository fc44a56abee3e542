package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/lotmatch/errs"
)

// allocation assigns a matched amount to the open lot with the given entry
// sequence.
type allocation struct {
	sequence uint64
	amount   decimal.Decimal
}

// planMatch selects open lots against an incoming exit fill under the given
// policy. It only plans: the lots slice is never mutated, so a failed plan
// leaves the book exactly as it was. The returned amounts sum to the exit
// amount.
func planMatch(policy MatchPolicy, lots []Lot, exit Fill) ([]allocation, error) {
	if len(lots) == 0 {
		return nil, errs.New("ledger/matcher", errs.CodeNoOpenPosition,
			errs.WithMessage("exit without open position"))
	}
	if policy == MatchSpecificLot {
		return planSpecific(lots, exit)
	}

	remaining := exit.Amount
	plan := make([]allocation, 0, 1)
	next := orderFor(policy, len(lots))
	for i := next(); i >= 0 && remaining.IsPositive(); i = next() {
		lot := lots[i]
		matched := remaining
		if matched.GreaterThan(lot.Amount) {
			matched = lot.Amount
		}
		plan = append(plan, allocation{sequence: lot.EntrySequence, amount: matched})
		remaining = remaining.Sub(matched)
	}
	if remaining.IsPositive() {
		return nil, errs.New("ledger/matcher", errs.CodeNoOpenPosition,
			errs.WithMessage("open amount insufficient for exit amount "+exit.Amount.String()))
	}
	return plan, nil
}

// orderFor returns an iterator over lot indexes in policy consumption order.
// FIFO and AverageCost walk insertion order ascending, LIFO descending.
func orderFor(policy MatchPolicy, n int) func() int {
	if policy == MatchLIFO {
		i := n
		return func() int {
			i--
			return i
		}
	}
	i := -1
	return func() int {
		i++
		if i >= n {
			return -1
		}
		return i
	}
}

// planSpecific resolves the exit against exactly one lot by correlation id
// first, then order id. No cross-lot partial match is permitted.
func planSpecific(lots []Lot, exit Fill) ([]allocation, error) {
	key := exit.matchKey()
	if key == "" {
		return nil, errs.New("ledger/matcher", errs.CodeLotMismatch,
			errs.WithMessage("specific-lot matching requires correlationId or orderId"))
	}
	for _, lot := range lots {
		if !lot.matches(key) {
			continue
		}
		if exit.Amount.GreaterThan(lot.Amount) {
			return nil, errs.New("ledger/matcher", errs.CodeLotMismatch,
				errs.WithMessage("exit amount exceeds matched lot amount"))
		}
		return []allocation{{sequence: lot.EntrySequence, amount: exit.Amount}}, nil
	}
	return nil, errs.New("ledger/matcher", errs.CodeLotMismatch,
		errs.WithMessage("no open lot matches "+key))
}
