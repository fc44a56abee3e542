package ledger

import (
	"github.com/coachpo/lotmatch/errs"
)

// MatchPolicy selects how exit fills consume open lots.
type MatchPolicy string

const (
	// MatchFIFO consumes lots in ascending entry-sequence order.
	MatchFIFO MatchPolicy = "FIFO"
	// MatchLIFO consumes lots in descending entry-sequence order.
	MatchLIFO MatchPolicy = "LIFO"
	// MatchAverageCost collapses all entries into a single lot at the
	// amount-weighted mean entry price.
	MatchAverageCost MatchPolicy = "AVERAGE_COST"
	// MatchSpecificLot resolves the exit against exactly one lot by
	// correlation or order identifier.
	MatchSpecificLot MatchPolicy = "SPECIFIC_LOT"
)

// Validate ensures the policy is a member of the closed set.
func (p MatchPolicy) Validate() error {
	switch p {
	case MatchFIFO, MatchLIFO, MatchAverageCost, MatchSpecificLot:
		return nil
	default:
		return errs.New("ledger/policy", errs.CodeConstruction,
			errs.WithMessage("unknown match policy "+string(p)))
	}
}

// ParseMatchPolicy converts a configuration string into a MatchPolicy.
func ParseMatchPolicy(value string) (MatchPolicy, error) {
	policy := MatchPolicy(value)
	if err := policy.Validate(); err != nil {
		return "", err
	}
	return policy, nil
}
