package ledger

import (
	"github.com/coachpo/lotmatch/errs"
)

// Side captures the direction of an execution fill.
type Side string

const (
	// SideBuy indicates buy side fills.
	SideBuy Side = "Buy"
	// SideSell indicates sell side fills.
	SideSell Side = "Sell"
)

// Opposite returns the opposing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Validate ensures the side is one of the supported values.
func (s Side) Validate() error {
	switch s {
	case SideBuy, SideSell:
		return nil
	default:
		return errs.New("ledger/side", errs.CodeInvalidFill,
			errs.WithMessage("side must be Buy or Sell"))
	}
}
