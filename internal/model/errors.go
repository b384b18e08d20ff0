package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	// ErrInvalidBid is returned for malformed submitted data (non-positive
	// price or quantity). Rejected at intake, never reaches a matcher.
	ErrInvalidBid = errors.New("invalid bid")

	// ErrInvalidRules is returned for a malformed game configuration at
	// creation time (non-positive budget, out-of-range ratio, no teams).
	ErrInvalidRules = errors.New("invalid game rules")

	// ErrDuplicatePhaseTransition is returned when a close/settle operation
	// is invoked on a day not in the expected prior status. Rejected before
	// any mutation.
	ErrDuplicatePhaseTransition = errors.New("duplicate phase transition")

	// ErrMissingPriorState is returned when settlement is invoked for a
	// game/day with no participants or no trading day row.
	ErrMissingPriorState = errors.New("missing prior state")

	// ErrPhaseClosed is returned when a bid arrives while the day is not
	// in the open phase for that side.
	ErrPhaseClosed = errors.New("phase not open for bidding")

	// ErrGameFinished is returned when advancing a day on a finished game.
	ErrGameFinished = errors.New("game already finished")

	// ErrGameNotFound / ErrDayNotFound / ErrParticipantNotFound are store
	// lookup failures.
	ErrGameNotFound        = errors.New("game not found")
	ErrDayNotFound         = errors.New("trading day not found")
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrDuplicateSettlement is the store-level backstop for the unique
	// (game, team, day) settlement key.
	ErrDuplicateSettlement = errors.New("settlement record already exists")
)

// CreditLimitError reports that a required automatic credit draw would push
// a team's loan principal beyond its ceiling. Fatal to the enclosing
// matching or settlement transaction.
type CreditLimitError struct {
	TeamID   string
	Required decimal.Decimal // principal the team would need after the draw
	Limit    decimal.Decimal // initial_budget * max_loan_ratio
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("credit limit exceeded for team %s: required %s, limit %s",
		e.TeamID, e.Required, e.Limit)
}

// IsCreditLimit reports whether err is (or wraps) a CreditLimitError.
func IsCreditLimit(err error) bool {
	var cle *CreditLimitError
	return errors.As(err, &cle)
}
