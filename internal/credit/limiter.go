// Package credit implements the automatic credit line that finances buy-side
// fills and settlement-time cash shortfalls.
//
// Total borrowable principal is bounded by initial_budget * max_loan_ratio.
// The invariant loan_principal <= ceiling must hold at all times; any draw
// that would breach it aborts the enclosing transaction.
package credit

import (
	"github.com/shopspring/decimal"

	"github.com/fishmarket/auction-engine/internal/model"
)

// Limiter enforces the per-team credit ceiling and applies draws to a
// participant's ledger. It is stateless — ledger state is passed in.
type Limiter struct {
	// Ceiling is the maximum loan principal: initial_budget * max_loan_ratio.
	Ceiling decimal.Decimal
}

// NewLimiter creates a limiter from the game rules.
func NewLimiter(rules *model.GameRules) Limiter {
	return Limiter{Ceiling: rules.CreditCeiling()}
}

// Check validates whether drawing amount for the participant stays within
// the ceiling. Returns a *model.CreditLimitError on violation.
func (l Limiter) Check(p *model.Participant, amount decimal.Decimal) error {
	required := p.LoanPrincipal.Add(amount)
	if required.GreaterThan(l.Ceiling) {
		return &model.CreditLimitError{
			TeamID:   p.TeamID,
			Required: required,
			Limit:    l.Ceiling,
		}
	}
	return nil
}

// Draw checks the ceiling and applies a credit draw to the ledger: loan
// balance and principal grow by amount, and the cash arrives immediately.
func (l Limiter) Draw(p *model.Participant, amount decimal.Decimal) error {
	if err := l.Check(p, amount); err != nil {
		return err
	}
	p.LoanBalance = p.LoanBalance.Add(amount)
	p.LoanPrincipal = p.LoanPrincipal.Add(amount)
	p.Cash = p.Cash.Add(amount)
	return nil
}

// DrawForShortfall draws exactly enough credit to cover cost from the
// participant's cash, if cash alone cannot. Returns the amount drawn
// (zero when cash was sufficient).
func (l Limiter) DrawForShortfall(p *model.Participant, cost decimal.Decimal) (decimal.Decimal, error) {
	if p.Cash.GreaterThanOrEqual(cost) {
		return decimal.Zero, nil
	}
	needed := cost.Sub(p.Cash)
	if err := l.Draw(p, needed); err != nil {
		return decimal.Zero, err
	}
	return needed, nil
}
