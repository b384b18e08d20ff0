// Package auction implements the two matching passes of a trading day: the
// supply-constrained buy auction against the distributor and the
// budget-constrained sell auction against the restaurant.
//
// Both matchers are pure with respect to storage: they take the day's bids
// and the participants' ledgers, mutate ledgers in place, and return the
// updated bids plus an immutable audit trail. The caller runs them inside a
// single transaction and persists (or rolls back) the whole result.
//
// All monetary values use shopspring/decimal — never float64 for money.
package auction

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fishmarket/auction-engine/internal/credit"
	"github.com/fishmarket/auction-engine/internal/model"
)

// Result is the outcome of one matching pass: updated bids, the mutated
// ledgers, and one audit entry per fill.
type Result struct {
	Bids    []model.Bid
	Ledgers map[string]*model.Participant // keyed by team ID
	Trades  []model.TradeEntry
}

// MatchBuyBids allocates the day's fixed supply among buy bids, per
// commodity, independently for A and B.
//
// Ordering is price descending, submission time ascending. Bids priced below
// the floor are failed outright and do not consume supply. Every fill is
// financed from the team's cash, drawing automatic credit for any shortfall;
// a draw that would breach the credit ceiling aborts the whole pass with a
// *model.CreditLimitError.
func MatchBuyBids(day *model.TradingDay, rules *model.GameRules, bids []model.Bid,
	participants map[string]*model.Participant, now time.Time) (*Result, error) {

	if err := validateBids(bids, model.BidSideBuy); err != nil {
		return nil, err
	}

	limiter := credit.NewLimiter(rules)
	res := &Result{Ledgers: participants}

	for _, c := range model.Commodities {
		matched, trades, err := matchBuyCommodity(day, rules, limiter, bidsFor(bids, c), participants, c, now)
		if err != nil {
			return nil, err
		}
		res.Bids = append(res.Bids, matched...)
		res.Trades = append(res.Trades, trades...)
	}
	return res, nil
}

func matchBuyCommodity(day *model.TradingDay, rules *model.GameRules, limiter credit.Limiter,
	bids []model.Bid, participants map[string]*model.Participant,
	c model.Commodity, now time.Time) ([]model.Bid, []model.TradeEntry, error) {

	// Highest price wins; at equal price the earlier submission wins.
	sort.SliceStable(bids, func(i, j int) bool {
		if !bids[i].Price.Equal(bids[j].Price) {
			return bids[i].Price.GreaterThan(bids[j].Price)
		}
		return bids[i].SubmittedAt.Before(bids[j].SubmittedAt)
	})

	remaining := day.Supply(c)
	floor := rules.FloorPrice(c)
	var trades []model.TradeEntry

	for i := range bids {
		b := &bids[i]

		if b.Price.LessThan(floor) {
			b.QuantityFulfilled = 0
			b.Status = model.BidStatusFailed
			continue
		}
		if remaining <= 0 {
			b.QuantityFulfilled = 0
			b.Status = model.BidStatusFailed
			continue
		}

		fulfilled := b.QuantitySubmitted
		if fulfilled > remaining {
			fulfilled = remaining
		}
		remaining -= fulfilled
		b.QuantityFulfilled = fulfilled
		b.Status = fillStatus(fulfilled, b.QuantitySubmitted)

		if fulfilled == 0 {
			continue
		}

		p, ok := participants[b.TeamID]
		if !ok {
			return nil, nil, fmt.Errorf("buy match: %w: team %s", model.ErrParticipantNotFound, b.TeamID)
		}

		cost := b.Price.Mul(decimal.NewFromInt(fulfilled))
		if _, err := limiter.DrawForShortfall(p, cost); err != nil {
			return nil, nil, err
		}
		p.Cash = p.Cash.Sub(cost)
		p.AddInventory(c, fulfilled)

		trades = append(trades, model.TradeEntry{
			ID:        uuid.New().String(),
			GameID:    day.GameID,
			DayID:     day.ID,
			BidID:     b.ID,
			TeamID:    b.TeamID,
			Commodity: c,
			Side:      model.BidSideBuy,
			Quantity:  fulfilled,
			Price:     b.Price,
			Amount:    cost,
			CreatedAt: now,
		})
	}

	return bids, trades, nil
}

// bidsFor copies the bids of one commodity so sorting never disturbs the
// caller's slice.
func bidsFor(bids []model.Bid, c model.Commodity) []model.Bid {
	var out []model.Bid
	for _, b := range bids {
		if b.Commodity == c {
			out = append(out, b)
		}
	}
	return out
}

func fillStatus(fulfilled, submitted int64) model.BidStatus {
	switch {
	case fulfilled == submitted:
		return model.BidStatusFulfilled
	case fulfilled > 0:
		return model.BidStatusPartial
	default:
		return model.BidStatusFailed
	}
}

// validateBids rejects malformed bids before any matching work. Intake is
// expected to have screened these already; this is the matcher's own guard.
func validateBids(bids []model.Bid, side model.BidSide) error {
	for _, b := range bids {
		if b.Side != side {
			return fmt.Errorf("%w: bid %s has side %s, want %s", model.ErrInvalidBid, b.ID, b.Side, side)
		}
		if b.QuantitySubmitted <= 0 {
			return fmt.Errorf("%w: bid %s has non-positive quantity %d", model.ErrInvalidBid, b.ID, b.QuantitySubmitted)
		}
		if b.Price.IsNegative() {
			return fmt.Errorf("%w: bid %s has negative price %s", model.ErrInvalidBid, b.ID, b.Price)
		}
	}
	return nil
}
