package auction

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fishmarket/auction-engine/internal/model"
)

var oneHundred = decimal.NewFromInt(100)

// MatchSellBids allocates the day's fixed restaurant budget among sell bids,
// per commodity, after first reserving a mandatory unsold quota.
//
// Pass 1 reserves ceil(total_submitted * unsold_ratio / 100) units from bids
// ordered by price descending, submission time DESCENDING — at equal price
// the most recently submitted bid absorbs the forced-unsold allocation first,
// so a latecomer cannot free-ride on an earlier team's identical ask.
//
// Pass 2 fills the remaining (non-reserved) quantity in price ascending,
// time ascending order until the budget is exhausted. A bid carrying any
// reserved quantity can never be fully fulfilled, so its status is always
// partial once it clears the availability/budget gate.
//
// The sell side only credits cash, so this pass never fails on credit; the
// only failure mode is malformed input.
func MatchSellBids(day *model.TradingDay, rules *model.GameRules, bids []model.Bid,
	participants map[string]*model.Participant, now time.Time) (*Result, error) {

	if err := validateBids(bids, model.BidSideSell); err != nil {
		return nil, err
	}

	res := &Result{Ledgers: participants}

	for _, c := range model.Commodities {
		matched, trades, err := matchSellCommodity(day, rules, bidsFor(bids, c), participants, c, now)
		if err != nil {
			return nil, err
		}
		res.Bids = append(res.Bids, matched...)
		res.Trades = append(res.Trades, trades...)
	}
	return res, nil
}

func matchSellCommodity(day *model.TradingDay, rules *model.GameRules,
	bids []model.Bid, participants map[string]*model.Participant,
	c model.Commodity, now time.Time) ([]model.Bid, []model.TradeEntry, error) {

	reserved := reserveUnsoldQuota(bids, rules.UnsoldRatioPercent)

	// Lowest asking price fills first; at equal price the earlier
	// submission fills first. Deliberately the opposite time direction
	// from the quota pass above.
	sort.SliceStable(bids, func(i, j int) bool {
		if !bids[i].Price.Equal(bids[j].Price) {
			return bids[i].Price.LessThan(bids[j].Price)
		}
		return bids[i].SubmittedAt.Before(bids[j].SubmittedAt)
	})

	remainingBudget := day.Budget(c)
	var trades []model.TradeEntry

	for i := range bids {
		b := &bids[i]
		available := b.QuantitySubmitted - reserved[b.ID]

		if available <= 0 || remainingBudget.LessThanOrEqual(decimal.Zero) {
			b.QuantityFulfilled = 0
			b.Status = model.BidStatusFailed
			continue
		}

		fulfilled := available
		if b.Price.IsPositive() {
			maxAffordable := remainingBudget.Div(b.Price).Floor().IntPart()
			if maxAffordable < fulfilled {
				fulfilled = maxAffordable
			}
			// Div rounds at fixed precision and can round the quotient up
			// past what the budget actually covers; back off until the cost
			// fits.
			for fulfilled > 0 && b.Price.Mul(decimal.NewFromInt(fulfilled)).GreaterThan(remainingBudget) {
				fulfilled--
			}
		}
		b.QuantityFulfilled = fulfilled
		remainingBudget = remainingBudget.Sub(b.Price.Mul(decimal.NewFromInt(fulfilled)))

		// A reserved bid can never reach 100% of its submitted quantity,
		// so it is partial by definition even if every sellable unit sold.
		if reserved[b.ID] > 0 {
			b.Status = model.BidStatusPartial
		} else {
			b.Status = fillStatus(fulfilled, b.QuantitySubmitted)
		}

		if fulfilled == 0 {
			continue
		}

		p, ok := participants[b.TeamID]
		if !ok {
			return nil, nil, fmt.Errorf("sell match: %w: team %s", model.ErrParticipantNotFound, b.TeamID)
		}

		revenue := b.Price.Mul(decimal.NewFromInt(fulfilled))
		p.Cash = p.Cash.Add(revenue)
		p.AddInventory(c, -fulfilled)

		trades = append(trades, model.TradeEntry{
			ID:        uuid.New().String(),
			GameID:    day.GameID,
			DayID:     day.ID,
			BidID:     b.ID,
			TeamID:    b.TeamID,
			Commodity: c,
			Side:      model.BidSideSell,
			Quantity:  fulfilled,
			Price:     b.Price,
			Amount:    revenue,
			CreatedAt: now,
		})
	}

	return bids, trades, nil
}

// reserveUnsoldQuota computes the mandatory unsold quota for one commodity's
// sell bids and assigns it to the highest-priced, latest-submitted asks.
// Returns the reserved quantity per bid ID.
func reserveUnsoldQuota(bids []model.Bid, ratioPercent decimal.Decimal) map[string]int64 {
	reserved := make(map[string]int64, len(bids))

	var total int64
	for _, b := range bids {
		total += b.QuantitySubmitted
	}
	if total == 0 || !ratioPercent.IsPositive() {
		return reserved
	}

	quota := decimal.NewFromInt(total).Mul(ratioPercent).Div(oneHundred).Ceil().IntPart()
	if quota > total {
		quota = total
	}

	// Price descending, time descending: at equal price the latest
	// submission absorbs the forced-unsold allocation first.
	order := make([]model.Bid, len(bids))
	copy(order, bids)
	sort.SliceStable(order, func(i, j int) bool {
		if !order[i].Price.Equal(order[j].Price) {
			return order[i].Price.GreaterThan(order[j].Price)
		}
		return order[i].SubmittedAt.After(order[j].SubmittedAt)
	})

	remaining := quota
	for _, b := range order {
		if remaining <= 0 {
			break
		}
		r := b.QuantitySubmitted
		if r > remaining {
			r = remaining
		}
		reserved[b.ID] = r
		remaining -= r
	}
	return reserved
}
