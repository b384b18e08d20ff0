// Package settle implements the daily financial settlement: unsold fees,
// loan interest, shortfall financing, profit accounting, and end-of-game ROI.
//
// Settlement for all participants of a day is all-or-nothing: the caller
// runs Day inside one transaction and persists the whole result, or nothing.
// All monetary values use shopspring/decimal — never float64 for money.
package settle

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fishmarket/auction-engine/internal/credit"
	"github.com/fishmarket/auction-engine/internal/model"
)

// roiScale is the number of decimal places kept on the ROI percentage.
const roiScale int32 = 2

var oneHundred = decimal.NewFromInt(100)

// Result is the outcome of settling one day: one immutable record per
// participant plus the participants' updated ledgers.
type Result struct {
	Records []model.SettlementRecord
	Ledgers map[string]*model.Participant // keyed by team ID
}

// dayTotals aggregates one team's fulfilled bids for the day.
type dayTotals struct {
	buyCost     decimal.Decimal
	sellRevenue decimal.Decimal
	bought      map[model.Commodity]int64
	sold        map[model.Commodity]int64
}

// Day settles one trading day for every participant of the game.
//
// Per participant: aggregate the day's fills, charge the unsold fee and
// simple interest on the pre-settlement loan balance, draw credit for any
// cash shortfall (breach → *model.CreditLimitError, aborting the whole
// pass), accumulate profit, dispose of remaining inventory, and emit one
// settlement record. ROI is computed only when the day is the final
// scheduled day or the game is force-ended; otherwise it is recorded as 0.
//
// priorCumulative carries each team's cumulative profit from its most recent
// prior settlement record (absent key = no prior record = 0).
func Day(day *model.TradingDay, rules *model.GameRules,
	participants map[string]*model.Participant, bids []model.Bid,
	priorCumulative map[string]decimal.Decimal, isForcedEnd bool, now time.Time) (*Result, error) {

	if len(participants) == 0 {
		return nil, fmt.Errorf("settle day %d: %w: no participants", day.DayNumber, model.ErrMissingPriorState)
	}

	totalsByTeam := aggregate(bids)
	limiter := credit.NewLimiter(rules)
	isFinal := isForcedEnd || day.DayNumber >= rules.TotalDays

	res := &Result{Ledgers: participants}

	for _, p := range sortedByTeam(participants) {
		totals := totalsByTeam[p.TeamID]
		rec, err := settleParticipant(day, rules, limiter, p, totals, priorCumulative[p.TeamID], isFinal, now)
		if err != nil {
			return nil, err
		}
		res.Records = append(res.Records, *rec)
	}
	return res, nil
}

func settleParticipant(day *model.TradingDay, rules *model.GameRules, limiter credit.Limiter,
	p *model.Participant, totals dayTotals, priorCumulative decimal.Decimal,
	isFinal bool, now time.Time) (*model.SettlementRecord, error) {

	openingCash := p.Cash
	openingLoan := p.LoanBalance

	// Unsold stock = bought but not sold today, never negative.
	unsold := map[model.Commodity]int64{}
	for _, c := range model.Commodities {
		u := totals.bought[c] - totals.sold[c]
		if u < 0 {
			u = 0
		}
		unsold[c] = u
	}
	unsoldFee := rules.UnsoldFeePerUnit.Mul(decimal.NewFromInt(unsold[model.CommodityA] + unsold[model.CommodityB]))

	// Simple interest on the pre-settlement balance.
	interest := openingLoan.Mul(rules.LoanInterestRate)
	p.LoanBalance = p.LoanBalance.Add(interest)

	p.Cash = p.Cash.Sub(unsoldFee).Sub(interest)
	if p.Cash.IsNegative() {
		extra := p.Cash.Neg()
		if err := limiter.Check(p, extra); err != nil {
			return nil, err
		}
		p.LoanPrincipal = p.LoanPrincipal.Add(extra)
		p.LoanBalance = p.LoanBalance.Add(extra)
		p.Cash = decimal.Zero
	}

	dailyProfit := totals.sellRevenue.Sub(totals.buyCost).Sub(unsoldFee).Sub(interest)
	cumulative := priorCumulative.Add(dailyProfit)
	p.CumulativeProfit = cumulative

	// Dispose of whatever is left on the slab.
	p.InventoryA = 0
	p.InventoryB = 0

	roi := decimal.Zero
	if isFinal {
		deployed := rules.InitialBudget.Add(p.LoanPrincipal)
		if deployed.IsPositive() {
			roi = cumulative.Div(deployed).Mul(oneHundred).Round(roiScale)
		}
	}

	return &model.SettlementRecord{
		ID:               uuid.New().String(),
		GameID:           day.GameID,
		DayID:            day.ID,
		TeamID:           p.TeamID,
		DayNumber:        day.DayNumber,
		OpeningCash:      openingCash,
		ClosingCash:      p.Cash,
		OpeningLoan:      openingLoan,
		ClosingLoan:      p.LoanBalance,
		BoughtA:          totals.bought[model.CommodityA],
		BoughtB:          totals.bought[model.CommodityB],
		SoldA:            totals.sold[model.CommodityA],
		SoldB:            totals.sold[model.CommodityB],
		UnsoldA:          unsold[model.CommodityA],
		UnsoldB:          unsold[model.CommodityB],
		BuyCost:          totals.buyCost,
		SellRevenue:      totals.sellRevenue,
		UnsoldFee:        unsoldFee,
		Interest:         interest,
		DailyProfit:      dailyProfit,
		CumulativeProfit: cumulative,
		ROI:              roi,
		CreatedAt:        now,
	}, nil
}

// aggregate sums fulfilled quantities and money per team over the day's bids.
func aggregate(bids []model.Bid) map[string]dayTotals {
	out := make(map[string]dayTotals)
	for _, b := range bids {
		if b.QuantityFulfilled <= 0 {
			continue
		}
		t, ok := out[b.TeamID]
		if !ok {
			t = dayTotals{
				bought: map[model.Commodity]int64{},
				sold:   map[model.Commodity]int64{},
			}
		}
		amount := b.Price.Mul(decimal.NewFromInt(b.QuantityFulfilled))
		switch b.Side {
		case model.BidSideBuy:
			t.buyCost = t.buyCost.Add(amount)
			t.bought[b.Commodity] += b.QuantityFulfilled
		case model.BidSideSell:
			t.sellRevenue = t.sellRevenue.Add(amount)
			t.sold[b.Commodity] += b.QuantityFulfilled
		}
		out[b.TeamID] = t
	}
	return out
}

// sortedByTeam returns participants in deterministic team order so record
// insertion order (and any failure) is reproducible.
func sortedByTeam(participants map[string]*model.Participant) []*model.Participant {
	out := make([]*model.Participant, 0, len(participants))
	for _, p := range participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out
}
