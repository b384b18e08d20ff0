package auction_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fishmarket/auction-engine/internal/auction"
	"github.com/fishmarket/auction-engine/internal/model"
)

func sellBid(id, team string, price float64, qty int64, offset time.Duration) model.Bid {
	b := buyBid(id, team, price, qty, offset)
	b.Side = model.BidSideSell
	return b
}

func sellerWithStock(id string, qty int64) *model.Participant {
	p := team(id, 0)
	p.InventoryA = qty
	return p
}

func TestMatchSellBids_UnsoldQuotaHitsLatestTopBid(t *testing.T) {
	// 1000 units submitted at 2.5% -> quota 25. Both bids ask the same
	// price, so the later submission absorbs the whole quota.
	bids := []model.Bid{
		sellBid("early", "team1", 20, 500, 0),
		sellBid("late", "team2", 20, 500, time.Hour),
	}
	ledgers := ledgerOf(sellerWithStock("team1", 500), sellerWithStock("team2", 500))

	day := testDay(0, 1000000) // budget large enough to buy everything sellable
	res, err := auction.MatchSellBids(day, testRules(), bids, ledgers, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	late := findBid(t, res.Bids, "late")
	if late.QuantityFulfilled != 475 {
		t.Errorf("late bid should sell 500-25=475, got %d", late.QuantityFulfilled)
	}
	if late.Status != model.BidStatusPartial {
		t.Errorf("reserved bid must be partial, got %s", late.Status)
	}

	early := findBid(t, res.Bids, "early")
	if early.QuantityFulfilled != 500 || early.Status != model.BidStatusFulfilled {
		t.Errorf("early bid: got %d/%s, want 500/fulfilled", early.QuantityFulfilled, early.Status)
	}
}

func TestMatchSellBids_QuotaCeil(t *testing.T) {
	// 101 units at 2.5% = 2.525 -> quota 3.
	bids := []model.Bid{sellBid("only", "team1", 20, 101, 0)}
	ledgers := ledgerOf(sellerWithStock("team1", 101))

	res, err := auction.MatchSellBids(testDay(0, 1000000), testRules(), bids, ledgers, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	only := findBid(t, res.Bids, "only")
	if only.QuantityFulfilled != 98 {
		t.Errorf("fulfilled: got %d, want 101-3=98", only.QuantityFulfilled)
	}
	if only.Status != model.BidStatusPartial {
		t.Errorf("status: got %s, want partial", only.Status)
	}
}

func TestMatchSellBids_LowestPriceFillsFirst(t *testing.T) {
	// Budget 1000. The cheap ask fills fully before the expensive one
	// sees any budget.
	rules := testRules()
	rules.UnsoldRatioPercent = decimal.Zero

	bids := []model.Bid{
		sellBid("dear", "team1", 50, 30, 0),
		sellBid("cheap", "team2", 10, 50, time.Minute),
	}
	ledgers := ledgerOf(sellerWithStock("team1", 30), sellerWithStock("team2", 50))

	day := testDay(0, 1000)
	res, err := auction.MatchSellBids(day, rules, bids, ledgers, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cheap := findBid(t, res.Bids, "cheap")
	if cheap.QuantityFulfilled != 50 || cheap.Status != model.BidStatusFulfilled {
		t.Errorf("cheap: got %d/%s, want 50/fulfilled", cheap.QuantityFulfilled, cheap.Status)
	}
	// 500 budget left buys 10 units at 50.
	dear := findBid(t, res.Bids, "dear")
	if dear.QuantityFulfilled != 10 || dear.Status != model.BidStatusPartial {
		t.Errorf("dear: got %d/%s, want 10/partial", dear.QuantityFulfilled, dear.Status)
	}

	// Budget conservation.
	spent := d(50*10 + 10*50)
	if spent.GreaterThan(day.BudgetA) {
		t.Errorf("spent %s exceeds budget %s", spent, day.BudgetA)
	}
	if got := ledgers["team2"].Cash; !got.Equal(d(500)) {
		t.Errorf("team2 cash: got %s, want 500", got)
	}
	if got := ledgers["team2"].InventoryA; got != 0 {
		t.Errorf("team2 inventory: got %d, want 0", got)
	}
}

func TestMatchSellBids_BudgetExhaustedFails(t *testing.T) {
	rules := testRules()
	rules.UnsoldRatioPercent = decimal.Zero

	bids := []model.Bid{
		sellBid("first", "team1", 10, 100, 0),
		sellBid("second", "team2", 10, 100, time.Minute),
	}
	ledgers := ledgerOf(sellerWithStock("team1", 100), sellerWithStock("team2", 100))

	res, err := auction.MatchSellBids(testDay(0, 1000), rules, bids, ledgers, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := findBid(t, res.Bids, "first")
	if first.QuantityFulfilled != 100 {
		t.Errorf("first: got %d, want 100", first.QuantityFulfilled)
	}
	second := findBid(t, res.Bids, "second")
	if second.QuantityFulfilled != 0 || second.Status != model.BidStatusFailed {
		t.Errorf("second: got %d/%s, want 0/failed", second.QuantityFulfilled, second.Status)
	}
}

func TestMatchSellBids_FullyReservedBidFails(t *testing.T) {
	// Quota covers the whole top bid: nothing of it is sellable.
	rules := testRules()
	rules.UnsoldRatioPercent = d(50)

	bids := []model.Bid{
		sellBid("top", "team1", 30, 50, 0),
		sellBid("low", "team2", 10, 50, 0),
	}
	ledgers := ledgerOf(sellerWithStock("team1", 50), sellerWithStock("team2", 50))

	res, err := auction.MatchSellBids(testDay(0, 1000000), rules, bids, ledgers, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	top := findBid(t, res.Bids, "top")
	if top.QuantityFulfilled != 0 || top.Status != model.BidStatusFailed {
		t.Errorf("fully reserved bid: got %d/%s, want 0/failed", top.QuantityFulfilled, top.Status)
	}
	low := findBid(t, res.Bids, "low")
	if low.QuantityFulfilled != 50 || low.Status != model.BidStatusFulfilled {
		t.Errorf("unreserved bid: got %d/%s, want 50/fulfilled", low.QuantityFulfilled, low.Status)
	}
}

func TestMatchSellBids_ZeroPriceSellsFree(t *testing.T) {
	rules := testRules()
	rules.UnsoldRatioPercent = decimal.Zero

	bids := []model.Bid{sellBid("free", "team1", 0, 10, 0)}
	p := sellerWithStock("team1", 10)

	res, err := auction.MatchSellBids(testDay(0, 100), rules, bids, ledgerOf(p), base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	free := findBid(t, res.Bids, "free")
	if free.QuantityFulfilled != 10 || free.Status != model.BidStatusFulfilled {
		t.Errorf("zero-price bid: got %d/%s, want 10/fulfilled", free.QuantityFulfilled, free.Status)
	}
	if !p.Cash.Equal(decimal.Zero) {
		t.Errorf("cash: got %s, want 0", p.Cash)
	}
}

func TestMatchSellBids_HighPrecisionPriceNeverOverspends(t *testing.T) {
	// 1000 / 200.0000000000000001 is 4.999..., which default-precision
	// division rounds up to 5; only 4 units actually fit the budget.
	rules := testRules()
	rules.UnsoldRatioPercent = decimal.Zero

	b := sellBid("fine", "team1", 0, 10, 0)
	b.Price = decimal.RequireFromString("200.0000000000000001")
	ledgers := ledgerOf(sellerWithStock("team1", 10))

	day := testDay(0, 1000)
	res, err := auction.MatchSellBids(day, rules, []model.Bid{b}, ledgers, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fine := findBid(t, res.Bids, "fine")
	if fine.QuantityFulfilled != 4 {
		t.Errorf("fulfilled: got %d, want 4", fine.QuantityFulfilled)
	}
	spent := fine.Price.Mul(decimal.NewFromInt(fine.QuantityFulfilled))
	if spent.GreaterThan(day.BudgetA) {
		t.Errorf("spent %s exceeds budget %s", spent, day.BudgetA)
	}
}

func TestMatchSellBids_NeverFailsOnCredit(t *testing.T) {
	// Selling only credits cash, so even a team deep in debt matches fine.
	p := sellerWithStock("team1", 100)
	p.LoanBalance = d(1e9)
	p.LoanPrincipal = d(1e9)

	bids := []model.Bid{sellBid("b", "team1", 10, 100, 0)}
	if _, err := auction.MatchSellBids(testDay(0, 10000), testRules(), bids, ledgerOf(p), base); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
