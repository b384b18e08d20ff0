package game_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fishmarket/auction-engine/internal/game"
	"github.com/fishmarket/auction-engine/internal/model"
	"github.com/fishmarket/auction-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestRouter() http.Handler {
	svc := game.NewService(store.NewMemoryStore(), nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/games", svc.HandleCreateGame)
		r.Get("/games/{gameID}", svc.HandleGetGame)
		r.Post("/games/{gameID}/days", svc.HandleAdvanceDay)
		r.Get("/games/{gameID}/settlements", svc.HandleListSettlements)
		r.Get("/games/{gameID}/leaderboard", svc.HandleLeaderboard)
		r.Post("/bids", svc.HandleSubmitBid)
		r.Get("/days/{dayID}", svc.HandleGetDay)
		r.Get("/days/{dayID}/bids", svc.HandleListBids)
		r.Post("/days/{dayID}/open-buying", svc.HandleOpenBuying)
		r.Post("/days/{dayID}/close-buying", svc.HandleCloseBuying)
		r.Post("/days/{dayID}/open-selling", svc.HandleOpenSelling)
		r.Post("/days/{dayID}/close-selling", svc.HandleCloseSelling)
		r.Post("/days/{dayID}/settle", svc.HandleSettle)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response: %v\n%s", method, path, err, rec.Body.String())
		}
	}
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status: got %d, want %d\n%s", rec.Code, want, rec.Body.String())
	}
}

func defaultRules() model.GameRules {
	return model.GameRules{
		InitialBudget:      d(1000),
		LoanInterestRate:   d(0.05),
		MaxLoanRatio:       d(2),
		UnsoldFeePerUnit:   d(1),
		UnsoldRatioPercent: decimal.Zero,
		FloorPriceA:        d(10),
		FloorPriceB:        d(10),
		TotalDays:          2,
	}
}

func createGame(t *testing.T, h http.Handler, rules model.GameRules, teams ...string) model.Game {
	t.Helper()
	seeds := make([]game.TeamSeed, 0, len(teams))
	for _, id := range teams {
		seeds = append(seeds, game.TeamSeed{TeamID: id, Name: "Team " + id})
	}
	var g model.Game
	rec := do(t, h, http.MethodPost, "/api/v1/games",
		game.CreateGameRequest{Name: "test game", Rules: rules, Teams: seeds}, &g)
	expectStatus(t, rec, http.StatusCreated)
	return g
}

func openDay(t *testing.T, h http.Handler, gameID string, supply int64, budget float64) model.TradingDay {
	t.Helper()
	var day model.TradingDay
	rec := do(t, h, http.MethodPost, "/api/v1/games/"+gameID+"/days",
		game.AdvanceDayRequest{SupplyA: supply, SupplyB: supply, BudgetA: d(budget), BudgetB: d(budget)}, &day)
	expectStatus(t, rec, http.StatusCreated)

	rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/open-buying", nil, &day)
	expectStatus(t, rec, http.StatusOK)
	return day
}

func submitBid(t *testing.T, h http.Handler, dayID, team string, side model.BidSide, price float64, qty int64) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodPost, "/api/v1/bids", game.SubmitBidRequest{
		DayID: dayID, TeamID: team, Commodity: model.CommodityA,
		Side: side, Price: d(price), Quantity: qty,
	}, nil)
}

func TestFullTradingDayFlow(t *testing.T) {
	h := newTestRouter()
	g := createGame(t, h, defaultRules(), "team1", "team2")
	day := openDay(t, h, g.ID, 100, 5000)

	// Buy phase: team1 outbids team2 and takes 80 of the 100 units.
	// Costs stay under the 1000 starting cash so no credit is drawn.
	expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideBuy, 12, 80), http.StatusCreated)
	expectStatus(t, submitBid(t, h, day.ID, "team2", model.BidSideBuy, 11, 50), http.StatusCreated)

	var match game.MatchResponse
	rec := do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/close-buying", nil, &match)
	expectStatus(t, rec, http.StatusOK)
	if len(match.Trades) != 2 {
		t.Fatalf("buy trades: got %d, want 2", len(match.Trades))
	}
	for _, b := range match.Bids {
		switch b.TeamID {
		case "team1":
			if b.QuantityFulfilled != 80 || b.Status != model.BidStatusFulfilled {
				t.Errorf("team1 buy: got %d/%s", b.QuantityFulfilled, b.Status)
			}
		case "team2":
			if b.QuantityFulfilled != 20 || b.Status != model.BidStatusPartial {
				t.Errorf("team2 buy: got %d/%s", b.QuantityFulfilled, b.Status)
			}
		}
	}

	// Sell phase: each team must offer its entire inventory.
	rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/open-selling", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideSell, 20, 80), http.StatusCreated)
	expectStatus(t, submitBid(t, h, day.ID, "team2", model.BidSideSell, 20, 20), http.StatusCreated)

	rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/close-selling", nil, &match)
	expectStatus(t, rec, http.StatusOK)
	for _, b := range match.Bids {
		if b.Status != model.BidStatusFulfilled {
			t.Errorf("%s sell bid not fulfilled: %d/%s", b.TeamID, b.QuantityFulfilled, b.Status)
		}
	}

	// Settlement (day 1 of 2, so no ROI yet).
	var records []model.SettlementRecord
	rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/settle", game.SettleRequest{}, &records)
	expectStatus(t, rec, http.StatusOK)
	if len(records) != 2 {
		t.Fatalf("settlement records: got %d, want 2", len(records))
	}

	// team1: bought 80*12=960, sold 80*20=1600, no unsold, no loan.
	r1 := records[0]
	if r1.TeamID != "team1" {
		t.Fatalf("records not team-ordered: first is %s", r1.TeamID)
	}
	if !r1.DailyProfit.Equal(d(640)) {
		t.Errorf("team1 daily profit: got %s, want 640", r1.DailyProfit)
	}
	if !r1.ClosingCash.Equal(d(1640)) {
		t.Errorf("team1 closing cash: got %s, want 1640", r1.ClosingCash)
	}
	if !r1.ROI.IsZero() {
		t.Errorf("ROI before final day: got %s, want 0", r1.ROI)
	}
	// team2: bought 20*11=220, sold 20*20=400.
	if !records[1].DailyProfit.Equal(d(180)) {
		t.Errorf("team2 daily profit: got %s, want 180", records[1].DailyProfit)
	}

	var final model.TradingDay
	rec = do(t, h, http.MethodGet, "/api/v1/days/"+day.ID, nil, &final)
	expectStatus(t, rec, http.StatusOK)
	if final.Status != model.DayStatusCompleted {
		t.Errorf("day status: got %s, want completed", final.Status)
	}

	// Leaderboard ranks team1 first on cumulative profit.
	var board []game.LeaderboardEntry
	rec = do(t, h, http.MethodGet, "/api/v1/games/"+g.ID+"/leaderboard", nil, &board)
	expectStatus(t, rec, http.StatusOK)
	if len(board) != 2 || board[0].TeamID != "team1" || board[0].Rank != 1 {
		t.Errorf("leaderboard: %+v", board)
	}
	if !board[0].CumulativeProfit.Equal(d(640)) {
		t.Errorf("leader profit: got %s, want 640", board[0].CumulativeProfit)
	}
}

func TestDuplicatePhaseTransitionConflicts(t *testing.T) {
	h := newTestRouter()
	g := createGame(t, h, defaultRules(), "team1")
	day := openDay(t, h, g.ID, 10, 100)

	rec := do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/close-buying", nil, nil)
	expectStatus(t, rec, http.StatusOK)

	// The second trigger finds the day already buying_closed.
	rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/close-buying", nil, nil)
	expectStatus(t, rec, http.StatusConflict)

	// Settling before the sell phase closed is also rejected.
	rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/settle", nil, nil)
	expectStatus(t, rec, http.StatusConflict)

	// Finish the day, then settle it a second time: the completed day fails
	// the status guard and no extra records appear.
	rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/open-selling", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/close-selling", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/settle", nil, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/settle", nil, nil)
	expectStatus(t, rec, http.StatusConflict)

	var records []model.SettlementRecord
	rec = do(t, h, http.MethodGet, "/api/v1/games/"+g.ID+"/settlements", nil, &records)
	expectStatus(t, rec, http.StatusOK)
	if len(records) != 1 {
		t.Errorf("settlement records after repeated settle: got %d, want 1", len(records))
	}
}

func TestSubmitBid_PhaseAndValidation(t *testing.T) {
	h := newTestRouter()
	g := createGame(t, h, defaultRules(), "team1")
	day := openDay(t, h, g.ID, 10, 100)

	// Sell bid during the buy phase.
	expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideSell, 20, 5), http.StatusConflict)

	// Invalid quantity and unknown commodity.
	expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideBuy, 15, 0), http.StatusBadRequest)
	rec := do(t, h, http.MethodPost, "/api/v1/bids", game.SubmitBidRequest{
		DayID: day.ID, TeamID: "team1", Commodity: "X",
		Side: model.BidSideBuy, Price: d(15), Quantity: 5,
	}, nil)
	expectStatus(t, rec, http.StatusBadRequest)

	// Unknown day.
	rec = do(t, h, http.MethodPost, "/api/v1/bids", game.SubmitBidRequest{
		DayID: "nope", TeamID: "team1", Commodity: model.CommodityA,
		Side: model.BidSideBuy, Price: d(15), Quantity: 5,
	}, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestSubmitBid_SellMustOfferWholeInventory(t *testing.T) {
	h := newTestRouter()
	g := createGame(t, h, defaultRules(), "team1")
	day := openDay(t, h, g.ID, 50, 100000)

	expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideBuy, 15, 50), http.StatusCreated)
	rec := do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/close-buying", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/open-selling", nil, nil)
	expectStatus(t, rec, http.StatusOK)

	// Holding 50 but offering 30 is rejected; offering all 50 works.
	expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideSell, 20, 30), http.StatusBadRequest)
	expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideSell, 20, 50), http.StatusCreated)
}

func TestResubmittedBidReplacesPrior(t *testing.T) {
	h := newTestRouter()
	g := createGame(t, h, defaultRules(), "team1")
	day := openDay(t, h, g.ID, 10, 100)

	expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideBuy, 12, 5), http.StatusCreated)
	expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideBuy, 18, 8), http.StatusCreated)

	var bids []model.Bid
	rec := do(t, h, http.MethodGet, "/api/v1/days/"+day.ID+"/bids?side=buy", nil, &bids)
	expectStatus(t, rec, http.StatusOK)
	if len(bids) != 1 {
		t.Fatalf("bids after resubmit: got %d, want 1", len(bids))
	}
	if !bids[0].Price.Equal(d(18)) || bids[0].QuantitySubmitted != 8 {
		t.Errorf("surviving bid: %s x %d, want 18 x 8", bids[0].Price, bids[0].QuantitySubmitted)
	}
}

func TestCloseBuying_CreditBreachRollsBack(t *testing.T) {
	rules := defaultRules()
	rules.InitialBudget = d(100)
	rules.MaxLoanRatio = d(0.5) // ceiling 50

	h := newTestRouter()
	g := createGame(t, h, rules, "team1")
	day := openDay(t, h, g.ID, 10, 100)

	// Cost 500 against 100 cash and a 50 ceiling.
	expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideBuy, 50, 10), http.StatusCreated)

	rec := do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/close-buying", nil, nil)
	expectStatus(t, rec, http.StatusConflict)

	// The failed pass must leave the day open and the bid pending.
	var d2 model.TradingDay
	rec = do(t, h, http.MethodGet, "/api/v1/days/"+day.ID, nil, &d2)
	expectStatus(t, rec, http.StatusOK)
	if d2.Status != model.DayStatusBuyingOpen {
		t.Errorf("day after rollback: got %s, want buying_open", d2.Status)
	}
	var bids []model.Bid
	do(t, h, http.MethodGet, "/api/v1/days/"+day.ID+"/bids", nil, &bids)
	if len(bids) != 1 || bids[0].Status != model.BidStatusPending {
		t.Errorf("bid after rollback: %+v", bids)
	}
}

func TestForcedSettlementFinishesGame(t *testing.T) {
	rules := defaultRules()
	rules.TotalDays = 10

	h := newTestRouter()
	g := createGame(t, h, rules, "team1")
	day := openDay(t, h, g.ID, 0, 0)

	for _, step := range []string{"close-buying", "open-selling", "close-selling"} {
		rec := do(t, h, http.MethodPost, fmt.Sprintf("/api/v1/days/%s/%s", day.ID, step), nil, nil)
		expectStatus(t, rec, http.StatusOK)
	}

	var records []model.SettlementRecord
	rec := do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/settle",
		game.SettleRequest{Forced: true}, &records)
	expectStatus(t, rec, http.StatusOK)

	var g2 model.Game
	rec = do(t, h, http.MethodGet, "/api/v1/games/"+g.ID, nil, &g2)
	expectStatus(t, rec, http.StatusOK)
	if g2.Status != model.GameStatusFinished {
		t.Errorf("game after forced end: got %s, want finished", g2.Status)
	}

	// No further days can be opened.
	rec = do(t, h, http.MethodPost, "/api/v1/games/"+g.ID+"/days",
		game.AdvanceDayRequest{SupplyA: 1, SupplyB: 1, BudgetA: d(1), BudgetB: d(1)}, nil)
	expectStatus(t, rec, http.StatusConflict)
}

func TestCumulativeProfitCarriesAcrossDays(t *testing.T) {
	h := newTestRouter()
	g := createGame(t, h, defaultRules(), "team1")

	runDay := func(buyPrice, sellPrice float64, qty int64) {
		day := openDay(t, h, g.ID, qty, 100000)
		expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideBuy, buyPrice, qty), http.StatusCreated)
		rec := do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/close-buying", nil, nil)
		expectStatus(t, rec, http.StatusOK)
		rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/open-selling", nil, nil)
		expectStatus(t, rec, http.StatusOK)
		expectStatus(t, submitBid(t, h, day.ID, "team1", model.BidSideSell, sellPrice, qty), http.StatusCreated)
		rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/close-selling", nil, nil)
		expectStatus(t, rec, http.StatusOK)
		rec = do(t, h, http.MethodPost, "/api/v1/days/"+day.ID+"/settle", nil, nil)
		expectStatus(t, rec, http.StatusOK)
	}

	runDay(15, 20, 10) // +50
	runDay(15, 25, 10) // +100

	var records []model.SettlementRecord
	rec := do(t, h, http.MethodGet, "/api/v1/games/"+g.ID+"/settlements", nil, &records)
	expectStatus(t, rec, http.StatusOK)
	if len(records) != 2 {
		t.Fatalf("settlement history: got %d, want 2", len(records))
	}
	if !records[0].CumulativeProfit.Equal(d(50)) || !records[1].CumulativeProfit.Equal(d(150)) {
		t.Errorf("cumulative profits: %s then %s, want 50 then 150",
			records[0].CumulativeProfit, records[1].CumulativeProfit)
	}
	// Day 2 of 2 is the final day, so ROI is reported.
	if !records[1].ROI.Equal(d(15)) { // 150 / 1000 * 100
		t.Errorf("final ROI: got %s, want 15", records[1].ROI)
	}
}

func TestCreateGame_InvalidRulesError(t *testing.T) {
	svc := game.NewService(store.NewMemoryStore(), nil)

	bad := defaultRules()
	bad.TotalDays = 0
	_, err := svc.CreateGame(context.Background(), "bad", bad, []game.TeamSeed{{TeamID: "t1"}})
	if !errors.Is(err, model.ErrInvalidRules) {
		t.Fatalf("want ErrInvalidRules, got %v", err)
	}

	_, err = svc.CreateGame(context.Background(), "no teams", defaultRules(), nil)
	if !errors.Is(err, model.ErrInvalidRules) {
		t.Fatalf("want ErrInvalidRules for empty team list, got %v", err)
	}
}

func TestCreateGame_Validation(t *testing.T) {
	h := newTestRouter()

	// No teams.
	rec := do(t, h, http.MethodPost, "/api/v1/games",
		game.CreateGameRequest{Name: "empty", Rules: defaultRules()}, nil)
	expectStatus(t, rec, http.StatusBadRequest)

	// Non-positive initial budget.
	bad := defaultRules()
	bad.InitialBudget = decimal.Zero
	rec = do(t, h, http.MethodPost, "/api/v1/games",
		game.CreateGameRequest{Name: "bad", Rules: bad, Teams: []game.TeamSeed{{TeamID: "t"}}}, nil)
	expectStatus(t, rec, http.StatusBadRequest)

	// Unknown game lookup.
	rec = do(t, h, http.MethodGet, "/api/v1/games/unknown", nil, nil)
	expectStatus(t, rec, http.StatusNotFound)
}
