// Package game provides the phase-orchestration service and HTTP handlers
// around the matching and settlement core: game setup, bid intake, phase
// transitions, and result queries.
//
// Every matching/settlement pass runs inside one store transaction with the
// day, bid, and participant rows locked for update; a duplicate trigger
// blocks on the locks and then fails the status guard. All monetary values
// use shopspring/decimal — never float64 for money.
package game

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fishmarket/auction-engine/internal/auction"
	"github.com/fishmarket/auction-engine/internal/metrics"
	"github.com/fishmarket/auction-engine/internal/model"
	"github.com/fishmarket/auction-engine/internal/settle"
	"github.com/fishmarket/auction-engine/internal/store"
)

// Service orchestrates the trading-day lifecycle. The surrounding system
// (admin endpoints or an external timer) triggers each phase transition
// exactly once; the persisted day status is the single source of truth for
// whether a phase has already been closed.
type Service struct {
	store store.Store
	sink  EventSink // optional; nil disables notifications
}

// NewService creates a new game service.
// Pass nil for sink if event broadcasting is not needed.
func NewService(st store.Store, sink EventSink) *Service {
	return &Service{store: st, sink: sink}
}

// --- Game setup ---

// TeamSeed describes one team joining a new game.
type TeamSeed struct {
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
}

// CreateGame creates a game with its rule set and seeds one participant per
// team, each starting with cash equal to the initial budget.
func (s *Service) CreateGame(ctx context.Context, name string, rules model.GameRules, teams []TeamSeed) (*model.Game, error) {
	if err := validateRules(&rules); err != nil {
		return nil, err
	}
	if len(teams) == 0 {
		return nil, fmt.Errorf("%w: at least one team required", model.ErrInvalidRules)
	}

	g := &model.Game{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    model.GameStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	rules.GameID = g.ID

	participants := make([]model.Participant, 0, len(teams))
	for _, t := range teams {
		participants = append(participants, model.Participant{
			ID:               uuid.New().String(),
			GameID:           g.ID,
			TeamID:           t.TeamID,
			Name:             t.Name,
			Cash:             rules.InitialBudget,
			LoanBalance:      decimal.Zero,
			LoanPrincipal:    decimal.Zero,
			CumulativeProfit: decimal.Zero,
		})
	}

	if err := s.store.CreateGame(ctx, g, &rules, participants); err != nil {
		return nil, err
	}

	slog.Info("game created", "game", g.ID, "name", name, "teams", len(teams),
		"initial_budget", rules.InitialBudget.String(), "total_days", rules.TotalDays)
	return g, nil
}

// AdvanceDay opens a new trading day with fixed supply and budgets. The day
// starts pending; the buy phase is opened by an explicit transition.
func (s *Service) AdvanceDay(ctx context.Context, gameID string, supplyA, supplyB int64, budgetA, budgetB decimal.Decimal) (*model.TradingDay, error) {
	if supplyA < 0 || supplyB < 0 || budgetA.IsNegative() || budgetB.IsNegative() {
		return nil, fmt.Errorf("%w: supply and budget must be non-negative", model.ErrInvalidBid)
	}

	dayNumber, err := s.store.AdvanceGameDay(ctx, gameID)
	if err != nil {
		return nil, err
	}

	day := &model.TradingDay{
		ID:        uuid.New().String(),
		GameID:    gameID,
		DayNumber: dayNumber,
		SupplyA:   supplyA,
		SupplyB:   supplyB,
		BudgetA:   budgetA,
		BudgetB:   budgetB,
		Status:    model.DayStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateTradingDay(ctx, day); err != nil {
		return nil, err
	}

	slog.Info("trading day created", "game", gameID, "day", dayNumber,
		"supply_a", supplyA, "supply_b", supplyB,
		"budget_a", budgetA.String(), "budget_b", budgetB.String())
	return day, nil
}

// --- Bid intake ---

// SubmitBid validates and upserts a bid. A resubmission for the same
// (team, day, side, commodity) fully replaces the prior bid.
//
// Sell bids must offer the team's entire inventory of the commodity — this
// intake invariant is what lets the sell matcher assume inventory can never
// go negative.
func (s *Service) SubmitBid(ctx context.Context, dayID, teamID string, c model.Commodity,
	side model.BidSide, price decimal.Decimal, quantity int64) (*model.Bid, error) {

	if c != model.CommodityA && c != model.CommodityB {
		return nil, fmt.Errorf("%w: unknown commodity %q", model.ErrInvalidBid, c)
	}
	if side != model.BidSideBuy && side != model.BidSideSell {
		return nil, fmt.Errorf("%w: unknown side %q", model.ErrInvalidBid, side)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidBid)
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: price must be non-negative", model.ErrInvalidBid)
	}

	day, err := s.store.GetTradingDay(ctx, dayID)
	if err != nil {
		return nil, err
	}

	wantStatus := model.DayStatusBuyingOpen
	if side == model.BidSideSell {
		wantStatus = model.DayStatusSellingOpen
	}
	if day.Status != wantStatus {
		return nil, fmt.Errorf("%w: day %d is %s", model.ErrPhaseClosed, day.DayNumber, day.Status)
	}

	if side == model.BidSideSell {
		p, err := s.findParticipant(ctx, day.GameID, teamID)
		if err != nil {
			return nil, err
		}
		if quantity != p.Inventory(c) {
			return nil, fmt.Errorf("%w: sell quantity %d must equal inventory %d of commodity %s",
				model.ErrInvalidBid, quantity, p.Inventory(c), c)
		}
	}

	bid := &model.Bid{
		ID:                uuid.New().String(),
		GameID:            day.GameID,
		DayID:             dayID,
		TeamID:            teamID,
		Commodity:         c,
		Side:              side,
		Price:             price,
		QuantitySubmitted: quantity,
		Status:            model.BidStatusPending,
		SubmittedAt:       time.Now().UTC(),
	}
	if err := s.store.ReplaceBid(ctx, bid); err != nil {
		return nil, err
	}

	slog.Info("bid submitted", "day", dayID, "team", teamID, "side", side,
		"commodity", c, "price", price.String(), "quantity", quantity)
	return bid, nil
}

// --- Phase transitions ---

// OpenBuying transitions a pending day to buying_open.
func (s *Service) OpenBuying(ctx context.Context, dayID string) error {
	return s.store.UpdateTradingDayStatus(ctx, dayID, model.DayStatusPending, model.DayStatusBuyingOpen)
}

// OpenSelling transitions a buying_closed day to selling_open.
func (s *Service) OpenSelling(ctx context.Context, dayID string) error {
	return s.store.UpdateTradingDayStatus(ctx, dayID, model.DayStatusBuyingClosed, model.DayStatusSellingOpen)
}

// CloseBuying runs the buy-side matching pass and transitions the day to
// buying_closed. The whole pass is one transaction: a credit-ceiling breach
// rolls back every bid and ledger mutation and leaves the day buying_open.
func (s *Service) CloseBuying(ctx context.Context, dayID string) (*auction.Result, error) {
	start := time.Now()

	var res *auction.Result
	var day *model.TradingDay
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		day, err = s.lockDay(ctx, tx, dayID, model.DayStatusBuyingOpen)
		if err != nil {
			return err
		}
		rules, err := tx.GetRules(ctx, day.GameID)
		if err != nil {
			return err
		}
		bids, err := tx.ListBidsForUpdate(ctx, dayID, model.BidSideBuy)
		if err != nil {
			return err
		}
		parts, err := tx.ListParticipantsForUpdate(ctx, day.GameID)
		if err != nil {
			return err
		}

		res, err = auction.MatchBuyBids(day, rules, bids, ledgerMap(parts), time.Now().UTC())
		if err != nil {
			return err
		}
		return s.persistMatch(ctx, tx, res, dayID, model.DayStatusBuyingOpen, model.DayStatusBuyingClosed)
	})
	if err != nil {
		if model.IsCreditLimit(err) {
			metrics.CreditLimitRejections.Inc()
		}
		return nil, err
	}

	s.observeMatch(res, model.BidSideBuy, start)
	slog.Info("buy auction closed", "game", day.GameID, "day", day.DayNumber,
		"bids", len(res.Bids), "fills", len(res.Trades))
	s.publish(Event{Type: "buying_closed", GameID: day.GameID, DayID: day.ID, DayNumber: day.DayNumber})
	return res, nil
}

// CloseSelling runs the sell-side matching pass and transitions the day to
// selling_closed.
func (s *Service) CloseSelling(ctx context.Context, dayID string) (*auction.Result, error) {
	start := time.Now()

	var res *auction.Result
	var day *model.TradingDay
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		day, err = s.lockDay(ctx, tx, dayID, model.DayStatusSellingOpen)
		if err != nil {
			return err
		}
		rules, err := tx.GetRules(ctx, day.GameID)
		if err != nil {
			return err
		}
		bids, err := tx.ListBidsForUpdate(ctx, dayID, model.BidSideSell)
		if err != nil {
			return err
		}
		parts, err := tx.ListParticipantsForUpdate(ctx, day.GameID)
		if err != nil {
			return err
		}

		res, err = auction.MatchSellBids(day, rules, bids, ledgerMap(parts), time.Now().UTC())
		if err != nil {
			return err
		}
		return s.persistMatch(ctx, tx, res, dayID, model.DayStatusSellingOpen, model.DayStatusSellingClosed)
	})
	if err != nil {
		return nil, err
	}

	s.observeMatch(res, model.BidSideSell, start)
	slog.Info("sell auction closed", "game", day.GameID, "day", day.DayNumber,
		"bids", len(res.Bids), "fills", len(res.Trades))
	s.publish(Event{Type: "selling_closed", GameID: day.GameID, DayID: day.ID, DayNumber: day.DayNumber})
	return res, nil
}

// SettleDay runs the settlement pass for a selling_closed day and completes
// it. Settlement is all-or-nothing across every participant of the day. With
// forced set (admin early termination) ROI is computed as if this were the
// final day and the game is finished.
func (s *Service) SettleDay(ctx context.Context, dayID string, forced bool) (*settle.Result, error) {
	start := time.Now()

	var res *settle.Result
	var day *model.TradingDay
	var gameFinished bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		day, err = s.lockDay(ctx, tx, dayID, model.DayStatusSellingClosed)
		if err != nil {
			return err
		}
		rules, err := tx.GetRules(ctx, day.GameID)
		if err != nil {
			return err
		}
		parts, err := tx.ListParticipantsForUpdate(ctx, day.GameID)
		if err != nil {
			return err
		}
		if len(parts) == 0 {
			return fmt.Errorf("settle day %s: %w: game %s has no participants", dayID, model.ErrMissingPriorState, day.GameID)
		}
		bids, err := tx.ListBidsForUpdate(ctx, dayID, "")
		if err != nil {
			return err
		}

		prior := make(map[string]decimal.Decimal, len(parts))
		for _, p := range parts {
			rec, err := tx.GetLatestSettlement(ctx, day.GameID, p.TeamID)
			if err != nil {
				return err
			}
			if rec != nil {
				prior[p.TeamID] = rec.CumulativeProfit
			}
		}

		res, err = settle.Day(day, rules, ledgerMap(parts), bids, prior, forced, time.Now().UTC())
		if err != nil {
			return err
		}

		for _, p := range parts {
			if err := tx.UpdateParticipant(ctx, res.Ledgers[p.TeamID]); err != nil {
				return err
			}
		}
		for i := range res.Records {
			if err := tx.InsertSettlementRecord(ctx, &res.Records[i]); err != nil {
				return err
			}
		}
		if err := tx.UpdateTradingDayStatus(ctx, dayID, model.DayStatusSellingClosed, model.DayStatusCompleted); err != nil {
			return err
		}

		if forced || day.DayNumber >= rules.TotalDays {
			gameFinished = true
			return tx.UpdateGameStatus(ctx, day.GameID, model.GameStatusFinished)
		}
		return nil
	})
	if err != nil {
		if model.IsCreditLimit(err) {
			metrics.CreditLimitRejections.Inc()
		}
		return nil, err
	}

	metrics.SettlementsTotal.Add(float64(len(res.Records)))
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	slog.Info("day settled", "game", day.GameID, "day", day.DayNumber,
		"records", len(res.Records), "forced", forced, "game_finished", gameFinished)

	s.publish(Event{Type: "day_settled", GameID: day.GameID, DayID: day.ID, DayNumber: day.DayNumber})
	if gameFinished {
		s.publish(Event{Type: "game_finished", GameID: day.GameID, DayNumber: day.DayNumber})
	}
	return res, nil
}

// --- Helpers ---

// lockDay reads the day row for update and enforces the phase guard before
// any mutation.
func (s *Service) lockDay(ctx context.Context, tx store.Tx, dayID string, want model.DayStatus) (*model.TradingDay, error) {
	day, err := tx.GetTradingDayForUpdate(ctx, dayID)
	if err != nil {
		return nil, err
	}
	if day.Status != want {
		return nil, fmt.Errorf("%w: day %s is %s, want %s", model.ErrDuplicatePhaseTransition, dayID, day.Status, want)
	}
	return day, nil
}

// persistMatch writes one matching pass: bid fills, mutated ledgers, audit
// entries, and the phase transition.
func (s *Service) persistMatch(ctx context.Context, tx store.Tx, res *auction.Result,
	dayID string, from, to model.DayStatus) error {

	for _, b := range res.Bids {
		if err := tx.UpdateBidFill(ctx, b.ID, b.QuantityFulfilled, b.Status); err != nil {
			return err
		}
	}
	for _, teamID := range sortedKeys(res.Ledgers) {
		if err := tx.UpdateParticipant(ctx, res.Ledgers[teamID]); err != nil {
			return err
		}
	}
	for i := range res.Trades {
		if err := tx.InsertTradeEntry(ctx, &res.Trades[i]); err != nil {
			return err
		}
	}
	return tx.UpdateTradingDayStatus(ctx, dayID, from, to)
}

func (s *Service) observeMatch(res *auction.Result, side model.BidSide, start time.Time) {
	for _, b := range res.Bids {
		metrics.BidsMatched.WithLabelValues(string(side), string(b.Status)).Inc()
	}
	metrics.MatchLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
}

func (s *Service) publish(e Event) {
	if s.sink != nil {
		s.sink.Publish(e)
	}
}

func (s *Service) findParticipant(ctx context.Context, gameID, teamID string) (*model.Participant, error) {
	parts, err := s.store.ListParticipants(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for i := range parts {
		if parts[i].TeamID == teamID {
			return &parts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: team %s in game %s", model.ErrParticipantNotFound, teamID, gameID)
}

func ledgerMap(parts []model.Participant) map[string]*model.Participant {
	m := make(map[string]*model.Participant, len(parts))
	for i := range parts {
		m[parts[i].TeamID] = &parts[i]
	}
	return m
}

func sortedKeys(m map[string]*model.Participant) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic persistence order keeps failures reproducible.
	sort.Strings(keys)
	return keys
}

func validateRules(r *model.GameRules) error {
	switch {
	case !r.InitialBudget.IsPositive():
		return fmt.Errorf("%w: initial budget must be positive", model.ErrInvalidRules)
	case r.LoanInterestRate.IsNegative():
		return fmt.Errorf("%w: interest rate must be non-negative", model.ErrInvalidRules)
	case r.MaxLoanRatio.IsNegative():
		return fmt.Errorf("%w: max loan ratio must be non-negative", model.ErrInvalidRules)
	case r.UnsoldFeePerUnit.IsNegative():
		return fmt.Errorf("%w: unsold fee must be non-negative", model.ErrInvalidRules)
	case r.UnsoldRatioPercent.IsNegative() || r.UnsoldRatioPercent.GreaterThan(decimal.NewFromInt(100)):
		return fmt.Errorf("%w: unsold ratio must be within [0, 100]", model.ErrInvalidRules)
	case r.FloorPriceA.IsNegative() || r.FloorPriceB.IsNegative():
		return fmt.Errorf("%w: floor prices must be non-negative", model.ErrInvalidRules)
	case r.TotalDays <= 0:
		return fmt.Errorf("%w: total days must be positive", model.ErrInvalidRules)
	}
	return nil
}
