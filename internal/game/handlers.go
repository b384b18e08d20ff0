package game

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fishmarket/auction-engine/internal/model"
)

// --- Request/Response types ---

// CreateGameRequest is the JSON body for POST /api/v1/games.
type CreateGameRequest struct {
	Name  string          `json:"name"`
	Rules model.GameRules `json:"rules"`
	Teams []TeamSeed      `json:"teams"`
}

// AdvanceDayRequest is the JSON body for POST /api/v1/games/{gameID}/days.
type AdvanceDayRequest struct {
	SupplyA int64           `json:"supply_a"`
	SupplyB int64           `json:"supply_b"`
	BudgetA decimal.Decimal `json:"budget_a"`
	BudgetB decimal.Decimal `json:"budget_b"`
}

// SubmitBidRequest is the JSON body for POST /api/v1/bids.
type SubmitBidRequest struct {
	DayID     string          `json:"day_id"`
	TeamID    string          `json:"team_id"`
	Commodity model.Commodity `json:"commodity"`
	Side      model.BidSide   `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
}

// SettleRequest is the JSON body for POST /api/v1/days/{dayID}/settle.
type SettleRequest struct {
	Forced bool `json:"forced"`
}

// MatchResponse summarizes one matching pass.
type MatchResponse struct {
	Bids   []model.Bid        `json:"bids"`
	Trades []model.TradeEntry `json:"trades"`
}

// LeaderboardEntry is one row of the cumulative-profit ranking.
type LeaderboardEntry struct {
	Rank             int             `json:"rank"`
	TeamID           string          `json:"team_id"`
	Name             string          `json:"name"`
	Cash             decimal.Decimal `json:"cash"`
	LoanBalance      decimal.Decimal `json:"loan_balance"`
	CumulativeProfit decimal.Decimal `json:"cumulative_profit"`
}

// --- HTTP Handlers ---

// HandleCreateGame handles POST /api/v1/games
func (s *Service) HandleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	g, err := s.CreateGame(r.Context(), req.Name, req.Rules, req.Teams)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// HandleGetGame handles GET /api/v1/games/{gameID}
func (s *Service) HandleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// HandleAdvanceDay handles POST /api/v1/games/{gameID}/days
func (s *Service) HandleAdvanceDay(w http.ResponseWriter, r *http.Request) {
	var req AdvanceDayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	day, err := s.AdvanceDay(r.Context(), chi.URLParam(r, "gameID"),
		req.SupplyA, req.SupplyB, req.BudgetA, req.BudgetB)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, day)
}

// HandleGetDay handles GET /api/v1/days/{dayID}
func (s *Service) HandleGetDay(w http.ResponseWriter, r *http.Request) {
	day, err := s.store.GetTradingDay(r.Context(), chi.URLParam(r, "dayID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

// HandleSubmitBid handles POST /api/v1/bids
func (s *Service) HandleSubmitBid(w http.ResponseWriter, r *http.Request) {
	var req SubmitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	bid, err := s.SubmitBid(r.Context(), req.DayID, req.TeamID, req.Commodity, req.Side, req.Price, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// HandleOpenBuying handles POST /api/v1/days/{dayID}/open-buying
func (s *Service) HandleOpenBuying(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.OpenBuying)
}

// HandleOpenSelling handles POST /api/v1/days/{dayID}/open-selling
func (s *Service) HandleOpenSelling(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.OpenSelling)
}

// HandleCloseBuying handles POST /api/v1/days/{dayID}/close-buying
// Runs the buy-side matching pass.
func (s *Service) HandleCloseBuying(w http.ResponseWriter, r *http.Request) {
	res, err := s.CloseBuying(r.Context(), chi.URLParam(r, "dayID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MatchResponse{Bids: res.Bids, Trades: res.Trades})
}

// HandleCloseSelling handles POST /api/v1/days/{dayID}/close-selling
// Runs the sell-side matching pass.
func (s *Service) HandleCloseSelling(w http.ResponseWriter, r *http.Request) {
	res, err := s.CloseSelling(r.Context(), chi.URLParam(r, "dayID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MatchResponse{Bids: res.Bids, Trades: res.Trades})
}

// HandleSettle handles POST /api/v1/days/{dayID}/settle
// Runs the settlement pass; body {"forced": true} force-ends the game.
func (s *Service) HandleSettle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	res, err := s.SettleDay(r.Context(), chi.URLParam(r, "dayID"), req.Forced)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Records)
}

// HandleListBids handles GET /api/v1/days/{dayID}/bids?side=buy|sell
func (s *Service) HandleListBids(w http.ResponseWriter, r *http.Request) {
	side := model.BidSide(r.URL.Query().Get("side"))
	bids, err := s.store.ListBids(r.Context(), chi.URLParam(r, "dayID"), side)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// HandleListSettlements handles GET /api/v1/games/{gameID}/settlements
func (s *Service) HandleListSettlements(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListSettlements(r.Context(), chi.URLParam(r, "gameID"), 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if recs == nil {
		recs = []model.SettlementRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleLeaderboard handles GET /api/v1/games/{gameID}/leaderboard
// Teams ranked by cumulative profit, highest first.
func (s *Service) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	parts, err := s.store.ListParticipants(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	sort.SliceStable(parts, func(i, j int) bool {
		return parts[i].CumulativeProfit.GreaterThan(parts[j].CumulativeProfit)
	})

	board := make([]LeaderboardEntry, 0, len(parts))
	for i, p := range parts {
		board = append(board, LeaderboardEntry{
			Rank:             i + 1,
			TeamID:           p.TeamID,
			Name:             p.Name,
			Cash:             p.Cash,
			LoanBalance:      p.LoanBalance,
			CumulativeProfit: p.CumulativeProfit,
		})
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Service) handleTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, dayID string) error) {
	if err := fn(r.Context(), chi.URLParam(r, "dayID")); err != nil {
		writeDomainError(w, err)
		return
	}
	day, err := s.store.GetTradingDay(r.Context(), chi.URLParam(r, "dayID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidBid),
		errors.Is(err, model.ErrInvalidRules):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrGameNotFound),
		errors.Is(err, model.ErrDayNotFound),
		errors.Is(err, model.ErrParticipantNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrDuplicatePhaseTransition),
		errors.Is(err, model.ErrPhaseClosed),
		errors.Is(err, model.ErrGameFinished),
		errors.Is(err, model.ErrDuplicateSettlement),
		model.IsCreditLimit(err):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrMissingPriorState):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
