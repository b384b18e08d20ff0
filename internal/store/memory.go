package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fishmarket/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Transactions take a snapshot of the whole state and swap it
// back in on commit, so a failed pass leaves no trace — the same
// all-or-nothing semantics the PostgreSQL store gets from pgx transactions.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	games        map[string]model.Game
	rules        map[string]model.GameRules
	participants map[string]model.Participant // gameID + "/" + teamID
	days         map[string]model.TradingDay
	bids         map[string]model.Bid
	trades       []model.TradeEntry
	settlements  []model.SettlementRecord
}

func newMemState() *memState {
	return &memState{
		games:        make(map[string]model.Game),
		rules:        make(map[string]model.GameRules),
		participants: make(map[string]model.Participant),
		days:         make(map[string]model.TradingDay),
		bids:         make(map[string]model.Bid),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.games {
		c.games[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.participants {
		c.participants[k] = v
	}
	for k, v := range s.days {
		c.days[k] = v
	}
	for k, v := range s.bids {
		c.bids[k] = v
	}
	c.trades = append([]model.TradeEntry(nil), s.trades...)
	c.settlements = append([]model.SettlementRecord(nil), s.settlements...)
	return c
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func participantKey(gameID, teamID string) string { return gameID + "/" + teamID }

// --- Plain operations ---

func (s *MemoryStore) CreateGame(_ context.Context, g *model.Game, rules *model.GameRules, participants []model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.games[g.ID]; ok {
		return fmt.Errorf("game %s already exists", g.ID)
	}
	s.state.games[g.ID] = *g
	s.state.rules[g.ID] = *rules
	for _, p := range participants {
		s.state.participants[participantKey(p.GameID, p.TeamID)] = p
	}
	return nil
}

func (s *MemoryStore) GetGame(_ context.Context, id string) (*model.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.state.games[id]
	if !ok {
		return nil, model.ErrGameNotFound
	}
	return &g, nil
}

func (s *MemoryStore) GetRules(_ context.Context, gameID string) (*model.GameRules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getRules(gameID)
}

func (s *MemoryStore) ListParticipants(_ context.Context, gameID string) ([]model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listParticipants(gameID), nil
}

func (s *MemoryStore) AdvanceGameDay(_ context.Context, gameID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.state.games[gameID]
	if !ok {
		return 0, model.ErrGameNotFound
	}
	if g.Status != model.GameStatusActive {
		return 0, model.ErrGameFinished
	}
	g.CurrentDay++
	s.state.games[gameID] = g
	return g.CurrentDay, nil
}

func (s *MemoryStore) CreateTradingDay(_ context.Context, d *model.TradingDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.days[d.ID]; ok {
		return fmt.Errorf("trading day %s already exists", d.ID)
	}
	s.state.days[d.ID] = *d
	return nil
}

func (s *MemoryStore) GetTradingDay(_ context.Context, id string) (*model.TradingDay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.state.days[id]
	if !ok {
		return nil, model.ErrDayNotFound
	}
	return &d, nil
}

func (s *MemoryStore) UpdateTradingDayStatus(_ context.Context, id string, from, to model.DayStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateDayStatus(id, from, to)
}

func (s *MemoryStore) ReplaceBid(_ context.Context, b *model.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Delete-then-insert keyed by (team, day, side, commodity).
	for id, existing := range s.state.bids {
		if existing.DayID == b.DayID && existing.TeamID == b.TeamID &&
			existing.Side == b.Side && existing.Commodity == b.Commodity {
			delete(s.state.bids, id)
		}
	}
	s.state.bids[b.ID] = *b
	return nil
}

func (s *MemoryStore) ListBids(_ context.Context, dayID string, side model.BidSide) ([]model.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listBids(dayID, side), nil
}

func (s *MemoryStore) ListSettlements(_ context.Context, gameID string, dayNumber int) ([]model.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.SettlementRecord
	for _, r := range s.state.settlements {
		if r.GameID == gameID && (dayNumber == 0 || r.DayNumber == dayNumber) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayNumber != out[j].DayNumber {
			return out[i].DayNumber < out[j].DayNumber
		}
		return out[i].TeamID < out[j].TeamID
	})
	return out, nil
}

// WithTx runs fn against a snapshot; the snapshot replaces the live state
// only when fn returns nil. The store mutex doubles as the row lock: no
// concurrent trigger can observe or mutate state mid-pass.
func (s *MemoryStore) WithTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&memTx{state: snapshot}); err != nil {
		return err
	}
	s.state = snapshot
	return nil
}

// --- Transactional view ---

type memTx struct {
	state *memState
}

func (t *memTx) GetTradingDayForUpdate(_ context.Context, dayID string) (*model.TradingDay, error) {
	d, ok := t.state.days[dayID]
	if !ok {
		return nil, model.ErrDayNotFound
	}
	return &d, nil
}

func (t *memTx) GetRules(_ context.Context, gameID string) (*model.GameRules, error) {
	return t.state.getRules(gameID)
}

func (t *memTx) ListBidsForUpdate(_ context.Context, dayID string, side model.BidSide) ([]model.Bid, error) {
	return t.state.listBids(dayID, side), nil
}

func (t *memTx) ListParticipantsForUpdate(_ context.Context, gameID string) ([]model.Participant, error) {
	return t.state.listParticipants(gameID), nil
}

func (t *memTx) GetLatestSettlement(_ context.Context, gameID, teamID string) (*model.SettlementRecord, error) {
	var latest *model.SettlementRecord
	for i := range t.state.settlements {
		r := &t.state.settlements[i]
		if r.GameID != gameID || r.TeamID != teamID {
			continue
		}
		if latest == nil || r.DayNumber > latest.DayNumber {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	rec := *latest
	return &rec, nil
}

func (t *memTx) UpdateBidFill(_ context.Context, bidID string, fulfilled int64, status model.BidStatus) error {
	b, ok := t.state.bids[bidID]
	if !ok {
		return fmt.Errorf("bid %s not found", bidID)
	}
	b.QuantityFulfilled = fulfilled
	b.Status = status
	t.state.bids[bidID] = b
	return nil
}

func (t *memTx) UpdateParticipant(_ context.Context, p *model.Participant) error {
	key := participantKey(p.GameID, p.TeamID)
	if _, ok := t.state.participants[key]; !ok {
		return model.ErrParticipantNotFound
	}
	t.state.participants[key] = *p
	return nil
}

func (t *memTx) UpdateTradingDayStatus(_ context.Context, dayID string, from, to model.DayStatus) error {
	return t.state.updateDayStatus(dayID, from, to)
}

func (t *memTx) UpdateGameStatus(_ context.Context, gameID string, status model.GameStatus) error {
	g, ok := t.state.games[gameID]
	if !ok {
		return model.ErrGameNotFound
	}
	g.Status = status
	t.state.games[gameID] = g
	return nil
}

func (t *memTx) InsertTradeEntry(_ context.Context, e *model.TradeEntry) error {
	t.state.trades = append(t.state.trades, *e)
	return nil
}

func (t *memTx) InsertSettlementRecord(_ context.Context, r *model.SettlementRecord) error {
	for _, existing := range t.state.settlements {
		if existing.GameID == r.GameID && existing.TeamID == r.TeamID && existing.DayNumber == r.DayNumber {
			return model.ErrDuplicateSettlement
		}
	}
	t.state.settlements = append(t.state.settlements, *r)
	return nil
}

// --- Shared state helpers ---

func (s *memState) getRules(gameID string) (*model.GameRules, error) {
	r, ok := s.rules[gameID]
	if !ok {
		return nil, model.ErrGameNotFound
	}
	return &r, nil
}

func (s *memState) listParticipants(gameID string) []model.Participant {
	var out []model.Participant
	for _, p := range s.participants {
		if p.GameID == gameID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out
}

func (s *memState) listBids(dayID string, side model.BidSide) []model.Bid {
	var out []model.Bid
	for _, b := range s.bids {
		if b.DayID == dayID && (side == "" || b.Side == side) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memState) updateDayStatus(id string, from, to model.DayStatus) error {
	d, ok := s.days[id]
	if !ok {
		return model.ErrDayNotFound
	}
	if d.Status != from {
		return fmt.Errorf("%w: day %s is %s, want %s", model.ErrDuplicatePhaseTransition, id, d.Status, from)
	}
	d.Status = to
	s.days[id] = d
	return nil
}
