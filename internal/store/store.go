// Package store defines the persistence interface for the auction engine.
// Implementations include PostgreSQL (source of truth, row-locking
// transactions), Redis (read-through cache for query endpoints), and
// in-memory (for testing).
package store

import (
	"context"

	"github.com/fishmarket/auction-engine/internal/model"
)

// Store is the persistence interface. Matching and settlement passes run
// through WithTx; intake and query endpoints use the plain methods.
type Store interface {
	// --- Game setup ---

	// CreateGame persists a game together with its immutable rules and
	// seeded participants.
	CreateGame(ctx context.Context, g *model.Game, rules *model.GameRules, participants []model.Participant) error

	// GetGame retrieves a game by ID.
	GetGame(ctx context.Context, id string) (*model.Game, error)

	// GetRules retrieves the immutable rule set of a game.
	GetRules(ctx context.Context, gameID string) (*model.GameRules, error)

	// ListParticipants returns all participants of a game.
	ListParticipants(ctx context.Context, gameID string) ([]model.Participant, error)

	// AdvanceGameDay increments the game's current day counter and returns
	// the new day number. Returns model.ErrGameFinished for finished games.
	AdvanceGameDay(ctx context.Context, gameID string) (int, error)

	// --- Trading days ---

	// CreateTradingDay persists a new day; supply and budgets are fixed
	// from this point on.
	CreateTradingDay(ctx context.Context, d *model.TradingDay) error

	// GetTradingDay retrieves a day by ID.
	GetTradingDay(ctx context.Context, id string) (*model.TradingDay, error)

	// UpdateTradingDayStatus advances the day's phase. The current status
	// must equal from; otherwise model.ErrDuplicatePhaseTransition is
	// returned and nothing is mutated.
	UpdateTradingDayStatus(ctx context.Context, id string, from, to model.DayStatus) error

	// --- Bids ---

	// ReplaceBid upserts a bid keyed by (team, day, side, commodity):
	// a resubmission fully overwrites the prior bid.
	ReplaceBid(ctx context.Context, b *model.Bid) error

	// ListBids returns a day's bids for one side ("" = both sides).
	ListBids(ctx context.Context, dayID string, side model.BidSide) ([]model.Bid, error)

	// --- Settlement history ---

	// ListSettlements returns a game's settlement records, oldest first
	// (dayNumber 0 = all days).
	ListSettlements(ctx context.Context, gameID string, dayNumber int) ([]model.SettlementRecord, error)

	// --- Transactions ---

	// WithTx runs fn inside one atomic transaction. Rows read through the
	// Tx's ForUpdate methods stay exclusively locked until commit. Any
	// error from fn rolls back every write.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view used by matching and settlement passes.
type Tx interface {
	// GetTradingDayForUpdate reads and locks the day row.
	GetTradingDayForUpdate(ctx context.Context, dayID string) (*model.TradingDay, error)

	// GetRules reads the game's rule set.
	GetRules(ctx context.Context, gameID string) (*model.GameRules, error)

	// ListBidsForUpdate reads and locks a day's bids for one side
	// ("" = both sides).
	ListBidsForUpdate(ctx context.Context, dayID string, side model.BidSide) ([]model.Bid, error)

	// ListParticipantsForUpdate reads and locks all participants of a game.
	ListParticipantsForUpdate(ctx context.Context, gameID string) ([]model.Participant, error)

	// GetLatestSettlement returns the most recent settlement record for a
	// team, or nil when the team has never been settled.
	GetLatestSettlement(ctx context.Context, gameID, teamID string) (*model.SettlementRecord, error)

	// UpdateBidFill writes a bid's matched quantity and terminal status.
	UpdateBidFill(ctx context.Context, bidID string, fulfilled int64, status model.BidStatus) error

	// UpdateParticipant writes a participant's ledger state.
	UpdateParticipant(ctx context.Context, p *model.Participant) error

	// UpdateTradingDayStatus advances the phase with the same from-guard
	// as Store.UpdateTradingDayStatus.
	UpdateTradingDayStatus(ctx context.Context, dayID string, from, to model.DayStatus) error

	// UpdateGameStatus marks a game finished on the final or forced-end day.
	UpdateGameStatus(ctx context.Context, gameID string, status model.GameStatus) error

	// InsertTradeEntry appends an immutable audit record.
	InsertTradeEntry(ctx context.Context, e *model.TradeEntry) error

	// InsertSettlementRecord appends an immutable settlement record.
	// (game, team, day) is unique; a duplicate returns
	// model.ErrDuplicateSettlement.
	InsertSettlementRecord(ctx context.Context, r *model.SettlementRecord) error
}
