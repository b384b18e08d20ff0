package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fishmarket/auction-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Matching/settlement passes lock their rows with SELECT ... FOR UPDATE so a
// duplicate trigger blocks until the first pass commits, then fails the
// status guard.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Game setup ---

func (s *PostgresStore) CreateGame(ctx context.Context, g *model.Game, rules *model.GameRules, participants []model.Participant) error {
	return s.WithTx(ctx, func(tx Tx) error {
		ptx := tx.(*pgTx)
		_, err := ptx.tx.Exec(ctx,
			`INSERT INTO games (id, name, status, current_day, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			g.ID, g.Name, g.Status, g.CurrentDay, g.CreatedAt)
		if err != nil {
			return err
		}

		_, err = ptx.tx.Exec(ctx,
			`INSERT INTO game_rules (game_id, initial_budget, loan_interest_rate, max_loan_ratio,
			                         unsold_fee_per_unit, unsold_ratio_percent, floor_price_a, floor_price_b, total_days)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
			rules.GameID, rules.InitialBudget.String(), rules.LoanInterestRate.String(),
			rules.MaxLoanRatio.String(), rules.UnsoldFeePerUnit.String(), rules.UnsoldRatioPercent.String(),
			rules.FloorPriceA.String(), rules.FloorPriceB.String(), rules.TotalDays)
		if err != nil {
			return err
		}

		for _, p := range participants {
			_, err = ptx.tx.Exec(ctx,
				`INSERT INTO participants (id, game_id, team_id, name, cash, loan_balance, loan_principal,
				                           inventory_a, inventory_b, cumulative_profit)
				 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10::NUMERIC)`,
				p.ID, p.GameID, p.TeamID, p.Name, p.Cash.String(), p.LoanBalance.String(),
				p.LoanPrincipal.String(), p.InventoryA, p.InventoryB, p.CumulativeProfit.String())
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	var g model.Game
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, current_day, created_at FROM games WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.Status, &g.CurrentDay, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", id, err)
	}
	return &g, nil
}

func (s *PostgresStore) GetRules(ctx context.Context, gameID string) (*model.GameRules, error) {
	return getRules(ctx, s.pool, gameID)
}

func (s *PostgresStore) ListParticipants(ctx context.Context, gameID string) ([]model.Participant, error) {
	return listParticipants(ctx, s.pool, gameID, false)
}

func (s *PostgresStore) AdvanceGameDay(ctx context.Context, gameID string) (int, error) {
	var dayNumber int
	err := s.pool.QueryRow(ctx,
		`UPDATE games SET current_day = current_day + 1
		 WHERE id = $1 AND status = $2
		 RETURNING current_day`, gameID, model.GameStatusActive).
		Scan(&dayNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.GetGame(ctx, gameID); gerr != nil {
			return 0, gerr
		}
		return 0, model.ErrGameFinished
	}
	if err != nil {
		return 0, fmt.Errorf("advance day for game %s: %w", gameID, err)
	}
	return dayNumber, nil
}

// --- Trading days ---

func (s *PostgresStore) CreateTradingDay(ctx context.Context, d *model.TradingDay) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trading_days (id, game_id, day_number, supply_a, supply_b, budget_a, budget_b, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		d.ID, d.GameID, d.DayNumber, d.SupplyA, d.SupplyB,
		d.BudgetA.String(), d.BudgetB.String(), d.Status, d.CreatedAt)
	return err
}

func (s *PostgresStore) GetTradingDay(ctx context.Context, id string) (*model.TradingDay, error) {
	return getTradingDay(ctx, s.pool, id, false)
}

func (s *PostgresStore) UpdateTradingDayStatus(ctx context.Context, id string, from, to model.DayStatus) error {
	return updateDayStatus(ctx, s.pool, id, from, to)
}

// --- Bids ---

func (s *PostgresStore) ReplaceBid(ctx context.Context, b *model.Bid) error {
	return s.WithTx(ctx, func(tx Tx) error {
		ptx := tx.(*pgTx)
		// Resubmission is a full overwrite of the (team, day, side, commodity) slot.
		_, err := ptx.tx.Exec(ctx,
			`DELETE FROM bids WHERE day_id = $1 AND team_id = $2 AND side = $3 AND commodity = $4`,
			b.DayID, b.TeamID, b.Side, b.Commodity)
		if err != nil {
			return err
		}
		_, err = ptx.tx.Exec(ctx,
			`INSERT INTO bids (id, game_id, day_id, team_id, commodity, side, price,
			                   quantity_submitted, quantity_fulfilled, status, submitted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10, $11)`,
			b.ID, b.GameID, b.DayID, b.TeamID, b.Commodity, b.Side, b.Price.String(),
			b.QuantitySubmitted, b.QuantityFulfilled, b.Status, b.SubmittedAt)
		return err
	})
}

func (s *PostgresStore) ListBids(ctx context.Context, dayID string, side model.BidSide) ([]model.Bid, error) {
	return listBids(ctx, s.pool, dayID, side, false)
}

// --- Settlement history ---

func (s *PostgresStore) ListSettlements(ctx context.Context, gameID string, dayNumber int) ([]model.SettlementRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+settlementColumns+`
		 FROM settlement_records
		 WHERE game_id = $1 AND ($2 = 0 OR day_number = $2)
		 ORDER BY day_number, team_id`, gameID, dayNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSettlements(rows)
}

// --- Transactions ---

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetTradingDayForUpdate(ctx context.Context, dayID string) (*model.TradingDay, error) {
	return getTradingDay(ctx, t.tx, dayID, true)
}

func (t *pgTx) GetRules(ctx context.Context, gameID string) (*model.GameRules, error) {
	return getRules(ctx, t.tx, gameID)
}

func (t *pgTx) ListBidsForUpdate(ctx context.Context, dayID string, side model.BidSide) ([]model.Bid, error) {
	return listBids(ctx, t.tx, dayID, side, true)
}

func (t *pgTx) ListParticipantsForUpdate(ctx context.Context, gameID string) ([]model.Participant, error) {
	return listParticipants(ctx, t.tx, gameID, true)
}

func (t *pgTx) GetLatestSettlement(ctx context.Context, gameID, teamID string) (*model.SettlementRecord, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+settlementColumns+`
		 FROM settlement_records
		 WHERE game_id = $1 AND team_id = $2
		 ORDER BY day_number DESC LIMIT 1`, gameID, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanSettlements(rows)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (t *pgTx) UpdateBidFill(ctx context.Context, bidID string, fulfilled int64, status model.BidStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE bids SET quantity_fulfilled = $2, status = $3 WHERE id = $1`,
		bidID, fulfilled, status)
	return err
}

func (t *pgTx) UpdateParticipant(ctx context.Context, p *model.Participant) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE participants
		 SET cash = $3::NUMERIC, loan_balance = $4::NUMERIC, loan_principal = $5::NUMERIC,
		     inventory_a = $6, inventory_b = $7, cumulative_profit = $8::NUMERIC
		 WHERE game_id = $1 AND team_id = $2`,
		p.GameID, p.TeamID, p.Cash.String(), p.LoanBalance.String(), p.LoanPrincipal.String(),
		p.InventoryA, p.InventoryB, p.CumulativeProfit.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrParticipantNotFound
	}
	return nil
}

func (t *pgTx) UpdateTradingDayStatus(ctx context.Context, dayID string, from, to model.DayStatus) error {
	return updateDayStatus(ctx, t.tx, dayID, from, to)
}

func (t *pgTx) UpdateGameStatus(ctx context.Context, gameID string, status model.GameStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE games SET status = $2 WHERE id = $1`, gameID, status)
	return err
}

func (t *pgTx) InsertTradeEntry(ctx context.Context, e *model.TradeEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trade_entries (id, game_id, day_id, bid_id, team_id, commodity, side, quantity, price, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11)`,
		e.ID, e.GameID, e.DayID, e.BidID, e.TeamID, e.Commodity, e.Side,
		e.Quantity, e.Price.String(), e.Amount.String(), e.CreatedAt)
	return err
}

func (t *pgTx) InsertSettlementRecord(ctx context.Context, r *model.SettlementRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO settlement_records (id, game_id, day_id, team_id, day_number,
		     opening_cash, closing_cash, opening_loan, closing_loan,
		     bought_a, bought_b, sold_a, sold_b, unsold_a, unsold_b,
		     buy_cost, sell_revenue, unsold_fee, interest, daily_profit, cumulative_profit, roi, created_at)
		 VALUES ($1, $2, $3, $4, $5,
		     $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		     $10, $11, $12, $13, $14, $15,
		     $16::NUMERIC, $17::NUMERIC, $18::NUMERIC, $19::NUMERIC, $20::NUMERIC, $21::NUMERIC, $22::NUMERIC, $23)`,
		r.ID, r.GameID, r.DayID, r.TeamID, r.DayNumber,
		r.OpeningCash.String(), r.ClosingCash.String(), r.OpeningLoan.String(), r.ClosingLoan.String(),
		r.BoughtA, r.BoughtB, r.SoldA, r.SoldB, r.UnsoldA, r.UnsoldB,
		r.BuyCost.String(), r.SellRevenue.String(), r.UnsoldFee.String(), r.Interest.String(),
		r.DailyProfit.String(), r.CumulativeProfit.String(), r.ROI.String(), r.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return model.ErrDuplicateSettlement
	}
	return err
}

// --- Shared query helpers ---

func getRules(ctx context.Context, q querier, gameID string) (*model.GameRules, error) {
	var r model.GameRules
	var budget, rate, ratio, fee, unsoldPct, floorA, floorB string

	err := q.QueryRow(ctx,
		`SELECT game_id, initial_budget::TEXT, loan_interest_rate::TEXT, max_loan_ratio::TEXT,
		        unsold_fee_per_unit::TEXT, unsold_ratio_percent::TEXT,
		        floor_price_a::TEXT, floor_price_b::TEXT, total_days
		 FROM game_rules WHERE game_id = $1`, gameID).
		Scan(&r.GameID, &budget, &rate, &ratio, &fee, &unsoldPct, &floorA, &floorB, &r.TotalDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rules for game %s: %w", gameID, err)
	}

	r.InitialBudget, _ = decimal.NewFromString(budget)
	r.LoanInterestRate, _ = decimal.NewFromString(rate)
	r.MaxLoanRatio, _ = decimal.NewFromString(ratio)
	r.UnsoldFeePerUnit, _ = decimal.NewFromString(fee)
	r.UnsoldRatioPercent, _ = decimal.NewFromString(unsoldPct)
	r.FloorPriceA, _ = decimal.NewFromString(floorA)
	r.FloorPriceB, _ = decimal.NewFromString(floorB)
	return &r, nil
}

func getTradingDay(ctx context.Context, q querier, id string, forUpdate bool) (*model.TradingDay, error) {
	query := `SELECT id, game_id, day_number, supply_a, supply_b, budget_a::TEXT, budget_b::TEXT, status, created_at
	          FROM trading_days WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var d model.TradingDay
	var budgetA, budgetB string
	err := q.QueryRow(ctx, query, id).
		Scan(&d.ID, &d.GameID, &d.DayNumber, &d.SupplyA, &d.SupplyB, &budgetA, &budgetB, &d.Status, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrDayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trading day %s: %w", id, err)
	}

	d.BudgetA, _ = decimal.NewFromString(budgetA)
	d.BudgetB, _ = decimal.NewFromString(budgetB)
	return &d, nil
}

func listParticipants(ctx context.Context, q querier, gameID string, forUpdate bool) ([]model.Participant, error) {
	query := `SELECT id, game_id, team_id, name, cash::TEXT, loan_balance::TEXT, loan_principal::TEXT,
	                 inventory_a, inventory_b, cumulative_profit::TEXT
	          FROM participants WHERE game_id = $1 ORDER BY team_id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, query, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		var p model.Participant
		var cash, loan, principal, cum string
		if err := rows.Scan(&p.ID, &p.GameID, &p.TeamID, &p.Name, &cash, &loan, &principal,
			&p.InventoryA, &p.InventoryB, &cum); err != nil {
			return nil, err
		}
		p.Cash, _ = decimal.NewFromString(cash)
		p.LoanBalance, _ = decimal.NewFromString(loan)
		p.LoanPrincipal, _ = decimal.NewFromString(principal)
		p.CumulativeProfit, _ = decimal.NewFromString(cum)
		out = append(out, p)
	}
	return out, rows.Err()
}

func listBids(ctx context.Context, q querier, dayID string, side model.BidSide, forUpdate bool) ([]model.Bid, error) {
	query := `SELECT id, game_id, day_id, team_id, commodity, side, price::TEXT,
	                 quantity_submitted, quantity_fulfilled, status, submitted_at
	          FROM bids WHERE day_id = $1 AND ($2 = '' OR side = $2) ORDER BY submitted_at, id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, query, dayID, string(side))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Bid
	for rows.Next() {
		var b model.Bid
		var price string
		if err := rows.Scan(&b.ID, &b.GameID, &b.DayID, &b.TeamID, &b.Commodity, &b.Side, &price,
			&b.QuantitySubmitted, &b.QuantityFulfilled, &b.Status, &b.SubmittedAt); err != nil {
			return nil, err
		}
		b.Price, _ = decimal.NewFromString(price)
		out = append(out, b)
	}
	return out, rows.Err()
}

func updateDayStatus(ctx context.Context, q querier, id string, from, to model.DayStatus) error {
	tag, err := q.Exec(ctx,
		`UPDATE trading_days SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: day %s is not %s", model.ErrDuplicatePhaseTransition, id, from)
	}
	return nil
}

const settlementColumns = `id, game_id, day_id, team_id, day_number,
	opening_cash::TEXT, closing_cash::TEXT, opening_loan::TEXT, closing_loan::TEXT,
	bought_a, bought_b, sold_a, sold_b, unsold_a, unsold_b,
	buy_cost::TEXT, sell_revenue::TEXT, unsold_fee::TEXT, interest::TEXT,
	daily_profit::TEXT, cumulative_profit::TEXT, roi::TEXT, created_at`

func scanSettlements(rows pgx.Rows) ([]model.SettlementRecord, error) {
	var out []model.SettlementRecord
	for rows.Next() {
		var r model.SettlementRecord
		var oc, cc, ol, cl, bc, sr, uf, in, dp, cp, roi string
		if err := rows.Scan(&r.ID, &r.GameID, &r.DayID, &r.TeamID, &r.DayNumber,
			&oc, &cc, &ol, &cl,
			&r.BoughtA, &r.BoughtB, &r.SoldA, &r.SoldB, &r.UnsoldA, &r.UnsoldB,
			&bc, &sr, &uf, &in, &dp, &cp, &roi, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.OpeningCash, _ = decimal.NewFromString(oc)
		r.ClosingCash, _ = decimal.NewFromString(cc)
		r.OpeningLoan, _ = decimal.NewFromString(ol)
		r.ClosingLoan, _ = decimal.NewFromString(cl)
		r.BuyCost, _ = decimal.NewFromString(bc)
		r.SellRevenue, _ = decimal.NewFromString(sr)
		r.UnsoldFee, _ = decimal.NewFromString(uf)
		r.Interest, _ = decimal.NewFromString(in)
		r.DailyProfit, _ = decimal.NewFromString(dp)
		r.CumulativeProfit, _ = decimal.NewFromString(cp)
		r.ROI, _ = decimal.NewFromString(roi)
		out = append(out, r)
	}
	return out, rows.Err()
}
