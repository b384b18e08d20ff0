// Package model defines the core domain types shared across the auction engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Quantities of fish crates are whole units and use int64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commodity identifies one of the two traded goods. Each commodity has an
// independent supply, budget, and floor price per trading day.
type Commodity string

const (
	CommodityA Commodity = "A"
	CommodityB Commodity = "B"
)

// Commodities lists both goods in canonical matching order.
var Commodities = []Commodity{CommodityA, CommodityB}

// BidSide is the direction of a bid: buying from the distributor or selling
// to the restaurant.
type BidSide string

const (
	BidSideBuy  BidSide = "buy"
	BidSideSell BidSide = "sell"
)

// BidStatus is the lifecycle state of a bid. A bid starts pending and is
// moved to exactly one terminal state by the matcher for its side.
type BidStatus string

const (
	BidStatusPending   BidStatus = "pending"
	BidStatusFulfilled BidStatus = "fulfilled"
	BidStatusPartial   BidStatus = "partial"
	BidStatusFailed    BidStatus = "failed"
)

// DayStatus is the phase state machine of one trading day. Transitions are
// strictly linear; the store-persisted status is the single source of truth
// for whether a phase has already been closed.
type DayStatus string

const (
	DayStatusPending       DayStatus = "pending"
	DayStatusBuyingOpen    DayStatus = "buying_open"
	DayStatusBuyingClosed  DayStatus = "buying_closed"
	DayStatusSellingOpen   DayStatus = "selling_open"
	DayStatusSellingClosed DayStatus = "selling_closed"
	DayStatusCompleted     DayStatus = "completed"
)

// GameStatus tracks whether a game is still running.
type GameStatus string

const (
	GameStatusActive   GameStatus = "active"
	GameStatusFinished GameStatus = "finished"
)

// Bid is one submitted order for the current trading day. Immutable once
// matched except for QuantityFulfilled and Status, which are written only by
// the matcher owning that side.
type Bid struct {
	ID                string          `json:"id" db:"id"`
	GameID            string          `json:"game_id" db:"game_id"`
	DayID             string          `json:"day_id" db:"day_id"`
	TeamID            string          `json:"team_id" db:"team_id"`
	Commodity         Commodity       `json:"commodity" db:"commodity"`
	Side              BidSide         `json:"side" db:"side"`
	Price             decimal.Decimal `json:"price" db:"price"`
	QuantitySubmitted int64           `json:"quantity_submitted" db:"quantity_submitted"`
	QuantityFulfilled int64           `json:"quantity_fulfilled" db:"quantity_fulfilled"`
	Status            BidStatus       `json:"status" db:"status"`
	SubmittedAt       time.Time       `json:"submitted_at" db:"submitted_at"`
}

// TradingDay is one day of one game. Supply (buy side) and budget (sell side)
// are fixed before the buy phase opens and never change afterward.
type TradingDay struct {
	ID        string          `json:"id" db:"id"`
	GameID    string          `json:"game_id" db:"game_id"`
	DayNumber int             `json:"day_number" db:"day_number"`
	SupplyA   int64           `json:"supply_a" db:"supply_a"`
	SupplyB   int64           `json:"supply_b" db:"supply_b"`
	BudgetA   decimal.Decimal `json:"budget_a" db:"budget_a"`
	BudgetB   decimal.Decimal `json:"budget_b" db:"budget_b"`
	Status    DayStatus       `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Supply returns the distributor supply for one commodity.
func (d *TradingDay) Supply(c Commodity) int64 {
	if c == CommodityA {
		return d.SupplyA
	}
	return d.SupplyB
}

// Budget returns the restaurant budget for one commodity.
func (d *TradingDay) Budget(c Commodity) decimal.Decimal {
	if c == CommodityA {
		return d.BudgetA
	}
	return d.BudgetB
}

// Game is one running simulation.
type Game struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Status     GameStatus `json:"status" db:"status"`
	CurrentDay int        `json:"current_day" db:"current_day"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// GameRules is the immutable per-game rule set.
type GameRules struct {
	GameID             string          `json:"game_id" db:"game_id"`
	InitialBudget      decimal.Decimal `json:"initial_budget" db:"initial_budget"`
	LoanInterestRate   decimal.Decimal `json:"loan_interest_rate" db:"loan_interest_rate"`     // per-day simple rate
	MaxLoanRatio       decimal.Decimal `json:"max_loan_ratio" db:"max_loan_ratio"`             // principal ceiling = initial_budget * ratio
	UnsoldFeePerUnit   decimal.Decimal `json:"unsold_fee_per_unit" db:"unsold_fee_per_unit"`
	UnsoldRatioPercent decimal.Decimal `json:"unsold_ratio_percent" db:"unsold_ratio_percent"` // e.g. 2.5 = 2.5%
	FloorPriceA        decimal.Decimal `json:"floor_price_a" db:"floor_price_a"`
	FloorPriceB        decimal.Decimal `json:"floor_price_b" db:"floor_price_b"`
	TotalDays          int             `json:"total_days" db:"total_days"`
}

// FloorPrice returns the distributor floor price for one commodity.
func (r *GameRules) FloorPrice(c Commodity) decimal.Decimal {
	if c == CommodityA {
		return r.FloorPriceA
	}
	return r.FloorPriceB
}

// CreditCeiling is the maximum loan principal a team may ever hold.
func (r *GameRules) CreditCeiling() decimal.Decimal {
	return r.InitialBudget.Mul(r.MaxLoanRatio)
}

// Participant is a team's position in a game. Inventory is zeroed by
// settlement at day end; unsold stock is disposed of, not carried over.
type Participant struct {
	ID               string          `json:"id" db:"id"`
	GameID           string          `json:"game_id" db:"game_id"`
	TeamID           string          `json:"team_id" db:"team_id"`
	Name             string          `json:"name" db:"name"`
	Cash             decimal.Decimal `json:"cash" db:"cash"`
	LoanBalance      decimal.Decimal `json:"loan_balance" db:"loan_balance"`
	LoanPrincipal    decimal.Decimal `json:"loan_principal" db:"loan_principal"`
	InventoryA       int64           `json:"inventory_a" db:"inventory_a"`
	InventoryB       int64           `json:"inventory_b" db:"inventory_b"`
	CumulativeProfit decimal.Decimal `json:"cumulative_profit" db:"cumulative_profit"`
}

// Inventory returns the on-hand quantity for one commodity.
func (p *Participant) Inventory(c Commodity) int64 {
	if c == CommodityA {
		return p.InventoryA
	}
	return p.InventoryB
}

// AddInventory adjusts the on-hand quantity for one commodity by delta.
func (p *Participant) AddInventory(c Commodity, delta int64) {
	if c == CommodityA {
		p.InventoryA += delta
	} else {
		p.InventoryB += delta
	}
}

// TradeEntry is an immutable audit record of one fill. Once created, these
// are never modified or deleted.
type TradeEntry struct {
	ID        string          `json:"id" db:"id"`
	GameID    string          `json:"game_id" db:"game_id"`
	DayID     string          `json:"day_id" db:"day_id"`
	BidID     string          `json:"bid_id" db:"bid_id"`
	TeamID    string          `json:"team_id" db:"team_id"`
	Commodity Commodity       `json:"commodity" db:"commodity"`
	Side      BidSide         `json:"side" db:"side"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // quantity * price
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// SettlementRecord is the permanent per-(team, day) settlement row.
// Append-only; (game, team, day) is the unique key.
type SettlementRecord struct {
	ID               string          `json:"id" db:"id"`
	GameID           string          `json:"game_id" db:"game_id"`
	DayID            string          `json:"day_id" db:"day_id"`
	TeamID           string          `json:"team_id" db:"team_id"`
	DayNumber        int             `json:"day_number" db:"day_number"`
	OpeningCash      decimal.Decimal `json:"opening_cash" db:"opening_cash"`
	ClosingCash      decimal.Decimal `json:"closing_cash" db:"closing_cash"`
	OpeningLoan      decimal.Decimal `json:"opening_loan" db:"opening_loan"`
	ClosingLoan      decimal.Decimal `json:"closing_loan" db:"closing_loan"`
	BoughtA          int64           `json:"bought_a" db:"bought_a"`
	BoughtB          int64           `json:"bought_b" db:"bought_b"`
	SoldA            int64           `json:"sold_a" db:"sold_a"`
	SoldB            int64           `json:"sold_b" db:"sold_b"`
	UnsoldA          int64           `json:"unsold_a" db:"unsold_a"`
	UnsoldB          int64           `json:"unsold_b" db:"unsold_b"`
	BuyCost          decimal.Decimal `json:"buy_cost" db:"buy_cost"`
	SellRevenue      decimal.Decimal `json:"sell_revenue" db:"sell_revenue"`
	UnsoldFee        decimal.Decimal `json:"unsold_fee" db:"unsold_fee"`
	Interest         decimal.Decimal `json:"interest" db:"interest"`
	DailyProfit      decimal.Decimal `json:"daily_profit" db:"daily_profit"`
	CumulativeProfit decimal.Decimal `json:"cumulative_profit" db:"cumulative_profit"`
	ROI              decimal.Decimal `json:"roi" db:"roi"` // percent; non-zero only on the final or forced-end day
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}
