package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StartingCash is the balance every virtual portfolio opens with.
var StartingCash = decimal.NewFromInt(100000)

// Position is a long holding inside a virtual portfolio.
// A position with Qty == 0 must never exist in the portfolio map;
// the ledger removes it on full exit.
type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           int64           `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

// CostBasis returns Qty * AvgEntryPrice.
func (p *Position) CostBasis() decimal.Decimal {
	return p.AvgEntryPrice.Mul(decimal.NewFromInt(p.Qty))
}

// PositionView is a Position enriched with live market data on read.
// PriceErr records a per-symbol fetch failure; the live fields stay zero
// in that case rather than failing the whole snapshot.
type PositionView struct {
	Position
	CurrentPrice   decimal.Decimal `json:"current_price"`
	MarketValue    decimal.Decimal `json:"market_value"`
	UnrealizedPL   decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPC decimal.Decimal `json:"unrealized_plpc"`
	PriceErr       string          `json:"price_err,omitempty"`
}

// Portfolio holds one user's simulated account. All mutation goes through
// the ledger, which serializes access per portfolio.
type Portfolio struct {
	UserID    string               `json:"user_id"`
	Cash      decimal.Decimal      `json:"cash"`
	Positions map[string]*Position `json:"positions"`
	Orders    []*Order             `json:"orders"` // open orders, submission order
	Trades    []Order              `json:"trades"` // filled snapshots, append-only
	CreatedAt time.Time            `json:"created_at"`
}

// VirtualAccount is the aggregated account view of a portfolio.
type VirtualAccount struct {
	UserID      string          `json:"user_id"`
	Cash        decimal.Decimal `json:"cash"`
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"` // cash * 2, cosmetic
	LastEquity  decimal.Decimal `json:"last_equity"`  // fixed at starting cash
	CreatedAt   time.Time       `json:"created_at"`
}

// LeaderboardEntry ranks a portfolio by percentage return over starting cash.
type LeaderboardEntry struct {
	UserID    string          `json:"user_id"`
	Equity    decimal.Decimal `json:"equity"`
	ReturnPct decimal.Decimal `json:"return_pct"`
}

// LedgerSnapshot is the on-disk representation of all portfolios.
type LedgerSnapshot struct {
	Version     string       `json:"version"`
	SavedAt     string       `json:"saved_at"`
	NextOrderID int64        `json:"next_order_id"`
	Portfolios  []*Portfolio `json:"portfolios"`
}
