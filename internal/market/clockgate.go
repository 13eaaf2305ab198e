package market

import (
	"errors"
	"fmt"
	"time"

	"paper_trading/internal/models"

	"github.com/shopspring/decimal"
)

// ErrMarketClosed is returned by ClockGate when an order arrives outside
// market hours.
var ErrMarketClosed = errors.New("market closed")

// ClockGate wraps a live Trader and refuses submissions while the market
// is closed. The virtual ledger trades around the clock, so paper mode
// never needs one.
type ClockGate struct {
	clock  MarketProvider
	trader Trader
}

var _ Trader = (*ClockGate)(nil)

// NewClockGate gates trader behind the market clock served by clock.
func NewClockGate(clock MarketProvider, trader Trader) *ClockGate {
	return &ClockGate{clock: clock, trader: trader}
}

// SubmitOrder checks the market clock and forwards only while open.
// A clock failure blocks the order; better to miss a signal than to queue
// one blind.
func (g *ClockGate) SubmitOrder(req models.OrderRequest) (*models.Order, error) {
	c, err := g.clock.GetClock()
	if err != nil {
		return nil, fmt.Errorf("market clock check failed: %w", err)
	}
	if !c.IsOpen {
		return nil, fmt.Errorf("%w: next open %s", ErrMarketClosed, c.NextOpen.Format(time.RFC3339))
	}
	return g.trader.SubmitOrder(req)
}

func (g *ClockGate) BuyingPower() (decimal.Decimal, error) {
	return g.trader.BuyingPower()
}

func (g *ClockGate) PositionQty(symbol string) (int64, error) {
	return g.trader.PositionQty(symbol)
}
