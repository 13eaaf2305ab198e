package market

import (
	"errors"

	"paper_trading/internal/models"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable signals that the upstream data provider could not
// supply a price. Callers must propagate it, never fabricate a price.
var ErrPriceUnavailable = errors.New("price unavailable")

// MarketProvider is the external market-data collaborator.
// The ledger and detector only ever talk to this interface, so a mock
// (or a different brokerage) can be swapped in without touching core logic.
type MarketProvider interface {
	// GetPrice returns the mid of bid/ask for the symbol.
	// Fails with an error wrapping ErrPriceUnavailable.
	GetPrice(symbol string) (decimal.Decimal, error)
	GetQuote(symbol string) (*models.Quote, error)
	GetBars(symbol string, limit int) ([]models.Bar, error)
	GetClock() (*models.Clock, error)
}

// Trader is the order-submission sink used by the detector's auto-trade
// path. In paper mode it is backed by the virtual ledger, in live mode by
// the real brokerage. Both sides of spec deployment modes satisfy it.
type Trader interface {
	SubmitOrder(req models.OrderRequest) (*models.Order, error)
	// BuyingPower returns the funds available for sizing a new position.
	BuyingPower() (decimal.Decimal, error)
	// PositionQty returns the currently held long quantity for symbol,
	// zero if there is no position.
	PositionQty(symbol string) (int64, error)
}
