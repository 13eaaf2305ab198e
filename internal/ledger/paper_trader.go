package ledger

import (
	"paper_trading/internal/market"
	"paper_trading/internal/models"

	"github.com/shopspring/decimal"
)

// PaperTrader adapts the virtual ledger to the Trader interface so the
// detector's auto-trade path can target the simulation instead of a real
// brokerage. All orders go through one configured user.
type PaperTrader struct {
	ledger *Ledger
	userID string
}

var _ market.Trader = (*PaperTrader)(nil)

// NewPaperTrader binds a trade sink to one ledger user.
func NewPaperTrader(l *Ledger, userID string) *PaperTrader {
	return &PaperTrader{ledger: l, userID: userID}
}

func (t *PaperTrader) SubmitOrder(req models.OrderRequest) (*models.Order, error) {
	return t.ledger.PlaceOrder(t.userID, req)
}

func (t *PaperTrader) BuyingPower() (decimal.Decimal, error) {
	a := t.ledger.acct(t.userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.p.Cash.Mul(decimal.NewFromInt(2)), nil
}

func (t *PaperTrader) PositionQty(symbol string) (int64, error) {
	a := t.ledger.acct(t.userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	if pos, ok := a.p.Positions[symbol]; ok {
		return pos.Qty, nil
	}
	return 0, nil
}
