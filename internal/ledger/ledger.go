package ledger

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"paper_trading/internal/events"
	"paper_trading/internal/market"
	"paper_trading/internal/models"

	"github.com/shopspring/decimal"
)

// ErrOrderNotFound is returned by CancelOrder when the order is not in the
// portfolio's open set (never existed, or already reached a terminal state).
var ErrOrderNotFound = errors.New("order not found")

// ErrInvalidOrder is returned for requests that fail basic validation
// before any price is fetched.
var ErrInvalidOrder = errors.New("invalid order")

// Business-rule rejection reasons. These travel on the rejected order
// itself, not as Go errors, because the caller needs the order for display.
const (
	ReasonInsufficientFunds  = "Insufficient funds"
	ReasonNoPosition         = "No position to sell"
	ReasonInsufficientShares = "Insufficient shares"
)

// account pairs a portfolio with its exclusive lock. All mutation of a
// portfolio happens under this lock; price fetches happen outside it.
type account struct {
	mu sync.Mutex
	p  *models.Portfolio
}

// Ledger is the in-memory paper-trading engine: one portfolio per user,
// synchronous matching against provider prices, and a periodic sweep that
// fills resting limit orders.
type Ledger struct {
	provider market.MarketProvider
	bus      *events.Bus

	mu       sync.RWMutex // guards the accounts map, not the portfolios
	accounts map[string]*account

	idMu   sync.Mutex
	nextID int64
}

// New returns an empty ledger backed by the given price provider.
func New(provider market.MarketProvider, bus *events.Bus) *Ledger {
	return &Ledger{
		provider: provider,
		bus:      bus,
		accounts: make(map[string]*account),
		nextID:   1,
	}
}

// acct returns the account for userID, lazily creating the portfolio with
// the default starting balance on first access.
func (l *Ledger) acct(userID string) *account {
	l.mu.RLock()
	a, ok := l.accounts[userID]
	l.mu.RUnlock()
	if ok {
		return a
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok = l.accounts[userID]; ok {
		return a
	}
	a = &account{p: &models.Portfolio{
		UserID:    userID,
		Cash:      models.StartingCash,
		Positions: make(map[string]*models.Position),
		CreatedAt: time.Now(),
	}}
	l.accounts[userID] = a
	return a
}

func (l *Ledger) allocateID() int64 {
	l.idMu.Lock()
	defer l.idMu.Unlock()
	id := l.nextID
	l.nextID++
	return id
}

// GetPortfolio returns a snapshot of the user's portfolio, creating it with
// defaults on first access.
func (l *Ledger) GetPortfolio(userID string) *models.Portfolio {
	a := l.acct(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyPortfolio(a.p)
}

// PlaceOrder validates the request, obtains a reference price, and either
// executes immediately (market orders and marketable limit orders) or rests
// the order in the portfolio's open set.
//
// Marketable-on-entry limit orders fill at the reference price, NOT the
// limit price: the simulation fills at best available, like a real broker.
func (l *Ledger) PlaceOrder(userID string, req models.OrderRequest) (*models.Order, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("%w: qty must be positive, got %d", ErrInvalidOrder, req.Qty)
	}
	if req.Side != models.Buy && req.Side != models.Sell {
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, req.Side)
	}
	switch req.Type {
	case models.Market:
	case models.Limit:
		if !req.LimitPrice.IsPositive() {
			return nil, fmt.Errorf("%w: limit order requires limit_price > 0", ErrInvalidOrder)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidOrder, req.Type)
	}

	// Reference price first, before taking the portfolio lock. If the
	// provider fails, the order is neither created nor recorded.
	price, err := l.provider.GetPrice(req.Symbol)
	if err != nil {
		return nil, err
	}

	a := l.acct(userID)
	a.mu.Lock()

	order := &models.Order{
		ID:          l.allocateID(),
		Symbol:      req.Symbol,
		Qty:         req.Qty,
		Side:        req.Side,
		Type:        req.Type,
		LimitPrice:  req.LimitPrice,
		TimeInForce: req.TimeInForce,
		Status:      models.StatusPending,
		SubmittedAt: time.Now(),
	}

	if req.Type == models.Market || marketable(req.Side, price, req.LimitPrice) {
		fill := l.executeLocked(userID, a.p, order, price)
		a.mu.Unlock()
		l.publishFill(fill)
		return order, nil
	}

	order.Status = models.StatusOpen
	a.p.Orders = append(a.p.Orders, order)
	a.mu.Unlock()
	log.Printf("📥 [%s] Limit order #%d resting: %s %d %s @ $%s",
		userID, order.ID, order.Side, order.Qty, order.Symbol, order.LimitPrice.StringFixed(2))
	return order, nil
}

// marketable reports whether a limit order would already be satisfied by
// the current market price.
func marketable(side models.Side, current, limit decimal.Decimal) bool {
	if side == models.Buy {
		return current.LessThanOrEqual(limit)
	}
	return current.GreaterThanOrEqual(limit)
}

// executeLocked settles an order against the portfolio at the given price.
// The account lock must be held. On success it marks the order filled,
// appends a snapshot to the trade history, removes it from the open set
// (a no-op if it never rested there) and returns the OrderFilled event for
// the caller to publish once the lock is released. Bus handlers run
// synchronously and may read ledger state, so publishing under the lock
// would deadlock.
// On a business-rule violation the order is marked rejected, no cash or
// position is touched, and nil is returned.
func (l *Ledger) executeLocked(userID string, p *models.Portfolio, order *models.Order, price decimal.Decimal) *events.OrderFilled {
	qty := decimal.NewFromInt(order.Qty)

	switch order.Side {
	case models.Buy:
		cost := price.Mul(qty)
		if p.Cash.LessThan(cost) {
			l.rejectLocked(userID, p, order, ReasonInsufficientFunds)
			return nil
		}
		p.Cash = p.Cash.Sub(cost)

		pos, ok := p.Positions[order.Symbol]
		if !ok {
			p.Positions[order.Symbol] = &models.Position{
				Symbol:        order.Symbol,
				Qty:           order.Qty,
				AvgEntryPrice: price,
			}
		} else {
			// Volume-weighted average entry.
			oldQty := decimal.NewFromInt(pos.Qty)
			newQty := oldQty.Add(qty)
			pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(oldQty).Add(price.Mul(qty)).Div(newQty)
			pos.Qty += order.Qty
		}

	case models.Sell:
		pos, ok := p.Positions[order.Symbol]
		if !ok {
			l.rejectLocked(userID, p, order, ReasonNoPosition)
			return nil
		}
		if pos.Qty < order.Qty {
			l.rejectLocked(userID, p, order, ReasonInsufficientShares)
			return nil
		}
		p.Cash = p.Cash.Add(price.Mul(qty))
		pos.Qty -= order.Qty
		if pos.Qty == 0 {
			delete(p.Positions, order.Symbol)
		}
	}

	now := time.Now()
	order.Status = models.StatusFilled
	order.FilledQty = order.Qty
	order.FilledAvgPrice = price
	order.FilledAt = &now

	p.Trades = append(p.Trades, *order)
	removeOrder(p, order.ID)

	log.Printf("✅ [%s] Fill #%d: %s %d %s @ $%s | cash: $%s",
		userID, order.ID, order.Side, order.Qty, order.Symbol,
		price.StringFixed(2), p.Cash.StringFixed(2))
	return &events.OrderFilled{UserID: userID, Order: *order}
}

// publishFill emits a pending fill event. Must be called without any
// portfolio lock held.
func (l *Ledger) publishFill(fill *events.OrderFilled) {
	if fill != nil {
		l.bus.Publish(*fill)
	}
}

// rejectLocked marks the order terminally rejected and drops it from the
// open set if it was resting there.
func (l *Ledger) rejectLocked(userID string, p *models.Portfolio, order *models.Order, reason string) {
	order.Status = models.StatusRejected
	order.RejectReason = reason
	removeOrder(p, order.ID)
	log.Printf("🚫 [%s] Order #%d rejected: %s (%s %d %s)",
		userID, order.ID, reason, order.Side, order.Qty, order.Symbol)
}

// removeOrder drops an order from the open set. Idempotent: the sweep and a
// direct execution must not double-remove.
func removeOrder(p *models.Portfolio, orderID int64) {
	for i, o := range p.Orders {
		if o.ID == orderID {
			p.Orders = append(p.Orders[:i], p.Orders[i+1:]...)
			return
		}
	}
}

// CancelOrder cancels a resting order. Fails with ErrOrderNotFound if the
// order is not in the open set. Canceled orders are not appended to the
// trade history.
func (l *Ledger) CancelOrder(userID string, orderID int64) (*models.Order, error) {
	a := l.acct(userID)
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, o := range a.p.Orders {
		if o.ID == orderID {
			now := time.Now()
			o.Status = models.StatusCanceled
			o.CanceledAt = &now
			removeOrder(a.p, orderID)
			log.Printf("❌ [%s] Order #%d canceled (%s %d %s)",
				userID, o.ID, o.Side, o.Qty, o.Symbol)
			cp := *o
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d for user %s", ErrOrderNotFound, orderID, userID)
}

// CheckPendingOrders is the periodic sweep: every resting limit order is
// re-evaluated against a fresh price and, if marketable, fills at its own
// limit price (a resting fill, as opposed to the reference-price fill of a
// marketable-on-entry order). One order's price failure never aborts the
// sweep for the rest.
func (l *Ledger) CheckPendingOrders() {
	l.mu.RLock()
	users := make([]string, 0, len(l.accounts))
	for u := range l.accounts {
		users = append(users, u)
	}
	l.mu.RUnlock()
	sort.Strings(users)

	for _, userID := range users {
		a := l.acct(userID)

		// Snapshot the open set; prices are fetched without the lock.
		a.mu.Lock()
		pending := make([]models.Order, 0, len(a.p.Orders))
		for _, o := range a.p.Orders {
			if o.Type == models.Limit && o.IsOpen() {
				pending = append(pending, *o)
			}
		}
		a.mu.Unlock()

		for _, snap := range pending {
			price, err := l.provider.GetPrice(snap.Symbol)
			if err != nil {
				log.Printf("⚠️ Sweep: price fetch failed for %s (order #%d): %v", snap.Symbol, snap.ID, err)
				continue
			}
			if !marketable(snap.Side, price, snap.LimitPrice) {
				continue
			}

			a.mu.Lock()
			// Re-check under the lock: the first transition out of open
			// wins; a concurrent cancel or fill makes this a no-op.
			var fill *events.OrderFilled
			if live := findOrder(a.p, snap.ID); live != nil && live.IsOpen() {
				fill = l.executeLocked(userID, a.p, live, live.LimitPrice)
			}
			a.mu.Unlock()
			l.publishFill(fill)
		}
	}
}

func findOrder(p *models.Portfolio, orderID int64) *models.Order {
	for _, o := range p.Orders {
		if o.ID == orderID {
			return o
		}
	}
	return nil
}

// GetOrders returns a snapshot of the user's open orders in submission order.
func (l *Ledger) GetOrders(userID string) []models.Order {
	a := l.acct(userID)
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Order, 0, len(a.p.Orders))
	for _, o := range a.p.Orders {
		out = append(out, *o)
	}
	return out
}

// GetTrades returns the append-only fill history.
func (l *Ledger) GetTrades(userID string) []models.Order {
	a := l.acct(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Order(nil), a.p.Trades...)
}

// GetPositions returns the user's positions enriched with live prices.
// A price failure for one symbol leaves that position's live fields unset
// and records the error on the view; the call itself never fails.
func (l *Ledger) GetPositions(userID string) []models.PositionView {
	a := l.acct(userID)

	a.mu.Lock()
	base := make([]models.Position, 0, len(a.p.Positions))
	for _, pos := range a.p.Positions {
		base = append(base, *pos)
	}
	a.mu.Unlock()
	sort.Slice(base, func(i, j int) bool { return base[i].Symbol < base[j].Symbol })

	views := make([]models.PositionView, 0, len(base))
	for _, pos := range base {
		v := models.PositionView{Position: pos}
		price, err := l.provider.GetPrice(pos.Symbol)
		if err != nil {
			v.PriceErr = err.Error()
			log.Printf("⚠️ Positions: price fetch failed for %s: %v", pos.Symbol, err)
		} else {
			qty := decimal.NewFromInt(pos.Qty)
			v.CurrentPrice = price
			v.MarketValue = price.Mul(qty)
			v.UnrealizedPL = v.MarketValue.Sub(pos.CostBasis())
			if !pos.AvgEntryPrice.IsZero() {
				v.UnrealizedPLPC = v.UnrealizedPL.Div(pos.CostBasis())
			}
		}
		views = append(views, v)
	}
	return views
}

// GetAccount aggregates cash plus position market value into equity.
// BuyingPower is a cosmetic 2x multiplier and LastEquity is pinned to the
// starting balance; neither is enforced anywhere.
func (l *Ledger) GetAccount(userID string) *models.VirtualAccount {
	a := l.acct(userID)

	a.mu.Lock()
	cash := a.p.Cash
	createdAt := a.p.CreatedAt
	a.mu.Unlock()

	equity := cash.Add(l.positionsValue(userID))
	return &models.VirtualAccount{
		UserID:      userID,
		Cash:        cash,
		Equity:      equity,
		BuyingPower: cash.Mul(decimal.NewFromInt(2)),
		LastEquity:  models.StartingCash,
		CreatedAt:   createdAt,
	}
}

// positionsValue sums market value over all positions, falling back to cost
// basis for symbols whose price cannot be fetched.
func (l *Ledger) positionsValue(userID string) decimal.Decimal {
	a := l.acct(userID)

	a.mu.Lock()
	base := make([]models.Position, 0, len(a.p.Positions))
	for _, pos := range a.p.Positions {
		base = append(base, *pos)
	}
	a.mu.Unlock()

	total := decimal.Zero
	for _, pos := range base {
		price, err := l.provider.GetPrice(pos.Symbol)
		if err != nil {
			log.Printf("⚠️ Equity: price fetch failed for %s, using cost basis: %v", pos.Symbol, err)
			total = total.Add(pos.CostBasis())
			continue
		}
		total = total.Add(price.Mul(decimal.NewFromInt(pos.Qty)))
	}
	return total
}

// GetAllPortfolios ranks every portfolio by percentage return over the
// starting balance, descending. Ties keep insertion-stable order.
func (l *Ledger) GetAllPortfolios() []models.LeaderboardEntry {
	l.mu.RLock()
	users := make([]string, 0, len(l.accounts))
	for u := range l.accounts {
		users = append(users, u)
	}
	l.mu.RUnlock()
	sort.Strings(users)

	entries := make([]models.LeaderboardEntry, 0, len(users))
	for _, userID := range users {
		acct := l.GetAccount(userID)
		ret := acct.Equity.Sub(models.StartingCash).
			Div(models.StartingCash).
			Mul(decimal.NewFromInt(100))
		entries = append(entries, models.LeaderboardEntry{
			UserID:    userID,
			Equity:    acct.Equity,
			ReturnPct: ret,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ReturnPct.GreaterThan(entries[j].ReturnPct)
	})
	return entries
}

func copyPortfolio(p *models.Portfolio) *models.Portfolio {
	cp := &models.Portfolio{
		UserID:    p.UserID,
		Cash:      p.Cash,
		Positions: make(map[string]*models.Position, len(p.Positions)),
		Orders:    make([]*models.Order, 0, len(p.Orders)),
		Trades:    append([]models.Order(nil), p.Trades...),
		CreatedAt: p.CreatedAt,
	}
	for sym, pos := range p.Positions {
		pc := *pos
		cp.Positions[sym] = &pc
	}
	for _, o := range p.Orders {
		oc := *o
		cp.Orders = append(cp.Orders, &oc)
	}
	return cp
}
