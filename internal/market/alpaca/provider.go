package alpaca

import (
	"errors"
	"fmt"
	"time"

	"paper_trading/internal/market"
	"paper_trading/internal/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// Provider implements the generic MarketProvider interface for Alpaca.
// Credentials are picked up from the APCA_* environment variables by the SDK.
type Provider struct {
	mdClient    *marketdata.Client
	tradeClient *alpaca.Client
}

// Ensure Provider implements both collaborator interfaces.
var (
	_ market.MarketProvider = (*Provider)(nil)
	_ market.Trader         = (*Provider)(nil)
)

// NewProvider returns a new Alpaca provider.
func NewProvider() *Provider {
	return &Provider{
		mdClient:    marketdata.NewClient(marketdata.ClientOpts{}),
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{}),
	}
}

// --- Market Data ---

// GetPrice returns the mid of the latest bid/ask quote.
func (p *Provider) GetPrice(symbol string) (decimal.Decimal, error) {
	q, err := p.GetQuote(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Mid(), nil
}

func (p *Provider) GetQuote(symbol string) (*models.Quote, error) {
	q, err := p.mdClient.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, fmt.Errorf("%w: latest quote for %s: %v", market.ErrPriceUnavailable, symbol, err)
	}
	if q == nil {
		return nil, fmt.Errorf("%w: no quote found for %s", market.ErrPriceUnavailable, symbol)
	}
	return &models.Quote{
		Symbol:    symbol,
		BidPrice:  decimal.NewFromFloat(q.BidPrice),
		AskPrice:  decimal.NewFromFloat(q.AskPrice),
		BidSize:   q.BidSize,
		AskSize:   q.AskSize,
		Timestamp: q.Timestamp,
	}, nil
}

func (p *Provider) GetBars(symbol string, limit int) ([]models.Bar, error) {
	start := time.Now().Add(-time.Duration(2*limit) * time.Minute)
	bars, err := p.mdClient.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneMin,
		Start:      start,
		TotalLimit: limit,
	})
	if err != nil {
		return nil, err
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}

	var result []models.Bar
	for _, b := range bars {
		result = append(result, models.Bar{
			Symbol:    symbol,
			Open:      decimal.NewFromFloat(b.Open),
			High:      decimal.NewFromFloat(b.High),
			Low:       decimal.NewFromFloat(b.Low),
			Close:     decimal.NewFromFloat(b.Close),
			Volume:    int64(b.Volume),
			Timestamp: b.Timestamp,
		})
	}
	return result, nil
}

func (p *Provider) GetClock() (*models.Clock, error) {
	c, err := p.tradeClient.GetClock()
	if err != nil {
		return nil, err
	}
	return &models.Clock{
		Timestamp: c.Timestamp,
		IsOpen:    c.IsOpen,
		NextOpen:  c.NextOpen,
		NextClose: c.NextClose,
	}, nil
}

// --- Execution (live trade sink) ---

// SubmitOrder routes the detector's auto-trade order to the real brokerage.
func (p *Provider) SubmitOrder(req models.OrderRequest) (*models.Order, error) {
	qty := decimal.NewFromInt(req.Qty)
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Qty:         &qty,
		Side:        alpaca.Side(req.Side),
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}
	if req.Type == models.Limit {
		lp := req.LimitPrice
		placeReq.Type = alpaca.Limit
		placeReq.LimitPrice = &lp
	}

	o, err := p.tradeClient.PlaceOrder(placeReq)
	if err != nil {
		return nil, err
	}
	return mapOrder(o), nil
}

func (p *Provider) BuyingPower() (decimal.Decimal, error) {
	acct, err := p.tradeClient.GetAccount()
	if err != nil {
		return decimal.Zero, err
	}
	return acct.BuyingPower, nil
}

func (p *Provider) PositionQty(symbol string) (int64, error) {
	pos, err := p.tradeClient.GetPosition(symbol)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return 0, nil // no position is not an error
		}
		return 0, err
	}
	return pos.Qty.IntPart(), nil
}

func (p *Provider) GetAccount() (*models.Account, error) {
	a, err := p.tradeClient.GetAccount()
	if err != nil {
		return nil, err
	}
	return &models.Account{
		ID:          a.ID,
		Currency:    a.Currency,
		Equity:      a.Equity,
		BuyingPower: a.BuyingPower,
		Cash:        a.Cash,
	}, nil
}

// --- Helpers ---

func mapOrder(o *alpaca.Order) *models.Order {
	if o == nil {
		return nil
	}

	var qty int64
	if o.Qty != nil {
		qty = o.Qty.IntPart()
	}
	var filledAvgPrice decimal.Decimal
	if o.FilledAvgPrice != nil {
		filledAvgPrice = *o.FilledAvgPrice
	}

	res := &models.Order{
		BrokerOrderID:  o.ID,
		Symbol:         o.Symbol,
		Qty:            qty,
		Side:           models.Side(o.Side),
		Type:           models.OrderType(o.Type),
		TimeInForce:    string(o.TimeInForce),
		Status:         models.OrderStatus(o.Status),
		FilledQty:      o.FilledQty.IntPart(),
		FilledAvgPrice: filledAvgPrice,
		SubmittedAt:    o.SubmittedAt,
	}
	if o.LimitPrice != nil {
		res.LimitPrice = *o.LimitPrice
	}
	if o.FilledAt != nil {
		res.FilledAt = o.FilledAt
	}
	if o.CanceledAt != nil {
		res.CanceledAt = o.CanceledAt
	}
	return res
}
