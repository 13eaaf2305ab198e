package detector

import (
	"log"
	"math"

	"paper_trading/internal/events"
	"paper_trading/internal/models"

	"github.com/shopspring/decimal"
)

// evaluateTradeOpportunity decides whether an abnormal-volume alert is
// actionable. Only spikes act; drops are informational. Buy when price sits
// near a support level; sell when price sits near resistance AND a long
// position exists. Never sells short, never buys without support
// confirmation.
func (d *Detector) evaluateTradeOpportunity(symbol string, alert *events.VolumeAlert, levels *models.SupportResistance, price float64) {
	if alert.Kind != events.AlertSpike {
		return
	}
	if levels == nil || price <= 0 {
		return
	}

	var side models.Side
	switch {
	case nearAnyLevel(price, levels.Support, d.cfg.ProximityPct):
		side = models.Buy
	case nearAnyLevel(price, levels.Resistance, d.cfg.ProximityPct):
		held, err := d.trader.PositionQty(symbol)
		if err != nil {
			d.tradeError(symbol, "position lookup failed: "+err.Error())
			return
		}
		if held <= 0 {
			return
		}
		side = models.Sell
	default:
		return
	}

	qty, err := d.sizeOrder(symbol, side, price)
	if err != nil {
		d.tradeError(symbol, "sizing failed: "+err.Error())
		return
	}
	if qty <= 0 {
		log.Printf("🤏 [%s] %s signal skipped: sized to 0 shares at $%.2f", symbol, side, price)
		return
	}

	order, err := d.trader.SubmitOrder(models.OrderRequest{
		Symbol:      symbol,
		Qty:         qty,
		Side:        side,
		Type:        models.Market,
		TimeInForce: "day",
	})
	if err != nil {
		d.tradeError(symbol, err.Error())
		return
	}

	log.Printf("🤖 [%s] Auto-trade: %s %d shares near level (z=%.2f)", symbol, side, qty, alert.ZScore)
	d.bus.Publish(events.TradeExecuted{
		Symbol: symbol,
		Side:   side,
		Qty:    qty,
		Price:  decimal.NewFromFloat(price),
		Order:  order,
	})
}

// sizeOrder applies the sizing rule: 10% of buying power, capped at
// MaxPositionSize, floored to whole shares. Sells additionally cap at the
// held quantity so the sink is never asked to go short.
func (d *Detector) sizeOrder(symbol string, side models.Side, price float64) (int64, error) {
	bp, err := d.trader.BuyingPower()
	if err != nil {
		return 0, err
	}

	positionValue := math.Min(bp.InexactFloat64()*d.cfg.BuyingPowerFrac, d.cfg.MaxPositionSize)
	qty := int64(math.Floor(positionValue / price))

	if side == models.Sell {
		held, err := d.trader.PositionQty(symbol)
		if err != nil {
			return 0, err
		}
		if qty > held {
			qty = held
		}
	}
	return qty, nil
}

func nearAnyLevel(price float64, levels []float64, pct float64) bool {
	for _, level := range levels {
		if level <= 0 {
			continue
		}
		if math.Abs(price-level)/level <= pct {
			return true
		}
	}
	return false
}

func (d *Detector) tradeError(symbol, reason string) {
	log.Printf("⚠️ [%s] Auto-trade failed: %s", symbol, reason)
	d.bus.Publish(events.TradeError{Symbol: symbol, Reason: reason})
}
