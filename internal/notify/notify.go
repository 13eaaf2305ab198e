package notify

import (
	"log"

	"paper_trading/internal/events"
)

// Attach subscribes log-line renderers for every event type the core
// publishes. The ledger and detector never know this consumer exists;
// a UI or push channel would subscribe the same way.
func Attach(bus *events.Bus) {
	bus.Subscribe(events.EvOrderFilled, func(e events.Event) {
		ev := e.(events.OrderFilled)
		log.Printf("🔔 FILL [%s] #%d %s %d %s @ $%s",
			ev.UserID, ev.Order.ID, ev.Order.Side, ev.Order.FilledQty,
			ev.Order.Symbol, ev.Order.FilledAvgPrice.StringFixed(2))
	})

	bus.Subscribe(events.EvVolumeAlert, func(e events.Event) {
		ev := e.(events.VolumeAlert)
		log.Printf("🔔 VOLUME %s [%s] vol=%d avg=%.0f z=%.2f",
			ev.Kind, ev.Symbol, ev.CurrentVolume, ev.AvgVolume, ev.ZScore)
	})

	bus.Subscribe(events.EvOrderBookImbalance, func(e events.Event) {
		ev := e.(events.OrderBookImbalance)
		log.Printf("🔔 IMBALANCE [%s] %.2f (bid %d / ask %d)",
			ev.Symbol, ev.Imbalance, ev.BidSize, ev.AskSize)
	})

	bus.Subscribe(events.EvTradeExecuted, func(e events.Event) {
		ev := e.(events.TradeExecuted)
		log.Printf("🔔 AUTO-TRADE [%s] %s %d @ ~$%s",
			ev.Symbol, ev.Side, ev.Qty, ev.Price.StringFixed(2))
	})

	bus.Subscribe(events.EvTradeError, func(e events.Event) {
		ev := e.(events.TradeError)
		log.Printf("🔔 TRADE ERROR [%s] %s", ev.Symbol, ev.Reason)
	})
}
