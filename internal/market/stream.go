package market

import "paper_trading/internal/models"

// StreamHandler receives one market event from the push feed.
type StreamHandler func(ev models.MarketEvent)

// StreamProvider defines the interface for real-time market data.
// Subscribe registers the handler for trades, quotes and bars on the given
// symbols and connects in the background.
type StreamProvider interface {
	Subscribe(symbols []string, handler StreamHandler) error
	Close() error
}
