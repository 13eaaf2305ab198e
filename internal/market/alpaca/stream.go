package alpaca

import (
	"context"
	"log"
	"sync"
	"time"

	"paper_trading/internal/market"
	"paper_trading/internal/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/shopspring/decimal"
)

// Streamer implements StreamProvider using Alpaca's WebSocket API.
// It fans trades, quotes and minute bars into a single MarketEvent handler.
type Streamer struct {
	client    *stream.StocksClient
	handler   market.StreamHandler
	mu        sync.Mutex
	reconnect bool
	cancel    context.CancelFunc
}

var _ market.StreamProvider = (*Streamer)(nil)

// NewStreamer creates a new streamer instance. Credentials come from the
// APCA_* environment variables, same as the REST clients.
func NewStreamer() *Streamer {
	return &Streamer{
		client: stream.NewStocksClient(
			marketdata.IEX, // free/paper feed
			stream.WithReconnectSettings(10, 500*time.Millisecond),
		),
		reconnect: true,
	}
}

// Subscribe registers the handler and connects in the background.
func (s *Streamer) Subscribe(symbols []string, handler market.StreamHandler) error {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()

	if err := s.client.SubscribeToTrades(s.onTrade, symbols...); err != nil {
		return err
	}
	if err := s.client.SubscribeToQuotes(s.onQuote, symbols...); err != nil {
		return err
	}
	if err := s.client.SubscribeToBars(s.onBar, symbols...); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		log.Println("🔌 Connecting to Alpaca stream...")
		// Connect blocks until the connection is closed.
		if err := s.client.Connect(ctx); err != nil {
			log.Printf("ERROR: Stream connection closed with error: %v", err)
			if s.shouldReconnect() {
				s.manualReconnectLoop(ctx)
			}
			return
		}
		log.Println("Stream connection closed normally.")
	}()

	return nil
}

// Close stops the reconnect loop and tears down the live connection by
// canceling the context Connect runs under.
func (s *Streamer) Close() error {
	s.mu.Lock()
	s.reconnect = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *Streamer) shouldReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnect
}

func (s *Streamer) onTrade(t stream.Trade) {
	s.emit(models.MarketEvent{
		Kind:   models.KindTrade,
		Symbol: t.Symbol,
		Trade: &models.Trade{
			Symbol:    t.Symbol,
			Price:     decimal.NewFromFloat(t.Price),
			Size:      t.Size,
			Timestamp: t.Timestamp,
		},
	})
}

func (s *Streamer) onQuote(q stream.Quote) {
	s.emit(models.MarketEvent{
		Kind:   models.KindQuote,
		Symbol: q.Symbol,
		Quote: &models.Quote{
			Symbol:    q.Symbol,
			BidPrice:  decimal.NewFromFloat(q.BidPrice),
			AskPrice:  decimal.NewFromFloat(q.AskPrice),
			BidSize:   q.BidSize,
			AskSize:   q.AskSize,
			Timestamp: q.Timestamp,
		},
	})
}

func (s *Streamer) onBar(b stream.Bar) {
	s.emit(models.MarketEvent{
		Kind:   models.KindBar,
		Symbol: b.Symbol,
		Bar: &models.Bar{
			Symbol:    b.Symbol,
			Open:      decimal.NewFromFloat(b.Open),
			High:      decimal.NewFromFloat(b.High),
			Low:       decimal.NewFromFloat(b.Low),
			Close:     decimal.NewFromFloat(b.Close),
			Volume:    int64(b.Volume),
			Timestamp: b.Timestamp,
		},
	})
}

func (s *Streamer) emit(ev models.MarketEvent) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (s *Streamer) manualReconnectLoop(ctx context.Context) {
	backoff := 1 * time.Second
	maxBackoff := 60 * time.Second

	for s.shouldReconnect() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		log.Println("Reconnecting stream...")
		if err := s.client.Connect(ctx); err != nil {
			log.Printf("Reconnection failed: %v", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = 1 * time.Second
		}
	}
}
