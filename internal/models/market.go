package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote represents a generic bid/ask quote.
type Quote struct {
	Symbol    string
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	BidSize   uint32
	AskSize   uint32
	Timestamp time.Time
}

// Mid returns (bid + ask) / 2, the reference execution price.
func (q *Quote) Mid() decimal.Decimal {
	return q.BidPrice.Add(q.AskPrice).Div(decimal.NewFromInt(2))
}

// Bar represents a candlestick for a timeframe.
type Bar struct {
	Symbol    string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
	Timestamp time.Time
}

// Trade represents a single market trade print.
type Trade struct {
	Symbol    string
	Price     decimal.Decimal
	Size      uint32
	Timestamp time.Time
}

// Account represents the brokerage account state (live mode).
type Account struct {
	ID          string
	Currency    string
	Equity      decimal.Decimal
	BuyingPower decimal.Decimal
	Cash        decimal.Decimal
}

// Clock represents the market status.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// MarketEventKind tags the payload carried by a MarketEvent.
type MarketEventKind string

const (
	KindBar   MarketEventKind = "bar"
	KindTrade MarketEventKind = "trade"
	KindQuote MarketEventKind = "quote"
)

// MarketEvent is one message from the streaming feed. Exactly one of
// Bar, Trade, Quote is set, matching Kind.
type MarketEvent struct {
	Kind   MarketEventKind
	Symbol string
	Bar    *Bar
	Trade  *Trade
	Quote  *Quote
}
