package events

import (
	"time"

	"paper_trading/internal/models"

	"github.com/shopspring/decimal"
)

// Type identifies the kind of event on the bus.
type Type uint8

const (
	EvOrderFilled Type = iota + 1
	EvVolumeAlert
	EvOrderBookImbalance
	EvTradeExecuted
	EvTradeError
)

// Event is the interface all published events satisfy.
type Event interface {
	EventType() Type
}

// OrderFilled is emitted by the ledger on every successful fill.
type OrderFilled struct {
	UserID string       `json:"user_id"`
	Order  models.Order `json:"order"`
}

func (OrderFilled) EventType() Type { return EvOrderFilled }

// AlertKind classifies a volume alert.
type AlertKind string

const (
	AlertSpike AlertKind = "spike"
	AlertDrop  AlertKind = "drop"
)

// VolumeAlert is emitted when a symbol's volume z-score crosses the threshold.
type VolumeAlert struct {
	Symbol        string    `json:"symbol"`
	CurrentVolume int64     `json:"current_volume"`
	AvgVolume     float64   `json:"avg_volume"`
	ZScore        float64   `json:"z_score"`
	Kind          AlertKind `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
}

func (VolumeAlert) EventType() Type { return EvVolumeAlert }

// OrderBookImbalance is informational only; no trade action is taken on it.
type OrderBookImbalance struct {
	Symbol    string    `json:"symbol"`
	Imbalance float64   `json:"imbalance"` // bidSize / max(askSize, 1)
	BidSize   uint32    `json:"bid_size"`
	AskSize   uint32    `json:"ask_size"`
	Timestamp time.Time `json:"timestamp"`
}

func (OrderBookImbalance) EventType() Type { return EvOrderBookImbalance }

// TradeExecuted is emitted when the detector's heuristic submits an order.
type TradeExecuted struct {
	Symbol string          `json:"symbol"`
	Side   models.Side     `json:"side"`
	Qty    int64           `json:"qty"`
	Price  decimal.Decimal `json:"price"`
	Order  *models.Order   `json:"order,omitempty"`
}

func (TradeExecuted) EventType() Type { return EvTradeExecuted }

// TradeError is emitted when an auto-trade submission fails.
type TradeError struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

func (TradeError) EventType() Type { return EvTradeError }
