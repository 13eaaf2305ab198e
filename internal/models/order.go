package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType distinguishes immediate from resting orders.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderStatus lifecycle: pending -> open|filled|rejected, open -> filled|canceled.
type OrderStatus string

const (
	StatusPending  OrderStatus = "pending"
	StatusOpen     OrderStatus = "open"
	StatusFilled   OrderStatus = "filled"
	StatusCanceled OrderStatus = "canceled"
	StatusRejected OrderStatus = "rejected"
)

// OrderRequest is what the API layer (or the detector) submits to the ledger.
type OrderRequest struct {
	Symbol      string          `json:"symbol"`
	Qty         int64           `json:"qty"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	LimitPrice  decimal.Decimal `json:"limit_price"` // required iff Type == Limit
	TimeInForce string          `json:"time_in_force"`
}

// Order is a virtual-ledger order. IDs are monotonically increasing per process.
type Order struct {
	ID             int64           `json:"id"`
	BrokerOrderID  string          `json:"broker_order_id,omitempty"` // set only on live-routed orders
	Symbol         string          `json:"symbol"`
	Qty            int64           `json:"qty"`
	Side           Side            `json:"side"`
	Type           OrderType       `json:"type"`
	LimitPrice     decimal.Decimal `json:"limit_price,omitempty"`
	TimeInForce    string          `json:"time_in_force"`
	Status         OrderStatus     `json:"status"`
	FilledQty      int64           `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	FilledAt       *time.Time      `json:"filled_at,omitempty"`
	CanceledAt     *time.Time      `json:"canceled_at,omitempty"`
}

// IsOpen reports whether the order is still resting on the book.
func (o *Order) IsOpen() bool {
	return o.Status == StatusOpen
}

// IsTerminal reports whether the order reached a final state.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCanceled || o.Status == StatusRejected
}
