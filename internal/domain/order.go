package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order or signal.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes how an order fills.
type OrderType string

const (
	OrderMarket       OrderType = "market"
	OrderLimit        OrderType = "limit"
	OrderStopLoss     OrderType = "stop_loss"
	OrderTakeProfit   OrderType = "take_profit"
	OrderTrailingStop OrderType = "trailing_stop"
)

// OrderStatus is the lifecycle state of an order:
// Pending -> Open -> (PartiallyFilled) -> Filled | Cancelled | Rejected | Expired.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"
)

// IsFinal reports whether the status is terminal.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// validOrderTransitions is the full status machine.
var validOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:         {OrderOpen, OrderRejected, OrderCancelled},
	OrderOpen:            {OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderRejected, OrderExpired},
	OrderPartiallyFilled: {OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderExpired},
}

// CanTransitionTo reports whether the status machine allows moving to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range validOrderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is one brokerage order and its fill progress.
type Order struct {
	ID          uuid.UUID       `json:"id"`
	Symbol      Symbol          `json:"symbol"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	Status      OrderStatus     `json:"status"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	FilledQty   decimal.Decimal `json:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Position is a held quantity of one symbol with its running PnL.
type Position struct {
	Symbol        Symbol          `json:"symbol"`
	Side          Side            `json:"side"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenedAt      time.Time       `json:"opened_at"`
}

// MarkPrice recomputes unrealized PnL against a mark price.
func (p *Position) MarkPrice(price decimal.Decimal) {
	diff := price.Sub(p.EntryPrice)
	if p.Side == SideSell {
		diff = diff.Neg()
	}
	p.UnrealizedPnL = diff.Mul(p.Quantity)
}

// Trade is one closed round trip reconstructed from fills.
type Trade struct {
	ID         uuid.UUID       `json:"id"`
	Symbol     Symbol          `json:"symbol"`
	Side       Side            `json:"side"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	PnL        decimal.Decimal `json:"pnl"`
	ReturnPct  decimal.Decimal `json:"return_pct"`
	Fees       decimal.Decimal `json:"fees"`
}
