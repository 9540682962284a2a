package domain

import "time"

// OrderType selects how an order leg is priced at the exchange.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks a single order leg's lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderExecuting OrderStatus = "executing"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
	OrderTimeout   OrderStatus = "timeout"
)

// OrderRequest is one leg of an execution, ready to be routed to an exchange
// adapter.
type OrderRequest struct {
	Exchange    string        `json:"exchange"`
	Pair        string        `json:"pair"`
	Action      OrderAction   `json:"action"`
	Type        OrderType     `json:"type"`
	Quantity    float64       `json:"quantity"`
	LimitPrice  *float64      `json:"limit_price,omitempty"` // nil for market orders
	MaxSlippage float64       `json:"max_slippage"`
	Timeout     time.Duration `json:"timeout"`
}

// OrderResult is the append-only record of one placed order. It retains enough
// data (executed quantity, exchange, action) to synthesize a compensating
// reverse order without consulting the original request.
type OrderResult struct {
	OrderID       string        `json:"order_id"`
	Exchange      string        `json:"exchange"`
	Pair          string        `json:"pair"`
	Action        OrderAction   `json:"action"`
	ExecutedQty   float64       `json:"executed_qty"`
	ExecutedPrice float64       `json:"executed_price"`
	ExecutedValue float64       `json:"executed_value"`
	Fees          float64       `json:"fees"`
	Slippage      float64       `json:"slippage"`
	ExecutionTime time.Duration `json:"execution_time"`
	Status        OrderStatus   `json:"status"`
	Error         string        `json:"error,omitempty"`
	PlacedAt      time.Time     `json:"placed_at"`
}
