package domain

import "time"

// MarketCondition is the current view of one trading pair's microstructure,
// refreshed from the market data feed.
type MarketCondition struct {
	Pair       string    `json:"pair"`
	LastPrice  float64   `json:"last_price"`
	Volatility float64   `json:"volatility"` // e.g. 0.02 = 2%
	Liquidity  float64   `json:"liquidity"`  // 0..1 depth score
	Spread     float64   `json:"spread"`     // fractional bid-ask spread
	Volume     float64   `json:"volume"`     // available market volume
	UpdatedAt  time.Time `json:"updated_at"`
}

// ExchangeInfo describes one venue's execution characteristics.
type ExchangeInfo struct {
	Name      string  `json:"name"`
	LatencyMs float64 `json:"latency_ms"`
	FeeRate   float64 `json:"fee_rate"` // fractional taker fee
}
