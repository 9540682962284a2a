package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// Simulator is a deterministic in-process venue. Orders fill at the
// configured market price (or the request's limit price), fees come from a
// flat rate, and failures are injected explicitly per pair. There is no
// randomness; the same call sequence always produces the same results.
type Simulator struct {
	name    string
	feeRate float64
	latency time.Duration

	mu         sync.RWMutex
	conditions map[string]domain.MarketCondition
	failPairs  map[string]string // pair -> failure message
	failAfter  map[string]int    // pair -> successful fills remaining before failing
	placed     []domain.OrderRequest
}

// NewSimulator creates a simulator venue with the given flat fee rate and
// simulated order latency.
func NewSimulator(name string, feeRate float64, latency time.Duration) *Simulator {
	return &Simulator{
		name:       name,
		feeRate:    feeRate,
		latency:    latency,
		conditions: make(map[string]domain.MarketCondition),
		failPairs:  make(map[string]string),
		failAfter:  make(map[string]int),
	}
}

// Name implements Adapter.
func (s *Simulator) Name() string { return s.name }

// SetCondition installs the market snapshot orders against this pair fill at.
func (s *Simulator) SetCondition(cond domain.MarketCondition) {
	s.mu.Lock()
	s.conditions[cond.Pair] = cond
	s.mu.Unlock()
}

// FailPair makes every subsequent order on the pair fail with the message.
func (s *Simulator) FailPair(pair, message string) {
	s.mu.Lock()
	s.failPairs[pair] = message
	s.mu.Unlock()
}

// FailPairAfter lets n orders on the pair succeed, then fails the rest.
func (s *Simulator) FailPairAfter(pair string, n int, message string) {
	s.mu.Lock()
	s.failPairs[pair] = message
	s.failAfter[pair] = n
	s.mu.Unlock()
}

// ClearFailures removes all injected failures.
func (s *Simulator) ClearFailures() {
	s.mu.Lock()
	s.failPairs = make(map[string]string)
	s.failAfter = make(map[string]int)
	s.mu.Unlock()
}

// PlacedOrders returns every request this simulator has received, in order.
func (s *Simulator) PlacedOrders() []domain.OrderRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.OrderRequest(nil), s.placed...)
}

// PlaceOrder implements Adapter. Orders fill in full at the limit price when
// given, otherwise at the pair's last price.
func (s *Simulator) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	start := time.Now()

	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return domain.OrderResult{}, ctx.Err()
		case <-time.After(s.latency):
		}
	}

	s.mu.Lock()
	s.placed = append(s.placed, req)
	cond, hasCond := s.conditions[req.Pair]
	failMsg, shouldFail := s.failPairs[req.Pair]
	if shouldFail {
		if remaining, ok := s.failAfter[req.Pair]; ok && remaining > 0 {
			s.failAfter[req.Pair] = remaining - 1
			shouldFail = false
		}
	}
	s.mu.Unlock()

	result := domain.OrderResult{
		OrderID:  uuid.NewString(),
		Exchange: s.name,
		Pair:     req.Pair,
		Action:   req.Action,
		PlacedAt: start,
	}

	if shouldFail {
		result.Status = domain.OrderFailed
		result.Error = failMsg
		result.ExecutionTime = time.Since(start)
		return result, nil
	}

	price := cond.LastPrice
	if req.Type == domain.OrderTypeLimit && req.LimitPrice != nil {
		price = *req.LimitPrice
	}
	if price <= 0 {
		result.Status = domain.OrderFailed
		result.Error = fmt.Sprintf("no market price for %s", req.Pair)
		result.ExecutionTime = time.Since(start)
		return result, nil
	}

	var slippage float64
	if hasCond && req.Type == domain.OrderTypeMarket {
		// Market orders cross half the spread.
		slippage = cond.Spread / 2
		if req.Action == domain.ActionBuy {
			price += price * slippage
		} else {
			price -= price * slippage
		}
	}
	if req.MaxSlippage > 0 && slippage > req.MaxSlippage {
		result.Status = domain.OrderFailed
		result.Error = fmt.Sprintf("slippage %.4f over limit %.4f", slippage, req.MaxSlippage)
		result.ExecutionTime = time.Since(start)
		return result, nil
	}

	value := price * req.Quantity
	result.Status = domain.OrderCompleted
	result.ExecutedQty = req.Quantity
	result.ExecutedPrice = price
	result.ExecutedValue = value
	result.Fees = value * s.feeRate
	result.Slippage = slippage
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// GetMarketCondition implements Adapter.
func (s *Simulator) GetMarketCondition(ctx context.Context, pair string) (domain.MarketCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cond, ok := s.conditions[pair]
	if !ok {
		return domain.MarketCondition{}, fmt.Errorf("exchange: condition for %s: %w", pair, domain.ErrNotFound)
	}
	return cond, nil
}

// GetExchangeInfo implements Adapter.
func (s *Simulator) GetExchangeInfo(ctx context.Context) (domain.ExchangeInfo, error) {
	return domain.ExchangeInfo{
		Name:      s.name,
		LatencyMs: float64(s.latency.Milliseconds()),
		FeeRate:   s.feeRate,
	}, nil
}
