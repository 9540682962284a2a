package engine

import (
	"time"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// adaptiveVolThreshold is the volatility above which the adaptive strategy
// switches from market to limit orders.
const adaptiveVolThreshold = 0.02

// twapSlices is the fixed slice count for TWAP order splitting.
const twapSlices = 4

// vwapVolumeShare caps each VWAP slice at this share of the pair's market
// volume.
const vwapVolumeShare = 0.1

// OrderTypeFor maps an execution strategy to the order type used for a leg.
// The mapping is pure; the adaptive strategy consults the pair's volatility
// and falls back to market orders when no snapshot is available.
func OrderTypeFor(strategy domain.ExecutionStrategy, cond *domain.MarketCondition) domain.OrderType {
	switch strategy {
	case domain.StrategyConservative:
		return domain.OrderTypeLimit
	case domain.StrategyAdaptive:
		if cond != nil && cond.Volatility > adaptiveVolThreshold {
			return domain.OrderTypeLimit
		}
		return domain.OrderTypeMarket
	case domain.StrategyTWAP, domain.StrategyVWAP:
		return domain.OrderTypeLimit
	default: // aggressive
		return domain.OrderTypeMarket
	}
}

// routePlan holds the per-leg order requests derived from an opportunity
// path. Requests within one leg are slices of the same path step; a leg fails
// as a unit.
type routePlan struct {
	legs [][]domain.OrderRequest
}

// buildPlan converts the opportunity path into per-leg order requests under
// the given strategy. conditions may be nil or sparse; legs without a
// snapshot get no splitting and default routing.
func buildPlan(opp domain.Opportunity, strategy domain.ExecutionStrategy, conditions map[string]domain.MarketCondition, maxOrderSize, maxSlippage float64, orderTimeout time.Duration, splitting bool) routePlan {
	plan := routePlan{legs: make([][]domain.OrderRequest, 0, len(opp.Path))}

	for _, step := range opp.Path {
		var cond *domain.MarketCondition
		if c, ok := conditions[step.Pair]; ok {
			cond = &c
		}
		orderType := OrderTypeFor(strategy, cond)

		base := domain.OrderRequest{
			Exchange:    step.Exchange,
			Pair:        step.Pair,
			Action:      step.Action,
			Type:        orderType,
			Quantity:    step.Volume,
			MaxSlippage: maxSlippage,
			Timeout:     orderTimeout,
		}
		if orderType == domain.OrderTypeLimit {
			price := step.Price
			base.LimitPrice = &price
		}

		plan.legs = append(plan.legs, splitLeg(base, strategy, cond, maxOrderSize, splitting))
	}
	return plan
}

// splitLeg breaks one leg into slices. TWAP uses equal slices, VWAP sizes
// slices against market volume, and any strategy splits orders over the size
// cap when splitting is enabled.
func splitLeg(base domain.OrderRequest, strategy domain.ExecutionStrategy, cond *domain.MarketCondition, maxOrderSize float64, splitting bool) []domain.OrderRequest {
	if !splitting || base.Quantity <= 0 {
		return []domain.OrderRequest{base}
	}

	var sliceQty float64
	switch strategy {
	case domain.StrategyTWAP:
		sliceQty = base.Quantity / twapSlices
	case domain.StrategyVWAP:
		if cond != nil && cond.Volume > 0 {
			sliceQty = cond.Volume * vwapVolumeShare
		}
	}
	if maxOrderSize > 0 && (sliceQty <= 0 || sliceQty > maxOrderSize) {
		if base.Quantity > maxOrderSize {
			sliceQty = maxOrderSize
		}
	}
	if sliceQty <= 0 || sliceQty >= base.Quantity {
		return []domain.OrderRequest{base}
	}

	var slices []domain.OrderRequest
	remaining := base.Quantity
	for remaining > 0 {
		qty := sliceQty
		if qty > remaining {
			qty = remaining
		}
		slice := base
		slice.Quantity = qty
		slices = append(slices, slice)
		remaining -= qty
	}
	return slices
}

// reversalFor builds the compensating market order that unwinds a filled
// result. Buys are unwound with sells of the executed quantity and vice
// versa.
func reversalFor(result domain.OrderResult, maxSlippage float64, timeout time.Duration) domain.OrderRequest {
	action := domain.ActionSell
	if result.Action == domain.ActionSell {
		action = domain.ActionBuy
	}
	return domain.OrderRequest{
		Exchange:    result.Exchange,
		Pair:        result.Pair,
		Action:      action,
		Type:        domain.OrderTypeMarket,
		Quantity:    result.ExecutedQty,
		MaxSlippage: maxSlippage,
		Timeout:     timeout,
	}
}
