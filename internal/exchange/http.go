package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// RESTAdapter talks to a venue's order gateway over HTTP. The gateway is
// expected to expose POST /orders, GET /markets/{pair}, and GET /info with
// JSON bodies.
type RESTAdapter struct {
	name       string
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// NewRESTAdapter creates a REST-backed adapter for one venue.
func NewRESTAdapter(name, baseURL, apiKey, apiSecret string) *RESTAdapter {
	return &RESTAdapter{
		name:      name,
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name implements Adapter.
func (a *RESTAdapter) Name() string { return a.name }

type orderPayload struct {
	Pair        string   `json:"pair"`
	Side        string   `json:"side"`
	Type        string   `json:"type"`
	Quantity    float64  `json:"quantity"`
	LimitPrice  *float64 `json:"limit_price,omitempty"`
	MaxSlippage float64  `json:"max_slippage,omitempty"`
}

type orderResponse struct {
	OrderID       string  `json:"order_id"`
	Status        string  `json:"status"`
	ExecutedQty   float64 `json:"executed_qty"`
	ExecutedPrice float64 `json:"executed_price"`
	Fees          float64 `json:"fees"`
	Message       string  `json:"message"`
}

// PlaceOrder implements Adapter.
func (a *RESTAdapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	start := time.Now()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	payload := orderPayload{
		Pair:        req.Pair,
		Side:        string(req.Action),
		Type:        string(req.Type),
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
		MaxSlippage: req.MaxSlippage,
	}

	body, err := a.doRequest(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange %s: place order: %w", a.name, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange %s: decode order response: %w", a.name, err)
	}

	result := domain.OrderResult{
		OrderID:       resp.OrderID,
		Exchange:      a.name,
		Pair:          req.Pair,
		Action:        req.Action,
		ExecutedQty:   resp.ExecutedQty,
		ExecutedPrice: resp.ExecutedPrice,
		ExecutedValue: resp.ExecutedQty * resp.ExecutedPrice,
		Fees:          resp.Fees,
		ExecutionTime: time.Since(start),
		PlacedAt:      start,
	}
	switch resp.Status {
	case "filled", "completed":
		result.Status = domain.OrderCompleted
	case "cancelled":
		result.Status = domain.OrderCancelled
	default:
		result.Status = domain.OrderFailed
		result.Error = resp.Message
	}
	if req.Quantity > 0 && result.ExecutedPrice > 0 && req.LimitPrice != nil && *req.LimitPrice > 0 {
		result.Slippage = (result.ExecutedPrice - *req.LimitPrice) / *req.LimitPrice
	}
	return result, nil
}

// GetMarketCondition implements Adapter.
func (a *RESTAdapter) GetMarketCondition(ctx context.Context, pair string) (domain.MarketCondition, error) {
	body, err := a.doRequest(ctx, http.MethodGet, "/markets/"+url.PathEscape(pair), nil)
	if err != nil {
		return domain.MarketCondition{}, fmt.Errorf("exchange %s: get market %s: %w", a.name, pair, err)
	}

	var cond domain.MarketCondition
	if err := json.Unmarshal(body, &cond); err != nil {
		return domain.MarketCondition{}, fmt.Errorf("exchange %s: decode market: %w", a.name, err)
	}
	cond.Pair = pair
	cond.UpdatedAt = time.Now()
	return cond, nil
}

// GetExchangeInfo implements Adapter.
func (a *RESTAdapter) GetExchangeInfo(ctx context.Context) (domain.ExchangeInfo, error) {
	body, err := a.doRequest(ctx, http.MethodGet, "/info", nil)
	if err != nil {
		return domain.ExchangeInfo{}, fmt.Errorf("exchange %s: get info: %w", a.name, err)
	}

	var info domain.ExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return domain.ExchangeInfo{}, fmt.Errorf("exchange %s: decode info: %w", a.name, err)
	}
	info.Name = a.name
	return info, nil
}

func (a *RESTAdapter) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}
	if a.apiSecret != "" {
		req.Header.Set("X-API-Secret", a.apiSecret)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
