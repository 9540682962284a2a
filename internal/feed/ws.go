// Package feed streams live market conditions from a WebSocket ticker feed
// into the risk layer and the market cache.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// ConditionSink receives each decoded market snapshot. Implemented by the
// risk controller.
type ConditionSink interface {
	UpdateMarketCondition(cond domain.MarketCondition)
}

// ReturnObserver folds per-tick returns into volatility and correlation
// estimates. Implemented by the risk aggregator.
type ReturnObserver interface {
	ObserveReturn(pair string, ret float64)
}

// tickerMessage is the wire format of one feed update.
type tickerMessage struct {
	Type       string  `json:"type"`
	Pair       string  `json:"pair"`
	Price      float64 `json:"price"`
	Volatility float64 `json:"volatility"`
	Liquidity  float64 `json:"liquidity"`
	Spread     float64 `json:"spread"`
	Volume     float64 `json:"volume"`
}

// subscribeCommand asks the feed server for ticker updates on a pair set.
type subscribeCommand struct {
	Op    string   `json:"op"`
	Pairs []string `json:"pairs"`
}

// MarketFeed maintains a WebSocket subscription to the ticker feed and fans
// each update out to the condition sink, the return observer, and the market
// cache. It reconnects with exponential backoff on disconnect.
type MarketFeed struct {
	url    string
	pairs  []string
	sink   ConditionSink
	obs    ReturnObserver
	cache  domain.MarketCache // may be nil
	logger *slog.Logger

	mu        sync.Mutex
	lastPrice map[string]float64
	closeOnce sync.Once
	done      chan struct{}
}

// NewMarketFeed creates a feed subscribing to the given pairs. obs and cache
// may be nil.
func NewMarketFeed(url string, pairs []string, sink ConditionSink, obs ReturnObserver, cache domain.MarketCache, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		url:       url,
		pairs:     pairs,
		sink:      sink,
		obs:       obs,
		cache:     cache,
		logger:    logger.With(slog.String("component", "market_feed")),
		lastPrice: make(map[string]float64),
		done:      make(chan struct{}),
	}
}

// Run connects and processes ticker updates until ctx is cancelled, with
// exponential backoff between reconnect attempts.
func (f *MarketFeed) Run(ctx context.Context) error {
	if len(f.pairs) == 0 {
		f.logger.Info("no pairs to subscribe, feed disabled")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and reads until the connection drops or
// ctx is cancelled. A successful read resets nothing here; backoff reset is
// the caller's concern.
func (f *MarketFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", f.url, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := subscribeCommand{Op: "subscribe", Pairs: f.pairs}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("feed subscribed", slog.Int("pairs", len(f.pairs)))

	// Ping loop keeps the connection alive; closing stop tears it down with
	// the read loop.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}
		f.handleMessage(ctx, data)
	}
}

// handleMessage decodes one ticker update and fans it out. Malformed or
// non-ticker payloads are dropped.
func (f *MarketFeed) handleMessage(ctx context.Context, data []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("undecodable feed message", slog.String("error", err.Error()))
		return
	}
	if msg.Type != "ticker" || msg.Pair == "" || msg.Price <= 0 {
		return
	}

	cond := domain.MarketCondition{
		Pair:       msg.Pair,
		LastPrice:  msg.Price,
		Volatility: msg.Volatility,
		Liquidity:  msg.Liquidity,
		Spread:     msg.Spread,
		Volume:     msg.Volume,
		UpdatedAt:  time.Now(),
	}

	f.sink.UpdateMarketCondition(cond)

	if f.obs != nil {
		f.mu.Lock()
		prev := f.lastPrice[msg.Pair]
		f.lastPrice[msg.Pair] = msg.Price
		f.mu.Unlock()
		if prev > 0 {
			f.obs.ObserveReturn(msg.Pair, msg.Price/prev-1)
		}
	}

	if f.cache != nil {
		if err := f.cache.SetCondition(ctx, cond); err != nil {
			f.logger.Debug("condition cache write failed",
				slog.String("pair", msg.Pair),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close stops the feed permanently.
func (f *MarketFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
