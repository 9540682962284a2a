// Package exchange defines the adapter boundary between the execution engine
// and trading venues, with a deterministic simulator and a REST-backed
// implementation.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// Adapter is the interface through which the engine talks to one venue.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Name identifies the venue, matching PathStep.Exchange.
	Name() string

	// PlaceOrder submits an order and blocks until it reaches a terminal
	// status or ctx is done. Venue rejections are reported through the
	// result's Status and Error fields; the error return is reserved for
	// transport failures.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// GetMarketCondition returns the venue's current view of a pair.
	GetMarketCondition(ctx context.Context, pair string) (domain.MarketCondition, error)

	// GetExchangeInfo returns static venue metadata.
	GetExchangeInfo(ctx context.Context) (domain.ExchangeInfo, error)
}

// Registry resolves adapters by venue name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.Name()] = a
	r.mu.Unlock()
}

// Get returns the adapter for a venue name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("exchange: unknown venue %q: %w", name, domain.ErrNotFound)
	}
	return a, nil
}

// Names returns the registered venue names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
